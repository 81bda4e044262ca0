// Package keyring holds the signing keys loaded per trust level and the
// set of public keys trusted for each level. It is the root of trust for
// bundle verification: a signature only counts if its key is a member of
// the trusted set registered for the manifest's claimed level.
//
// KeyRings are explicit, constructor-built instances. Nothing here is
// process-global, so tests and tenants get isolated rings.
package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

var (
	// ErrNoSigningKey is returned when signing is requested for a level
	// with no loaded key.
	ErrNoSigningKey = errors.New("keyring: no signing key loaded for trust level")
	// ErrUnsignableLevel is returned for operations on UNTRUSTED or an
	// out-of-range level.
	ErrUnsignableLevel = errors.New("keyring: trust level cannot hold keys")
	// ErrKeyNotFound is returned by KeyStore implementations when no key
	// is persisted for the requested level.
	ErrKeyNotFound = errors.New("keyring: key not found")
)

// KeyStore persists private signing keys per trust level. Implementations
// live outside the trust core (file, vault, cloud KMS); the ring only
// consumes the contract.
type KeyStore interface {
	Put(ctx context.Context, level manifest.TrustLevel, priv ed25519.PrivateKey) error
	Get(ctx context.Context, level manifest.TrustLevel) (ed25519.PrivateKey, error)
	Delete(ctx context.Context, level manifest.TrustLevel) error
}

// KeyRing maps trust levels to a signing key and a trusted public key
// set. Trusted sets are mutated rarely (admin grants) and read on every
// verification, so reads take the shared lock.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[manifest.TrustLevel]ed25519.PrivateKey
	trusted map[manifest.TrustLevel]map[string]ed25519.PublicKey
}

// New returns an empty ring.
func New() *KeyRing {
	return &KeyRing{
		signers: make(map[manifest.TrustLevel]ed25519.PrivateKey),
		trusted: make(map[manifest.TrustLevel]map[string]ed25519.PublicKey),
	}
}

// GenerateKeyPair produces a fresh ed25519 key pair.
func GenerateKeyPair() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("keyring: key generation failed: %w", err)
	}
	return priv, pub, nil
}

// KeyID returns the stable identifier of a public key: the hex SHA-256
// fingerprint of the raw key bytes.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// LoadKey registers a signing key for a trust level and implicitly
// trusts its own public key for that level. UNTRUSTED can never hold a
// key.
func (k *KeyRing) LoadKey(level manifest.TrustLevel, priv ed25519.PrivateKey) error {
	if !level.Signable() {
		return fmt.Errorf("%w: %s", ErrUnsignableLevel, level)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("keyring: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[level] = priv
	k.trustLocked(level, pub)
	return nil
}

// AddTrustedKey grants explicit trust to a public key for a level, e.g.
// an org admin key for ORG_APPROVED.
func (k *KeyRing) AddTrustedKey(level manifest.TrustLevel, pub ed25519.PublicKey) error {
	if !level.Signable() {
		return fmt.Errorf("%w: %s", ErrUnsignableLevel, level)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("keyring: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.trustLocked(level, pub)
	return nil
}

// RemoveTrustedKey revokes trust in a public key for a level. Existing
// registrations are unaffected; only future verifications see the
// removal.
func (k *KeyRing) RemoveTrustedKey(level manifest.TrustLevel, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if set, ok := k.trusted[level]; ok {
		delete(set, hex.EncodeToString(pub))
	}
}

func (k *KeyRing) trustLocked(level manifest.TrustLevel, pub ed25519.PublicKey) {
	set, ok := k.trusted[level]
	if !ok {
		set = make(map[string]ed25519.PublicKey)
		k.trusted[level] = set
	}
	set[hex.EncodeToString(pub)] = pub
}

// SigningKey returns the private key loaded for a level.
func (k *KeyRing) SigningKey(level manifest.TrustLevel) (ed25519.PrivateKey, error) {
	if !level.Signable() {
		return nil, fmt.Errorf("%w: %s", ErrUnsignableLevel, level)
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	priv, ok := k.signers[level]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, level)
	}
	return priv, nil
}

// IsTrusted reports whether pub belongs to the trusted set for level.
// An empty or absent set trusts nothing.
func (k *KeyRing) IsTrusted(level manifest.TrustLevel, pub ed25519.PublicKey) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	set, ok := k.trusted[level]
	if !ok {
		return false
	}
	_, ok = set[hex.EncodeToString(pub)]
	return ok
}

// TrustedKeys returns the hex-encoded trusted public keys for a level in
// lexicographic order.
func (k *KeyRing) TrustedKeys(level manifest.TrustLevel) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	set := k.trusted[level]
	out := make([]string, 0, len(set))
	for hexKey := range set {
		out = append(out, hexKey)
	}
	sort.Strings(out)
	return out
}

// LoadFromStore loads persisted signing keys for the given levels.
// Levels with no stored key are skipped; any other store fault aborts.
func (k *KeyRing) LoadFromStore(ctx context.Context, store KeyStore, levels ...manifest.TrustLevel) error {
	for _, level := range levels {
		priv, err := store.Get(ctx, level)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("keyring: load %s: %w", level, err)
		}
		if err := k.LoadKey(level, priv); err != nil {
			return err
		}
	}
	return nil
}
