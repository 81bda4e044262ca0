package bundle

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// Signer produces signed bundles using the keys loaded in a KeyRing.
type Signer struct {
	ring  *keyring.KeyRing
	clock func() time.Time
}

// NewSigner creates a signer over the given ring.
func NewSigner(ring *keyring.KeyRing) *Signer {
	return &Signer{ring: ring, clock: time.Now}
}

// WithClock overrides the timestamp source, for deterministic tests.
func (s *Signer) WithClock(clock func() time.Time) *Signer {
	s.clock = clock
	return s
}

// Sign computes the bundle hash over files, completes the manifest with
// hash, trust level and creation timestamp, and signs its canonical
// bytes with the key loaded for level. Fails if the level is UNTRUSTED
// (unsignable by definition) or has no loaded key.
func (s *Signer) Sign(draft manifest.Draft, files map[string][]byte, level manifest.TrustLevel) (*Bundle, error) {
	priv, err := s.ring.SigningKey(level)
	if err != nil {
		return nil, err
	}

	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("bundle: no files to sign")
	}
	for name := range files {
		if err := validateFileName(name); err != nil {
			return nil, err
		}
	}
	if _, ok := files[draft.Entry]; !ok {
		return nil, fmt.Errorf("bundle: entry file %q not among bundle files", draft.Entry)
	}

	now := s.clock().UTC().Truncate(time.Second)
	m := manifest.Manifest{
		ID:          draft.ID,
		Name:        draft.Name,
		Version:     draft.Version,
		Author:      draft.Author,
		Permissions: draft.Permissions,
		Entry:       draft.Entry,
		Hash:        canonical.HashBundle(files),
		Trust:       level,
		CreatedAt:   now,
	}

	signable, err := canonical.SignableBytes(m)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(priv, signable)
	pub := priv.Public().(ed25519.PublicKey)

	copied := make(map[string][]byte, len(files))
	for name, content := range files {
		dup := make([]byte, len(content))
		copy(dup, content)
		copied[name] = dup
	}

	return &Bundle{
		Manifest: m,
		Files:    copied,
		Signature: SignatureRecord{
			Algorithm: AlgEd25519,
			PublicKey: hex.EncodeToString(pub),
			Signature: base64.StdEncoding.EncodeToString(sig),
			SignedAt:  now.Format(time.RFC3339),
		},
		Hash: m.Hash,
	}, nil
}
