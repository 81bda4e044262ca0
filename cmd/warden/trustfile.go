package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// trustFile is the on-disk registry of trusted public keys, one entry
// per key and level. It carries public material only; private keys live
// in the keystore and never leave the publishing host.
type trustFile struct {
	Keys []trustedKey `json:"keys"`
}

type trustedKey struct {
	Level     string `json:"level"`
	PublicKey string `json:"public_key"` // hex-encoded ed25519 public key
	KeyID     string `json:"key_id"`
	AddedAt   string `json:"added_at"` // RFC 3339 UTC
}

// loadTrustFile reads path. A missing file is an empty registry, so
// keygen can bootstrap a fresh host without a separate init step.
func loadTrustFile(path string) (*trustFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &trustFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read trust file: %w", err)
	}
	var tf trustFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse trust file %s: %w", path, err)
	}
	return &tf, nil
}

func (tf *trustFile) save(path string) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write trust file: %w", err)
	}
	return nil
}

// add registers a public key for a level. Re-adding an existing key is
// a no-op so repeated keygen runs never duplicate entries.
func (tf *trustFile) add(level manifest.TrustLevel, pub ed25519.PublicKey, now time.Time) bool {
	keyHex := hex.EncodeToString(pub)
	for _, k := range tf.Keys {
		if k.Level == level.String() && k.PublicKey == keyHex {
			return false
		}
	}
	tf.Keys = append(tf.Keys, trustedKey{
		Level:     level.String(),
		PublicKey: keyHex,
		KeyID:     keyring.KeyID(pub),
		AddedAt:   now.UTC().Format(time.RFC3339),
	})
	return true
}

// ring builds a verification key ring from the registry. Malformed
// entries fail loudly; a trust file is security configuration and a
// bad line must never shrink the trusted set silently.
func (tf *trustFile) ring() (*keyring.KeyRing, error) {
	ring := keyring.New()
	for i, k := range tf.Keys {
		level, err := manifest.ParseTrustLevel(k.Level)
		if err != nil {
			return nil, fmt.Errorf("trust file entry %d: %w", i, err)
		}
		pub, err := decodePublicKey(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("trust file entry %d: %w", i, err)
		}
		if err := ring.AddTrustedKey(level, pub); err != nil {
			return nil, fmt.Errorf("trust file entry %d: %w", i, err)
		}
	}
	return ring, nil
}

// decodePublicKey decodes a hex ed25519 public key as it appears in
// signature records and trust files.
func decodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("malformed public key")
	}
	return ed25519.PublicKey(raw), nil
}

// ringFromTrustFile is the one-call path the verification commands use.
func ringFromTrustFile(path string) (*keyring.KeyRing, error) {
	tf, err := loadTrustFile(path)
	if err != nil {
		return nil, err
	}
	if len(tf.Keys) == 0 {
		return nil, fmt.Errorf("trust file %s has no keys; run 'warden keygen' first", path)
	}
	return tf.ring()
}
