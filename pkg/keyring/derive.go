package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const orgKDFInfo = "warden-org-kdf"

// DeriveOrgKey derives a deterministic ORG_APPROVED signing key for an
// organization from an admin-provisioned master seed using HKDF-SHA256.
// The same (seed, orgID) pair always yields the same key, so provisioning
// reduces to custody of the master seed; that custody stays with the
// external key-management collaborator.
func DeriveOrgKey(masterSeed []byte, orgID string) (ed25519.PrivateKey, error) {
	if len(masterSeed) < ed25519.SeedSize {
		return nil, fmt.Errorf("keyring: master seed must be at least %d bytes, got %d", ed25519.SeedSize, len(masterSeed))
	}
	if orgID == "" {
		return nil, fmt.Errorf("keyring: org id must not be empty")
	}

	r := hkdf.New(sha256.New, masterSeed, []byte(orgKDFInfo), []byte(orgID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("keyring: hkdf derivation failed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
