// Package manifest defines the extension data model: the manifest record
// that is hashed and signed, the ordered trust levels, and the closed
// permission enumeration. Everything downstream (signing, verification,
// policy, runtime guarding) operates on these types.
package manifest

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/text/unicode/norm"
)

// HashHexLen is the length of a lowercase hex SHA-256 digest.
const HashHexLen = 64

// Draft carries the publisher-supplied manifest fields. The signer fills
// in hash, trust and creation timestamp to produce the final Manifest.
type Draft struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Author      string       `json:"author"`
	Permissions []Permission `json:"permissions"`
	Entry       string       `json:"entry"`
}

// Manifest is the signed extension descriptor. It is immutable once
// hashed and signed: any field change invalidates the signature.
type Manifest struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Author      string       `json:"author"`
	Permissions []Permission `json:"permissions"`
	Entry       string       `json:"entry"`
	Hash        string       `json:"hash"`
	Trust       TrustLevel   `json:"trust"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Normalize returns a copy with all string fields in Unicode NFC form so
// visually identical manifests produce identical canonical bytes.
func (d Draft) Normalize() Draft {
	d.ID = norm.NFC.String(d.ID)
	d.Name = norm.NFC.String(d.Name)
	d.Version = norm.NFC.String(d.Version)
	d.Author = norm.NFC.String(d.Author)
	d.Entry = norm.NFC.String(d.Entry)
	return d
}

// ValidateDraft checks the publisher-supplied fields. It does not check
// hash, trust or timestamp; those are filled in by the signer.
func (d Draft) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("manifest: id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if d.Author == "" {
		return fmt.Errorf("manifest: author is required")
	}
	if d.Entry == "" {
		return fmt.Errorf("manifest: entry file is required")
	}
	if _, err := semver.NewVersion(d.Version); err != nil {
		return fmt.Errorf("manifest: version %q is not a semantic version: %w", d.Version, err)
	}
	if len(d.Permissions) == 0 {
		return fmt.Errorf("manifest: at least one permission is required")
	}
	seen := make(map[Permission]struct{}, len(d.Permissions))
	for _, p := range d.Permissions {
		if !p.Valid() {
			return fmt.Errorf("manifest: unknown permission %q", string(p))
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("manifest: duplicate permission %q", string(p))
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Validate checks the complete, signed-form manifest.
func (m Manifest) Validate() error {
	if err := m.Draft().Validate(); err != nil {
		return err
	}
	if !isHexDigest(m.Hash) {
		return fmt.Errorf("manifest: hash must be a %d-char lowercase hex digest", HashHexLen)
	}
	if !m.Trust.Valid() {
		return fmt.Errorf("manifest: invalid trust level %d", int(m.Trust))
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("manifest: created_at is required")
	}
	return nil
}

// Draft strips the signer-filled fields, returning the publisher view.
func (m Manifest) Draft() Draft {
	return Draft{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Author:      m.Author,
		Permissions: m.Permissions,
		Entry:       m.Entry,
	}
}

// PermissionSet returns the manifest's permissions as a set.
func (m Manifest) PermissionSet() PermissionSet {
	return NewPermissionSet(m.Permissions...)
}

func isHexDigest(s string) bool {
	if len(s) != HashHexLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
