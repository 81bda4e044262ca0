// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the deterministic content hashing used across the
// trust pipeline. Signable bytes, bundle hashes, decision hashes and
// audit chain hashes all route through here so every component agrees
// byte-for-byte on what was signed or recorded.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// Canonicalize returns the RFC 8785 canonical form of raw JSON input:
// keys sorted by UTF-8 code point, no insignificant whitespace, no HTML
// escaping.
func Canonicalize(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// SignableBytes marshals v and canonicalizes the result. The returned
// bytes are exactly what gets signed and verified; any representational
// difference between two semantically equal values disappears here.
func SignableBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// HashBytes returns the lowercase hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash returns the SHA-256 hex digest of v's canonical form.
func CanonicalHash(v any) (string, error) {
	b, err := SignableBytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBundle computes the content hash over a bundle's files: filenames
// sorted lexicographically, each name fed to the digest followed by its
// content bytes. Input map order never affects the result.
func HashBundle(files map[string][]byte) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write(files[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}
