// Package verifier implements the zero-trust bundle verification gate.
// Verification is an ordered, fail-fast sequence: bounds and container
// structure, content integrity, signature validity, trusted-key
// membership, then structural checks. The first failure is terminal and
// carries a specific error kind; there is no fallback and no partial
// result. A valid signature from an untrusted key is still rejected.
package verifier

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"path"
	"strings"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/keyring"
)

// Disallowed executable-style extensions. A bundle carrying one of these
// is rejected structurally regardless of its hash or signature.
var blockedExtensions = []string{
	".exe", ".dll", ".so", ".dylib", ".bat", ".cmd", ".com", ".scr", ".msi",
}

// Verifier checks packed bundles against a key ring's trusted sets.
type Verifier struct {
	ring   *keyring.KeyRing
	limits bundle.Limits
}

// New creates a verifier with default container limits.
func New(ring *keyring.KeyRing) *Verifier {
	return &Verifier{ring: ring, limits: bundle.DefaultLimits()}
}

// WithLimits overrides the container bounds enforced before hashing.
func (v *Verifier) WithLimits(limits bundle.Limits) *Verifier {
	v.limits = limits
	return v
}

// Verify runs the full pipeline over a packed container and returns the
// verified bundle. The error is one of *ManifestError, *IntegrityError,
// *SignatureError or *TrustError; inspection with errors.As tells the
// caller exactly which gate refused the bundle.
func (v *Verifier) Verify(data []byte) (*bundle.Bundle, error) {
	// Bounds and container structure. Size caps are enforced inside
	// Unpack before any content hashing.
	raw, err := bundle.Unpack(data, v.limits)
	if err != nil {
		switch {
		case errors.Is(err, bundle.ErrTooLarge):
			return nil, &ManifestError{Reason: "container exceeds limits", Err: err}
		default:
			return nil, &ManifestError{Reason: "container rejected", Err: err}
		}
	}

	// Content integrity: the files must hash to exactly what the
	// manifest was sealed over.
	computed := canonical.HashBundle(raw.Files)
	if computed != raw.Manifest.Hash {
		return nil, &IntegrityError{Expected: raw.Manifest.Hash, Computed: computed}
	}

	// Signature over the manifest's canonical bytes.
	if raw.Signature.Algorithm != bundle.AlgEd25519 {
		return nil, &SignatureError{Reason: "unsupported algorithm " + raw.Signature.Algorithm}
	}
	signable, err := canonical.SignableBytes(raw.Manifest)
	if err != nil {
		return nil, &SignatureError{Reason: "canonicalize manifest", Err: err}
	}
	ok, err := bundle.VerifySignature(raw.Signature.PublicKey, raw.Signature.Signature, signable)
	if err != nil {
		return nil, &SignatureError{Reason: "malformed signature record", Err: err}
	}
	if !ok {
		return nil, &SignatureError{Reason: "signature does not match manifest"}
	}

	// Zero-trust membership: the signing key must be registered for the
	// claimed trust level. UNTRUSTED has no trusted set, ever.
	pubBytes, err := hex.DecodeString(raw.Signature.PublicKey)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, &SignatureError{Reason: "malformed public key", Err: err}
	}
	pub := ed25519.PublicKey(pubBytes)
	if !v.ring.IsTrusted(raw.Manifest.Trust, pub) {
		return nil, &TrustError{Level: raw.Manifest.Trust, KeyID: keyring.KeyID(pub)}
	}

	// Structural checks on the now-authenticated manifest.
	if err := raw.Manifest.Validate(); err != nil {
		return nil, &ManifestError{Reason: "invalid manifest fields", Err: err}
	}
	if _, ok := raw.Files[raw.Manifest.Entry]; !ok {
		return nil, &ManifestError{Reason: "entry file " + raw.Manifest.Entry + " not present in bundle"}
	}
	for name := range raw.Files {
		if ext := blockedExtension(name); ext != "" {
			return nil, &ManifestError{Reason: "file " + name + " has disallowed extension " + ext}
		}
	}

	return &bundle.Bundle{
		Manifest:  raw.Manifest,
		Files:     raw.Files,
		Signature: raw.Signature,
		Hash:      computed,
	}, nil
}

func blockedExtension(name string) string {
	ext := strings.ToLower(path.Ext(name))
	for _, blocked := range blockedExtensions {
		if ext == blocked {
			return ext
		}
	}
	return ""
}
