// Package bundle builds, signs and (un)packages extension bundles. The
// on-wire container is a deterministic zip holding the canonical
// manifest record, a signature record, and the extension's source files;
// packing the same bundle twice yields identical bytes.
package bundle

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// AlgEd25519 is the only supported signature algorithm tag.
const AlgEd25519 = "ed25519"

// SignatureRecord binds a manifest's canonical bytes to the key that
// signed them.
type SignatureRecord struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"` // hex-encoded ed25519 public key
	Signature string `json:"signature"`  // base64 raw ed25519 signature
	SignedAt  string `json:"signed_at"`  // RFC 3339 UTC
}

// Bundle is a signed extension package: the immutable manifest, the raw
// files, the signature record, and the bundle hash recomputed from the
// files at verification time.
type Bundle struct {
	Manifest  manifest.Manifest
	Files     map[string][]byte
	Signature SignatureRecord
	Hash      string
}

// RawBundle is the parsed but unverified container produced by Unpack.
// Nothing in it may be trusted before the verifier has run.
type RawBundle struct {
	Manifest  manifest.Manifest
	Signature SignatureRecord
	Files     map[string][]byte
}

// VerifySignature checks a base64 ed25519 signature over data against a
// hex-encoded public key. A malformed key or signature is an error; a
// well-formed but wrong signature returns false.
func VerifySignature(pubKeyHex, sigB64 string, data []byte) (bool, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("bundle: invalid public key hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("bundle: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("bundle: invalid signature base64: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("bundle: signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
