package verifier

import (
	"fmt"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// Verification failures are typed so callers can branch on the exact
// kind with errors.As and a broad handler can never accidentally swallow
// a failed check. Every kind names the pipeline step that raised it.

// ManifestError reports a malformed container or missing/invalid
// manifest fields.
type ManifestError struct {
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verifier: manifest: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verifier: manifest: %s", e.Reason)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Step identifies the failing pipeline stage.
func (e *ManifestError) Step() string { return "unpack" }

// IntegrityError reports a bundle hash mismatch: the files do not match
// what the manifest was hashed over.
type IntegrityError struct {
	Expected string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("verifier: integrity: bundle hash %s does not match manifest hash %s", e.Computed, e.Expected)
}

func (e *IntegrityError) Step() string { return "integrity" }

// SignatureError reports a forged, malformed or mismatched signature.
type SignatureError struct {
	Reason string
	Err    error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verifier: signature: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("verifier: signature: %s", e.Reason)
}

func (e *SignatureError) Unwrap() error { return e.Err }

func (e *SignatureError) Step() string { return "signature" }

// TrustError reports a cryptographically valid signature from a key that
// is not in the trusted set for the manifest's claimed trust level. This
// is the zero-trust check: valid alone is not trusted.
type TrustError struct {
	Level manifest.TrustLevel
	KeyID string
}

func (e *TrustError) Error() string {
	return fmt.Sprintf("verifier: trust: key %s is not trusted for level %s", e.KeyID, e.Level)
}

func (e *TrustError) Step() string { return "trust" }
