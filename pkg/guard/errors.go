package guard

import (
	"fmt"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// ViolationError reports a runtime check that was denied. The Code
// distinguishes guard-level denials (unknown extension, escalation,
// rate limit) from policy engine denials.
type ViolationError struct {
	ExtensionID string
	Permission  manifest.Permission
	Code        string
	Reason      string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("guard: %s denied for %s (%s): %s", e.Permission, e.ExtensionID, e.Code, e.Reason)
}
