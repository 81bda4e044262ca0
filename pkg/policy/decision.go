// Package policy evaluates install-time and runtime decisions against
// organization policy plus immutable platform rules. Evaluation is a
// pure function of (manifest, policy, rules): no hidden state, no I/O,
// and the same input always yields the same decision and decision hash.
//
// Org policy can narrow what the platform allows but never widen it.
// The platform rules (UNTRUSTED is uninstallable, critical permissions
// need approval, production blocks deploy and command execution) hold
// for every tenant.
package policy

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// Action is the outcome class of a policy evaluation.
type Action string

const (
	ActionAllow           Action = "ALLOW"
	ActionDeny            Action = "DENY"
	ActionRequireApproval Action = "REQUIRE_APPROVAL"
	ActionWarn            Action = "WARN"
)

// Reason codes carried on decisions. Stable identifiers for callers and
// audit queries; the human-readable explanation lives in Reason.
const (
	CodeAllow               = "ALLOW"
	CodeDenyUntrusted       = "DENY_UNTRUSTED"
	CodeDenyTrustNotAllowed = "DENY_TRUST_NOT_ALLOWED"
	CodeDenyAuthorBlocked   = "DENY_AUTHOR_BLOCKED"
	CodeDenyForbiddenPerm   = "DENY_PERMISSION_FORBIDDEN"
	CodeApprovalPermissions = "APPROVAL_PERMISSIONS"
	CodeWarnNetworkAccess   = "WARN_NETWORK_ORG_APPROVED"
	CodeDenyUnknownPerm     = "DENY_UNKNOWN_PERMISSION"
	CodeDenyProduction      = "DENY_PRODUCTION_BLOCKED"
	CodeDenyReservedPath    = "DENY_RESERVED_PATH"
	CodeDenyOrgRule         = "DENY_ORG_RULE"
	CodeDenyRuleError       = "DENY_RULE_ERROR"
	CodeDenyHashFailure     = "DENY_HASH_FAILURE"
)

// Decision is the canonical output of a policy evaluation. DecisionHash
// is the SHA-256 of the canonical decision content (excluding the hash
// itself and the timestamp) and is bound into audit entries.
type Decision struct {
	Action      Action            `json:"action"`
	Code        string            `json:"reason_code"`
	Reason      string            `json:"reason"`
	Details     map[string]string `json:"details,omitempty"`
	PolicyRef   string            `json:"policy_ref"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
	Hash        string            `json:"decision_hash"`
}

// Permitted reports whether the decision lets the bundle proceed. WARN
// still installs; it only flags the decision for operator attention.
func (d Decision) Permitted() bool {
	return d.Action == ActionAllow || d.Action == ActionWarn
}

// ComputeDecisionHash produces the deterministic hash of a decision's
// canonical content. The timestamp and the hash field are excluded so
// identical evaluations hash identically regardless of when they ran.
func ComputeDecisionHash(d Decision) (string, error) {
	hashInput := struct {
		Action    Action            `json:"action"`
		Code      string            `json:"reason_code"`
		Reason    string            `json:"reason"`
		Details   map[string]string `json:"details,omitempty"`
		PolicyRef string            `json:"policy_ref"`
	}{d.Action, d.Code, d.Reason, d.Details, d.PolicyRef}

	data, err := canonical.SignableBytes(hashInput)
	if err != nil {
		return "", fmt.Errorf("policy: decision hash canonicalization failed: %w", err)
	}
	return "sha256:" + canonical.HashBytes(data), nil
}
