package policy

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// criticalPermissions always require approval at install time and are
// blocked outright in production contexts. This set is platform-fixed;
// org policy can add to the approval list but never remove these.
var criticalPermissions = map[manifest.Permission]struct{}{
	manifest.PermDeploy:          {},
	manifest.PermExecuteCommands: {},
}

// systemReservedPrefixes are path roots no extension may write to,
// regardless of granted permissions.
var systemReservedPrefixes = []string{
	"/etc", "/sys", "/proc", "/boot", "/dev",
	"/bin", "/sbin", "/usr/bin", "/usr/sbin", "/usr/lib",
}

// RuntimeContext carries the contextual facts for a runtime permission
// check. Attributes feed org CEL rules; the engine itself only reads
// Environment and TargetPath.
type RuntimeContext struct {
	Environment string            `json:"environment"`
	TargetPath  string            `json:"target_path,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Engine evaluates decisions for one organization's policy. Engines are
// constructor-built per tenant and safe for concurrent use; evaluation
// reads only immutable state built at construction.
type Engine struct {
	allowed   map[manifest.TrustLevel]struct{}
	blocked   map[string]struct{}
	forbidden map[manifest.Permission]struct{}
	approval  map[manifest.Permission]struct{}
	rules     *ruleSet
	policyRef string
	clock     func() time.Time
}

// NewEngine validates the org policy, compiles its runtime rules and
// returns an engine bound to it. Rule compilation failures and
// nondeterministic rules are configuration errors surfaced here, never
// at evaluation time.
func NewEngine(org OrgPolicy) (*Engine, error) {
	if err := org.Validate(); err != nil {
		return nil, err
	}
	rules, err := newRuleSet(org.RuntimeRules)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		allowed:   make(map[manifest.TrustLevel]struct{}, len(org.AllowedTrustLevels)),
		blocked:   make(map[string]struct{}, len(org.BlockedAuthors)),
		forbidden: make(map[manifest.Permission]struct{}, len(org.ForbiddenPermissions)),
		approval:  make(map[manifest.Permission]struct{}, len(org.RequiresApproval)),
		rules:     rules,
		policyRef: computePolicyRef(org),
		clock:     time.Now,
	}
	for _, level := range org.AllowedTrustLevels {
		e.allowed[level] = struct{}{}
	}
	for _, author := range org.BlockedAuthors {
		e.blocked[normalizeAuthor(author)] = struct{}{}
	}
	for _, perm := range org.ForbiddenPermissions {
		e.forbidden[perm] = struct{}{}
	}
	for _, perm := range org.RequiresApproval {
		e.approval[perm] = struct{}{}
	}
	return e, nil
}

// WithClock overrides the decision timestamp source, for deterministic
// tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// PolicyRef identifies the policy set bound into every decision.
func (e *Engine) PolicyRef() string { return e.policyRef }

// EvaluateInstallation decides whether a verified manifest may install.
// First matching rule wins, in this exact order: the UNTRUSTED bar,
// org trust levels, blocked authors, forbidden permissions, the
// approval set, the ORG_APPROVED network warning, then ALLOW.
func (e *Engine) EvaluateInstallation(m manifest.Manifest) Decision {
	if m.Trust == manifest.TrustUntrusted {
		return e.finalize(Decision{
			Action: ActionDeny,
			Code:   CodeDenyUntrusted,
			Reason: "UNTRUSTED extensions can never be installed",
		})
	}

	if _, ok := e.allowed[m.Trust]; !ok {
		return e.finalize(Decision{
			Action:  ActionDeny,
			Code:    CodeDenyTrustNotAllowed,
			Reason:  "trust level " + m.Trust.String() + " is not accepted by organization policy",
			Details: map[string]string{"trust": m.Trust.String()},
		})
	}

	if _, ok := e.blocked[normalizeAuthor(m.Author)]; ok {
		return e.finalize(Decision{
			Action:  ActionDeny,
			Code:    CodeDenyAuthorBlocked,
			Reason:  "author " + m.Author + " is blocked by organization policy",
			Details: map[string]string{"author": m.Author},
		})
	}

	if hits := matchPermissions(m.Permissions, e.forbidden, nil); len(hits) > 0 {
		return e.finalize(Decision{
			Action:  ActionDeny,
			Code:    CodeDenyForbiddenPerm,
			Reason:  "requests forbidden permissions: " + strings.Join(hits, ", "),
			Details: map[string]string{"permissions": strings.Join(hits, ",")},
		})
	}

	if hits := matchPermissions(m.Permissions, e.approval, criticalPermissions); len(hits) > 0 {
		return e.finalize(Decision{
			Action:  ActionRequireApproval,
			Code:    CodeApprovalPermissions,
			Reason:  "permissions require explicit approval: " + strings.Join(hits, ", "),
			Details: map[string]string{"permissions": strings.Join(hits, ",")},
		})
	}

	if m.Trust == manifest.TrustOrgApproved && hasPermission(m.Permissions, manifest.PermNetworkAccess) {
		return e.finalize(Decision{
			Action:  ActionWarn,
			Code:    CodeWarnNetworkAccess,
			Reason:  "org-approved extension requests network access",
			Details: map[string]string{"permissions": string(manifest.PermNetworkAccess)},
		})
	}

	return e.finalize(Decision{Action: ActionAllow, Code: CodeAllow, Reason: "no policy rule matched"})
}

// EvaluateRuntimePermission decides a single capability invocation.
// Platform rules run first: production blocks the critical permissions
// and system-reserved paths refuse writes. Org CEL rules follow; a rule
// that matches or fails to evaluate denies the call.
func (e *Engine) EvaluateRuntimePermission(extensionID string, perm manifest.Permission, rc RuntimeContext) Decision {
	if !perm.Valid() {
		return e.finalize(Decision{
			Action:  ActionDeny,
			Code:    CodeDenyUnknownPerm,
			Reason:  "unknown permission " + string(perm),
			Details: map[string]string{"extension": extensionID, "permission": string(perm)},
		})
	}

	env := strings.ToLower(strings.TrimSpace(rc.Environment))
	if env == "production" {
		if _, critical := criticalPermissions[perm]; critical {
			return e.finalize(Decision{
				Action:  ActionDeny,
				Code:    CodeDenyProduction,
				Reason:  string(perm) + " is blocked in production environments",
				Details: map[string]string{"extension": extensionID, "permission": string(perm), "environment": env},
			})
		}
	}

	if perm == manifest.PermWriteFiles && isReservedPath(rc.TargetPath) {
		return e.finalize(Decision{
			Action:  ActionDeny,
			Code:    CodeDenyReservedPath,
			Reason:  "write to system-reserved path " + rc.TargetPath + " is blocked",
			Details: map[string]string{"extension": extensionID, "path": rc.TargetPath},
		})
	}

	if e.rules.Len() > 0 {
		input := map[string]any{
			"extension":   map[string]any{"id": extensionID},
			"permission":  string(perm),
			"environment": env,
			"target_path": rc.TargetPath,
			"attributes":  attributeMap(rc.Attributes),
		}
		idx, err := e.rules.FirstMatch(input)
		if err != nil {
			// Fail closed: a rule that cannot be evaluated denies.
			return e.finalize(Decision{
				Action:  ActionDeny,
				Code:    CodeDenyRuleError,
				Reason:  "runtime rule evaluation failed: " + err.Error(),
				Details: map[string]string{"extension": extensionID, "permission": string(perm)},
			})
		}
		if idx >= 0 {
			return e.finalize(Decision{
				Action:  ActionDeny,
				Code:    CodeDenyOrgRule,
				Reason:  "denied by organization runtime rule " + e.rules.Source(idx),
				Details: map[string]string{"extension": extensionID, "permission": string(perm), "rule": e.rules.Source(idx)},
			})
		}
	}

	return e.finalize(Decision{
		Action:  ActionAllow,
		Code:    CodeAllow,
		Reason:  "permission granted for this context",
		Details: map[string]string{"extension": extensionID, "permission": string(perm)},
	})
}

// finalize stamps the policy reference, timestamp and decision hash. A
// hash failure collapses the decision to a deny so nothing unhashable
// ever reads as permitted.
func (e *Engine) finalize(d Decision) Decision {
	d.PolicyRef = e.policyRef
	d.EvaluatedAt = e.clock().UTC()
	hash, err := ComputeDecisionHash(d)
	if err != nil {
		return Decision{
			Action:      ActionDeny,
			Code:        CodeDenyHashFailure,
			Reason:      "decision hash computation failed",
			PolicyRef:   e.policyRef,
			EvaluatedAt: d.EvaluatedAt,
		}
	}
	d.Hash = hash
	return d
}

// matchPermissions returns the sorted names of permissions present in
// either lookup set.
func matchPermissions(perms []manifest.Permission, first, second map[manifest.Permission]struct{}) []string {
	seen := make(map[string]struct{})
	for _, perm := range perms {
		if _, ok := first[perm]; ok {
			seen[string(perm)] = struct{}{}
			continue
		}
		if second != nil {
			if _, ok := second[perm]; ok {
				seen[string(perm)] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func hasPermission(perms []manifest.Permission, want manifest.Permission) bool {
	for _, perm := range perms {
		if perm == want {
			return true
		}
	}
	return false
}

func isReservedPath(target string) bool {
	if target == "" {
		return false
	}
	clean := path.Clean(target)
	for _, prefix := range systemReservedPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

// attributeMap widens string attributes for CEL, which sees them as a
// map<string, string>.
func attributeMap(attrs map[string]string) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// computePolicyRef content-addresses the org policy document so every
// decision records which policy produced it.
func computePolicyRef(org OrgPolicy) string {
	ref, err := canonical.CanonicalHash(org)
	if err != nil {
		return "sha256:unknown"
	}
	return "sha256:" + ref
}
