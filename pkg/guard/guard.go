// Package guard enforces the runtime permission gate. Every capability
// invocation passes through Check: the extension must be registered,
// the permission must be in its install-time grant, and the contextual
// policy must allow it. A request for a capability outside the grant is
// a permission escalation attempt and is audited at critical severity,
// distinct from an ordinary policy denial.
//
// The grant registry uses copy-on-write snapshots so an uninstall can
// never race an in-flight check into a stale allow.
package guard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Mindburn-Labs/warden/pkg/audit"
	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/Mindburn-Labs/warden/pkg/policy"
)

// Reason codes for guard-level denials, in addition to the policy
// engine's own codes.
const (
	CodeUnknownExtension = "DENY_UNKNOWN_EXTENSION"
	CodeEscalation       = "DENY_PERMISSION_ESCALATION"
	CodeRateLimited      = "DENY_RATE_LIMITED"
)

const guardActor = "runtime-guard"

// grant is the install-time record consulted on every check.
type grant struct {
	permissions manifest.PermissionSet
	trust       manifest.TrustLevel
	author      string
	version     string
}

type grantTable map[string]grant

// Guard gates capability invocations for registered extensions.
type Guard struct {
	engine  *policy.Engine
	trail   *audit.Trail
	limiter Limiter

	mu     sync.Mutex
	grants atomic.Pointer[grantTable]
}

// Option configures a Guard.
type Option func(*Guard)

// WithLimiter throttles per-extension check volume. A denied or failed
// limiter check denies the call and records a violation.
func WithLimiter(l Limiter) Option {
	return func(g *Guard) { g.limiter = l }
}

// New creates a guard over a policy engine and an audit trail.
func New(engine *policy.Engine, trail *audit.Trail, opts ...Option) *Guard {
	g := &Guard{engine: engine, trail: trail}
	empty := make(grantTable)
	g.grants.Store(&empty)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register records a verified bundle's granted permission set. An
// existing registration for the same ID is replaced.
func (g *Guard) Register(b *bundle.Bundle) error {
	if b == nil {
		return fmt.Errorf("guard: nil bundle")
	}
	if err := b.Manifest.Validate(); err != nil {
		return fmt.Errorf("guard: register %s: %w", b.Manifest.ID, err)
	}

	g.update(func(table grantTable) {
		table[b.Manifest.ID] = grant{
			permissions: b.Manifest.PermissionSet(),
			trust:       b.Manifest.Trust,
			author:      b.Manifest.Author,
			version:     b.Manifest.Version,
		}
	})

	g.trail.Record(audit.Event{
		Kind:     audit.KindLifecycle,
		Severity: audit.SeverityInfo,
		Actor:    guardActor,
		Action:   "register",
		Subject:  b.Manifest.ID,
		Context: map[string]string{
			"version":     b.Manifest.Version,
			"trust":       b.Manifest.Trust.String(),
			"permissions": joinPermissions(b.Manifest.PermissionSet()),
		},
	})
	return nil
}

// Unregister removes an extension's grant. Checks that loaded the
// previous snapshot finish against it; new checks see the removal.
func (g *Guard) Unregister(extensionID string) {
	g.update(func(table grantTable) {
		delete(table, extensionID)
	})

	g.trail.Record(audit.Event{
		Kind:     audit.KindLifecycle,
		Severity: audit.SeverityInfo,
		Actor:    guardActor,
		Action:   "unregister",
		Subject:  extensionID,
	})
}

// update applies a mutation to a fresh copy of the grant table and
// atomically publishes it.
func (g *Guard) update(mutate func(grantTable)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := *g.grants.Load()
	next := make(grantTable, len(current)+1)
	for id, gr := range current {
		next[id] = gr
	}
	mutate(next)
	g.grants.Store(&next)
}

// Granted returns a copy of the permission set registered for an
// extension. Mutating the copy does not affect the registry.
func (g *Guard) Granted(extensionID string) (manifest.PermissionSet, bool) {
	gr, ok := (*g.grants.Load())[extensionID]
	if !ok {
		return nil, false
	}
	return manifest.NewPermissionSet(gr.permissions.Sorted()...), true
}

// Check reports whether the invocation may proceed. Shorthand for
// Evaluate(...).Permitted().
func (g *Guard) Check(ctx context.Context, extensionID string, perm manifest.Permission, rc policy.RuntimeContext) bool {
	return g.Evaluate(ctx, extensionID, perm, rc).Permitted()
}

// Evaluate runs the full gate and returns the decision. Order: rate
// limit, registration, grant membership, then contextual policy. Every
// outcome is audited.
func (g *Guard) Evaluate(ctx context.Context, extensionID string, perm manifest.Permission, rc policy.RuntimeContext) policy.Decision {
	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, extensionID, 1)
		if err != nil {
			// Fail closed. A limiter fault must not widen access.
			return g.violation(extensionID, perm, rc, audit.SeverityWarning, "check_limiter_fault",
				CodeRateLimited, "rate limiter unavailable: "+err.Error())
		}
		if !allowed {
			return g.violation(extensionID, perm, rc, audit.SeverityWarning, "check_rate_limited",
				CodeRateLimited, "runtime check rate exceeded")
		}
	}

	gr, registered := (*g.grants.Load())[extensionID]
	if !registered {
		// A call from an unregistered extension is an anomaly worth
		// flagging, not just a miss.
		return g.violation(extensionID, perm, rc, audit.SeverityWarning, "unknown_extension",
			CodeUnknownExtension, "extension is not registered")
	}

	if !gr.permissions.Contains(perm) {
		return g.violation(extensionID, perm, rc, audit.SeverityCritical, "permission_escalation",
			CodeEscalation, "permission "+string(perm)+" is outside the install-time grant")
	}

	d := g.engine.EvaluateRuntimePermission(extensionID, perm, rc)
	severity := audit.SeverityInfo
	if !d.Permitted() {
		severity = audit.SeverityWarning
	}
	g.trail.Record(audit.Event{
		Kind:     audit.KindRuntimeCheck,
		Severity: severity,
		Actor:    guardActor,
		Action:   "check",
		Subject:  extensionID,
		Decision: string(d.Action),
		Context:  checkContext(perm, rc, d),
	})
	return d
}

// Enforce is Evaluate with a typed error result: nil when permitted,
// *ViolationError otherwise.
func (g *Guard) Enforce(ctx context.Context, extensionID string, perm manifest.Permission, rc policy.RuntimeContext) error {
	d := g.Evaluate(ctx, extensionID, perm, rc)
	if d.Permitted() {
		return nil
	}
	return &ViolationError{
		ExtensionID: extensionID,
		Permission:  perm,
		Code:        d.Code,
		Reason:      d.Reason,
	}
}

// violation denies without consulting the policy engine and records the
// event with the given severity.
func (g *Guard) violation(extensionID string, perm manifest.Permission, rc policy.RuntimeContext, severity audit.Severity, action, code, reason string) policy.Decision {
	d := policy.Decision{
		Action:  policy.ActionDeny,
		Code:    code,
		Reason:  reason,
		Details: map[string]string{"extension": extensionID, "permission": string(perm)},
	}
	g.trail.Record(audit.Event{
		Kind:     audit.KindViolation,
		Severity: severity,
		Actor:    guardActor,
		Action:   action,
		Subject:  extensionID,
		Decision: string(policy.ActionDeny),
		Context:  checkContext(perm, rc, d),
	})
	return d
}

func checkContext(perm manifest.Permission, rc policy.RuntimeContext, d policy.Decision) map[string]string {
	ctx := map[string]string{
		"permission":  string(perm),
		"environment": rc.Environment,
		"reason_code": d.Code,
	}
	if rc.TargetPath != "" {
		ctx["target_path"] = rc.TargetPath
	}
	if d.Hash != "" {
		ctx["decision_hash"] = d.Hash
	}
	return ctx
}

func joinPermissions(set manifest.PermissionSet) string {
	perms := set.Sorted()
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}
