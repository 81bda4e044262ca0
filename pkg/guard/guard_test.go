package guard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/audit"
	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/Mindburn-Labs/warden/pkg/policy"
)

func testManifest(id string, perms ...manifest.Permission) manifest.Manifest {
	return manifest.Manifest{
		ID:          id,
		Name:        "Example Extension",
		Version:     "1.0.0",
		Author:      "acme",
		Permissions: perms,
		Entry:       "main.js",
		Hash:        canonical.HashBytes([]byte(id)),
		Trust:       manifest.TrustVerified,
		CreatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testGuard(t *testing.T, opts ...Option) (*Guard, *audit.MemoryLog, *audit.Trail) {
	t.Helper()
	engine, err := policy.NewEngine(policy.DefaultOrgPolicy())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	log := audit.NewMemoryLog()
	trail := audit.NewTrail(log)
	g := New(engine, trail, opts...)
	return g, log, trail
}

func register(t *testing.T, g *Guard, m manifest.Manifest) {
	t.Helper()
	if err := g.Register(&bundle.Bundle{Manifest: m}); err != nil {
		t.Fatalf("Register %s: %v", m.ID, err)
	}
}

func devContext() policy.RuntimeContext {
	return policy.RuntimeContext{Environment: "dev"}
}

func TestGuardAllowsGrantedPermission(t *testing.T) {
	g, log, trail := testGuard(t)
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject, manifest.PermWriteFiles))

	d := g.Evaluate(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext())
	if d.Action != policy.ActionAllow {
		t.Fatalf("Evaluate = %s (%s), want ALLOW", d.Action, d.Code)
	}
	if !g.Check(context.Background(), "ext1", manifest.PermWriteFiles, devContext()) {
		t.Fatal("Check denied a granted permission")
	}

	trail.Close()
	checks := log.Query(audit.Filter{Kind: audit.KindRuntimeCheck})
	if len(checks) != 2 {
		t.Fatalf("runtime check entries = %d, want 2", len(checks))
	}
	for _, e := range checks {
		if e.Severity != audit.SeverityInfo {
			t.Errorf("allowed check recorded at %s, want info", e.Severity)
		}
		if e.Context["reason_code"] != policy.CodeAllow {
			t.Errorf("reason_code = %q, want %q", e.Context["reason_code"], policy.CodeAllow)
		}
		if e.Context["decision_hash"] == "" {
			t.Error("allowed check entry is missing the decision hash")
		}
	}
}

func TestGuardRegisterAudited(t *testing.T) {
	g, log, trail := testGuard(t)
	register(t, g, testManifest("ext1", manifest.PermWriteFiles, manifest.PermAnalyzeProject))

	trail.Close()
	events := log.Query(audit.Filter{Kind: audit.KindLifecycle, Subject: "ext1"})
	if len(events) != 1 {
		t.Fatalf("lifecycle entries = %d, want 1", len(events))
	}
	e := events[0]
	if e.Action != "register" {
		t.Errorf("action = %q, want register", e.Action)
	}
	if e.Context["permissions"] != "analyze-project,write-files" {
		t.Errorf("permissions context = %q, want sorted list", e.Context["permissions"])
	}
	if e.Context["trust"] != "VERIFIED" {
		t.Errorf("trust context = %q, want VERIFIED", e.Context["trust"])
	}
}

func TestGuardDeniesUnknownExtension(t *testing.T) {
	g, log, trail := testGuard(t)

	d := g.Evaluate(context.Background(), "ghost", manifest.PermAnalyzeProject, devContext())
	if d.Action != policy.ActionDeny || d.Code != CodeUnknownExtension {
		t.Fatalf("Evaluate = %s (%s), want DENY %s", d.Action, d.Code, CodeUnknownExtension)
	}

	trail.Close()
	violations := log.Query(audit.Filter{Kind: audit.KindViolation, Subject: "ghost"})
	if len(violations) != 1 {
		t.Fatalf("violation entries = %d, want 1", len(violations))
	}
	if violations[0].Severity != audit.SeverityWarning {
		t.Errorf("severity = %s, want warning", violations[0].Severity)
	}
	if violations[0].Action != "unknown_extension" {
		t.Errorf("action = %q, want unknown_extension", violations[0].Action)
	}
}

func TestGuardDeniesEscalation(t *testing.T) {
	g, log, trail := testGuard(t)
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	// Org policy alone would allow network access for a verified
	// extension. The install-time grant must still win.
	engine, err := policy.NewEngine(policy.DefaultOrgPolicy())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if d := engine.EvaluateRuntimePermission("ext1", manifest.PermNetworkAccess, devContext()); !d.Permitted() {
		t.Fatalf("precondition: engine denies network access (%s)", d.Code)
	}

	d := g.Evaluate(context.Background(), "ext1", manifest.PermNetworkAccess, devContext())
	if d.Action != policy.ActionDeny || d.Code != CodeEscalation {
		t.Fatalf("Evaluate = %s (%s), want DENY %s", d.Action, d.Code, CodeEscalation)
	}

	trail.Close()
	violations := log.Query(audit.Filter{Kind: audit.KindViolation, Subject: "ext1"})
	if len(violations) != 1 {
		t.Fatalf("violation entries = %d, want 1", len(violations))
	}
	if violations[0].Severity != audit.SeverityCritical {
		t.Errorf("escalation severity = %s, want critical", violations[0].Severity)
	}
	if violations[0].Action != "permission_escalation" {
		t.Errorf("action = %q, want permission_escalation", violations[0].Action)
	}
}

func TestGuardDelegatesToPolicyEngine(t *testing.T) {
	g, log, trail := testGuard(t)
	register(t, g, testManifest("ext1", manifest.PermDeploy))

	prod := policy.RuntimeContext{Environment: "production"}
	d := g.Evaluate(context.Background(), "ext1", manifest.PermDeploy, prod)
	if d.Action != policy.ActionDeny || d.Code != policy.CodeDenyProduction {
		t.Fatalf("Evaluate = %s (%s), want DENY %s", d.Action, d.Code, policy.CodeDenyProduction)
	}

	if !g.Check(context.Background(), "ext1", manifest.PermDeploy, devContext()) {
		t.Fatal("deploy denied outside production for a granted extension")
	}

	trail.Close()
	denied := log.Query(audit.Filter{Kind: audit.KindRuntimeCheck, Severity: audit.SeverityWarning})
	if len(denied) != 1 {
		t.Fatalf("denied check entries = %d, want 1", len(denied))
	}
	if denied[0].Context["reason_code"] != policy.CodeDenyProduction {
		t.Errorf("reason_code = %q, want %q", denied[0].Context["reason_code"], policy.CodeDenyProduction)
	}
}

func TestGuardUnregisterRevokesChecks(t *testing.T) {
	g, log, trail := testGuard(t)
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	if !g.Check(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext()) {
		t.Fatal("check denied before unregister")
	}

	g.Unregister("ext1")

	d := g.Evaluate(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext())
	if d.Code != CodeUnknownExtension {
		t.Fatalf("post-unregister code = %s, want %s", d.Code, CodeUnknownExtension)
	}
	if _, ok := g.Granted("ext1"); ok {
		t.Fatal("Granted still reports the unregistered extension")
	}

	trail.Close()
	events := log.Query(audit.Filter{Kind: audit.KindLifecycle, Subject: "ext1"})
	if len(events) != 2 || events[1].Action != "unregister" {
		t.Fatalf("lifecycle trail = %+v, want register then unregister", events)
	}
}

func TestGuardReRegisterReplacesGrant(t *testing.T) {
	g, _, trail := testGuard(t)
	defer trail.Close()

	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject, manifest.PermNetworkAccess))
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	if g.Check(context.Background(), "ext1", manifest.PermNetworkAccess, devContext()) {
		t.Fatal("permission dropped by re-registration still passes")
	}
	set, ok := g.Granted("ext1")
	if !ok || len(set) != 1 || !set.Contains(manifest.PermAnalyzeProject) {
		t.Fatalf("Granted = %v, want analyze-project only", set.Sorted())
	}
}

func TestGuardGrantedReturnsCopy(t *testing.T) {
	g, _, trail := testGuard(t)
	defer trail.Close()

	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	set, ok := g.Granted("ext1")
	if !ok {
		t.Fatal("Granted miss for registered extension")
	}
	set[manifest.PermDeploy] = struct{}{}

	if g.Check(context.Background(), "ext1", manifest.PermDeploy, devContext()) {
		t.Fatal("mutating the returned set widened the registry grant")
	}
}

func TestGuardRegisterRejectsInvalidBundle(t *testing.T) {
	g, _, trail := testGuard(t)
	defer trail.Close()

	if err := g.Register(nil); err == nil {
		t.Error("nil bundle accepted")
	}

	m := testManifest("ext1", manifest.PermAnalyzeProject)
	m.Permissions = nil
	if err := g.Register(&bundle.Bundle{Manifest: m}); err == nil {
		t.Error("manifest without permissions accepted")
	}
}

func TestGuardRateLimitsChecks(t *testing.T) {
	g, log, trail := testGuard(t, WithLimiter(NewLocalLimiter(0.001, 2)))
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	for i := 0; i < 2; i++ {
		if !g.Check(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext()) {
			t.Fatalf("check %d denied within burst", i+1)
		}
	}

	d := g.Evaluate(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext())
	if d.Action != policy.ActionDeny || d.Code != CodeRateLimited {
		t.Fatalf("Evaluate = %s (%s), want DENY %s", d.Action, d.Code, CodeRateLimited)
	}

	trail.Close()
	violations := log.Query(audit.Filter{Kind: audit.KindViolation, Subject: "ext1"})
	if len(violations) != 1 || violations[0].Action != "check_rate_limited" {
		t.Fatalf("violation trail = %+v, want one check_rate_limited entry", violations)
	}
}

type faultyLimiter struct{ err error }

func (f faultyLimiter) Allow(context.Context, string, int) (bool, error) {
	return true, f.err
}

func TestGuardLimiterFaultFailsClosed(t *testing.T) {
	g, log, trail := testGuard(t, WithLimiter(faultyLimiter{err: errors.New("backend unavailable")}))
	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	d := g.Evaluate(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext())
	if d.Action != policy.ActionDeny || d.Code != CodeRateLimited {
		t.Fatalf("Evaluate = %s (%s), want DENY %s", d.Action, d.Code, CodeRateLimited)
	}
	if !strings.Contains(d.Reason, "unavailable") {
		t.Errorf("reason %q does not surface the limiter fault", d.Reason)
	}

	trail.Close()
	violations := log.Query(audit.Filter{Kind: audit.KindViolation})
	if len(violations) != 1 || violations[0].Action != "check_limiter_fault" {
		t.Fatalf("violation trail = %+v, want one check_limiter_fault entry", violations)
	}
}

func TestGuardEnforce(t *testing.T) {
	g, _, trail := testGuard(t)
	defer trail.Close()

	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	if err := g.Enforce(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext()); err != nil {
		t.Fatalf("Enforce on granted permission: %v", err)
	}

	err := g.Enforce(context.Background(), "ext1", manifest.PermDeploy, devContext())
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("Enforce error = %T, want *ViolationError", err)
	}
	if violation.Code != CodeEscalation || violation.ExtensionID != "ext1" || violation.Permission != manifest.PermDeploy {
		t.Fatalf("ViolationError = %+v, want escalation for ext1/deploy", violation)
	}
	if !strings.Contains(violation.Error(), CodeEscalation) {
		t.Errorf("Error() = %q, want the reason code included", violation.Error())
	}
}

func TestGuardConcurrentChecksDuringUnregister(t *testing.T) {
	g, _, trail := testGuard(t)
	defer trail.Close()

	register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			// Either outcome is fine; the snapshot load must not race.
			g.Check(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext())
		}
	}()
	for i := 0; i < 50; i++ {
		g.Unregister("ext1")
		register(t, g, testManifest("ext1", manifest.PermAnalyzeProject))
	}
	<-done

	if !g.Check(context.Background(), "ext1", manifest.PermAnalyzeProject, devContext()) {
		t.Fatal("final registration not visible")
	}
}
