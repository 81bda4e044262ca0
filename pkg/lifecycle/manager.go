package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/approval"
	"github.com/Mindburn-Labs/warden/pkg/audit"
	"github.com/Mindburn-Labs/warden/pkg/blob"
	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/guard"
	"github.com/Mindburn-Labs/warden/pkg/policy"
	"github.com/Mindburn-Labs/warden/pkg/registry"
	"github.com/Mindburn-Labs/warden/pkg/scanner"
	"github.com/Mindburn-Labs/warden/pkg/verifier"
)

// CodeApprovalExpired marks an installation refused because its approval
// window elapsed before a reviewer resolved it.
const CodeApprovalExpired = "DENY_APPROVAL_EXPIRED"

const managerActor = "lifecycle-manager"

// Result describes where an installation attempt ended up. Bundle and
// Decision are set once verification succeeded; IntentID and Receipt are
// set on the approval path.
type Result struct {
	State    State
	Bundle   *bundle.Bundle
	Decision policy.Decision
	Findings []scanner.Finding
	IntentID string
	Receipt  *approval.Receipt
}

// pendingInstall parks a verified bundle while its approval intent is
// open. The bundle is installed verbatim once approved; it is discarded
// on denial or expiry.
type pendingInstall struct {
	tenantID string
	bundle   *bundle.Bundle
	data     []byte
	decision policy.Decision
	findings []scanner.Finding
}

// Manager owns the installation state machine. It chains the verifier,
// the advisory scanner, the policy engine, the approval gate, the
// registry and the runtime guard, and records every transition on the
// audit trail.
type Manager struct {
	verifier  *verifier.Verifier
	engine    *policy.Engine
	approvals *approval.Manager
	registry  registry.Registry
	guard     *guard.Guard
	scan      scanner.StaticScanner
	archive   blob.Store
	trail     *audit.Trail

	mu      sync.Mutex
	pending map[string]*pendingInstall
}

// Option configures a Manager.
type Option func(*Manager)

// WithScanner attaches an advisory static scanner. Findings enrich WARN
// decisions and audit context; they never change the decision action.
func WithScanner(s scanner.StaticScanner) Option {
	return func(m *Manager) { m.scan = s }
}

// WithApprovals replaces the default approval manager.
func WithApprovals(a *approval.Manager) Option {
	return func(m *Manager) {
		if a != nil {
			m.approvals = a
		}
	}
}

// WithArchive stores the packed bytes of every installed bundle in a
// content-addressed archive. Archiving is best-effort: a storage
// failure is audited but never blocks the installation.
func WithArchive(store blob.Store) Option {
	return func(m *Manager) { m.archive = store }
}

// NewManager wires the installation pipeline.
func NewManager(v *verifier.Verifier, engine *policy.Engine, reg registry.Registry, g *guard.Guard, trail *audit.Trail, opts ...Option) *Manager {
	m := &Manager{
		verifier:  v,
		engine:    engine,
		approvals: approval.NewManager(),
		registry:  reg,
		guard:     g,
		trail:     trail,
		pending:   make(map[string]*pendingInstall),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Approvals exposes the approval manager so hosts can list and resolve
// open intents.
func (m *Manager) Approvals() *approval.Manager { return m.approvals }

// Install takes packed bundle bytes through verify, scan, evaluate and
// the approval gate, then persists and guard-registers the extension.
//
// The returned result is non-nil whenever verification succeeded and
// reports the state the attempt reached. A DENY decision returns the
// result together with a *policy.DeniedError; a REQUIRE_APPROVAL
// decision parks the bundle, returns the intent ID in the result and a
// *policy.ApprovalRequiredError.
func (m *Manager) Install(ctx context.Context, tenantID string, data []byte) (*Result, error) {
	b, err := m.verifier.Verify(data)
	if err != nil {
		m.record(audit.KindLifecycle, audit.SeverityWarning, managerActor, "verify", canonical.HashBytes(data), "DENY", map[string]string{
			"tenant": tenantID,
			"step":   verifyStep(err),
			"error":  err.Error(),
		})
		return nil, err
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "verified", b.Manifest.ID, string(StateVerified), map[string]string{
		"tenant":      tenantID,
		"version":     b.Manifest.Version,
		"trust":       string(b.Manifest.Trust),
		"bundle_hash": b.Hash,
	})

	var findings []scanner.Finding
	if m.scan != nil {
		findings = m.scan.Scan(b.Files)
	}

	d := m.engine.EvaluateInstallation(b.Manifest)
	if d.Action == policy.ActionWarn && len(findings) > 0 {
		d = attachFindings(d, findings)
	}
	severity := audit.SeverityInfo
	if d.Action == policy.ActionDeny {
		severity = audit.SeverityWarning
	}
	m.record(audit.KindInstallDecision, severity, managerActor, "evaluate", b.Manifest.ID, string(d.Action), decisionContext(tenantID, d, findings))

	switch d.Action {
	case policy.ActionDeny:
		return &Result{State: StateDenied, Bundle: b, Decision: d, Findings: findings}, &policy.DeniedError{Decision: d}

	case policy.ActionRequireApproval:
		intent, err := m.approvals.CreateIntent(tenantID, b.Manifest, d)
		if err != nil {
			return nil, fmt.Errorf("lifecycle: open approval intent for %s: %w", b.Manifest.ID, err)
		}
		m.mu.Lock()
		m.pending[intent.ID] = &pendingInstall{tenantID: tenantID, bundle: b, data: data, decision: d, findings: findings}
		m.mu.Unlock()
		m.record(audit.KindApproval, audit.SeverityInfo, managerActor, "intent_opened", b.Manifest.ID, string(StatePendingApproval), map[string]string{
			"tenant":     tenantID,
			"intent":     intent.ID,
			"expires_at": intent.ExpiresAt.Format(time.RFC3339),
		})
		return &Result{State: StatePendingApproval, Bundle: b, Decision: d, Findings: findings, IntentID: intent.ID}, &policy.ApprovalRequiredError{Decision: d}

	default:
		return m.install(ctx, tenantID, b, data, d, findings)
	}
}

// ApproveInstall resolves an open intent and, when the approval landed
// inside its window, installs the parked bundle. An intent that expired
// before review resolves to a denial.
func (m *Manager) ApproveInstall(ctx context.Context, intentID, reviewerID string) (*Result, error) {
	receipt, err := m.approvals.Approve(intentID, reviewerID)
	if err != nil {
		return nil, err
	}
	p := m.takePending(intentID)

	if !receipt.Approved() {
		m.record(audit.KindApproval, audit.SeverityWarning, reviewerID, "expired", receipt.ExtensionID, string(StateDenied), map[string]string{
			"tenant": receipt.TenantID,
			"intent": intentID,
		})
		d := policy.Decision{
			Action: policy.ActionDeny,
			Code:   CodeApprovalExpired,
			Reason: "approval window elapsed before review",
		}
		return &Result{State: StateDenied, IntentID: intentID, Receipt: receipt, Decision: d}, &policy.DeniedError{Decision: d}
	}
	if p == nil {
		return nil, fmt.Errorf("lifecycle: no pending bundle for intent %s", intentID)
	}

	m.record(audit.KindApproval, audit.SeverityInfo, reviewerID, "approved", receipt.ExtensionID, string(StateApproved), map[string]string{
		"tenant": p.tenantID,
		"intent": intentID,
	})
	res, err := m.install(ctx, p.tenantID, p.bundle, p.data, p.decision, p.findings)
	if err != nil {
		return nil, err
	}
	res.IntentID = intentID
	res.Receipt = receipt
	return res, nil
}

// DenyInstall resolves an open intent as refused and discards the
// parked bundle.
func (m *Manager) DenyInstall(intentID, reviewerID, reason string) (*approval.Receipt, error) {
	receipt, err := m.approvals.Deny(intentID, reviewerID, reason)
	if err != nil {
		return nil, err
	}
	m.takePending(intentID)
	m.record(audit.KindApproval, audit.SeverityWarning, reviewerID, "denied", receipt.ExtensionID, string(StateDenied), map[string]string{
		"tenant": receipt.TenantID,
		"intent": intentID,
		"reason": reason,
	})
	return receipt, nil
}

// ExpirePending sweeps intents past their deadline, discards their
// bundles and audits each expiry. Hosts run it periodically.
func (m *Manager) ExpirePending() []*approval.Receipt {
	receipts := m.approvals.CheckTimeouts()
	for _, r := range receipts {
		m.takePending(r.IntentID)
		m.record(audit.KindApproval, audit.SeverityWarning, managerActor, "expired", r.ExtensionID, string(StateDenied), map[string]string{
			"tenant": r.TenantID,
			"intent": r.IntentID,
		})
	}
	return receipts
}

// Suspend takes an active extension out of service. Its grants leave the
// guard immediately; runtime checks fail closed until Resume.
func (m *Manager) Suspend(ctx context.Context, tenantID, extensionID, reason string) error {
	rec, err := m.registry.Get(ctx, tenantID, extensionID)
	if err != nil {
		return err
	}
	if State(rec.Status) != StateActive {
		return fmt.Errorf("lifecycle: extension must be %s before suspension, current state: %s", StateActive, rec.Status)
	}
	m.guard.Unregister(extensionID)
	if err := m.registry.SetStatus(ctx, tenantID, extensionID, string(StateSuspended)); err != nil {
		return fmt.Errorf("lifecycle: suspend %s: %w", extensionID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityWarning, managerActor, "suspended", extensionID, string(StateSuspended), map[string]string{
		"tenant": tenantID,
		"reason": reason,
	})
	return nil
}

// Resume returns a suspended extension to service with the grants it was
// installed with.
func (m *Manager) Resume(ctx context.Context, tenantID, extensionID string) error {
	rec, err := m.registry.Get(ctx, tenantID, extensionID)
	if err != nil {
		return err
	}
	if State(rec.Status) != StateSuspended {
		return fmt.Errorf("lifecycle: extension must be %s before resumption, current state: %s", StateSuspended, rec.Status)
	}
	if err := m.guard.Register(&bundle.Bundle{Manifest: rec.Manifest}); err != nil {
		return fmt.Errorf("lifecycle: resume %s: %w", extensionID, err)
	}
	if err := m.registry.SetStatus(ctx, tenantID, extensionID, string(StateActive)); err != nil {
		return fmt.Errorf("lifecycle: resume %s: %w", extensionID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "resumed", extensionID, string(StateActive), map[string]string{
		"tenant": tenantID,
	})
	return nil
}

// Revoke permanently retires an extension. The registry record is kept
// in its terminal state as evidence; the guard drops its grants.
func (m *Manager) Revoke(ctx context.Context, tenantID, extensionID, reason string) error {
	rec, err := m.registry.Get(ctx, tenantID, extensionID)
	if err != nil {
		return err
	}
	st := State(rec.Status)
	if st != StateActive && st != StateSuspended {
		return fmt.Errorf("lifecycle: extension must be %s or %s before revocation, current state: %s", StateActive, StateSuspended, rec.Status)
	}
	m.guard.Unregister(extensionID)
	if err := m.registry.SetStatus(ctx, tenantID, extensionID, string(StateRevoked)); err != nil {
		return fmt.Errorf("lifecycle: revoke %s: %w", extensionID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityWarning, managerActor, "revoked", extensionID, string(StateRevoked), map[string]string{
		"tenant": tenantID,
		"reason": reason,
	})
	return nil
}

// Uninstall removes an extension and its registry record. Revoked
// records are terminal and cannot be uninstalled away.
func (m *Manager) Uninstall(ctx context.Context, tenantID, extensionID string) error {
	rec, err := m.registry.Get(ctx, tenantID, extensionID)
	if err != nil {
		return err
	}
	st := State(rec.Status)
	if st != StateInstalled && st != StateActive && st != StateSuspended {
		return fmt.Errorf("lifecycle: extension in state %s cannot be uninstalled", rec.Status)
	}
	m.guard.Unregister(extensionID)
	if err := m.registry.Delete(ctx, tenantID, extensionID); err != nil {
		return fmt.Errorf("lifecycle: uninstall %s: %w", extensionID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "uninstalled", extensionID, "", map[string]string{
		"tenant": tenantID,
	})
	return nil
}

// Status reports an extension's current lifecycle state.
func (m *Manager) Status(ctx context.Context, tenantID, extensionID string) (State, error) {
	rec, err := m.registry.Get(ctx, tenantID, extensionID)
	if err != nil {
		return "", err
	}
	return State(rec.Status), nil
}

// Restore re-registers every active extension for a tenant with the
// runtime guard and returns how many it registered. Hosts call it once
// at startup; the registry is the durable source of grants.
func (m *Manager) Restore(ctx context.Context, tenantID string) (int, error) {
	recs, err := m.registry.List(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: restore tenant %s: %w", tenantID, err)
	}
	restored := 0
	for _, rec := range recs {
		if State(rec.Status) != StateActive {
			continue
		}
		if err := m.guard.Register(&bundle.Bundle{Manifest: rec.Manifest}); err != nil {
			return restored, fmt.Errorf("lifecycle: restore %s: %w", rec.Manifest.ID, err)
		}
		restored++
	}
	return restored, nil
}

// install persists the record, registers runtime grants and walks the
// extension from INSTALLED to ACTIVE.
func (m *Manager) install(ctx context.Context, tenantID string, b *bundle.Bundle, data []byte, d policy.Decision, findings []scanner.Finding) (*Result, error) {
	rec := registry.Record{
		TenantID:   tenantID,
		Manifest:   b.Manifest,
		Granted:    b.Manifest.PermissionSet().Sorted(),
		Status:     string(StateInstalled),
		BundleHash: b.Hash,
	}
	if err := m.registry.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("lifecycle: persist %s: %w", b.Manifest.ID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "installed", b.Manifest.ID, string(StateInstalled), map[string]string{
		"tenant":      tenantID,
		"version":     b.Manifest.Version,
		"bundle_hash": b.Hash,
	})
	m.archiveBundle(ctx, tenantID, b.Manifest.ID, data)

	if err := m.guard.Register(b); err != nil {
		return nil, fmt.Errorf("lifecycle: guard registration for %s: %w", b.Manifest.ID, err)
	}
	if err := m.registry.SetStatus(ctx, tenantID, b.Manifest.ID, string(StateActive)); err != nil {
		return nil, fmt.Errorf("lifecycle: activate %s: %w", b.Manifest.ID, err)
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "activated", b.Manifest.ID, string(StateActive), map[string]string{
		"tenant": tenantID,
	})
	return &Result{State: StateActive, Bundle: b, Decision: d, Findings: findings}, nil
}

// archiveBundle stores the packed bytes in the configured archive.
// Failures are audited and swallowed; the install proceeds either way.
func (m *Manager) archiveBundle(ctx context.Context, tenantID, extensionID string, data []byte) {
	if m.archive == nil || len(data) == 0 {
		return
	}
	addr, err := m.archive.Put(ctx, data)
	if err != nil {
		m.record(audit.KindLifecycle, audit.SeverityWarning, managerActor, "archive", extensionID, "", map[string]string{
			"tenant": tenantID,
			"error":  err.Error(),
		})
		return
	}
	m.record(audit.KindLifecycle, audit.SeverityInfo, managerActor, "archived", extensionID, "", map[string]string{
		"tenant": tenantID,
		"addr":   addr,
	})
}

func (m *Manager) record(kind audit.Kind, sev audit.Severity, actor, action, subject, decision string, ctx map[string]string) {
	m.trail.Record(audit.Event{
		Kind:     kind,
		Severity: sev,
		Actor:    actor,
		Action:   action,
		Subject:  subject,
		Decision: decision,
		Context:  ctx,
	})
}

func (m *Manager) takePending(intentID string) *pendingInstall {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending[intentID]
	delete(m.pending, intentID)
	return p
}

// attachFindings copies scan results into a decision's details and
// recomputes its hash. The original decision is returned unchanged if
// rehashing fails.
func attachFindings(d policy.Decision, findings []scanner.Finding) policy.Decision {
	details := make(map[string]string, len(d.Details)+2)
	for k, v := range d.Details {
		details[k] = v
	}
	details["scan_findings"] = strconv.Itoa(len(findings))
	details["scan_highest_risk"] = scanner.HighestRisk(findings)

	enriched := d
	enriched.Details = details
	hash, err := policy.ComputeDecisionHash(enriched)
	if err != nil {
		return d
	}
	enriched.Hash = hash
	return enriched
}

func decisionContext(tenantID string, d policy.Decision, findings []scanner.Finding) map[string]string {
	c := map[string]string{
		"tenant":        tenantID,
		"reason_code":   d.Code,
		"decision_hash": d.Hash,
	}
	if len(findings) > 0 {
		c["scan_findings"] = strconv.Itoa(len(findings))
		c["scan_highest_risk"] = scanner.HighestRisk(findings)
	}
	return c
}

// verifyStep names the verification gate that refused a bundle.
func verifyStep(err error) string {
	var staged interface{ Step() string }
	if errors.As(err, &staged) {
		return staged.Step()
	}
	return "unpack"
}
