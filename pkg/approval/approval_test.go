package approval

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/Mindburn-Labs/warden/pkg/policy"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func approvalManifest() manifest.Manifest {
	return manifest.Manifest{
		ID:          "ext1",
		Name:        "Example Extension",
		Version:     "1.0.0",
		Author:      "acme",
		Permissions: []manifest.Permission{manifest.PermDeploy, manifest.PermAnalyzeProject},
		Entry:       "main.js",
		Trust:       manifest.TrustVerified,
	}
}

func approvalDecision() policy.Decision {
	return policy.Decision{
		Action: policy.ActionRequireApproval,
		Code:   policy.CodeApprovalPermissions,
		Reason: "permissions require human approval: deploy",
	}
}

func TestCreateIntent(t *testing.T) {
	clock := newClock()
	mgr := NewManager(WithClock(clock.Now), WithTimeout(10*time.Minute))

	intent, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}
	if intent.ID == "" {
		t.Fatal("expected intent ID")
	}
	if intent.Status != StatusPending {
		t.Fatalf("status = %s, want PENDING", intent.Status)
	}
	if intent.ExtensionID != "ext1" || intent.TenantID != "tenant-1" {
		t.Fatalf("intent subject = %s/%s", intent.TenantID, intent.ExtensionID)
	}
	if got := intent.Permissions; len(got) != 2 || got[0] != manifest.PermAnalyzeProject {
		t.Fatalf("permissions = %v, want sorted manifest set", got)
	}
	if !intent.ExpiresAt.Equal(clock.now.Add(10 * time.Minute)) {
		t.Fatalf("expires = %s, want created+timeout", intent.ExpiresAt)
	}
	if n := len(mgr.Pending("tenant-1")); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestCreateIntentRejectsOtherActions(t *testing.T) {
	mgr := NewManager()
	d := approvalDecision()
	d.Action = policy.ActionDeny

	if _, err := mgr.CreateIntent("tenant-1", approvalManifest(), d); err == nil {
		t.Fatal("intent opened for a DENY decision")
	}
}

func TestApprove(t *testing.T) {
	clock := newClock()
	mgr := NewManager(WithClock(clock.Now))

	intent, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(5 * time.Minute)
	receipt, err := mgr.Approve(intent.ID, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Approved() {
		t.Fatalf("outcome = %s, want APPROVED", receipt.Outcome)
	}
	if receipt.ReviewerID != "admin-1" {
		t.Fatalf("reviewer = %q", receipt.ReviewerID)
	}
	if receipt.DurationMs != (5 * time.Minute).Milliseconds() {
		t.Fatalf("duration = %dms", receipt.DurationMs)
	}
	if !strings.HasPrefix(receipt.ContentHash, "sha256:") {
		t.Fatalf("content hash = %q", receipt.ContentHash)
	}

	got, err := mgr.Get(intent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusApproved {
		t.Fatalf("stored status = %s", got.Status)
	}

	if _, err := mgr.Approve(intent.ID, "admin-2"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second approval error = %v, want ErrNotPending", err)
	}
}

func TestDeny(t *testing.T) {
	mgr := NewManager(WithClock(newClock().Now))

	intent, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := mgr.Deny(intent.ID, "admin-1", "vendor not cleared")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Outcome != StatusDenied {
		t.Fatalf("outcome = %s, want DENIED", receipt.Outcome)
	}
	if receipt.Reason != "vendor not cleared" {
		t.Fatalf("reason = %q", receipt.Reason)
	}
	if receipt.Approved() {
		t.Fatal("denied receipt reports approved")
	}
}

func TestLateApprovalExpires(t *testing.T) {
	clock := newClock()
	mgr := NewManager(WithClock(clock.Now), WithTimeout(time.Hour))

	intent, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(2 * time.Hour)
	receipt, err := mgr.Approve(intent.ID, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if receipt.Outcome != StatusExpired {
		t.Fatalf("outcome = %s, want EXPIRED", receipt.Outcome)
	}
	if receipt.Approved() {
		t.Fatal("late approval still authorized the installation")
	}
}

func TestCheckTimeouts(t *testing.T) {
	clock := newClock()
	mgr := NewManager(WithClock(clock.Now), WithTimeout(time.Hour))

	first, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Deny(first.ID, "admin-1", "no"); err != nil {
		t.Fatal(err)
	}

	second, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision())
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(90 * time.Minute)
	receipts := mgr.CheckTimeouts()
	if len(receipts) != 1 {
		t.Fatalf("timed out = %d, want 1 (resolved intents are not re-expired)", len(receipts))
	}
	if receipts[0].IntentID != second.ID || receipts[0].Outcome != StatusExpired {
		t.Fatalf("receipt = %+v", receipts[0])
	}
	if n := len(mgr.Pending("tenant-1")); n != 0 {
		t.Fatalf("pending after timeout sweep = %d", n)
	}
}

func TestGetNotFound(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.Get("nope"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("err = %v, want ErrIntentNotFound", err)
	}
	if _, err := mgr.Approve("nope", "admin-1"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("err = %v, want ErrIntentNotFound", err)
	}
}

func TestPendingFiltersByTenant(t *testing.T) {
	mgr := NewManager(WithClock(newClock().Now))

	if _, err := mgr.CreateIntent("tenant-1", approvalManifest(), approvalDecision()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.CreateIntent("tenant-2", approvalManifest(), approvalDecision()); err != nil {
		t.Fatal(err)
	}

	if n := len(mgr.Pending("tenant-1")); n != 1 {
		t.Fatalf("tenant-1 pending = %d", n)
	}
	if n := len(mgr.Pending("tenant-3")); n != 0 {
		t.Fatalf("tenant-3 pending = %d", n)
	}
}
