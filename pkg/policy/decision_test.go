package policy

import (
	"testing"
	"time"
)

func TestComputeDecisionHashIgnoresTimestamp(t *testing.T) {
	d := Decision{
		Action:    ActionDeny,
		Code:      CodeDenyForbiddenPerm,
		Reason:    "requests forbidden permissions: deploy",
		Details:   map[string]string{"permissions": "deploy"},
		PolicyRef: "sha256:abc",
	}

	d.EvaluatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := ComputeDecisionHash(d)
	if err != nil {
		t.Fatalf("ComputeDecisionHash: %v", err)
	}

	d.EvaluatedAt = time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC)
	d.Hash = "sha256:stale"
	second, err := ComputeDecisionHash(d)
	if err != nil {
		t.Fatalf("ComputeDecisionHash: %v", err)
	}

	if first != second {
		t.Errorf("hashes differ across timestamps: %q vs %q", first, second)
	}
}

func TestComputeDecisionHashBindsContent(t *testing.T) {
	base := Decision{Action: ActionAllow, Code: CodeAllow, Reason: "ok", PolicyRef: "sha256:abc"}
	changed := base
	changed.Action = ActionDeny

	first, err := ComputeDecisionHash(base)
	if err != nil {
		t.Fatalf("ComputeDecisionHash: %v", err)
	}
	second, err := ComputeDecisionHash(changed)
	if err != nil {
		t.Fatalf("ComputeDecisionHash: %v", err)
	}
	if first == second {
		t.Error("different decisions share a hash")
	}
}

func TestPermitted(t *testing.T) {
	cases := []struct {
		action Action
		want   bool
	}{
		{ActionAllow, true},
		{ActionWarn, true},
		{ActionDeny, false},
		{ActionRequireApproval, false},
	}
	for _, tc := range cases {
		if got := (Decision{Action: tc.action}).Permitted(); got != tc.want {
			t.Errorf("Permitted(%s) = %v, want %v", tc.action, got, tc.want)
		}
	}
}
