package lifecycle

import (
	"strings"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateDraft, StateSigned},
		{StateSigned, StateVerified},
		{StateVerified, StateDenied},
		{StateVerified, StatePendingApproval},
		{StateVerified, StateAllowed},
		{StatePendingApproval, StateApproved},
		{StatePendingApproval, StateDenied},
		{StateApproved, StateInstalled},
		{StateAllowed, StateInstalled},
		{StateInstalled, StateActive},
		{StateActive, StateSuspended},
		{StateActive, StateRevoked},
		{StateSuspended, StateActive},
		{StateSuspended, StateRevoked},
	}
	for _, tc := range legal {
		got, err := Transition(tc.from, tc.to)
		if err != nil {
			t.Fatalf("Transition(%s, %s): %v", tc.from, tc.to, err)
		}
		if got != tc.to {
			t.Fatalf("Transition(%s, %s) = %s", tc.from, tc.to, got)
		}
	}

	illegal := []struct{ from, to State }{
		{StateDraft, StateVerified},
		{StateSigned, StateActive},
		{StateDenied, StateVerified},
		{StateRevoked, StateActive},
		{StateActive, StateAllowed},
		{StateInstalled, StateSuspended},
		{StateApproved, StateActive},
	}
	for _, tc := range illegal {
		got, err := Transition(tc.from, tc.to)
		if err == nil {
			t.Fatalf("Transition(%s, %s) should fail", tc.from, tc.to)
		}
		if got != tc.from {
			t.Fatalf("failed transition must keep state %s, got %s", tc.from, got)
		}
	}
}

func TestTransitionRejectsUnknownStates(t *testing.T) {
	if _, err := Transition(State("LIMBO"), StateActive); err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("expected unknown state error, got %v", err)
	}
	if _, err := Transition(StateActive, State("LIMBO")); err == nil || !strings.Contains(err.Error(), "unknown state") {
		t.Fatalf("expected unknown state error, got %v", err)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateDenied, StateRevoked} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []State{StateDraft, StateVerified, StateActive, StateSuspended} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if State("LIMBO").Terminal() {
		t.Fatal("unknown states are not terminal")
	}
	if State("LIMBO").Valid() {
		t.Fatal("unknown states are not valid")
	}
}
