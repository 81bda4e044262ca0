// Package lifecycle drives an extension through its installation state
// machine: verification, policy evaluation, the approval gate, registry
// persistence and runtime guard registration, with every transition
// audited. DRAFT and SIGNED happen publisher-side in the bundle signer;
// the manager takes over once packed bytes arrive from transport.
package lifecycle

import "fmt"

// State is an extension's position in the installation state machine.
type State string

const (
	StateDraft           State = "DRAFT"
	StateSigned          State = "SIGNED"
	StateVerified        State = "VERIFIED"
	StateDenied          State = "DENIED"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateAllowed         State = "ALLOWED"
	StateInstalled       State = "INSTALLED"
	StateActive          State = "ACTIVE"
	StateSuspended       State = "SUSPENDED"
	StateRevoked         State = "REVOKED"
)

// transitions holds the legal successor states. DENIED and REVOKED have
// no successors; they are terminal.
var transitions = map[State][]State{
	StateDraft:           {StateSigned},
	StateSigned:          {StateVerified},
	StateVerified:        {StateDenied, StatePendingApproval, StateAllowed},
	StatePendingApproval: {StateApproved, StateDenied},
	StateApproved:        {StateInstalled},
	StateAllowed:         {StateInstalled},
	StateInstalled:       {StateActive},
	StateActive:          {StateSuspended, StateRevoked},
	StateSuspended:       {StateActive, StateRevoked},
	StateDenied:          {},
	StateRevoked:         {},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	succ, ok := transitions[s]
	return ok && len(succ) == 0
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change and returns the new state.
func Transition(from, to State) (State, error) {
	if !from.Valid() {
		return from, fmt.Errorf("lifecycle: unknown state %q", from)
	}
	if !to.Valid() {
		return from, fmt.Errorf("lifecycle: unknown state %q", to)
	}
	if !CanTransition(from, to) {
		return from, fmt.Errorf("lifecycle: extension cannot move from %s to %s", from, to)
	}
	return to, nil
}
