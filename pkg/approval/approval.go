// Package approval tracks installations blocked on human judgment. A
// REQUIRE_APPROVAL policy decision opens an intent; a reviewer resolves
// it into an immutable receipt, after which the installation resumes or
// is rejected. Unresolved intents expire to denial, never to allow.
package approval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/Mindburn-Labs/warden/pkg/policy"
)

var (
	ErrIntentNotFound = errors.New("approval: intent not found")
	ErrNotPending     = errors.New("approval: intent is not pending")
)

// Status is the lifecycle state of an intent.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusExpired  Status = "EXPIRED"
)

// Intent is one installation awaiting review.
type Intent struct {
	ID          string                `json:"id"`
	TenantID    string                `json:"tenant_id"`
	ExtensionID string                `json:"extension_id"`
	Version     string                `json:"version"`
	Author      string                `json:"author"`
	Permissions []manifest.Permission `json:"permissions"`
	Decision    policy.Decision       `json:"decision"`
	Status      Status                `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
}

// Receipt is the immutable resolution of an intent.
type Receipt struct {
	ID          string    `json:"id"`
	IntentID    string    `json:"intent_id"`
	TenantID    string    `json:"tenant_id"`
	ExtensionID string    `json:"extension_id"`
	Outcome     Status    `json:"outcome"`
	ReviewerID  string    `json:"reviewer_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
	DurationMs  int64     `json:"duration_ms"`
	ContentHash string    `json:"content_hash"`
	Token       string    `json:"token,omitempty"`
}

// Approved reports whether the receipt authorizes the installation.
func (r *Receipt) Approved() bool { return r.Outcome == StatusApproved }

// DefaultTimeout bounds how long an intent may stay pending.
const DefaultTimeout = 24 * time.Hour

// Manager tracks intents and resolves them into receipts.
type Manager struct {
	mu      sync.Mutex
	intents map[string]*Intent
	signer  *ReceiptSigner
	timeout time.Duration
	clock   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets how long intents stay pending before expiring.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithReceiptSigner attaches signed tokens to every receipt.
func WithReceiptSigner(s *ReceiptSigner) Option {
	return func(m *Manager) { m.signer = s }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		intents: make(map[string]*Intent),
		timeout: DefaultTimeout,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateIntent opens an intent for a decision that requires approval.
func (m *Manager) CreateIntent(tenantID string, man manifest.Manifest, d policy.Decision) (*Intent, error) {
	if d.Action != policy.ActionRequireApproval {
		return nil, fmt.Errorf("approval: decision %s does not require approval", d.Action)
	}

	now := m.clock().UTC()
	intent := &Intent{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		ExtensionID: man.ID,
		Version:     man.Version,
		Author:      man.Author,
		Permissions: man.PermissionSet().Sorted(),
		Decision:    d,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.timeout),
	}

	m.mu.Lock()
	m.intents[intent.ID] = intent
	m.mu.Unlock()

	return intent, nil
}

// Approve resolves a pending intent in favor of installation. An intent
// past its deadline expires instead; a late approval can never allow.
func (m *Manager) Approve(intentID, reviewerID string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, intentID, intent.Status)
	}

	now := m.clock().UTC()
	if now.After(intent.ExpiresAt) {
		intent.Status = StatusExpired
		return m.receipt(intent, now, "", "approval window elapsed"), nil
	}

	intent.Status = StatusApproved
	return m.receipt(intent, now, reviewerID, ""), nil
}

// Deny resolves a pending intent against installation.
func (m *Manager) Deny(intentID, reviewerID, reason string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	if intent.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, intentID, intent.Status)
	}

	intent.Status = StatusDenied
	return m.receipt(intent, m.clock().UTC(), reviewerID, reason), nil
}

// CheckTimeouts expires every pending intent past its deadline and
// returns their receipts.
func (m *Manager) CheckTimeouts() []*Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	var receipts []*Receipt
	for _, intent := range m.intents {
		if intent.Status != StatusPending || !now.After(intent.ExpiresAt) {
			continue
		}
		intent.Status = StatusExpired
		receipts = append(receipts, m.receipt(intent, now, "", "approval window elapsed"))
	}
	return receipts
}

// Get returns an intent by ID.
func (m *Manager) Get(intentID string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[intentID]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

// Pending returns a tenant's unresolved intents.
func (m *Manager) Pending(tenantID string) []*Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Intent
	for _, intent := range m.intents {
		if intent.Status == StatusPending && intent.TenantID == tenantID {
			cp := *intent
			out = append(out, &cp)
		}
	}
	return out
}

func (m *Manager) receipt(intent *Intent, resolvedAt time.Time, reviewerID, reason string) *Receipt {
	r := &Receipt{
		ID:          uuid.New().String(),
		IntentID:    intent.ID,
		TenantID:    intent.TenantID,
		ExtensionID: intent.ExtensionID,
		Outcome:     intent.Status,
		ReviewerID:  reviewerID,
		Reason:      reason,
		ResolvedAt:  resolvedAt,
		DurationMs:  resolvedAt.Sub(intent.CreatedAt).Milliseconds(),
	}

	hashable := struct {
		IntentID    string `json:"intent_id"`
		ExtensionID string `json:"extension_id"`
		Outcome     Status `json:"outcome"`
		ReviewerID  string `json:"reviewer_id"`
	}{r.IntentID, r.ExtensionID, r.Outcome, r.ReviewerID}
	if h, err := canonical.CanonicalHash(hashable); err == nil {
		r.ContentHash = "sha256:" + h
	}

	if m.signer != nil {
		if token, err := m.signer.Sign(r); err == nil {
			r.Token = token
		}
	}
	return r
}
