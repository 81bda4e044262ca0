// Package registry persists accepted extensions and their granted
// permissions per tenant. It is the durable source of truth written by
// the lifecycle manager once a bundle has cleared verification and
// policy; the runtime guard keeps its own in-process snapshot and is
// rebuilt from here on restart.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// ErrNotFound is returned when no record exists for the tenant and
// extension pair.
var ErrNotFound = errors.New("registry: extension not found")

// Record is one installed extension for one tenant.
type Record struct {
	TenantID    string                `json:"tenant_id"`
	Manifest    manifest.Manifest     `json:"manifest"`
	Granted     []manifest.Permission `json:"granted"`
	Status      string                `json:"status"`
	BundleHash  string                `json:"bundle_hash"`
	InstalledAt time.Time             `json:"installed_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Validate checks the fields the registry requires before persisting.
func (r Record) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("registry: tenant id is required")
	}
	if r.Status == "" {
		return fmt.Errorf("registry: status is required")
	}
	if err := r.Manifest.Validate(); err != nil {
		return err
	}
	for _, p := range r.Granted {
		if !p.Valid() {
			return fmt.Errorf("registry: unknown granted permission %q", string(p))
		}
	}
	return nil
}

// Registry persists accepted manifests and granted permissions per
// tenant.
type Registry interface {
	// Put inserts or replaces the record keyed by tenant and manifest
	// ID. A preexisting record keeps its InstalledAt.
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, tenantID, extensionID string) (Record, error)
	// List returns a tenant's records ordered by extension ID.
	List(ctx context.Context, tenantID string) ([]Record, error)
	// SetStatus updates the lifecycle status of an installed extension.
	SetStatus(ctx context.Context, tenantID, extensionID, status string) error
	// Delete removes the record; removing an absent one is ErrNotFound.
	Delete(ctx context.Context, tenantID, extensionID string) error
}

// MemoryRegistry is a thread-safe in-memory implementation, used in
// tests and single-process hosts.
type MemoryRegistry struct {
	mu      sync.RWMutex
	tenants map[string]map[string]Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tenants: make(map[string]map[string]Record)}
}

func (m *MemoryRegistry) Put(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Granted = sortedPermissions(rec.Granted)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	exts, ok := m.tenants[rec.TenantID]
	if !ok {
		exts = make(map[string]Record)
		m.tenants[rec.TenantID] = exts
	}
	if prev, exists := exts[rec.Manifest.ID]; exists {
		rec.InstalledAt = prev.InstalledAt
	} else if rec.InstalledAt.IsZero() {
		rec.InstalledAt = now
	}
	rec.UpdatedAt = now
	exts[rec.Manifest.ID] = rec
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, tenantID, extensionID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.tenants[tenantID][extensionID]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Granted = sortedPermissions(rec.Granted)
	return rec, nil
}

func (m *MemoryRegistry) List(_ context.Context, tenantID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exts := m.tenants[tenantID]
	out := make([]Record, 0, len(exts))
	for _, rec := range exts {
		rec.Granted = sortedPermissions(rec.Granted)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out, nil
}

func (m *MemoryRegistry) SetStatus(_ context.Context, tenantID, extensionID, status string) error {
	if status == "" {
		return fmt.Errorf("registry: status is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.tenants[tenantID][extensionID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	m.tenants[tenantID][extensionID] = rec
	return nil
}

func (m *MemoryRegistry) Delete(_ context.Context, tenantID, extensionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[tenantID][extensionID]; !ok {
		return ErrNotFound
	}
	delete(m.tenants[tenantID], extensionID)
	return nil
}

// sortedPermissions copies and sorts a grant list so stored and
// returned records never share backing arrays with callers.
func sortedPermissions(perms []manifest.Permission) []manifest.Permission {
	out := append([]manifest.Permission(nil), perms...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
