package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

func testRecord(tenantID, extensionID string) Record {
	return Record{
		TenantID: tenantID,
		Manifest: manifest.Manifest{
			ID:          extensionID,
			Name:        "Example Extension",
			Version:     "1.0.0",
			Author:      "acme",
			Permissions: []manifest.Permission{manifest.PermAnalyzeProject},
			Entry:       "main.js",
			Hash:        canonical.HashBytes([]byte(extensionID)),
			Trust:       manifest.TrustVerified,
			CreatedAt:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		Granted:    []manifest.Permission{manifest.PermWriteFiles, manifest.PermAnalyzeProject},
		Status:     "INSTALLED",
		BundleHash: canonical.HashBytes([]byte(extensionID)),
	}
}

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	t.Run("Put and Get", func(t *testing.T) {
		require.NoError(t, r.Put(ctx, testRecord("tenant-1", "ext1")))

		got, err := r.Get(ctx, "tenant-1", "ext1")
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", got.Manifest.Version)
		assert.Equal(t, "INSTALLED", got.Status)
		assert.Equal(t,
			[]manifest.Permission{manifest.PermAnalyzeProject, manifest.PermWriteFiles},
			got.Granted, "grants come back sorted")
		assert.False(t, got.InstalledAt.IsZero())
	})

	t.Run("Replace keeps InstalledAt", func(t *testing.T) {
		first, err := r.Get(ctx, "tenant-1", "ext1")
		require.NoError(t, err)

		upgraded := testRecord("tenant-1", "ext1")
		upgraded.Manifest.Version = "2.0.0"
		require.NoError(t, r.Put(ctx, upgraded))

		got, err := r.Get(ctx, "tenant-1", "ext1")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", got.Manifest.Version)
		assert.True(t, got.InstalledAt.Equal(first.InstalledAt))
	})

	t.Run("Get not found", func(t *testing.T) {
		_, err := r.Get(ctx, "tenant-1", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Tenants isolated", func(t *testing.T) {
		_, err := r.Get(ctx, "tenant-2", "ext1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, r.Put(ctx, testRecord("tenant-2", "ext1")))
		require.NoError(t, r.Delete(ctx, "tenant-2", "ext1"))

		_, err = r.Get(ctx, "tenant-1", "ext1")
		assert.NoError(t, err, "deleting tenant-2's record must not touch tenant-1")
	})

	t.Run("List ordered by extension id", func(t *testing.T) {
		require.NoError(t, r.Put(ctx, testRecord("tenant-1", "zeta")))
		require.NoError(t, r.Put(ctx, testRecord("tenant-1", "alpha")))

		recs, err := r.List(ctx, "tenant-1")
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "alpha", recs[0].Manifest.ID)
		assert.Equal(t, "ext1", recs[1].Manifest.ID)
		assert.Equal(t, "zeta", recs[2].Manifest.ID)
	})

	t.Run("SetStatus", func(t *testing.T) {
		require.NoError(t, r.SetStatus(ctx, "tenant-1", "ext1", "SUSPENDED"))

		got, err := r.Get(ctx, "tenant-1", "ext1")
		require.NoError(t, err)
		assert.Equal(t, "SUSPENDED", got.Status)

		assert.ErrorIs(t, r.SetStatus(ctx, "tenant-1", "missing", "SUSPENDED"), ErrNotFound)
		assert.Error(t, r.SetStatus(ctx, "tenant-1", "ext1", ""))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, r.Delete(ctx, "tenant-1", "ext1"))
		_, err := r.Get(ctx, "tenant-1", "ext1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, r.Delete(ctx, "tenant-1", "ext1"), ErrNotFound)
	})
}

func TestMemoryRegistryValidates(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()

	rec := testRecord("", "ext1")
	assert.Error(t, r.Put(ctx, rec), "missing tenant id")

	rec = testRecord("tenant-1", "ext1")
	rec.Status = ""
	assert.Error(t, r.Put(ctx, rec), "missing status")

	rec = testRecord("tenant-1", "ext1")
	rec.Manifest.Version = "not-semver"
	assert.Error(t, r.Put(ctx, rec), "invalid manifest")

	rec = testRecord("tenant-1", "ext1")
	rec.Granted = []manifest.Permission{"root-access"}
	assert.Error(t, r.Put(ctx, rec), "unknown granted permission")
}

func TestMemoryRegistryCopiesGrants(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.Background()
	require.NoError(t, r.Put(ctx, testRecord("tenant-1", "ext1")))

	got, err := r.Get(ctx, "tenant-1", "ext1")
	require.NoError(t, err)
	got.Granted[0] = manifest.PermDeploy

	again, err := r.Get(ctx, "tenant-1", "ext1")
	require.NoError(t, err)
	assert.Equal(t,
		[]manifest.Permission{manifest.PermAnalyzeProject, manifest.PermWriteFiles},
		again.Granted, "mutating a returned record must not change the stored one")
}
