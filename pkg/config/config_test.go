package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WARDEN_ENV", "")
	t.Setenv("WARDEN_TENANT", "")
	t.Setenv("WARDEN_AUDIT_DB", "")
	t.Setenv("WARDEN_REGISTRY_DSN", "")
	t.Setenv("WARDEN_REDIS_ADDR", "")
	t.Setenv("WARDEN_OTLP_ENDPOINT", "")
	t.Setenv("WARDEN_APPROVAL_TIMEOUT", "")
	t.Setenv("WARDEN_MAX_FILES", "")
	t.Setenv("WARDEN_MAX_FILE_BYTES", "")
	t.Setenv("WARDEN_MAX_BUNDLE_BYTES", "")

	cfg := config.Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "default", cfg.TenantID)
	assert.Equal(t, "warden-audit.db", cfg.AuditDBPath)
	assert.Empty(t, cfg.RegistryDSN)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTimeout)
	assert.Equal(t, bundle.DefaultLimits(), cfg.Limits)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("WARDEN_ENV", "production")
	t.Setenv("WARDEN_TENANT", "org-42")
	t.Setenv("WARDEN_REGISTRY_DSN", "postgres://warden:5432/warden?sslmode=disable")
	t.Setenv("WARDEN_REDIS_ADDR", "redis-0:6379")
	t.Setenv("WARDEN_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WARDEN_APPROVAL_TIMEOUT", "2h")
	t.Setenv("WARDEN_MAX_FILES", "64")
	t.Setenv("WARDEN_MAX_FILE_BYTES", "1048576")
	t.Setenv("WARDEN_MAX_BUNDLE_BYTES", "4194304")

	cfg := config.Load()

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "org-42", cfg.TenantID)
	assert.Equal(t, "postgres://warden:5432/warden?sslmode=disable", cfg.RegistryDSN)
	assert.Equal(t, "redis-0:6379", cfg.RedisAddr)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 2*time.Hour, cfg.ApprovalTimeout)
	assert.Equal(t, 64, cfg.Limits.MaxFiles)
	assert.Equal(t, int64(1048576), cfg.Limits.MaxFileBytes)
	assert.Equal(t, int64(4194304), cfg.Limits.MaxTotalBytes)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("WARDEN_MAX_FILES", "many")
	t.Setenv("WARDEN_MAX_FILE_BYTES", "-4")
	t.Setenv("WARDEN_APPROVAL_TIMEOUT", "soon")

	cfg := config.Load()

	assert.Equal(t, bundle.DefaultLimits().MaxFiles, cfg.Limits.MaxFiles)
	assert.Equal(t, bundle.DefaultLimits().MaxFileBytes, cfg.Limits.MaxFileBytes)
	assert.Equal(t, 24*time.Hour, cfg.ApprovalTimeout)
}
