// Package config loads host configuration from the environment and
// organization policy profiles from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
)

// Config holds host configuration sourced from 12-factor env vars.
// Empty backend settings select the in-process implementation: an
// in-memory registry, local rate-limit buckets, no OTLP export.
type Config struct {
	LogLevel    string
	Environment string
	TenantID    string

	AuditDBPath  string // SQLite audit sink path
	RegistryDSN  string // Postgres registry; empty keeps records in memory
	RedisAddr    string // shared runtime rate-limit buckets
	OTLPEndpoint string // OTLP collector for traces and metrics
	ProfilesDir  string
	KeystorePath string

	ApprovalTimeout time.Duration
	Limits          bundle.Limits
}

// Load reads configuration from environment variables, falling back to
// safe local defaults.
func Load() *Config {
	limits := bundle.DefaultLimits()
	return &Config{
		LogLevel:        envOr("LOG_LEVEL", "INFO"),
		Environment:     envOr("WARDEN_ENV", "dev"),
		TenantID:        envOr("WARDEN_TENANT", "default"),
		AuditDBPath:     envOr("WARDEN_AUDIT_DB", "warden-audit.db"),
		RegistryDSN:     os.Getenv("WARDEN_REGISTRY_DSN"),
		RedisAddr:       os.Getenv("WARDEN_REDIS_ADDR"),
		OTLPEndpoint:    os.Getenv("WARDEN_OTLP_ENDPOINT"),
		ProfilesDir:     envOr("WARDEN_PROFILES_DIR", "profiles"),
		KeystorePath:    envOr("WARDEN_KEYSTORE", "warden-keys.enc"),
		ApprovalTimeout: envDuration("WARDEN_APPROVAL_TIMEOUT", 24*time.Hour),
		Limits: bundle.Limits{
			MaxFiles:      envInt("WARDEN_MAX_FILES", limits.MaxFiles),
			MaxFileBytes:  envInt64("WARDEN_MAX_FILE_BYTES", limits.MaxFileBytes),
			MaxTotalBytes: envInt64("WARDEN_MAX_BUNDLE_BYTES", limits.MaxTotalBytes),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
