package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/warden/pkg/policy"
)

// Profile is a named organization policy configuration loaded from
// YAML. Decoding is strict: unknown keys, unknown trust levels and
// unknown permissions are errors, never silently dropped.
type Profile struct {
	Name     string           `yaml:"name"`
	Code     string           `yaml:"code"`
	Policy   policy.OrgPolicy `yaml:"policy"`
	Approval ApprovalConfig   `yaml:"approval"`
	Runtime  RuntimeConfig    `yaml:"runtime"`
}

// ApprovalConfig holds the profile's approval-gate knobs. Zero values
// defer to the platform defaults.
type ApprovalConfig struct {
	TimeoutHours    int `yaml:"timeout_hours"`
	ReceiptTTLHours int `yaml:"receipt_ttl_hours"`
}

// RuntimeConfig bounds runtime permission checks per extension.
type RuntimeConfig struct {
	ChecksPerSecond float64 `yaml:"checks_per_second"`
	CheckBurst      int     `yaml:"check_burst"`
}

// Validate rejects profiles that could not drive the policy engine. An
// empty allowed-trust-level list would refuse every installation and is
// always a configuration mistake.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("config: profile %q has no name", p.Code)
	}
	if len(p.Policy.AllowedTrustLevels) == 0 {
		return fmt.Errorf("config: profile %q allows no trust levels", p.Code)
	}
	if err := p.Policy.Validate(); err != nil {
		return fmt.Errorf("config: profile %q: %w", p.Code, err)
	}
	if p.Approval.TimeoutHours < 0 || p.Approval.ReceiptTTLHours < 0 {
		return fmt.Errorf("config: profile %q has negative approval windows", p.Code)
	}
	if p.Runtime.ChecksPerSecond < 0 || p.Runtime.CheckBurst < 0 {
		return fmt.Errorf("config: profile %q has negative runtime limits", p.Code)
	}
	return nil
}

// NewEngine compiles the profile's policy, including its CEL runtime
// rules, into an evaluation engine.
func (p *Profile) NewEngine() (*policy.Engine, error) {
	return policy.NewEngine(p.Policy)
}

// ApprovalTimeout returns the configured intent window, or zero when
// the profile defers to the platform default.
func (p *Profile) ApprovalTimeout() time.Duration {
	if p.Approval.TimeoutHours <= 0 {
		return 0
	}
	return time.Duration(p.Approval.TimeoutHours) * time.Hour
}

// ReceiptTTL returns the configured receipt token lifetime, or zero for
// the platform default.
func (p *Profile) ReceiptTTL() time.Duration {
	if p.Approval.ReceiptTTLHours <= 0 {
		return 0
	}
	return time.Duration(p.Approval.ReceiptTTLHours) * time.Hour
}

// LoadProfile loads and validates profile_<code>.yaml from dir.
func LoadProfile(dir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", code, err)
	}
	p, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", code, err)
	}
	if p.Code == "" {
		p.Code = code
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadAllProfiles loads every profile_*.yaml in dir, keyed by code.
func LoadAllProfiles(dir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		p, err := parseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if p.Code == "" {
			base := filepath.Base(path)
			p.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		profiles[p.Code] = p
	}
	return profiles, nil
}

func parseProfile(data []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
