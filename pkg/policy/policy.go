package policy

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/warden/pkg/manifest"
)

// OrgPolicy is the organization-configurable part of the evaluation.
// It can narrow what installs (block authors, forbid permissions,
// restrict trust levels, demand approval) but cannot override the
// immutable platform rules.
type OrgPolicy struct {
	AllowedTrustLevels   []manifest.TrustLevel `json:"allowed_trust_levels" yaml:"allowed_trust_levels"`
	BlockedAuthors       []string              `json:"blocked_authors,omitempty" yaml:"blocked_authors,omitempty"`
	ForbiddenPermissions []manifest.Permission `json:"forbidden_permissions,omitempty" yaml:"forbidden_permissions,omitempty"`
	RequiresApproval     []manifest.Permission `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`

	// RuntimeRules are CEL expressions evaluated on every runtime
	// permission check. A rule that evaluates to true denies the call.
	// Rules must pass the determinism check at engine construction.
	RuntimeRules []string `json:"runtime_rules,omitempty" yaml:"runtime_rules,omitempty"`
}

// DefaultOrgPolicy allows all signable trust levels and configures no
// org-specific restrictions. The immutable platform rules still apply.
func DefaultOrgPolicy() OrgPolicy {
	return OrgPolicy{
		AllowedTrustLevels: []manifest.TrustLevel{
			manifest.TrustCore,
			manifest.TrustVerified,
			manifest.TrustOrgApproved,
		},
	}
}

// Validate rejects policies referencing unknown permissions or trust
// levels. YAML decoding does not run the JSON enum checks, so this is
// the closed-enum gate for config-loaded policies.
func (p OrgPolicy) Validate() error {
	for _, level := range p.AllowedTrustLevels {
		if !level.Valid() {
			return fmt.Errorf("policy: unknown trust level %d in allowed_trust_levels", int(level))
		}
	}
	for _, perm := range p.ForbiddenPermissions {
		if !perm.Valid() {
			return fmt.Errorf("policy: unknown permission %q in forbidden_permissions", perm)
		}
	}
	for _, perm := range p.RequiresApproval {
		if !perm.Valid() {
			return fmt.Errorf("policy: unknown permission %q in requires_approval", perm)
		}
	}
	for _, author := range p.BlockedAuthors {
		if strings.TrimSpace(author) == "" {
			return fmt.Errorf("policy: empty author in blocked_authors")
		}
	}
	return nil
}

// normalizeAuthor maps an author name to its comparison form. Manifest
// fields are NFC-normalized at signing; blocked-author entries from org
// config get the same treatment here.
func normalizeAuthor(author string) string {
	return norm.NFC.String(strings.TrimSpace(author))
}
