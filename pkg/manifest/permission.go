package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Permission is a capability tag an extension may request. The set is
// closed: unknown tags are a hard validation failure at every
// deserialization boundary, never silently ignored.
type Permission string

const (
	PermAnalyzeProject  Permission = "analyze-project"
	PermWriteFiles      Permission = "write-files"
	PermNetworkAccess   Permission = "network-access"
	PermExecuteCommands Permission = "execute-commands"
	PermDeploy          Permission = "deploy"
	PermCIAccess        Permission = "ci-access"
	PermRequestApproval Permission = "request-approval"
)

var knownPermissions = map[Permission]struct{}{
	PermAnalyzeProject:  {},
	PermWriteFiles:      {},
	PermNetworkAccess:   {},
	PermExecuteCommands: {},
	PermDeploy:          {},
	PermCIAccess:        {},
	PermRequestApproval: {},
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	_, ok := knownPermissions[p]
	return ok
}

// String returns the capability tag.
func (p Permission) String() string { return string(p) }

// ParsePermission parses a capability tag, rejecting unknown values.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("manifest: unknown permission %q", s)
	}
	return p, nil
}

// UnmarshalJSON decodes a capability tag, rejecting unknown values so a
// typo or a fabricated capability never slips through a parse.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("manifest: permission must be a string: %w", err)
	}
	parsed, err := ParsePermission(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PermissionSet is an unordered collection of granted permissions with
// O(1) membership checks.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in lexicographic order, for deterministic
// serialization and stable audit payloads.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllPermissions returns the closed capability set in lexicographic
// order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(knownPermissions))
	for p := range knownPermissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
