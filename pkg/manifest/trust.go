package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TrustLevel classifies how strongly the platform vouches for an
// extension's publisher. Higher ordinal values indicate stronger trust.
type TrustLevel int

const (
	// TrustUntrusted is the zero value: no trust established. Bundles at
	// this level can never be signed or approved.
	TrustUntrusted TrustLevel = iota
	// TrustOrgApproved indicates an organization admin vouches for the
	// extension within that organization only.
	TrustOrgApproved
	// TrustVerified indicates the platform has reviewed the publisher.
	TrustVerified
	// TrustCore indicates a first-party platform extension.
	TrustCore
)

// String returns the wire name of the trust level.
func (t TrustLevel) String() string {
	switch t {
	case TrustUntrusted:
		return "UNTRUSTED"
	case TrustOrgApproved:
		return "ORG_APPROVED"
	case TrustVerified:
		return "VERIFIED"
	case TrustCore:
		return "CORE"
	default:
		return fmt.Sprintf("TrustLevel(%d)", int(t))
	}
}

// Valid reports whether t is one of the defined levels.
func (t TrustLevel) Valid() bool {
	return t >= TrustUntrusted && t <= TrustCore
}

// Signable reports whether keys may be loaded and bundles signed at this
// level. UNTRUSTED is unsignable by definition.
func (t TrustLevel) Signable() bool {
	return t.Valid() && t != TrustUntrusted
}

// ParseTrustLevel parses a wire name. Unknown values are an error, never
// mapped to a default.
func ParseTrustLevel(s string) (TrustLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNTRUSTED":
		return TrustUntrusted, nil
	case "ORG_APPROVED":
		return TrustOrgApproved, nil
	case "VERIFIED":
		return TrustVerified, nil
	case "CORE":
		return TrustCore, nil
	default:
		return TrustUntrusted, fmt.Errorf("manifest: unknown trust level %q", s)
	}
}

// MarshalJSON encodes the level as its wire name.
func (t TrustLevel) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("manifest: invalid trust level %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown values.
func (t *TrustLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("manifest: trust level must be a string: %w", err)
	}
	level, err := ParseTrustLevel(s)
	if err != nil {
		return err
	}
	*t = level
	return nil
}

// MarshalYAML encodes the level as its wire name for policy profiles.
func (t TrustLevel) MarshalYAML() (any, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("manifest: invalid trust level %d", int(t))
	}
	return t.String(), nil
}

// UnmarshalYAML decodes a wire name, rejecting unknown values.
func (t *TrustLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("manifest: trust level must be a string: %w", err)
	}
	level, err := ParseTrustLevel(s)
	if err != nil {
		return err
	}
	*t = level
	return nil
}
