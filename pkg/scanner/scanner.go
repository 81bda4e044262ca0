// Package scanner provides advisory static analysis of extension source
// files. Findings enrich install decisions with context a reviewer can
// act on; they never gate an installation on their own.
package scanner

import (
	"bytes"
	"sort"
	"strings"
)

// Risk levels, ordered from most to least severe.
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// Threat categories a finding can fall into.
const (
	ThreatCodeExecution = "CODE_EXECUTION"
	ThreatNetwork       = "NETWORK"
	ThreatFilesystem    = "FILESYSTEM"
	ThreatCredential    = "CREDENTIAL_EXPOSURE"
)

// Finding records a single risky construct located in a bundle file.
type Finding struct {
	ThreatType  string `json:"threat_type"`
	RiskLevel   string `json:"risk_level"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
}

// StaticScanner inspects bundle files and reports advisory findings.
type StaticScanner interface {
	Scan(files map[string][]byte) []Finding
}

// Rule defines a source pattern the scanner flags.
type Rule struct {
	Pattern     string `json:"pattern"`
	ThreatType  string `json:"threat_type"`
	RiskLevel   string `json:"risk_level"`
	Description string `json:"description"`
}

// DefaultRules returns the built-in rule set covering dynamic code
// execution, raw network access, filesystem reach and credential
// material embedded in source.
func DefaultRules() []Rule {
	return []Rule{
		{"eval(", ThreatCodeExecution, RiskHigh, "Dynamic code evaluation"},
		{"new Function(", ThreatCodeExecution, RiskHigh, "Function constructor from string"},
		{"child_process", ThreatCodeExecution, RiskHigh, "Child process spawning"},
		{"execSync", ThreatCodeExecution, RiskHigh, "Synchronous shell execution"},
		{"XMLHttpRequest", ThreatNetwork, RiskMedium, "Raw HTTP client usage"},
		{"fetch(", ThreatNetwork, RiskMedium, "Outbound network request"},
		{"WebSocket(", ThreatNetwork, RiskMedium, "WebSocket connection"},
		{"http://", ThreatNetwork, RiskLow, "Unencrypted URL literal"},
		{"fs.unlink", ThreatFilesystem, RiskMedium, "File deletion"},
		{"fs.rmdir", ThreatFilesystem, RiskMedium, "Directory removal"},
		{"process.env", ThreatCredential, RiskMedium, "Environment variable access"},
		{"PRIVATE KEY-----", ThreatCredential, RiskHigh, "Embedded private key material"},
	}
}

// PatternScanner is the reference StaticScanner. It matches rule
// patterns line by line, case-insensitively, and skips binary content.
type PatternScanner struct {
	rules []Rule
}

// NewPatternScanner creates a scanner with the given rules.
func NewPatternScanner(rules []Rule) *PatternScanner {
	return &PatternScanner{rules: rules}
}

// NewDefaultScanner creates a scanner with the built-in rule set.
func NewDefaultScanner() *PatternScanner {
	return NewPatternScanner(DefaultRules())
}

// Scan checks every file and returns findings ordered by file name and
// line number.
func (s *PatternScanner) Scan(files map[string][]byte) []Finding {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []Finding
	for _, name := range names {
		findings = append(findings, s.scanFile(name, files[name])...)
	}
	return findings
}

func (s *PatternScanner) scanFile(name string, content []byte) []Finding {
	if bytes.IndexByte(content, 0) >= 0 {
		// Binary content is not scanned.
		return nil
	}

	var findings []Finding
	lines := strings.Split(string(content), "\n")
	for lineNum, line := range lines {
		lower := strings.ToLower(line)
		for _, r := range s.rules {
			if strings.Contains(lower, strings.ToLower(r.Pattern)) {
				findings = append(findings, Finding{
					ThreatType:  r.ThreatType,
					RiskLevel:   r.RiskLevel,
					File:        name,
					Line:        lineNum + 1,
					Description: r.Description,
				})
			}
		}
	}
	return findings
}

// HighestRisk returns the most severe risk level present in findings,
// or an empty string when there are none.
func HighestRisk(findings []Finding) string {
	rank := map[string]int{RiskLow: 1, RiskMedium: 2, RiskHigh: 3}
	best := ""
	for _, f := range findings {
		if rank[f.RiskLevel] > rank[best] {
			best = f.RiskLevel
		}
	}
	return best
}

// Summary counts findings per risk level.
func Summary(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.RiskLevel]++
	}
	return counts
}
