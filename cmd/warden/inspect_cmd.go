package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
)

// inspectReport is the --json shape of an inspection.
type inspectReport struct {
	Bundle      string         `json:"bundle"`
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Author      string         `json:"author"`
	Trust       string         `json:"trust"`
	Entry       string         `json:"entry"`
	Permissions []string       `json:"permissions"`
	Hash        string         `json:"manifest_hash"`
	SignedAt    string         `json:"signed_at"`
	Algorithm   string         `json:"algorithm"`
	Files       map[string]int `json:"files"`
}

// runInspectCmd prints what a bundle claims to contain without running
// any verification. Every field shown is publisher-asserted; only
// 'warden verify' turns claims into facts.
//
// Exit codes:
//
//	0 = bundle parsed and printed
//	1 = bundle container is malformed
//	2 = usage or runtime error
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("inspect", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	bundlePath := cmd.String("bundle", "", "packed bundle to inspect")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if *bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "inspect: --bundle is required")
		return 2
	}
	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "inspect: %v\n", err)
		return 2
	}

	raw, err := bundle.Unpack(data, bundle.DefaultLimits())
	if err != nil {
		_, _ = fmt.Fprintf(stdout, "%s✗%s bundle is malformed: %v\n", ColorRed, ColorReset, err)
		return 1
	}

	m := raw.Manifest
	perms := make([]string, 0, len(m.Permissions))
	for _, p := range m.Permissions {
		perms = append(perms, string(p))
	}
	fileSizes := make(map[string]int, len(raw.Files))
	names := make([]string, 0, len(raw.Files))
	for name, content := range raw.Files {
		fileSizes[name] = len(content)
		names = append(names, name)
	}
	sort.Strings(names)

	if *jsonOut {
		printJSON(stdout, inspectReport{
			Bundle:      *bundlePath,
			ID:          m.ID,
			Name:        m.Name,
			Version:     m.Version,
			Author:      m.Author,
			Trust:       m.Trust.String(),
			Entry:       m.Entry,
			Permissions: perms,
			Hash:        m.Hash,
			SignedAt:    raw.Signature.SignedAt,
			Algorithm:   raw.Signature.Algorithm,
			Files:       fileSizes,
		})
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s%s %s%s by %s\n", ColorBold, m.ID, m.Version, ColorReset, m.Author)
	_, _ = fmt.Fprintf(stdout, "  name:        %s\n", m.Name)
	_, _ = fmt.Fprintf(stdout, "  claimed trust: %s\n", m.Trust)
	_, _ = fmt.Fprintf(stdout, "  entry:       %s\n", m.Entry)
	_, _ = fmt.Fprintf(stdout, "  permissions: %v\n", perms)
	_, _ = fmt.Fprintf(stdout, "  hash:        %s\n", m.Hash)
	_, _ = fmt.Fprintf(stdout, "  signed:      %s (%s)\n", raw.Signature.SignedAt, raw.Signature.Algorithm)
	_, _ = fmt.Fprintf(stdout, "  files:\n")
	for _, name := range names {
		_, _ = fmt.Fprintf(stdout, "    %s%8d%s  %s\n", ColorGray, fileSizes[name], ColorReset, name)
	}
	_, _ = fmt.Fprintf(stdout, "\n%sclaims are unverified; run 'warden verify' before trusting them%s\n", ColorYellow, ColorReset)
	return 0
}
