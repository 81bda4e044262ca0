package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/warden/pkg/bundle"
	"github.com/Mindburn-Labs/warden/pkg/config"
	"github.com/Mindburn-Labs/warden/pkg/manifest"
	"github.com/Mindburn-Labs/warden/pkg/policy"
	"github.com/Mindburn-Labs/warden/pkg/verifier"
)

// evaluateReport is the --json shape of a policy evaluation.
type evaluateReport struct {
	Bundle   string          `json:"bundle"`
	Profile  string          `json:"profile"`
	Verified bool            `json:"verified"`
	Decision policy.Decision `json:"decision"`
}

// runEvaluateCmd evaluates a bundle against an organization profile.
// With --trust the bundle is fully verified first, so the decision is
// about proven facts; without it the manifest's claims are taken as-is
// for a policy dry run.
//
// Exit codes:
//
//	0 = allowed (ALLOW or WARN)
//	1 = blocked (DENY or REQUIRE_APPROVAL), or verification failed
//	2 = usage or runtime error
func runEvaluateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	bundlePath := cmd.String("bundle", "", "packed bundle to evaluate")
	profileDir := cmd.String("profiles", "config/profiles", "directory with profile_<code>.yaml files")
	profileCode := cmd.String("profile", "", "profile code to evaluate against")
	trustPath := cmd.String("trust", "", "trust file; when set the bundle is verified first")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if *bundlePath == "" || *profileCode == "" {
		_, _ = fmt.Fprintln(stderr, "evaluate: --bundle and --profile are required")
		return 2
	}
	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return 2
	}

	var m manifest.Manifest
	verified := false
	if *trustPath != "" {
		ring, err := ringFromTrustFile(*trustPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "evaluate: %v\n", err)
			return 2
		}
		b, err := verifier.New(ring).Verify(data)
		if err != nil {
			_, _ = fmt.Fprintf(stdout, "%s✗%s verification failed at the %s gate: %v\n", ColorRed, ColorReset, failedGate(err), err)
			return 1
		}
		m = b.Manifest
		verified = true
	} else {
		raw, err := bundle.Unpack(data, bundle.DefaultLimits())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "evaluate: %v\n", err)
			return 2
		}
		m = raw.Manifest
	}

	profile, err := config.LoadProfile(*profileDir, *profileCode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return 2
	}
	engine, err := profile.NewEngine()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "evaluate: %v\n", err)
		return 2
	}

	d := engine.EvaluateInstallation(m)
	if *jsonOut {
		printJSON(stdout, evaluateReport{
			Bundle:   *bundlePath,
			Profile:  profile.Code,
			Verified: verified,
			Decision: d,
		})
	} else {
		printDecision(stdout, profile, m, d, verified)
	}
	if d.Permitted() {
		return 0
	}
	return 1
}

func printDecision(w io.Writer, p *config.Profile, m manifest.Manifest, d policy.Decision, verified bool) {
	color := ColorRed
	switch d.Action {
	case policy.ActionAllow:
		color = ColorGreen
	case policy.ActionWarn:
		color = ColorYellow
	case policy.ActionRequireApproval:
		color = ColorPurple
	}

	mode := "dry run on claimed manifest"
	if verified {
		mode = "verified bundle"
	}
	_, _ = fmt.Fprintf(w, "%s%s%s %s %s against profile %q (%s)\n", color, d.Action, ColorReset, m.ID, m.Version, p.Code, mode)
	_, _ = fmt.Fprintf(w, "  code:   %s\n", d.Code)
	_, _ = fmt.Fprintf(w, "  reason: %s\n", d.Reason)
	for k, v := range d.Details {
		_, _ = fmt.Fprintf(w, "  %s%s: %s%s\n", ColorGray, k, v, ColorReset)
	}
	_, _ = fmt.Fprintf(w, "  policy: %s\n", d.PolicyRef)
	_, _ = fmt.Fprintf(w, "  hash:   %s\n", d.Hash)
}
