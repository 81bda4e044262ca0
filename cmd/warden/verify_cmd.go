package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/warden/pkg/keyring"
	"github.com/Mindburn-Labs/warden/pkg/verifier"
)

// verifyReport is the --json shape of a verification run.
type verifyReport struct {
	OK       bool   `json:"ok"`
	Bundle   string `json:"bundle"`
	Gate     string `json:"gate,omitempty"`
	Error    string `json:"error,omitempty"`
	ID       string `json:"id,omitempty"`
	Version  string `json:"version,omitempty"`
	Trust    string `json:"trust,omitempty"`
	Hash     string `json:"hash,omitempty"`
	SignerID string `json:"signer_key_id,omitempty"`
}

// runVerifyCmd verifies a packed bundle end to end: container bounds,
// content hash, ed25519 signature, trusted-key membership and
// structural checks, in that order. The first failing gate is reported
// and nothing after it runs.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	bundlePath := cmd.String("bundle", "", "packed bundle to verify")
	trustPath := cmd.String("trust", "warden-trust.json", "trust file with trusted public keys")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if *bundlePath == "" {
		_, _ = fmt.Fprintln(stderr, "verify: --bundle is required")
		return 2
	}
	data, err := os.ReadFile(*bundlePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: %v\n", err)
		return 2
	}
	ring, err := ringFromTrustFile(*trustPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify: %v\n", err)
		return 2
	}

	b, err := verifier.New(ring).Verify(data)
	if err != nil {
		gate := failedGate(err)
		if *jsonOut {
			printJSON(stdout, verifyReport{OK: false, Bundle: *bundlePath, Gate: gate, Error: err.Error()})
		} else {
			_, _ = fmt.Fprintf(stdout, "%s✗%s verification failed at the %s gate\n", ColorRed, ColorReset, gate)
			_, _ = fmt.Fprintf(stdout, "  %v\n", err)
		}
		return 1
	}

	pub, _ := decodePublicKey(b.Signature.PublicKey)
	report := verifyReport{
		OK:       true,
		Bundle:   *bundlePath,
		ID:       b.Manifest.ID,
		Version:  b.Manifest.Version,
		Trust:    b.Manifest.Trust.String(),
		Hash:     b.Hash,
		SignerID: keyring.KeyID(pub),
	}
	if *jsonOut {
		printJSON(stdout, report)
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "%s✓%s %s %s verified at %s\n", ColorGreen, ColorReset, report.ID, report.Version, report.Trust)
	_, _ = fmt.Fprintf(stdout, "  bundle hash: %s\n", report.Hash)
	_, _ = fmt.Fprintf(stdout, "  signer:      %s\n", report.SignerID)
	return 0
}

// failedGate names the pipeline stage that rejected the bundle. Every
// verifier error kind carries its stage; anything else is unexpected.
func failedGate(err error) string {
	var stepper interface{ Step() string }
	if errors.As(err, &stepper) {
		return stepper.Step()
	}
	return "unknown"
}

func printJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}
