// Command warden is the extension trust pipeline CLI. It covers the
// publisher side (keygen, sign), the host side (verify, inspect,
// evaluate) and operations (audit), all on top of the same library the
// embedding platform uses.
//
// Exit codes follow one convention across every subcommand:
//
//	0 = the command succeeded and the check (if any) passed
//	1 = the check ran and failed (bad signature, denied install, broken chain)
//	2 = usage error or runtime failure
package main

import (
	"fmt"
	"io"
	"os"
)

const version = "1.0.0"

// ANSI colors for terminal output.
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches to a subcommand and returns the process exit code. It
// takes the writers explicitly so tests can drive the full binary
// without a subprocess.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "sign":
		return runSignCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "evaluate":
		return runEvaluateCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "warden %s\n", version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "warden: unknown command %q\n\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "%swarden %s%s - extension trust pipeline\n\n", ColorBold, version, ColorReset)
	_, _ = fmt.Fprintf(w, "%sUsage:%s warden <command> [flags]\n", ColorBold, ColorReset)

	printSection(w, "Publishing")
	printCommand(w, "keygen", "generate a signing keypair for a trust level")
	printCommand(w, "sign", "sign a manifest and files into a packed bundle")

	printSection(w, "Verification")
	printCommand(w, "verify", "verify a bundle: integrity, signature, trusted key")
	printCommand(w, "inspect", "show bundle contents without verifying")
	printCommand(w, "evaluate", "evaluate a bundle against an organization profile")

	printSection(w, "Operations")
	printCommand(w, "audit verify", "check the audit log hash chain")
	printCommand(w, "audit tail", "print the most recent audit entries")

	printSection(w, "Other")
	printCommand(w, "version", "print the version")
	printCommand(w, "help", "show this help")

	_, _ = fmt.Fprintf(w, "\nRun %swarden <command> -h%s for command flags.\n", ColorCyan, ColorReset)
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "\n%s%s%s\n", ColorBold, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-14s%s %s\n", ColorCyan, name, ColorReset, desc)
}
