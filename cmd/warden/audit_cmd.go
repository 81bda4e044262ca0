package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/audit"
)

// runAuditCmd dispatches audit log subcommands:
//
//	warden audit verify --db warden-audit.db
//	warden audit tail --db warden-audit.db --n 20
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "audit: expected a subcommand: verify, tail")
		return 2
	}
	switch args[0] {
	case "verify":
		return runAuditVerifyCmd(args[1:], stdout, stderr)
	case "tail":
		return runAuditTailCmd(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "audit: unknown subcommand %q\n", args[0])
		return 2
	}
}

// runAuditVerifyCmd re-walks the persisted hash chain and reports
// whether any entry was inserted, altered or removed after the fact.
//
// Exit codes:
//
//	0 = chain intact
//	1 = chain broken
//	2 = usage or runtime error
func runAuditVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dbPath := cmd.String("db", "warden-audit.db", "SQLite audit log")
	jsonOut := cmd.Bool("json", false, "print the result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	log, db, code := openAuditLog(*dbPath, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	entries, err := log.Query(ctx, audit.Filter{})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit verify: %v\n", err)
		return 2
	}
	if err := log.VerifyChain(ctx); err != nil {
		if !errors.Is(err, audit.ErrChainBroken) {
			_, _ = fmt.Fprintf(stderr, "audit verify: %v\n", err)
			return 2
		}
		if *jsonOut {
			printJSON(stdout, map[string]any{"ok": false, "db": *dbPath, "entries": len(entries), "error": err.Error()})
		} else {
			_, _ = fmt.Fprintf(stdout, "%s✗%s audit chain is broken\n", ColorRed, ColorReset)
			_, _ = fmt.Fprintf(stdout, "  %v\n", err)
		}
		return 1
	}

	if *jsonOut {
		printJSON(stdout, map[string]any{"ok": true, "db": *dbPath, "entries": len(entries)})
	} else {
		_, _ = fmt.Fprintf(stdout, "%s✓%s audit chain intact (%d entries)\n", ColorGreen, ColorReset, len(entries))
	}
	return 0
}

// runAuditTailCmd prints the most recent entries in chain order.
//
// Exit codes:
//
//	0 = entries printed
//	2 = usage or runtime error
func runAuditTailCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit tail", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dbPath := cmd.String("db", "warden-audit.db", "SQLite audit log")
	n := cmd.Int("n", 10, "number of entries to show")
	jsonOut := cmd.Bool("json", false, "print the entries as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	log, db, code := openAuditLog(*dbPath, stderr)
	if code != 0 {
		return code
	}
	defer func() { _ = db.Close() }()

	entries, err := log.Query(context.Background(), audit.Filter{})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit tail: %v\n", err)
		return 2
	}
	if *n > 0 && len(entries) > *n {
		entries = entries[len(entries)-*n:]
	}

	if *jsonOut {
		printJSON(stdout, entries)
		return 0
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(stdout, "audit log is empty")
		return 0
	}
	for _, e := range entries {
		color := ColorGray
		switch e.Severity {
		case audit.SeverityWarning:
			color = ColorYellow
		case audit.SeverityCritical:
			color = ColorRed
		}
		_, _ = fmt.Fprintf(stdout, "%s#%-4d %s %s%-8s%s %-16s %-12s %s",
			ColorGray, e.Sequence, e.Timestamp.UTC().Format(time.RFC3339),
			color, e.Severity, ColorReset, e.Kind, e.Action, e.Subject)
		if e.Decision != "" {
			_, _ = fmt.Fprintf(stdout, " %s[%s]%s", ColorCyan, e.Decision, ColorReset)
		}
		_, _ = fmt.Fprintln(stdout)
	}
	return 0
}

// openAuditLog opens an existing SQLite audit log. A missing file is a
// usage error rather than an empty chain, so a typoed path can never
// report a clean verification.
func openAuditLog(path string, stderr io.Writer) (*audit.SQLiteLog, *sql.DB, int) {
	if _, err := os.Stat(path); err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: open %s: %v\n", path, err)
		return nil, nil, 2
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit: open %s: %v\n", path, err)
		return nil, nil, 2
	}
	log, err := audit.NewSQLiteLog(db)
	if err != nil {
		_ = db.Close()
		_, _ = fmt.Fprintf(stderr, "audit: %v\n", err)
		return nil, nil, 2
	}
	return log, db, 0
}
