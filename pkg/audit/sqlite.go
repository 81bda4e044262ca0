package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog is a durable chained sink backed by SQLite. The database
// handle is injected so callers control the file location and pooling;
// appends are serialized to keep the chain linear.
type SQLiteLog struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteLog prepares the schema on the given handle.
func NewSQLiteLog(db *sql.DB) (*SQLiteLog, error) {
	l := &SQLiteLog{db: db}
	if err := l.migrate(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		sequence INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		decision TEXT,
		context TEXT,
		content_hash TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_entries(subject);
	CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_entries(kind);`
	_, err := l.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Append implements Sink. The chain continues from the last persisted
// row, so reopening the database keeps one unbroken chain.
func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	content, err := contentHash(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lastSeq  uint64
		lastHash string
	)
	row := tx.QueryRowContext(ctx, `SELECT sequence, entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`)
	switch err := row.Scan(&lastSeq, &lastHash); err {
	case nil:
	case sql.ErrNoRows:
		lastHash = chainGenesis
	default:
		return fmt.Errorf("audit: read chain head: %w", err)
	}

	e.Sequence = lastSeq + 1
	e.ContentHash = content
	e.PreviousHash = lastHash
	chained, err := entryHash(e)
	if err != nil {
		return err
	}
	e.EntryHash = chained

	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("audit: marshal context: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_entries (
		sequence, id, timestamp, kind, severity, actor, action, subject,
		decision, context, content_hash, previous_hash, entry_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Kind), string(e.Severity), e.Actor, e.Action, e.Subject,
		e.Decision, string(contextJSON), e.ContentHash, e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit entry: %w", err)
	}
	return nil
}

// Query returns persisted entries matching the filter in chain order.
func (l *SQLiteLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT sequence, id, timestamp, kind, severity,
		actor, action, subject, decision, context, content_hash, previous_hash, entry_hash
		FROM audit_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if f.matches(e) {
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return out, nil
}

// VerifyChain re-walks every persisted row and recomputes the chain.
func (l *SQLiteLog) VerifyChain(ctx context.Context) error {
	entries, err := l.Query(ctx, Filter{})
	if err != nil {
		return err
	}

	expectedPrev := chainGenesis
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d previous_hash %s, expected %s", ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		content, err := contentHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrChainBroken, i, err)
		}
		if content != e.ContentHash {
			return fmt.Errorf("%w: entry %d content hash mismatch", ErrChainBroken, i)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e           Entry
		timestamp   string
		kind        string
		severity    string
		decision    sql.NullString
		contextJSON sql.NullString
	)
	err := rows.Scan(&e.Sequence, &e.ID, &timestamp, &kind, &severity,
		&e.Actor, &e.Action, &e.Subject, &decision, &contextJSON,
		&e.ContentHash, &e.PreviousHash, &e.EntryHash)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: scan entry: %w", err)
	}

	e.Kind = Kind(kind)
	e.Severity = Severity(severity)
	e.Decision = decision.String
	if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
		e.Timestamp = ts
	}
	if contextJSON.Valid && contextJSON.String != "" && contextJSON.String != "null" {
		if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
			return Entry{}, fmt.Errorf("audit: decode context: %w", err)
		}
	}
	return e, nil
}
