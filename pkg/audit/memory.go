package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

var (
	// ErrChainBroken marks a log whose hash chain no longer verifies.
	ErrChainBroken = errors.New("audit: hash chain is broken")
	// ErrNoEntries is returned by exports matching nothing.
	ErrNoEntries = errors.New("audit: no entries match filter")
)

const chainGenesis = "genesis"

// MemoryLog is an in-memory append-only sink with hash chaining. Each
// entry binds the previous entry's hash, so any mutation or deletion
// breaks verification from that point on.
type MemoryLog struct {
	mu        sync.RWMutex
	entries   []Entry
	byID      map[string]int
	sequence  uint64
	chainHead string
	handlers  []func(Entry)
}

// NewMemoryLog returns an empty chained log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		byID:      make(map[string]int),
		chainHead: chainGenesis,
	}
}

// Append implements Sink. The entry's sequence and chain hashes are
// assigned here under the write lock.
func (l *MemoryLog) Append(ctx context.Context, e Entry) error {
	content, err := contentHash(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	e.Sequence = l.sequence
	e.ContentHash = content
	e.PreviousHash = l.chainHead
	chained, err := entryHash(e)
	if err != nil {
		l.sequence--
		return err
	}
	e.EntryHash = chained
	l.chainHead = chained

	l.entries = append(l.entries, e)
	l.byID[e.ID] = len(l.entries) - 1

	for _, h := range l.handlers {
		h(e)
	}
	return nil
}

// Get returns the entry with the given ID.
func (l *MemoryLog) Get(id string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byID[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[idx], true
}

// ChainHead returns the hash of the latest entry, or "genesis" for an
// empty log.
func (l *MemoryLog) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Size returns the number of entries.
func (l *MemoryLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// AddHandler registers a callback invoked for each appended entry while
// the append lock is held. Handlers must be fast and must not call back
// into the log.
func (l *MemoryLog) AddHandler(h func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Filter selects entries for queries and exports. Zero fields match
// everything.
type Filter struct {
	Kind     Kind
	Severity Severity
	Subject  string
	Actor    string
	Since    *time.Time
	Until    *time.Time
	StartSeq uint64
	EndSeq   uint64
	Limit    int
}

func (f Filter) matches(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter in append order.
func (l *MemoryLog) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if f.matches(e) {
			out = append(out, e)
			if f.Limit > 0 && len(out) >= f.Limit {
				break
			}
		}
	}
	return out
}

// VerifyChain recomputes every hash in the log and confirms each entry
// binds its predecessor.
func (l *MemoryLog) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expectedPrev := chainGenesis
	for i, e := range l.entries {
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

// contentHash digests the caller-supplied event fields.
func contentHash(e Entry) (string, error) {
	hashable := struct {
		Kind     Kind              `json:"kind"`
		Severity Severity          `json:"severity"`
		Actor    string            `json:"actor"`
		Action   string            `json:"action"`
		Subject  string            `json:"subject"`
		Decision string            `json:"decision,omitempty"`
		Context  map[string]string `json:"context,omitempty"`
	}{e.Kind, e.Severity, e.Actor, e.Action, e.Subject, e.Decision, e.Context}

	sum, err := canonical.CanonicalHash(hashable)
	if err != nil {
		return "", fmt.Errorf("audit: content hash: %w", err)
	}
	return "sha256:" + sum, nil
}

// entryHash digests the chain position: sequence, timestamp, content
// and the previous entry's hash.
func entryHash(e Entry) (string, error) {
	hashable := struct {
		ID           string    `json:"id"`
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		ContentHash  string    `json:"content_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{e.ID, e.Sequence, e.Timestamp, e.ContentHash, e.PreviousHash}

	sum, err := canonical.CanonicalHash(hashable)
	if err != nil {
		return "", fmt.Errorf("audit: entry hash: %w", err)
	}
	return "sha256:" + sum, nil
}
