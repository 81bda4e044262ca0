// Package audit records every trust decision and security violation in
// an append-only trail. Recording is decoupled from the decision path:
// a full queue or failing sink never blocks or fails the security
// decision that produced the event. Sink faults surface on a separate
// failure channel for operators.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind categorizes audit entries.
type Kind string

const (
	KindInstallDecision Kind = "install_decision"
	KindRuntimeCheck    Kind = "runtime_check"
	KindViolation       Kind = "violation"
	KindLifecycle       Kind = "lifecycle"
	KindApproval        Kind = "approval"
)

// Severity ranks entries for triage. Escalation attempts are recorded
// critical, anomalies warning, ordinary decisions info.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is what callers hand to the trail: who did what to which
// extension, with the decision outcome and contextual facts.
type Event struct {
	Kind     Kind
	Severity Severity
	Actor    string
	Action   string
	Subject  string
	Decision string
	Context  map[string]string
}

// Entry is the immutable stored form of an event. Sequence and the
// chain hashes are assigned by chained sinks; entries are never mutated
// or deleted once appended.
type Entry struct {
	ID           string            `json:"id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	Kind         Kind              `json:"kind"`
	Severity     Severity          `json:"severity"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	Subject      string            `json:"subject"`
	Decision     string            `json:"decision,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
	ContentHash  string            `json:"content_hash,omitempty"`
	PreviousHash string            `json:"previous_hash,omitempty"`
	EntryHash    string            `json:"entry_hash,omitempty"`
}

// Sink is the durable audit log contract. Implementations own their
// persistence and chaining; Append must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Trail is the non-blocking recorder in front of a sink. Record returns
// immediately; a background worker drains the queue into the sink.
type Trail struct {
	sink          Sink
	clock         func() time.Time
	appendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Entry

	failures chan error
	dropped  atomic.Uint64
	wg       sync.WaitGroup
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithQueueSize sets the record queue depth.
func WithQueueSize(n int) TrailOption {
	return func(t *Trail) {
		if n > 0 {
			t.queue = make(chan Entry, n)
		}
	}
}

// WithClock overrides the entry timestamp source.
func WithClock(clock func() time.Time) TrailOption {
	return func(t *Trail) { t.clock = clock }
}

// WithAppendTimeout bounds each sink append.
func WithAppendTimeout(d time.Duration) TrailOption {
	return func(t *Trail) {
		if d > 0 {
			t.appendTimeout = d
		}
	}
}

// NewTrail starts a trail over the given sink.
func NewTrail(sink Sink, opts ...TrailOption) *Trail {
	t := &Trail{
		sink:          sink,
		clock:         time.Now,
		appendTimeout: 5 * time.Second,
		queue:         make(chan Entry, 256),
		failures:      make(chan error, 16),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.drain()
	return t
}

// Record enqueues an event. It never blocks: when the queue is full or
// the trail is closed the event is counted as dropped and the loss is
// reported on the failure channel.
func (t *Trail) Record(ev Event) {
	entry := Entry{
		ID:        uuid.New().String(),
		Timestamp: t.clock().UTC(),
		Kind:      ev.Kind,
		Severity:  ev.Severity,
		Actor:     ev.Actor,
		Action:    ev.Action,
		Subject:   ev.Subject,
		Decision:  ev.Decision,
		Context:   ev.Context,
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		// The failure channel is closed once the trail is; only count.
		t.dropped.Add(1)
		return
	}
	select {
	case t.queue <- entry:
	default:
		t.drop(fmt.Errorf("audit: queue full, dropped %s event for %s", ev.Kind, ev.Subject))
	}
}

// Failures exposes sink and queue faults. The channel is buffered and
// never blocks recording; reading it is optional.
func (t *Trail) Failures() <-chan error { return t.failures }

// Dropped returns the count of events lost to a full queue, a closed
// trail or a saturated failure channel.
func (t *Trail) Dropped() uint64 { return t.dropped.Load() }

// Close stops intake, flushes queued entries to the sink and closes the
// failure channel.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.wg.Wait()
	close(t.failures)
}

func (t *Trail) drain() {
	defer t.wg.Done()
	for entry := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), t.appendTimeout)
		err := t.sink.Append(ctx, entry)
		cancel()
		if err != nil {
			t.fail(fmt.Errorf("audit: append %s entry for %s: %w", entry.Kind, entry.Subject, err))
		}
	}
}

func (t *Trail) drop(err error) {
	t.dropped.Add(1)
	t.fail(err)
}

func (t *Trail) fail(err error) {
	select {
	case t.failures <- err:
	default:
		t.dropped.Add(1)
	}
}
