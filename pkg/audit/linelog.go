package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LineLog writes one JSON line per entry, prefixed with "AUDIT: " for
// easy filtering in aggregated process logs. It carries no chain state;
// pair it with a chained sink when tamper evidence is required.
type LineLog struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineLog creates a line sink. A nil writer defaults to stdout.
func NewLineLog(w io.Writer) *LineLog {
	if w == nil {
		w = os.Stdout
	}
	return &LineLog{w: w}
}

// Append implements Sink.
func (l *LineLog) Append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append([]byte("AUDIT: "), append(line, '\n')...)); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// MultiSink fans an entry out to several sinks. All sinks receive the
// entry; the first error is returned after every sink has been tried.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, e Entry) error {
	var first error
	for _, sink := range m {
		if err := sink.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
