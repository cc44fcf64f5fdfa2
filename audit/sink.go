// Package audit defines the append-only compliance trail the broker
// writes. One record is emitted per routing decision: successful sends,
// partial broadcasts, and authority denials alike.
//
// Sinks are fire-and-forget from the broker's point of view: a failing
// sink is logged and ignored, never allowed to change a delivery outcome.
package audit

import (
	"context"
	"sync"

	"github.com/go-openapi/strfmt"

	"github.com/parley-run/parley/envelope"
)

// Record summarizes one routing decision.
type Record struct {
	EnvelopeID string          `json:"envelope_id"`
	Sender     string          `json:"sender"`
	Kind       envelope.Kind   `json:"kind"`
	Targets    []string        `json:"targets,omitempty"`
	Outcome    map[string]bool `json:"outcome,omitempty"`
	Denied     bool            `json:"denied,omitempty"`
	Violations []string        `json:"violations,omitempty"`
	Timestamp  strfmt.DateTime `json:"timestamp"`
}

// Sink receives audit records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Func adapts a plain function to the Sink interface.
type Func func(ctx context.Context, rec Record) error

func (f Func) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Discard returns a sink that drops every record. It is the broker's
// default when no sink is configured.
func Discard() Sink {
	return Func(func(context.Context, Record) error { return nil })
}

// Memory is an in-process sink retaining every record, mostly for tests
// and inspection.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
