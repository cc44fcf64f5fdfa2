// Package mailbox implements the bounded, priority-aware inbound queue
// owned by exactly one agent. A mailbox is the unit of concurrency
// isolation in the broker: each guards only its own state, so a slow or
// full mailbox never stalls its siblings.
//
// Enqueue fails fast when the mailbox is at capacity; it never blocks.
// Dequeue pops the highest priority envelope, FIFO within one priority,
// and lazily discards envelopes whose expiration passed while queued.
package mailbox

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fogfish/opts"
	"github.com/parley-run/parley/envelope"
)

// ErrCapacityExceeded is returned by Enqueue when the mailbox is full. The
// attempt is rejected, never queued or blocked on.
var ErrCapacityExceeded = errors.New("mailbox capacity exceeded")

// Stats is a point-in-time snapshot of a mailbox's delivery accounting.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Rejected  uint64 `json:"rejected"`
	Expired   uint64 `json:"expired"`
}

// Mailbox is a bounded priority queue of envelopes. All methods are safe
// for concurrent use.
type Mailbox struct {
	owner    string
	capacity int
	now      func() time.Time

	mu    sync.Mutex
	items queue
	seq   uint64

	enqueued  uint64
	delivered uint64
	rejected  uint64
	expired   uint64
}

// WithClock overrides the time source used for expiry checks. Tests use
// this to make expiration deterministic.
func WithClock(now func() time.Time) opts.Option[Mailbox] {
	return opts.Type[Mailbox](func(m *Mailbox) error {
		m.now = now
		return nil
	})
}

// New creates a mailbox for the given owner. Capacity is fixed for the
// mailbox's lifetime and must be positive.
func New(owner string, capacity int, options ...opts.Option[Mailbox]) (*Mailbox, error) {
	if owner == "" {
		return nil, errors.New("mailbox owner is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("mailbox capacity must be positive, got %d", capacity)
	}
	m := &Mailbox{
		owner:    owner,
		capacity: capacity,
		now:      time.Now,
		items:    make(queue, 0, capacity),
	}
	if err := opts.Apply(m, options); err != nil {
		return nil, err
	}
	return m, nil
}

// Owner returns the id of the agent this mailbox belongs to.
func (m *Mailbox) Owner() string { return m.owner }

// Capacity returns the fixed maximum number of queued envelopes.
func (m *Mailbox) Capacity() int { return m.capacity }

// Enqueue admits an envelope, or rejects it with ErrCapacityExceeded when
// the mailbox is full. A rejection increments the rejected counter.
func (m *Mailbox) Enqueue(env *envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) >= m.capacity {
		m.rejected++
		return fmt.Errorf("%w: mailbox %s is at capacity %d", ErrCapacityExceeded, m.owner, m.capacity)
	}
	m.seq++
	heap.Push(&m.items, &entry{env: env, seq: m.seq})
	m.enqueued++
	return nil
}

// Dequeue pops the highest priority live envelope. Envelopes whose
// expiration passed while queued are discarded and counted as expired,
// never delivered. The second return value is false when the mailbox
// holds no live envelope.
func (m *Mailbox) Dequeue() (*envelope.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for len(m.items) > 0 {
		top := heap.Pop(&m.items).(*entry)
		if top.env.Expired(now) {
			m.expired++
			continue
		}
		m.delivered++
		return top.env, true
	}
	return nil, false
}

// Peek returns the envelope Dequeue would consider next without removing
// it. It does not skip expired envelopes, since skipping mutates state.
func (m *Mailbox) Peek() (*envelope.Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return nil, false
	}
	return m.items[0].env, true
}

// Size returns the number of queued envelopes, expired ones included.
func (m *Mailbox) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// IsFull reports whether an Enqueue would currently be rejected.
func (m *Mailbox) IsFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) >= m.capacity
}

// Stats returns a snapshot of the mailbox counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Size:      len(m.items),
		Capacity:  m.capacity,
		Enqueued:  m.enqueued,
		Delivered: m.delivered,
		Rejected:  m.rejected,
		Expired:   m.expired,
	}
}

// Pending returns the queued envelopes in delivery order without consuming
// them. Used to snapshot mailbox contents for persistence.
func (m *Mailbox) Pending() []*envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	scratch := make(queue, len(m.items))
	copy(scratch, m.items)
	heap.Init(&scratch)

	out := make([]*envelope.Envelope, 0, len(scratch))
	for len(scratch) > 0 {
		out = append(out, heap.Pop(&scratch).(*entry).env)
	}
	return out
}

// Restore replaces the mailbox contents and counters with previously
// persisted state. Pending envelopes beyond capacity are an error; the
// capacity invariant holds across restarts too.
func (m *Mailbox) Restore(pending []*envelope.Envelope, stats Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(pending) > m.capacity {
		return fmt.Errorf("%w: %d pending envelopes exceed capacity %d", ErrCapacityExceeded, len(pending), m.capacity)
	}
	m.items = make(queue, 0, m.capacity)
	m.seq = 0
	for _, env := range pending {
		m.seq++
		heap.Push(&m.items, &entry{env: env, seq: m.seq})
	}
	m.enqueued = stats.Enqueued
	m.delivered = stats.Delivered
	m.rejected = stats.Rejected
	m.expired = stats.Expired
	return nil
}

type entry struct {
	env *envelope.Envelope
	seq uint64
}

// queue orders entries by descending priority, then ascending admission
// sequence for FIFO within one priority level.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].env.Priority != q[j].env.Priority {
		return q[i].env.Priority > q[j].env.Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
