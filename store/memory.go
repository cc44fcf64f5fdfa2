package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/parley-run/parley/envelope"
)

// InMemory is a volatile Store keeping the snapshot in process memory.
// Best suited for tests and ephemeral setups. Snapshots are cloned on both
// save and load so callers cannot mutate stored state.
type InMemory struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Save(_ context.Context, snap Snapshot) error {
	clone := cloneSnapshot(snap)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &clone
	return nil
}

func (s *InMemory) Load(_ context.Context) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return Snapshot{}, false, nil
	}
	return cloneSnapshot(*s.snap), true, nil
}

func cloneSnapshot(snap Snapshot) Snapshot {
	out := Snapshot{
		Conversations: slices.Clone(snap.Conversations),
		Requests:      maps.Clone(snap.Requests),
	}
	for i := range out.Conversations {
		out.Conversations[i].Participants = slices.Clone(out.Conversations[i].Participants)
	}
	for _, mb := range snap.Mailboxes {
		pending := make([]*envelope.Envelope, 0, len(mb.Pending))
		for _, env := range mb.Pending {
			pending = append(pending, env.Clone())
		}
		mb.Pending = pending
		out.Mailboxes = append(out.Mailboxes, mb)
	}
	return out
}
