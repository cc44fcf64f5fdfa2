// Package store defines the optional persistence collaborator used to
// carry broker state across restarts. The in-memory broker stays
// authoritative at runtime; a Store only ever sees explicit snapshots
// taken after shutdown and hands them back at construction.
package store

import (
	"context"

	"github.com/parley-run/parley/conversation"
	"github.com/parley-run/parley/envelope"
	"github.com/parley-run/parley/mailbox"
)

// MailboxState is the persisted form of one agent's mailbox: its
// registration, undelivered envelopes in delivery order, and counters.
type MailboxState struct {
	Owner    string               `json:"owner"`
	Capacity int                  `json:"capacity"`
	Pending  []*envelope.Envelope `json:"pending,omitempty"`
	Stats    mailbox.Stats        `json:"stats"`
}

// Snapshot is the full persisted broker state. Requests maps routed task
// request ids to their target agent, so task responses keep resolving
// after a restart.
type Snapshot struct {
	Mailboxes     []MailboxState      `json:"mailboxes,omitempty"`
	Conversations []conversation.Info `json:"conversations,omitempty"`
	Requests      map[string]string   `json:"requests,omitempty"`
}

// Store persists and recovers broker snapshots.
type Store interface {
	// Save overwrites the stored snapshot.
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the stored snapshot. The second return value is false
	// when nothing has been saved yet.
	Load(ctx context.Context) (Snapshot, bool, error)
}
