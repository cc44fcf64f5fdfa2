// Package conversation tracks multi-party conversation sessions:
// membership, lifecycle, and activity accounting. The registry is owned by
// the broker; agents reference conversations only by id.
//
// Each conversation guards its own state with its own lock, so concurrent
// activity on unrelated conversations never contends. Closed conversations
// remain queryable until the storage collaborator purges them; the
// registry never deletes implicitly.
package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/parley-run/parley/pkg/uuidx"
)

var (
	// ErrNotFound is returned when the conversation id is unknown.
	ErrNotFound = errors.New("conversation not found")
	// ErrClosed is returned when recording activity on a closed conversation.
	ErrClosed = errors.New("conversation closed")
	// ErrInvalidParticipants is returned when the participant set is empty
	// or the initiator is not a member.
	ErrInvalidParticipants = errors.New("invalid participants")
)

// Status is the conversation lifecycle state.
type Status uint8

const (
	Active Status = iota
	Closed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = Active
	case "closed":
		*s = Closed
	default:
		return fmt.Errorf("unknown conversation status %q", string(text))
	}
	return nil
}

// Info is an immutable snapshot of one conversation's state.
type Info struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Initiator         string          `json:"initiator"`
	Participants      []string        `json:"participants"`
	Status            Status          `json:"status"`
	OversightRequired bool            `json:"oversight_required"`
	MessageCount      int             `json:"message_count"`
	LastActivity      strfmt.DateTime `json:"last_activity,omitempty"`
}

type conversation struct {
	id        string
	kind      string
	initiator string
	oversight bool

	mu           sync.Mutex
	participants *orderedmap.OrderedMap[string, struct{}]
	status       Status
	messageCount int
	lastActivity time.Time
}

func (c *conversation) info() Info {
	participants := make([]string, 0, c.participants.Len())
	for pair := c.participants.Oldest(); pair != nil; pair = pair.Next() {
		participants = append(participants, pair.Key)
	}
	return Info{
		ID:                c.id,
		Kind:              c.kind,
		Initiator:         c.initiator,
		Participants:      participants,
		Status:            c.status,
		OversightRequired: c.oversight,
		MessageCount:      c.messageCount,
		LastActivity:      strfmt.DateTime(c.lastActivity),
	}
}

// Registry is the broker-owned table of conversation sessions. Lookups are
// concurrent; creation is serialized per id by the underlying map.
type Registry struct {
	conversations *haxmap.Map[string, *conversation]
	oversight     map[string]bool
	now           func() time.Time
	onClose       func(Info)
}

// DefaultOversightKinds lists the conversation kinds that always require
// oversight. The mapping is fixed at registry construction, never
// decided per call.
var DefaultOversightKinds = []string{
	"collective_decision",
	"emergency_session",
	"policy_review",
}

// WithOversightKinds replaces the set of conversation kinds that require
// oversight.
func WithOversightKinds(kinds ...string) opts.Option[Registry] {
	return opts.Type[Registry](func(r *Registry) error {
		r.oversight = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			r.oversight[k] = true
		}
		return nil
	})
}

// WithClock overrides the activity time source.
func WithClock(now func() time.Time) opts.Option[Registry] {
	return opts.Type[Registry](func(r *Registry) error {
		r.now = now
		return nil
	})
}

// WithCloseHook registers a callback invoked once per conversation when it
// transitions to Closed. Timeout policy lives outside the registry; the
// hook is how that policy observes closure.
func WithCloseHook(fn func(Info)) opts.Option[Registry] {
	return opts.Type[Registry](func(r *Registry) error {
		r.onClose = fn
		return nil
	})
}

// NewRegistry creates an empty registry with the default oversight kinds.
func NewRegistry(options ...opts.Option[Registry]) (*Registry, error) {
	r := &Registry{
		conversations: haxmap.New[string, *conversation](),
		now:           time.Now,
	}
	if err := opts.Apply(r, append([]opts.Option[Registry]{WithOversightKinds(DefaultOversightKinds...)}, options...)); err != nil {
		return nil, err
	}
	return r, nil
}

// Create starts a new conversation and returns its snapshot. Duplicate
// participants collapse while preserving first-seen order. It fails with
// ErrInvalidParticipants when the set is empty or the initiator is not a
// member.
func (r *Registry) Create(kind string, participants []string, initiator string) (Info, error) {
	if len(participants) == 0 {
		return Info{}, fmt.Errorf("%w: participant set is empty", ErrInvalidParticipants)
	}

	members := orderedmap.New[string, struct{}]()
	for _, p := range participants {
		if p == "" {
			return Info{}, fmt.Errorf("%w: participant id is empty", ErrInvalidParticipants)
		}
		members.Set(p, struct{}{})
	}
	if _, ok := members.Get(initiator); !ok {
		return Info{}, fmt.Errorf("%w: initiator %s is not a participant", ErrInvalidParticipants, initiator)
	}

	conv := &conversation{
		id:           uuidx.NewString(),
		kind:         kind,
		initiator:    initiator,
		oversight:    r.oversight[kind],
		participants: members,
		status:       Active,
	}
	r.conversations.Set(conv.id, conv)
	return conv.info(), nil
}

// AddParticipant joins an agent to an active conversation. Adding an
// existing participant is a no-op.
func (r *Registry) AddParticipant(id, agent string) error {
	conv, ok := r.conversations.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if agent == "" {
		return fmt.Errorf("%w: participant id is empty", ErrInvalidParticipants)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.status == Closed {
		return fmt.Errorf("%w: %s", ErrClosed, id)
	}
	conv.participants.Set(agent, struct{}{})
	return nil
}

// RecordActivity increments the message counter and bumps the activity
// timestamp. Both updates happen under the conversation's lock, so the
// count is exact under concurrent callers.
func (r *Registry) RecordActivity(id string) error {
	conv, ok := r.conversations.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()
	if conv.status == Closed {
		return fmt.Errorf("%w: %s", ErrClosed, id)
	}
	conv.messageCount++
	conv.lastActivity = r.now()
	return nil
}

// Close transitions the conversation to Closed. Closing an already closed
// conversation is a no-op; the close hook fires at most once.
func (r *Registry) Close(id string) error {
	conv, ok := r.conversations.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	conv.mu.Lock()
	if conv.status == Closed {
		conv.mu.Unlock()
		return nil
	}
	conv.status = Closed
	info := conv.info()
	conv.mu.Unlock()

	if r.onClose != nil {
		r.onClose(info)
	}
	return nil
}

// Get returns a snapshot of the conversation, closed or active.
func (r *Registry) Get(id string) (Info, error) {
	conv, ok := r.conversations.Get(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	conv.mu.Lock()
	defer conv.mu.Unlock()
	return conv.info(), nil
}

// Snapshot returns snapshots of every tracked conversation, for the
// persistence collaborator.
func (r *Registry) Snapshot() []Info {
	var infos []Info
	r.conversations.ForEach(func(_ string, conv *conversation) bool {
		conv.mu.Lock()
		infos = append(infos, conv.info())
		conv.mu.Unlock()
		return true
	})
	return infos
}

// Restore rehydrates previously persisted conversations, ids included.
func (r *Registry) Restore(infos []Info) {
	for _, info := range infos {
		members := orderedmap.New[string, struct{}]()
		for _, p := range info.Participants {
			members.Set(p, struct{}{})
		}
		r.conversations.Set(info.ID, &conversation{
			id:           info.ID,
			kind:         info.Kind,
			initiator:    info.Initiator,
			oversight:    info.OversightRequired,
			participants: members,
			status:       info.Status,
			messageCount: info.MessageCount,
			lastActivity: time.Time(info.LastActivity),
		})
	}
}
