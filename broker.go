package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/parley-run/parley/audit"
	"github.com/parley-run/parley/authority"
	"github.com/parley-run/parley/conversation"
	"github.com/parley-run/parley/envelope"
	"github.com/parley-run/parley/mailbox"
	"github.com/parley-run/parley/pkg/slogx"
	"github.com/parley-run/parley/pkg/uuidx"
	"github.com/parley-run/parley/store"
)

// DefaultMailboxCapacity is used when RegisterAgent is called with a
// non-positive capacity.
const DefaultMailboxCapacity = 64

// InviteSubtype is the payload subtype of the AgentMessage enqueued to
// every participant (except the initiator) when a conversation starts.
const InviteSubtype = "conversation_invite"

// Broker routes typed envelopes between registered agents. It owns every
// mailbox and the conversation registry exclusively; agents hold only ids
// and interact through the broker's operations.
//
// All operations are safe for concurrent use. There is no broker-wide
// lock: the agent and conversation tables are concurrent maps, and each
// mailbox and conversation guards only its own state, so one slow or full
// mailbox never stalls the rest of the system.
type Broker struct {
	defaultCapacity int
	validator       authority.Validator
	sink            audit.Sink
	store           store.Store
	conversations   *conversation.Registry
	log             *slog.Logger
	now             func() time.Time

	mailboxes *haxmap.Map[string, *mailbox.Mailbox]
	requests  *haxmap.Map[string, string]
	admission *haxmap.Map[string, *senderClock]
	closed    atomic.Bool
}

// WithDefaultCapacity sets the mailbox capacity used when RegisterAgent
// receives a non-positive one.
var WithDefaultCapacity = opts.ForName[Broker, int]("defaultCapacity")

// WithValidator installs the authority validation gate. The default
// allows everything.
func WithValidator(v authority.Validator) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		if v == nil {
			return errors.New("validator is required")
		}
		b.validator = v
		return nil
	})
}

// WithAuditSink installs the audit trail recipient. The default discards
// records.
func WithAuditSink(s audit.Sink) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		if s == nil {
			return errors.New("audit sink is required")
		}
		b.sink = s
		return nil
	})
}

// WithStore installs the persistence collaborator. A stored snapshot, if
// any, is rehydrated during New: agents re-register, undelivered envelopes
// and counters return to their mailboxes, and conversations resume under
// their original ids.
func WithStore(s store.Store) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.store = s
		return nil
	})
}

// WithConversationRegistry replaces the conversation registry, for
// configuring oversight kinds or a close hook.
func WithConversationRegistry(r *conversation.Registry) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.conversations = r
		return nil
	})
}

// WithLogger sets the logger for the broker's own diagnostics (audit sink
// failures, dropped invites). Defaults to slog.Default.
func WithLogger(log *slog.Logger) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.log = log
		return nil
	})
}

// WithClock overrides the broker's time source for admission stamps and
// audit timestamps.
func WithClock(now func() time.Time) opts.Option[Broker] {
	return opts.Type[Broker](func(b *Broker) error {
		b.now = now
		return nil
	})
}

// New creates a broker. Without options it validates nothing, discards
// audit records, and starts empty.
func New(options ...opts.Option[Broker]) (*Broker, error) {
	b := &Broker{
		defaultCapacity: DefaultMailboxCapacity,
		validator:       authority.AllowAll(),
		sink:            audit.Discard(),
		log:             slog.Default(),
		now:             time.Now,
		mailboxes:       haxmap.New[string, *mailbox.Mailbox](),
		requests:        haxmap.New[string, string](),
		admission:       haxmap.New[string, *senderClock](),
	}
	if err := opts.Apply(b, options); err != nil {
		return nil, err
	}
	if b.defaultCapacity <= 0 {
		return nil, fmt.Errorf("default mailbox capacity must be positive, got %d", b.defaultCapacity)
	}
	if b.conversations == nil {
		registry, err := conversation.NewRegistry(conversation.WithClock(b.now))
		if err != nil {
			return nil, err
		}
		b.conversations = registry
	}
	if b.store != nil {
		if err := b.rehydrate(context.Background()); err != nil {
			return nil, fmt.Errorf("rehydrate broker state: %w", err)
		}
	}
	return b, nil
}

func (b *Broker) rehydrate(ctx context.Context) error {
	snap, ok, err := b.store.Load(ctx)
	if err != nil || !ok {
		return err
	}
	for _, state := range snap.Mailboxes {
		mb, err := mailbox.New(state.Owner, state.Capacity, mailbox.WithClock(b.now))
		if err != nil {
			return err
		}
		if err := mb.Restore(state.Pending, state.Stats); err != nil {
			return err
		}
		b.mailboxes.Set(state.Owner, mb)
	}
	b.conversations.Restore(snap.Conversations)
	for id, target := range snap.Requests {
		b.requests.Set(id, target)
	}
	return nil
}

// RegisterAgent creates a mailbox for the agent. A non-positive capacity
// uses the broker default. Registering the same agent again with the same
// capacity is a no-op; a different capacity fails with ErrAlreadyRegistered
// since capacity is fixed for a mailbox's lifetime.
func (b *Broker) RegisterAgent(id string, capacity int) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	if id == "" {
		return errors.New("agent id is required")
	}
	if capacity <= 0 {
		capacity = b.defaultCapacity
	}
	mb, err := mailbox.New(id, capacity, mailbox.WithClock(b.now))
	if err != nil {
		return err
	}
	existing, loaded := b.mailboxes.GetOrCompute(id, func() *mailbox.Mailbox { return mb })
	if loaded && existing.Capacity() != capacity {
		return fmt.Errorf("%w: %s already has a mailbox with capacity %d", ErrAlreadyRegistered, id, existing.Capacity())
	}
	return nil
}

// Agents returns the registered agent ids in sorted order.
func (b *Broker) Agents() []string {
	var ids []string
	b.mailboxes.ForEach(func(id string, _ *mailbox.Mailbox) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Send validates, gates, resolves, and enqueues one envelope.
//
// Structural failures (malformed envelope, unknown target agent, unknown
// originating request, shut-down broker) return an error and touch
// nothing. An authority denial returns a DeliveryResult carrying the
// violation list with a nil error; denials are audited, never silently
// dropped. Per-target capacity rejections are reported in the result's
// PerTarget map; one full mailbox never aborts a broadcast's other
// targets. The broker never retries on its own.
func (b *Broker) Send(ctx context.Context, env *envelope.Envelope) (DeliveryResult, error) {
	if b.closed.Load() {
		return DeliveryResult{}, ErrBrokerClosed
	}
	if env == nil {
		return DeliveryResult{}, fmt.Errorf("%w: envelope is nil", envelope.ErrMalformed)
	}
	if err := env.Validate(); err != nil {
		return DeliveryResult{}, err
	}

	b.admit(env)

	if env.RequiresAuthorityCheck {
		allowed, violations := b.validator.Validate(ctx, env)
		if !allowed {
			b.emit(ctx, env, nil, nil, true, violations)
			return DeliveryResult{
				EnvelopeID: env.ID,
				Reason:     ReasonAuthorityDenied,
				Violations: violations,
			}, nil
		}
	}

	targets, err := b.resolveTargets(env)
	if err != nil {
		return DeliveryResult{}, err
	}

	outcome := make(map[string]bool, len(targets))
	successful := 0
	for _, target := range targets {
		mb, ok := b.mailboxes.Get(target)
		if !ok {
			outcome[target] = false
			continue
		}
		if err := mb.Enqueue(env); err != nil {
			outcome[target] = false
			b.log.Debug("enqueue rejected",
				slogx.Envelope(env.ID), slogx.Agent(target), slogx.Error(err))
			continue
		}
		outcome[target] = true
		successful++
	}

	if env.Kind == envelope.TaskRequest && successful > 0 {
		b.requests.Set(env.ID, env.Target)
	}
	if env.ConversationID != "" && successful > 0 {
		if err := b.conversations.RecordActivity(env.ConversationID); err != nil {
			b.log.Warn("conversation activity not recorded",
				slogx.Conversation(env.ConversationID), slogx.Error(err))
		}
	}

	b.emit(ctx, env, targets, outcome, false, nil)

	result := DeliveryResult{
		EnvelopeID:      env.ID,
		PerTarget:       outcome,
		SuccessfulCount: successful,
		TotalTargets:    len(targets),
		Success:         len(targets) > 0 && successful == len(targets),
	}
	switch {
	case result.Success:
	case len(targets) == 0:
		result.Reason = ReasonNoTargets
	case successful == 0:
		result.Reason = ReasonCapacityExceeded
	default:
		result.Reason = ReasonPartialDelivery
	}
	return result, nil
}

// Receive pops the next envelope from the agent's mailbox: highest
// priority first, FIFO within one priority, expired envelopes discarded.
// It never blocks; a nil envelope with a nil error means the mailbox holds
// nothing deliverable right now.
func (b *Broker) Receive(agentID string) (*envelope.Envelope, error) {
	mb, ok := b.mailboxes.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	env, ok := mb.Dequeue()
	if !ok {
		return nil, nil
	}
	return env, nil
}

// StartConversation creates a conversation session and best-effort
// enqueues a conversation_invite AgentMessage to every participant other
// than the initiator. A full or unregistered participant mailbox drops
// only that one invite; the conversation itself is still created.
func (b *Broker) StartConversation(kind string, participants []string, initiator string) (string, error) {
	if b.closed.Load() {
		return "", ErrBrokerClosed
	}
	info, err := b.conversations.Create(kind, participants, initiator)
	if err != nil {
		return "", err
	}

	for _, participant := range info.Participants {
		if participant == initiator {
			continue
		}
		mb, ok := b.mailboxes.Get(participant)
		if !ok {
			b.log.Debug("conversation invite skipped for unregistered agent",
				slogx.Conversation(info.ID), slogx.Agent(participant))
			continue
		}
		invite := envelope.NewAgentMessage(initiator, participant,
			envelope.WithConversation(info.ID),
			envelope.WithPayload(map[string]any{
				"subtype":           InviteSubtype,
				"conversation_kind": kind,
			}))
		b.admit(invite)
		if err := mb.Enqueue(invite); err != nil {
			b.log.Debug("conversation invite dropped",
				slogx.Conversation(info.ID), slogx.Agent(participant), slogx.Error(err))
		}
	}
	return info.ID, nil
}

// AddParticipant joins an agent to an active conversation. Adding an
// existing participant is a no-op.
func (b *Broker) AddParticipant(conversationID, agent string) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	return b.conversations.AddParticipant(conversationID, agent)
}

// CloseConversation transitions the conversation to Closed. It stays
// queryable afterwards; only activity recording is refused.
func (b *Broker) CloseConversation(conversationID string) error {
	return b.conversations.Close(conversationID)
}

// ConversationStatus returns a snapshot of the conversation's state.
func (b *Broker) ConversationStatus(conversationID string) (conversation.Info, error) {
	return b.conversations.Get(conversationID)
}

// QueueStatus returns the agent's mailbox size, capacity, and counters.
func (b *Broker) QueueStatus(agentID string) (mailbox.Stats, error) {
	mb, ok := b.mailboxes.Get(agentID)
	if !ok {
		return mailbox.Stats{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return mb.Stats(), nil
}

// Shutdown stops admitting sends and registrations. Mailbox contents stay
// intact, and Receive and the status queries keep working, so the caller
// can drain or persist before discarding the broker.
func (b *Broker) Shutdown() {
	b.closed.Store(true)
}

// Snapshot exports the broker's full state for the persistence
// collaborator: every mailbox's registration, undelivered envelopes, and
// counters, every conversation, and the routed request ids.
func (b *Broker) Snapshot() store.Snapshot {
	var snap store.Snapshot
	b.mailboxes.ForEach(func(id string, mb *mailbox.Mailbox) bool {
		snap.Mailboxes = append(snap.Mailboxes, store.MailboxState{
			Owner:    id,
			Capacity: mb.Capacity(),
			Pending:  mb.Pending(),
			Stats:    mb.Stats(),
		})
		return true
	})
	slices.SortFunc(snap.Mailboxes, func(a, b store.MailboxState) int {
		return strings.Compare(a.Owner, b.Owner)
	})
	snap.Conversations = b.conversations.Snapshot()
	snap.Requests = make(map[string]string)
	b.requests.ForEach(func(id, target string) bool {
		snap.Requests[id] = target
		return true
	})
	return snap
}

// Persist saves a snapshot to the configured store.
func (b *Broker) Persist(ctx context.Context) error {
	if b.store == nil {
		return errors.New("no store configured")
	}
	return b.store.Save(ctx, b.Snapshot())
}

// admit stamps identity and the admission timestamp. Timestamps are
// strictly monotonic per sender even when the wall clock stalls or steps
// backwards.
func (b *Broker) admit(env *envelope.Envelope) {
	if env.ID == "" {
		env.ID = uuidx.NewString()
	}
	clock, _ := b.admission.GetOrCompute(env.Sender, func() *senderClock { return &senderClock{} })
	env.CreatedAt = strfmt.DateTime(clock.stamp(b.now()))
}

func (b *Broker) resolveTargets(env *envelope.Envelope) ([]string, error) {
	switch env.Kind {
	case envelope.TaskRequest, envelope.AgentMessage:
		if _, ok := b.mailboxes.Get(env.Target); !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, env.Target)
		}
		return []string{env.Target}, nil
	case envelope.TaskResponse:
		if _, ok := b.requests.Get(env.RequestID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, env.RequestID)
		}
		if _, ok := b.mailboxes.Get(env.Target); !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, env.Target)
		}
		return []string{env.Target}, nil
	case envelope.Broadcast:
		if !env.TargetSet.All {
			// Duplicate entries in an explicit list collapse to one
			// delivery, keeping the counts consistent with PerTarget.
			seen := make(map[string]struct{}, len(env.TargetSet.Agents))
			targets := make([]string, 0, len(env.TargetSet.Agents))
			for _, target := range env.TargetSet.Agents {
				if _, ok := seen[target]; ok {
					continue
				}
				seen[target] = struct{}{}
				targets = append(targets, target)
			}
			return targets, nil
		}
		var targets []string
		b.mailboxes.ForEach(func(id string, _ *mailbox.Mailbox) bool {
			if id != env.Sender {
				targets = append(targets, id)
			}
			return true
		})
		slices.Sort(targets)
		return targets, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", envelope.ErrMalformed, env.Kind)
	}
}

// emit writes one audit record. The sink is fire-and-forget: its failure
// is logged and the delivery outcome stands.
func (b *Broker) emit(ctx context.Context, env *envelope.Envelope, targets []string, outcome map[string]bool, denied bool, violations []string) {
	rec := audit.Record{
		EnvelopeID: env.ID,
		Sender:     env.Sender,
		Kind:       env.Kind,
		Targets:    targets,
		Outcome:    outcome,
		Denied:     denied,
		Violations: violations,
		Timestamp:  strfmt.DateTime(b.now()),
	}
	if err := b.sink.Record(ctx, rec); err != nil {
		b.log.Error("audit sink failed", slogx.Envelope(env.ID), slogx.Error(err))
	}
}

type senderClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *senderClock) stamp(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
