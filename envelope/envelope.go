package envelope

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"

	"github.com/parley-run/parley/pkg/jsonx"
)

// ErrMalformed is wrapped by every structural validation failure. Callers
// match it with errors.Is.
var ErrMalformed = errors.New("malformed envelope")

// TargetSet describes the recipients of a Broadcast: either an explicit
// list of agent ids or every registered agent (All). The sender is part of
// an All broadcast only when it also appears in an explicit list.
type TargetSet struct {
	All    bool     `json:"all,omitempty"`
	Agents []string `json:"agents,omitempty"`
}

// Envelope is one routed unit of communication between agents. The zero
// value is not usable; build envelopes through the kind constructors.
//
// ID and CreatedAt are assigned by the broker at admission. ExpiresAt is
// optional; the zero value means the envelope never expires.
type Envelope struct {
	ID                     string          `json:"id"`
	Kind                   Kind            `json:"kind"`
	Sender                 string          `json:"sender"`
	Target                 string          `json:"target,omitempty"`
	TargetSet              *TargetSet      `json:"target_set,omitempty"`
	Priority               Priority        `json:"priority"`
	Payload                map[string]any  `json:"payload,omitempty"`
	RequestID              string          `json:"request_id,omitempty"`
	RequiresAuthorityCheck bool            `json:"requires_authority_check,omitempty"`
	ConversationID         string          `json:"conversation_id,omitempty"`
	CreatedAt              strfmt.DateTime `json:"created_at,omitempty"`
	ExpiresAt              strfmt.DateTime `json:"expires_at,omitempty"`
}

var (
	// WithPriority sets the envelope priority (default Routine).
	WithPriority = opts.ForName[Envelope, Priority]("Priority")
	// WithConversation associates the envelope with a conversation session.
	WithConversation = opts.ForName[Envelope, string]("ConversationID")
	// WithPayload attaches the opaque payload object.
	WithPayload = opts.ForName[Envelope, map[string]any]("Payload")
	// WithExpiry sets an absolute expiration timestamp.
	WithExpiry = opts.ForName[Envelope, strfmt.DateTime]("ExpiresAt")
)

// WithPayloadOf converts any JSON-marshalable value into the payload
// object. A value that does not marshal fails option application, which
// the kind constructors turn into a panic; payloads are built at send
// sites where that is a programming error, not input.
func WithPayloadOf(v any) opts.Option[Envelope] {
	return opts.Type[Envelope](func(e *Envelope) error {
		payload, err := jsonx.ToDynamicJSON(v)
		if err != nil {
			return err
		}
		e.Payload = payload
		return nil
	})
}

// WithAuthorityCheck marks the envelope as requiring validator approval
// before it may be enqueued anywhere.
func WithAuthorityCheck() opts.Option[Envelope] {
	return opts.Type[Envelope](func(e *Envelope) error {
		e.RequiresAuthorityCheck = true
		return nil
	})
}

// WithTTL sets the expiration relative to now.
func WithTTL(d time.Duration) opts.Option[Envelope] {
	return opts.Type[Envelope](func(e *Envelope) error {
		e.ExpiresAt = strfmt.DateTime(time.Now().Add(d))
		return nil
	})
}

// NewTaskRequest builds a directed task request from sender to target.
func NewTaskRequest(sender, target string, options ...opts.Option[Envelope]) *Envelope {
	return build(Envelope{Kind: TaskRequest, Sender: sender, Target: target}, options)
}

// NewTaskResponse builds the answer to a previously delivered task
// request. requestID must reference the originating request's envelope id;
// the broker rejects responses to ids it never routed.
func NewTaskResponse(sender, target, requestID string, options ...opts.Option[Envelope]) *Envelope {
	return build(Envelope{Kind: TaskResponse, Sender: sender, Target: target, RequestID: requestID}, options)
}

// NewAgentMessage builds a directed conversational message.
func NewAgentMessage(sender, target string, options ...opts.Option[Envelope]) *Envelope {
	return build(Envelope{Kind: AgentMessage, Sender: sender, Target: target}, options)
}

// NewBroadcast builds a broadcast to an explicit list of agents.
func NewBroadcast(sender string, targets []string, options ...opts.Option[Envelope]) *Envelope {
	return build(Envelope{Kind: Broadcast, Sender: sender, TargetSet: &TargetSet{Agents: targets}}, options)
}

// NewBroadcastAll builds a broadcast to every registered agent. The sender
// itself is excluded from the resolved set.
func NewBroadcastAll(sender string, options ...opts.Option[Envelope]) *Envelope {
	return build(Envelope{Kind: Broadcast, Sender: sender, TargetSet: &TargetSet{All: true}}, options)
}

func build(env Envelope, options []opts.Option[Envelope]) *Envelope {
	if err := opts.Apply(&env, options); err != nil {
		panic(err)
	}
	return &env
}

// Validate enforces the structural invariants: a non-empty sender, a
// target shape matching the kind, and a request reference on task
// responses. Every failure wraps ErrMalformed.
func (e *Envelope) Validate() error {
	if e.Sender == "" {
		return fmt.Errorf("%w: sender is required", ErrMalformed)
	}
	switch e.Kind {
	case TaskRequest, AgentMessage:
		if e.Target == "" {
			return fmt.Errorf("%w: %s requires a target agent", ErrMalformed, e.Kind)
		}
		if e.TargetSet != nil {
			return fmt.Errorf("%w: %s cannot carry a target set", ErrMalformed, e.Kind)
		}
	case TaskResponse:
		if e.Target == "" {
			return fmt.Errorf("%w: task_response requires a target agent", ErrMalformed)
		}
		if e.TargetSet != nil {
			return fmt.Errorf("%w: task_response cannot carry a target set", ErrMalformed)
		}
		if e.RequestID == "" {
			return fmt.Errorf("%w: task_response requires the originating request id", ErrMalformed)
		}
	case Broadcast:
		if e.Target != "" {
			return fmt.Errorf("%w: broadcast cannot carry a single target", ErrMalformed)
		}
		if e.TargetSet == nil {
			return fmt.Errorf("%w: broadcast requires a target set", ErrMalformed)
		}
		if !e.TargetSet.All && len(e.TargetSet.Agents) == 0 {
			return fmt.Errorf("%w: broadcast target set is empty", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrMalformed, e.Kind)
	}
	return nil
}

// Targets returns the explicitly named recipients: the single target for
// directed kinds, the explicit list for broadcasts. An all-agents
// broadcast returns nil; resolving it against the registered population is
// the broker's job.
func (e *Envelope) Targets() []string {
	if e.Kind.Directed() {
		if e.Target == "" {
			return nil
		}
		return []string{e.Target}
	}
	if e.TargetSet == nil || e.TargetSet.All {
		return nil
	}
	return e.TargetSet.Agents
}

// Expired reports whether the envelope's expiration has passed at the
// given instant. Envelopes without an expiration never expire.
func (e *Envelope) Expired(now time.Time) bool {
	exp := time.Time(e.ExpiresAt)
	return !exp.IsZero() && now.After(exp)
}

// Clone returns a copy safe to hand across an ownership boundary. The
// payload is deep-copied, so mutating nested payload objects through one
// envelope never reaches the other. The explicit target list is copied
// as well.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if payload, err := jsonx.CloneMap(e.Payload); err == nil {
		clone.Payload = payload
	} else {
		// A payload holding values the codec cannot round-trip falls
		// back to a shallow copy of the top level.
		clone.Payload = maps.Clone(e.Payload)
	}
	if e.TargetSet != nil {
		ts := *e.TargetSet
		ts.Agents = slices.Clone(e.TargetSet.Agents)
		clone.TargetSet = &ts
	}
	return &clone
}
