/*
Package parley implements a single-process message broker for multi-agent
systems: named agents exchange task requests, task responses, directed
messages, and broadcasts through per-agent bounded priority mailboxes,
with every envelope passing an authority-validation gate before delivery
and every routing decision landing in an audit trail.

The package is built around a few core pieces:

  - Envelope (envelope package): the typed unit of routing, with a closed
    kind set, ordered priorities, and opaque payloads
  - Mailbox (mailbox package): a bounded priority queue owned by exactly
    one agent, the unit of concurrency isolation
  - Conversation registry (conversation package): multi-party sessions
    with membership, lifecycle, and activity accounting
  - Authority validator (authority package): a pluggable gate deciding
    whether an envelope may be routed, with a role-based rule table
    implementation
  - Audit sink (audit package): append-only recipient of every routing
    decision, with log, JSONL, and NATS implementations

# Basic Usage

Register agents, send envelopes, and poll for delivery:

	broker, err := parley.New(
		parley.WithValidator(rules),
		parley.WithAuditSink(audit.NewLog(nil)),
	)
	if err != nil {
		// Handle error
	}

	_ = broker.RegisterAgent("planner", 32)
	_ = broker.RegisterAgent("executor", 32)

	result, err := broker.Send(ctx, envelope.NewTaskRequest("planner", "executor",
		envelope.WithPriority(envelope.Urgent),
		envelope.WithPayload(map[string]any{"task": "summarize"}),
	))

	env, err := broker.Receive("executor")

# Delivery Semantics

Send never blocks on a consumer: a full mailbox rejects the envelope for
that target only, and the per-target outcome is reported in the
DeliveryResult. Broadcast fan-out is a set of independent enqueues, not a
transaction; partial delivery is a reported outcome, not an error state.
An authority denial short-circuits before any mailbox is touched and
surfaces the violation list to the sender.

Within one mailbox the only ordering guarantee is priority order with
FIFO inside a priority level. Expiration is checked lazily at dequeue
time; an expired envelope is counted, never delivered.

# Thread Safety

The broker is safe for unlimited concurrent senders and consumers. There
is no global lock: agent and conversation tables are concurrent maps, and
each mailbox and conversation guards only its own state.
*/
package parley
