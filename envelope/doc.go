// Package envelope defines the typed unit of communication routed between
// agents: task requests, task responses, directed agent messages, and
// broadcasts, together with their priority and routing metadata.
//
// An Envelope is pure data. The broker stamps its identity and admission
// timestamp, mailboxes order it by priority, and the authority validator
// inspects it, but nothing in this package performs routing itself.
//
// Kinds form a closed set. Target shape depends on the kind: directed
// kinds (TaskRequest, TaskResponse, AgentMessage) carry exactly one target
// agent, while Broadcast carries a target set, either an explicit agent
// list or the full registered population. Validate enforces that exactly
// one of the two is populated.
package envelope
