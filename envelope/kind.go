package envelope

import "fmt"

// Kind is the closed set of message types the broker routes. Dispatch on a
// Kind should always be an exhaustive switch; an unlisted value is a
// malformed envelope, not a routing case.
type Kind uint8

const (
	// TaskRequest asks one agent to perform a unit of work.
	TaskRequest Kind = iota
	// TaskResponse answers a previously routed TaskRequest.
	TaskResponse
	// AgentMessage is a directed conversational message.
	AgentMessage
	// Broadcast fans out to a set of agents.
	Broadcast
)

// Directed reports whether the kind addresses exactly one agent.
func (k Kind) Directed() bool {
	switch k {
	case TaskRequest, TaskResponse, AgentMessage:
		return true
	case Broadcast:
		return false
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case TaskRequest:
		return "task_request"
	case TaskResponse:
		return "task_response"
	case AgentMessage:
		return "agent_message"
	case Broadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText renders the kind as its snake_case name so audit records and
// persisted snapshots stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the snake_case form produced by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "task_request":
		*k = TaskRequest
	case "task_response":
		*k = TaskResponse
	case "agent_message":
		*k = AgentMessage
	case "broadcast":
		*k = Broadcast
	default:
		return fmt.Errorf("unknown envelope kind %q", string(text))
	}
	return nil
}
