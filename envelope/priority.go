package envelope

import "fmt"

// Priority orders envelopes within a mailbox. Higher priorities dequeue
// first; within one priority delivery is FIFO by admission order.
type Priority uint8

const (
	Routine Priority = iota
	Elevated
	Critical
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Routine:
		return "routine"
	case Elevated:
		return "elevated"
	case Critical:
		return "critical"
	case Urgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// MarshalText renders the priority as its lowercase name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (p *Priority) UnmarshalText(text []byte) error {
	switch string(text) {
	case "routine":
		*p = Routine
	case "elevated":
		*p = Elevated
	case "critical":
		*p = Critical
	case "urgent":
		*p = Urgent
	default:
		return fmt.Errorf("unknown priority %q", string(text))
	}
	return nil
}
