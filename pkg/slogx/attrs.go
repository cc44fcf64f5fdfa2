// Package slogx provides slog attribute helpers shared across the broker
// packages so log fields stay consistently named.
package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns an attribute with the key "error" carrying the error's
// message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer returns an attribute rendering the value through its String
// method. Useful for envelope kinds and priorities.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// Agent returns the attribute identifying an agent in broker log lines.
func Agent(id string) slog.Attr {
	return slog.String("agent", id)
}

// Envelope returns the attribute identifying a routed envelope.
func Envelope(id string) slog.Attr {
	return slog.String("envelope_id", id)
}

// Conversation returns the attribute identifying a conversation session.
func Conversation(id string) slog.Attr {
	return slog.String("conversation_id", id)
}
