package uuidx

import "github.com/google/uuid"

// New returns a freshly generated version 7 UUID. Version 7 identifiers
// are time-ordered, which keeps envelope ids roughly sortable by admission
// time. It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a new version 7 UUID rendered in its canonical string
// form. It is the id generator for envelopes and conversations.
func NewString() string {
	return New().String()
}
