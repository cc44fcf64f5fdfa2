package parley

import "errors"

var (
	// ErrAgentNotFound is returned when an operation names an agent with no
	// registered mailbox.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrRequestNotFound is returned when a task response references a
	// request id the broker never routed.
	ErrRequestNotFound = errors.New("originating request not found")

	// ErrAlreadyRegistered is returned when an agent re-registers with a
	// different mailbox capacity. Re-registering with the same capacity is
	// a no-op.
	ErrAlreadyRegistered = errors.New("agent already registered")

	// ErrBrokerClosed is returned by mutating operations after Shutdown.
	ErrBrokerClosed = errors.New("broker is shut down")
)
