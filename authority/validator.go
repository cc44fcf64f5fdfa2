// Package authority defines the validation gate every envelope passes
// before delivery, and a rule-table implementation of it.
//
// The broker treats the validator as synchronous and side-effect-free: it
// asks whether an envelope may be routed and receives a verdict plus the
// list of violated rules. Any policy engine can stand behind the
// interface; the broker never looks inside.
package authority

import (
	"context"

	"github.com/parley-run/parley/envelope"
)

// Validator decides whether an envelope may be routed. A denial carries
// human-readable violation descriptions that the broker surfaces to the
// sender; a denied envelope is never silently dropped.
type Validator interface {
	Validate(ctx context.Context, env *envelope.Envelope) (allowed bool, violations []string)
}

// Func adapts a plain function to the Validator interface.
type Func func(ctx context.Context, env *envelope.Envelope) (bool, []string)

func (f Func) Validate(ctx context.Context, env *envelope.Envelope) (bool, []string) {
	return f(ctx, env)
}

// AllowAll returns a validator that approves everything. It is the
// broker's default when no policy is configured.
func AllowAll() Validator {
	return Func(func(context.Context, *envelope.Envelope) (bool, []string) {
		return true, nil
	})
}
