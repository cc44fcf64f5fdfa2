package authority

import (
	"context"
	"fmt"

	"github.com/fogfish/opts"

	"github.com/parley-run/parley/envelope"
)

// AnyRole matches every role in a rule's target position. A rule such as
// Deny("executive", AnyRole) bars the executive role from sending to
// anyone, and it is the role consulted when a broadcast addresses the
// whole agent population.
const AnyRole = "*"

type rolePair struct {
	sender string
	target string
}

type exceptionKey struct {
	sender string
	target string
	kind   envelope.Kind
}

// RuleTable is a static, role-based Validator: agents map to roles, role
// pairs map to allow/deny decisions, and kind-specific exceptions override
// the pair decision. All state is fixed at construction, so Validate is
// safe for unlimited concurrent use without locking.
type RuleTable struct {
	roles        map[string]string
	rules        map[rolePair]bool
	exceptions   map[exceptionKey]bool
	defaultAllow bool
}

// WithRole assigns a role to an agent id.
func WithRole(agent, role string) opts.Option[RuleTable] {
	return opts.Type[RuleTable](func(t *RuleTable) error {
		t.roles[agent] = role
		return nil
	})
}

// Allow permits envelopes from the sender role to the target role.
func Allow(senderRole, targetRole string) opts.Option[RuleTable] {
	return rule(senderRole, targetRole, true)
}

// Deny bars envelopes from the sender role to the target role.
func Deny(senderRole, targetRole string) opts.Option[RuleTable] {
	return rule(senderRole, targetRole, false)
}

func rule(senderRole, targetRole string, allowed bool) opts.Option[RuleTable] {
	return opts.Type[RuleTable](func(t *RuleTable) error {
		t.rules[rolePair{sender: senderRole, target: targetRole}] = allowed
		return nil
	})
}

// Except overrides the pair decision for one envelope kind. This is where
// the hand-coded special cases live: a pair that is denied in general can
// still be allowed for responses, and vice versa.
func Except(senderRole, targetRole string, kind envelope.Kind, allowed bool) opts.Option[RuleTable] {
	return opts.Type[RuleTable](func(t *RuleTable) error {
		t.exceptions[exceptionKey{sender: senderRole, target: targetRole, kind: kind}] = allowed
		return nil
	})
}

// WithDefaultDeny flips the table to deny anything no rule covers. The
// default is to allow uncovered pairs.
func WithDefaultDeny() opts.Option[RuleTable] {
	return opts.Type[RuleTable](func(t *RuleTable) error {
		t.defaultAllow = false
		return nil
	})
}

// NewRuleTable builds a rule-table validator from role assignments and
// pair rules.
func NewRuleTable(options ...opts.Option[RuleTable]) (*RuleTable, error) {
	t := &RuleTable{
		roles:        make(map[string]string),
		rules:        make(map[rolePair]bool),
		exceptions:   make(map[exceptionKey]bool),
		defaultAllow: true,
	}
	if err := opts.Apply(t, options); err != nil {
		return nil, err
	}
	return t, nil
}

var _ Validator = (*RuleTable)(nil)

// Validate checks the envelope's sender/target role pairs against the
// table. Every denied pair contributes one violation; the envelope is
// allowed only when no rule fires against it.
func (t *RuleTable) Validate(_ context.Context, env *envelope.Envelope) (bool, []string) {
	senderRole, ok := t.roles[env.Sender]
	if !ok {
		if t.defaultAllow {
			return true, nil
		}
		return false, []string{fmt.Sprintf("agent %s has no role assignment", env.Sender)}
	}

	var violations []string
	deny := func(targetRole, detail string) {
		violations = append(violations, fmt.Sprintf("%s may not send %s to %s%s", senderRole, env.Kind, targetRole, detail))
	}

	if env.Kind == envelope.Broadcast && env.TargetSet != nil && env.TargetSet.All {
		if !t.decide(senderRole, AnyRole, env.Kind) {
			deny(AnyRole, "")
		}
		return len(violations) == 0, violations
	}

	for _, target := range env.Targets() {
		targetRole, ok := t.roles[target]
		if !ok {
			targetRole = AnyRole
		}
		if !t.decide(senderRole, targetRole, env.Kind) {
			deny(targetRole, fmt.Sprintf(" (agent %s)", target))
		}
	}
	return len(violations) == 0, violations
}

// decide resolves the most specific matching entry: a kind exception
// first, then the exact role pair, then wildcard pairs, then the default.
func (t *RuleTable) decide(senderRole, targetRole string, kind envelope.Kind) bool {
	if allowed, ok := t.exceptions[exceptionKey{sender: senderRole, target: targetRole, kind: kind}]; ok {
		return allowed
	}
	for _, p := range []rolePair{
		{sender: senderRole, target: targetRole},
		{sender: senderRole, target: AnyRole},
		{sender: AnyRole, target: targetRole},
	} {
		if allowed, ok := t.rules[p]; ok {
			return allowed
		}
	}
	return t.defaultAllow
}
