// Package policy decides what an exhausted poll run means for the
// customer. The trade-off of trusting a gateway-declared success over a
// settlement record that has not caught up is deliberately expressed as
// a rule expression, so operators can tighten it without a code change.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// RuleConfig is one named rule expression. Expressions see the
// parameters: provisional_success, provisional_indeterminate, terminal,
// retries_used, settlement_seen.
type RuleConfig struct {
	Name       string
	Expression string
}

// DefaultRules preserve the engine's observed behavior: a gateway that
// declared success on the redirect is trusted when the settlement
// record is still pending after the full retry budget.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:       "TrustGatewaySuccess",
			Expression: "provisional_success && terminal == 'exhausted_pending'",
		},
	}
}

// Parameters describe one exhausted run.
type Parameters struct {
	ProvisionalSuccess       bool
	ProvisionalIndeterminate bool
	// Terminal is the poller's terminal kind as a string
	// ("exhausted_pending" or "exhausted_errors").
	Terminal       string
	RetriesUsed    int
	SettlementSeen bool
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	// TrustProvisional means the gateway's own success signal wins and
	// the run resolves Paid despite the lagging settlement record.
	TrustProvisional bool
	// Rule names the rule that matched, for observability.
	Rule string
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer evaluates exhaustion rules in order; the first rule that
// evaluates true wins.
type Enforcer struct {
	rules []compiledRule
}

// NewEnforcer compiles the given rules. An empty rule set is valid and
// never trusts the provisional outcome.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rc := range rules {
		expr, err := govaluate.NewEvaluableExpression(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: compiling rule %q: %w", rc.Name, err)
		}
		compiled = append(compiled, compiledRule{name: rc.Name, expr: expr})
	}
	return &Enforcer{rules: compiled}, nil
}

// Evaluate runs the rules against one exhausted run.
func (e *Enforcer) Evaluate(p Parameters) (Decision, error) {
	params := map[string]interface{}{
		"provisional_success":       p.ProvisionalSuccess,
		"provisional_indeterminate": p.ProvisionalIndeterminate,
		"terminal":                  p.Terminal,
		"retries_used":              p.RetriesUsed,
		"settlement_seen":           p.SettlementSeen,
	}

	for _, rule := range e.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("policy: evaluating rule %q: %w", rule.name, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("policy: rule %q did not evaluate to a boolean", rule.name)
		}
		if matched {
			return Decision{TrustProvisional: true, Rule: rule.name}, nil
		}
	}
	return Decision{}, nil
}
