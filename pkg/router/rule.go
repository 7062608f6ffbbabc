package router

import (
	"context"

	"github.com/withmartian/deimos-router/pkg/schema"
)

// Rule is a named unit of routing logic.
type Rule interface {
	// Name identifies the rule in explanations and cycle detection.
	Name() string

	// Type is the variant tag shown in explanations.
	Type() string

	// Evaluate inspects the request and returns a decision. It must not
	// mutate the request. An error means the rule could not classify the
	// request at all.
	Evaluate(ctx context.Context, req *schema.Request) (Decision, error)
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	RuleName string
	RuleType string
	Fn       func(ctx context.Context, req *schema.Request) (Decision, error)
}

// Name returns the rule name.
func (f *RuleFunc) Name() string { return f.RuleName }

// Type returns the rule type, "RuleFunc" when unset.
func (f *RuleFunc) Type() string {
	if f.RuleType == "" {
		return "RuleFunc"
	}
	return f.RuleType
}

// Evaluate calls Fn.
func (f *RuleFunc) Evaluate(ctx context.Context, req *schema.Request) (Decision, error) {
	if f.Fn == nil {
		return NoMatch(""), nil
	}
	return f.Fn(ctx, req)
}
