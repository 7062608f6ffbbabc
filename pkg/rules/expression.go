package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// expressionCostLimit bounds the work a single case may do.
const expressionCostLimit = 10000

// Case is one condition of an ExpressionRule.
type Case struct {
	When   string
	Target router.Target
}

type compiledCase struct {
	when    string
	program cel.Program
	target  router.Target
}

// ExpressionRule evaluates CEL conditions in order; the first true case
// wins. Available variables: task, messages, message_count, text, user_text
// and extra.
type ExpressionRule struct {
	named
	cases    []compiledCase
	fallback router.Target
}

// NewExpressionRule compiles every case. Conditions that cannot produce a
// bool are rejected here.
func NewExpressionRule(name string, cases []Case, fallback router.Target) (*ExpressionRule, error) {
	n, err := newNamed(TypeExpression, name)
	if err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(
		cel.Variable("task", cel.StringType),
		cel.Variable("messages", cel.ListType(cel.MapType(cel.StringType, cel.StringType))),
		cel.Variable("message_count", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("user_text", cel.StringType),
		cel.Variable("extra", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	r := &ExpressionRule{named: n, fallback: fallback}
	for i, c := range cases {
		ast, issues := env.Compile(c.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%s %s: case %d: CEL compile error: %w", TypeExpression, name, i, issues.Err())
		}
		if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
			return nil, fmt.Errorf("%s %s: case %d: condition yields %s, want bool", TypeExpression, name, i, out)
		}
		prg, err := env.Program(ast, cel.CostLimit(expressionCostLimit))
		if err != nil {
			return nil, fmt.Errorf("%s %s: case %d: CEL program error: %w", TypeExpression, name, i, err)
		}
		r.cases = append(r.cases, compiledCase{when: c.When, program: prg, target: c.Target})
	}
	return r, nil
}

func (r *ExpressionRule) Type() string { return TypeExpression }

func (r *ExpressionRule) Evaluate(_ context.Context, req *schema.Request) (router.Decision, error) {
	vars := expressionVars(req)
	for i, c := range r.cases {
		out, _, err := c.program.Eval(vars)
		if err != nil {
			return router.Decision{}, fmt.Errorf("case %d (%s): CEL eval error: %w", i, c.when, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return router.Decision{}, fmt.Errorf("case %d (%s): result not boolean", i, c.when)
		}
		if matched {
			return c.target.Decide(c.when), nil
		}
	}
	return r.fallback.Decide(""), nil
}

func expressionVars(req *schema.Request) map[string]any {
	if req == nil {
		req = &schema.Request{}
	}
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	extra := req.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return map[string]any{
		"task":          req.Task,
		"messages":      messages,
		"message_count": int64(len(req.Messages)),
		"text":          req.Text(),
		"user_text":     req.UserText(),
		"extra":         extra,
	}
}
