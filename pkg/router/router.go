package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// DefaultMaxDepth bounds the number of delegations in one chain.
const DefaultMaxDepth = 20

// Observer receives the outcome of every resolution. trail is the full
// explanation on success and the partial one on failure.
type Observer interface {
	ObserveResolution(router, model string, trail Explanation, err error)
}

// Resolution is the result of routing one request.
type Resolution struct {
	Model       string      `json:"selected_model"`
	Explanation Explanation `json:"explain,omitempty"`
}

// Router owns an ordered list of top-level rules and a default model. It is
// immutable after New and safe for concurrent use.
type Router struct {
	name         string
	rules        []Rule
	defaultModel string
	maxDepth     int
	logger       zerolog.Logger
	observer     Observer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxDepth sets the maximum number of delegations per chain.
func WithMaxDepth(depth int) RouterOption {
	return func(r *Router) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithObserver reports every resolution to obs.
func WithObserver(obs Observer) RouterOption {
	return func(r *Router) {
		r.observer = obs
	}
}

// New creates a router. The rules slice is copied.
func New(name string, rules []Rule, defaultModel string, opts ...RouterOption) (*Router, error) {
	if name == "" {
		return nil, fmt.Errorf("router name is required")
	}
	if defaultModel == "" {
		return nil, fmt.Errorf("router %s: default model is required", name)
	}
	for i, rule := range rules {
		if rule == nil {
			return nil, fmt.Errorf("router %s: rule %d is nil", name, i)
		}
	}

	r := &Router{
		name:         name,
		rules:        append([]Rule(nil), rules...),
		defaultModel: defaultModel,
		maxDepth:     DefaultMaxDepth,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the router name.
func (r *Router) Name() string { return r.name }

// DefaultModel returns the model used when no rule matches.
func (r *Router) DefaultModel() string { return r.defaultModel }

// MaxDepth returns the delegation limit.
func (r *Router) MaxDepth() int { return r.maxDepth }

// Rules returns a copy of the top-level rules.
func (r *Router) Rules() []Rule { return append([]Rule(nil), r.rules...) }

// SelectModel resolves the request and returns only the model.
func (r *Router) SelectModel(ctx context.Context, req *schema.Request) (string, error) {
	res, err := r.Resolve(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Model, nil
}

// Resolve walks the top-level rules in order, following each rule's delegate
// chain, and returns the first model selected along with the trail of every
// rule visited. When every chain ends in no match the default model is used.
func (r *Router) Resolve(ctx context.Context, req *schema.Request) (*Resolution, error) {
	if req == nil {
		req = &schema.Request{}
	}

	var trail Explanation
	for _, top := range r.rules {
		model, err := r.resolveChain(ctx, top, req, &trail)
		if err != nil {
			r.report("", trail, err)
			return nil, err
		}
		if model != "" {
			r.report(model, trail, nil)
			return &Resolution{Model: model, Explanation: trail}, nil
		}
	}

	trail = append(trail, ExplanationEntry{
		RuleType: DefaultRuleType,
		RuleName: r.name,
		Decision: LabelDefault,
	})
	r.report(r.defaultModel, trail, nil)
	return &Resolution{Model: r.defaultModel, Explanation: trail}, nil
}

// resolveChain follows one linear delegate chain starting at start. It
// returns "" when the chain ends without a model.
func (r *Router) resolveChain(ctx context.Context, start Rule, req *schema.Request, trail *Explanation) (string, error) {
	visited := map[string]bool{start.Name(): true}
	current := start
	depth := 0

	for {
		decision, err := current.Evaluate(ctx, req)
		if err != nil {
			return "", r.fail(current, depth, *trail, &RuleError{
				RuleName: current.Name(),
				RuleType: current.Type(),
				Err:      err,
			})
		}
		*trail = append(*trail, entryFor(current, decision))

		switch {
		case decision.IsModel():
			return decision.Model(), nil
		case decision.IsNoMatch():
			return "", nil
		}

		next := decision.Next()
		if visited[next.Name()] {
			return "", r.fail(current, depth, *trail,
				fmt.Errorf("%w: %s -> %s", ErrRoutingCycle, current.Name(), next.Name()))
		}
		depth++
		if depth > r.maxDepth {
			return "", r.fail(current, depth, *trail,
				fmt.Errorf("%w: chain from %s passed %d delegations", ErrRoutingDepthExceeded, start.Name(), r.maxDepth))
		}
		visited[next.Name()] = true
		current = next
	}
}

func (r *Router) fail(rule Rule, depth int, trail Explanation, err error) error {
	return &ResolutionError{
		Router:      r.name,
		Rule:        rule.Name(),
		Depth:       depth,
		Explanation: append(Explanation(nil), trail...),
		Err:         err,
	}
}

func (r *Router) report(model string, trail Explanation, err error) {
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("router", r.name).
			Str("kind", Kind(err)).
			Int("trail", len(trail)).
			Msg("resolution failed")
	} else {
		r.logger.Debug().
			Str("router", r.name).
			Str("model", model).
			Int("trail", len(trail)).
			Msg("resolved")
	}
	if r.observer != nil {
		r.observer.ObserveResolution(r.name, model, trail, err)
	}
}
