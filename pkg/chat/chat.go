// Package chat is the chat completions facade: a model named
// "deimos/<router>" is resolved by that router and the selected model is
// called through the matching provider adapter.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/cost"
	"github.com/withmartian/deimos-router/pkg/requestlog"
	"github.com/withmartian/deimos-router/pkg/router"
)

// ErrNoProvider means no adapter is configured for the selected model.
var ErrNoProvider = errors.New("no provider configured")

// ProviderError wraps the last failure of a provider call after retries and
// fallbacks were exhausted. Provider and Model name the target that failed
// last, which is a fallback target when the chain was walked.
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (model %s): %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderObserver receives the outcome of every provider call.
type ProviderObserver interface {
	ObserveProviderCall(provider, model, status string, latency time.Duration)
}

// Client sends chat completions, routing "deimos/<router>" models through
// the registry. It is safe for concurrent use.
type Client struct {
	registry        *router.Registry
	adapters        map[string]adapter.Adapter
	aliases         *config.ModelAliases
	defaultProvider string
	retry           config.RetryConfig
	fallback        config.FallbackConfig
	costs           *cost.Calculator
	tracker         *cost.Tracker
	requestLog      *requestlog.Logger
	observer        ProviderObserver
	logger          zerolog.Logger
	sleep           func(context.Context, time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithAliases resolves model aliases and picks providers by model.
func WithAliases(a *config.ModelAliases) Option {
	return func(c *Client) {
		c.aliases = a
	}
}

// WithDefaultProvider serves models no alias or prefix maps to a provider.
func WithDefaultProvider(name string) Option {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithRetry sets the retry policy for transient provider errors.
func WithRetry(r config.RetryConfig) Option {
	return func(c *Client) {
		c.retry = r
	}
}

// WithFallback sets the provider fallback chains.
func WithFallback(f config.FallbackConfig) Option {
	return func(c *Client) {
		c.fallback = f
	}
}

// WithCostCalculator prices responses.
func WithCostCalculator(calc *cost.Calculator) Option {
	return func(c *Client) {
		if calc != nil {
			c.costs = calc
		}
	}
}

// WithTracker accumulates spend and enforces the tracker's budget.
func WithTracker(t *cost.Tracker) Option {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithRequestLog records one entry per call.
func WithRequestLog(l *requestlog.Logger) Option {
	return func(c *Client) {
		c.requestLog = l
	}
}

// WithProviderObserver reports provider calls, e.g. to metrics.
func WithProviderObserver(o ProviderObserver) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client over the routers in reg and the given adapters,
// keyed by provider name.
func New(reg *router.Registry, adapters map[string]adapter.Adapter, opts ...Option) *Client {
	c := &Client{
		registry: reg,
		adapters: adapters,
		retry:    defaultRetry(),
		costs:    cost.NewCalculator(nil),
		logger:   zerolog.Nop(),
		sleep:    sleepWithContext,
	}
	if c.registry == nil {
		c.registry = router.NewRegistry()
	}
	if c.adapters == nil {
		c.adapters = map[string]adapter.Adapter{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the router registry.
func (c *Client) Registry() *router.Registry { return c.registry }

// Spend returns the totals of the client's tracker.
func (c *Client) Spend() cost.Totals { return c.tracker.Totals() }

// Route resolves a "deimos/<router>" request without calling a provider.
func (c *Client) Route(ctx context.Context, req *Request) (string, *router.Resolution, error) {
	if req == nil {
		return "", nil, fmt.Errorf("request is required")
	}
	name, ok := RouterName(req.Model)
	if !ok {
		return "", nil, fmt.Errorf("model %q does not name a router (want %s<router>)", req.Model, ModelPrefix)
	}
	r, err := c.registry.Lookup(name)
	if err != nil {
		return name, nil, err
	}
	res, err := r.Resolve(ctx, req.routing())
	return name, res, err
}

// Create sends a chat completion. Routed requests carry Routing metadata;
// the trail is included only when req.Explain is set.
func (c *Client) Create(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var (
		routerName string
		model      = req.Model
		trail      router.Explanation
	)
	if name, ok := RouterName(req.Model); ok {
		routerName = name
		_, res, err := c.Route(ctx, req)
		if err != nil {
			var resErr *router.ResolutionError
			if errors.As(err, &resErr) {
				trail = resErr.Explanation
			}
			c.logEntry(ctx, routerName, "", trail, req, start, nil, err)
			return nil, err
		}
		model = res.Model
		trail = res.Explanation
	}

	target := c.target(model)
	resp, reports, err := c.call(ctx, target, req)
	c.tracker.Record(reports...)
	if err != nil {
		c.logEntry(ctx, routerName, target.Model, trail, req, start, nil, err)
		return nil, err
	}

	out := newResponse(resp)
	out.Cost = resp.Cost
	if routerName != "" {
		out.Routing = &Routing{
			Router:        routerName,
			SelectedModel: model,
			OriginalModel: resp.Model,
		}
		out.Model = model
		if req.Explain {
			out.Routing.Explain = trail
		}
	}
	out.RequestID = c.logEntry(ctx, routerName, model, trail, req, start, resp, nil)

	c.logger.Debug().
		Str("router", routerName).
		Str("model", model).
		Str("provider", target.Provider).
		Dur("latency", time.Since(start)).
		Msg("chat completion")
	return out, nil
}

// target picks the provider for model. Models without a configured
// provider go to the default provider with their name unchanged.
func (c *Client) target(model string) callTarget {
	canonical := c.aliases.Resolve(model)
	provider := c.aliases.ProviderFor(canonical)
	if provider != "" && c.adapters[provider] != nil {
		return callTarget{Provider: provider, Model: strings.TrimPrefix(canonical, provider+"/")}
	}
	if c.defaultProvider != "" && c.adapters[c.defaultProvider] != nil {
		return callTarget{Provider: c.defaultProvider, Model: canonical}
	}
	if provider == "" {
		provider = c.defaultProvider
	}
	return callTarget{Provider: provider, Model: canonical}
}

func (c *Client) logEntry(ctx context.Context, routerName, model string, trail router.Explanation, req *Request, start time.Time, resp *adapter.Response, callErr error) string {
	if !c.requestLog.Enabled() {
		return ""
	}
	entry := requestlog.NewEntry(routerName, model, trail, req.routing())
	latency := time.Since(start)
	if callErr != nil {
		entry.Fail(callErr, latency)
	} else {
		costed := c.costs.FromResponse(resp)
		entry.Provider = resp.Adapter
		entry.Succeed(resp, latency, costed.Cost, costed.Source)
	}
	c.requestLog.Log(ctx, entry)
	return entry.ID
}
