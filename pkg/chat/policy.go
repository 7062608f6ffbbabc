package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/config"
)

// Provider call statuses reported to the ProviderObserver.
const (
	StatusOK        = "ok"
	StatusTransient = "transient"
	StatusError     = "error"
)

type callTarget struct {
	Provider string
	Model    string
}

// call sends req to the primary target, retrying transient failures with
// exponential backoff and walking the fallback chain when a target gives up.
func (c *Client) call(ctx context.Context, primary callTarget, req *Request) (*adapter.Response, []adapter.CallReport, error) {
	targets := c.buildTargets(primary)
	var reports []adapter.CallReport
	var lastErr error

	for idx, target := range targets {
		impl, ok := c.adapters[target.Provider]
		if !ok {
			lastErr = adapter.Attribute(fmt.Errorf("%w: %s (model %s)", ErrNoProvider, target.Provider, target.Model), target.Provider, target.Model)
			reports = append(reports, adapter.CallReport{
				Adapter:      target.Provider,
				Model:        target.Model,
				Cost:         adapter.Cost{Currency: "USD"},
				FallbackUsed: idx > 0,
				Error:        lastErr.Error(),
			})
			continue
		}

		for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
			if err := c.tracker.Check(target.Model); err != nil {
				return nil, reports, err
			}

			start := time.Now()
			resp, err := impl.Complete(ctx, req.forward(target.Model))
			latency := time.Since(start)
			if err == nil && resp == nil {
				err = fmt.Errorf("%s returned empty response", target.Provider)
			}
			if err == nil {
				c.observeCall(target, StatusOK, latency)
				if resp.Adapter == "" {
					resp.Adapter = target.Provider
				}
				if resp.Model == "" {
					resp.Model = target.Model
				}
				costed := c.costs.FromResponse(resp)
				report := adapter.CallReport{
					Adapter:      target.Provider,
					Model:        target.Model,
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Cost:         adapter.Cost{Currency: "USD"},
				}
				if resp.Usage != nil {
					report.Usage = resp.Usage.Normalize()
				}
				if costed.Cost != nil {
					report.Cost = *costed.Cost
					if resp.Cost == nil {
						resp.Cost = costed.Cost
					}
				}
				reports = append(reports, report)
				return resp, reports, nil
			}

			lastErr = adapter.Attribute(err, target.Provider, target.Model)
			transient := adapter.IsTransient(err)
			status := StatusError
			if transient {
				status = StatusTransient
			}
			c.observeCall(target, status, latency)
			c.logger.Debug().Err(err).
				Str("provider", target.Provider).
				Str("model", target.Model).
				Int("attempt", attempt).
				Msg("provider call failed")

			if !transient || attempt == c.retry.MaxRetries {
				reports = append(reports, adapter.CallReport{
					Adapter:      target.Provider,
					Model:        target.Model,
					Cost:         adapter.Cost{Currency: "USD"},
					Retries:      attempt,
					FallbackUsed: idx > 0,
					Error:        err.Error(),
				})
				break
			}

			backoff := computeBackoff(c.retry.BaseBackoffMs, c.retry.MaxBackoffMs, attempt)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, reports, err
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("provider call failed")
	}
	failed := primary
	if p, m := adapter.ProviderOf(lastErr); p != "" {
		failed = callTarget{Provider: p, Model: m}
	}
	return nil, reports, &ProviderError{Provider: failed.Provider, Model: failed.Model, Err: lastErr}
}

func (c *Client) buildTargets(primary callTarget) []callTarget {
	targets := []callTarget{primary}
	for _, t := range c.fallback.Chain(primary.Provider, primary.Model) {
		targets = append(targets, callTarget{Provider: t.Adapter, Model: t.Model})
	}
	return targets
}

func (c *Client) observeCall(t callTarget, status string, latency time.Duration) {
	if c.observer != nil {
		c.observer.ObserveProviderCall(t.Provider, t.Model, status, latency)
	}
}

func defaultRetry() config.RetryConfig {
	return config.RetryConfig{MaxRetries: 2, BaseBackoffMs: 200, MaxBackoffMs: 2000}
}

func computeBackoff(baseMs, maxMs, attempt int) time.Duration {
	limit := time.Duration(maxMs) * time.Millisecond
	backoff := time.Duration(baseMs) * time.Millisecond
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	if backoff > limit {
		return limit
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
