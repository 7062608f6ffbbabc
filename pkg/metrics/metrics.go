// Package metrics exposes routing and provider metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/withmartian/deimos-router/pkg/router"
)

// OutcomeSuccess labels resolutions that selected a model.
const OutcomeSuccess = "success"

// decisionModel labels trail entries that selected a model; model names
// stay out of labels.
const decisionModel = "model"

// Metrics holds the collectors. It implements router.Observer.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	RuleDecisions   *prometheus.CounterVec
	TrailLength     prometheus.Histogram
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deimos_resolutions_total",
				Help: "Total number of router resolutions",
			},
			[]string{"router", "outcome"},
		),
		RuleDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deimos_rule_decisions_total",
				Help: "Total number of rule decisions recorded in resolution trails",
			},
			[]string{"router", "rule_type", "decision"},
		),
		TrailLength: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deimos_resolution_trail_length",
				Help:    "Number of explanation entries per resolution",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12, 20},
			},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deimos_provider_calls_total",
				Help: "Total number of provider calls",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "deimos_provider_latency_seconds",
				Help: "Provider call latency in seconds",
			},
			[]string{"provider"},
		),
		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deimos_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "deimos_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveResolution implements router.Observer.
func (m *Metrics) ObserveResolution(routerName, _ string, trail router.Explanation, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = router.Kind(err)
	}
	m.Resolutions.WithLabelValues(routerName, outcome).Inc()
	m.TrailLength.Observe(float64(len(trail)))
	for _, e := range trail {
		m.RuleDecisions.WithLabelValues(routerName, e.RuleType, decisionLabel(e.Decision)).Inc()
	}
}

func decisionLabel(decision string) string {
	switch decision {
	case router.LabelContinue, router.LabelNoMatch, router.LabelDefault:
		return decision
	}
	return decisionModel
}

// ObserveProviderCall records one provider call. status is "ok" or an
// error class.
func (m *Metrics) ObserveProviderCall(provider, model, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, model, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// Handler serves the registry the metrics were registered with, or the
// default gatherer when that registry cannot be gathered.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
