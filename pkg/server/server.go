// Package server exposes the router registry and the chat facade over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/chat"
	"github.com/withmartian/deimos-router/pkg/cost"
	"github.com/withmartian/deimos-router/pkg/metrics"
	"github.com/withmartian/deimos-router/pkg/router"
)

const maxBodyBytes = 4 << 20

// Server represents the HTTP server
type Server struct {
	client     *chat.Client
	metrics    *metrics.Metrics
	httpServer *http.Server
	startTime  time.Time
	version    string
	logger     zerolog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Routers   int    `json:"routers"`
	Timestamp string `json:"timestamp"`
}

// RouteResponse is the result of a resolve-only request.
type RouteResponse struct {
	Router        string             `json:"router"`
	SelectedModel string             `json:"selected_model"`
	Explain       router.Explanation `json:"explain,omitempty"`
}

// RouterInfo describes one registered router.
type RouterInfo struct {
	Name     string     `json:"name"`
	Model    string     `json:"model"`
	Default  string     `json:"default"`
	MaxDepth int        `json:"max_depth"`
	Rules    []RuleInfo `json:"rules"`
}

// RuleInfo names one top-level rule of a router.
type RuleInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// RoutersResponse lists the registered routers.
type RoutersResponse struct {
	Routers []RouterInfo `json:"routers"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the message and a machine-readable kind.
type ErrorBody struct {
	Message     string             `json:"message"`
	Kind        string             `json:"kind"`
	Explanation router.Explanation `json:"explain,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records HTTP metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new HTTP server
func New(addr string, client *chat.Client, opts ...Option) *Server {
	s := &Server{
		client:    client,
		startTime: time.Now(),
		version:   "dev",
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routes wrapped in the metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/chat/completions", s.instrument("/v1/chat/completions", s.chatHandler))
	mux.Handle("/v1/route", s.instrument("/v1/route", s.routeHandler))
	mux.Handle("/v1/routers", s.instrument("/v1/routers", s.routersHandler))
	mux.Handle("/health", s.instrument("/health", s.healthHandler))
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	resp, err := s.client.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err, req.Explain)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if _, ok := chat.RouterName(req.Model); !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Message: fmt.Sprintf("model %q does not name a router (want %s<router>)", req.Model, chat.ModelPrefix),
			Kind:    "invalid_request",
		}})
		return
	}
	name, res, err := s.client.Route(r.Context(), req)
	if err != nil {
		s.writeError(w, err, req.Explain)
		return
	}
	out := RouteResponse{Router: name, SelectedModel: res.Model}
	if req.Explain {
		out.Explain = res.Explanation
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) routersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reg := s.client.Registry()
	out := RoutersResponse{Routers: []RouterInfo{}}
	for _, name := range reg.Names() {
		rt, ok := reg.Get(name)
		if !ok {
			continue
		}
		info := RouterInfo{
			Name:     name,
			Model:    chat.ModelPrefix + name,
			Default:  rt.DefaultModel(),
			MaxDepth: rt.MaxDepth(),
			Rules:    []RuleInfo{},
		}
		for _, rule := range rt.Rules() {
			info.Rules = append(info.Rules, RuleInfo{Name: rule.Name(), Type: rule.Type()})
		}
		out.Routers = append(out.Routers, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Routers:   s.client.Registry().Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (*chat.Request, bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return nil, false
	}
	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Message: fmt.Sprintf("invalid request body: %v", err),
			Kind:    "invalid_request",
		}})
		return nil, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Message: err.Error(),
			Kind:    "invalid_request",
		}})
		return nil, false
	}
	return &req, true
}

// writeError renders err. The partial routing trail of a failed resolution
// is attached only when the request asked for an explanation.
func (s *Server) writeError(w http.ResponseWriter, err error, explain bool) {
	status, kind := classify(err)
	body := ErrorBody{Message: err.Error(), Kind: kind}
	var resErr *router.ResolutionError
	if explain && errors.As(err, &resErr) {
		body.Explanation = resErr.Explanation
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("kind", kind).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}

// classify maps an error to an HTTP status and error kind.
func classify(err error) (int, string) {
	var provErr *chat.ProviderError
	switch {
	case errors.Is(err, router.ErrRouterNotFound):
		return http.StatusNotFound, router.Kind(err)
	case errors.Is(err, router.ErrRoutingCycle), errors.Is(err, router.ErrRoutingDepthExceeded):
		return http.StatusInternalServerError, router.Kind(err)
	case errors.Is(err, router.ErrRuleEvaluation):
		return http.StatusBadGateway, router.Kind(err)
	case errors.Is(err, cost.ErrBudgetExceeded):
		return http.StatusPaymentRequired, "budget_exceeded"
	case errors.Is(err, chat.ErrNoProvider):
		return http.StatusBadGateway, "no_provider"
	case errors.As(err, &provErr):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "error"
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: ErrorBody{
		Message: "method not allowed",
		Kind:    "invalid_request",
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.ObserveHTTP(r.Method, endpoint, rec.status, time.Since(start))
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", endpoint).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
