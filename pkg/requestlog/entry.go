// Package requestlog records one entry per chat call: routing trail,
// request, response, latency, tokens and cost.
package requestlog

import (
	"time"

	"github.com/google/uuid"
	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// Entry statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Tokens is the token usage of one call.
type Tokens struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Entry is one logged request/response cycle. RouterName is empty for direct
// model calls.
type Entry struct {
	ID            string             `json:"request_id"`
	Timestamp     time.Time          `json:"timestamp"`
	RouterName    string             `json:"router_name,omitempty"`
	SelectedModel string             `json:"selected_model"`
	Provider      string             `json:"provider,omitempty"`
	Explanation   router.Explanation `json:"routing_explanation"`
	Request       *schema.Request    `json:"request,omitempty"`
	Response      *adapter.Response  `json:"response,omitempty"`
	LatencyMS     float64            `json:"latency_ms"`
	Tokens        *Tokens            `json:"tokens,omitempty"`
	Cost          *float64           `json:"cost"`
	CostEstimated bool               `json:"cost_estimated"`
	CostSource    string             `json:"cost_source"`
	Status        string             `json:"status"`
	Error         string             `json:"error_message,omitempty"`
}

// NewEntry starts a pending entry with a fresh request ID.
func NewEntry(routerName, selectedModel string, trail router.Explanation, req *schema.Request) *Entry {
	if trail == nil {
		trail = router.Explanation{}
	}
	return &Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		RouterName:    routerName,
		SelectedModel: selectedModel,
		Explanation:   trail,
		Request:       req,
		CostEstimated: true,
		CostSource:    "unknown",
		Status:        StatusPending,
	}
}

// Succeed completes the entry with a response.
func (e *Entry) Succeed(resp *adapter.Response, latency time.Duration, cost *adapter.Cost, costSource string) {
	e.Response = resp
	e.LatencyMS = millis(latency)
	if resp != nil && resp.Usage != nil {
		u := resp.Usage.Normalize()
		e.Tokens = &Tokens{Prompt: u.PromptTokens, Completion: u.CompletionTokens, Total: u.TotalTokens}
	}
	if cost != nil {
		amount := cost.Amount
		e.Cost = &amount
		e.CostEstimated = cost.IsEstimate
	}
	if costSource != "" {
		e.CostSource = costSource
	}
	e.Status = StatusSuccess
}

// Fail completes the entry with an error. Provider is set to the provider
// the error is attributed to, if any.
func (e *Entry) Fail(err error, latency time.Duration) {
	e.LatencyMS = millis(latency)
	if err != nil {
		e.Error = err.Error()
		if p, _ := adapter.ProviderOf(err); p != "" {
			e.Provider = p
		}
	}
	e.Status = StatusError
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
