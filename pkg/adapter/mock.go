package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/withmartian/deimos-router/pkg/schema"
)

// MockAdapter returns deterministic responses for local runs and tests.
type MockAdapter struct {
	mu              sync.Mutex
	name            string
	responses       map[string]string
	defaultResponse string
	errs            []error
	calls           []Request

	Usage *Usage
}

// NewMockAdapter creates a mock adapter with a default response.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		name:            "mock",
		responses:       make(map[string]string),
		defaultResponse: "mock response:",
	}
}

// NewMockAdapterWithResponses creates a mock adapter with predefined
// responses keyed by the last user message.
func NewMockAdapterWithResponses(responses map[string]string, defaultResponse string) *MockAdapter {
	m := NewMockAdapter()
	if responses != nil {
		m.responses = responses
	}
	if defaultResponse != "" {
		m.defaultResponse = defaultResponse
	}
	return m
}

// Named sets the adapter identifier.
func (a *MockAdapter) Named(name string) *MockAdapter {
	a.name = name
	return a
}

// FailWith queues errors returned by the next calls, in order.
func (a *MockAdapter) FailWith(errs ...error) *MockAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, errs...)
	return a
}

// Calls returns a copy of every request received.
func (a *MockAdapter) Calls() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.calls))
	copy(out, a.calls)
	return out
}

// Name returns the adapter identifier.
func (a *MockAdapter) Name() string {
	return a.name
}

// Models returns the list of supported mock models.
func (a *MockAdapter) Models() []string {
	return []string{"mock-1"}
}

// Complete returns a deterministic response for the last user message.
func (a *MockAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.calls = append(a.calls, *req)
	var err error
	if len(a.errs) > 0 {
		err = a.errs[0]
		a.errs = a.errs[1:]
	}
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "mock-1"
	}

	prompt := lastUser(req.Messages)
	content, ok := a.responses[prompt]
	if !ok {
		content = fmt.Sprintf("%s\n%s", a.defaultResponse, prompt)
	}

	return &Response{
		ID:           fmt.Sprintf("mock-%d", len(a.Calls())),
		Adapter:      a.Name(),
		Model:        model,
		Content:      content,
		FinishReason: "stop",
		Usage:        a.Usage,
		Created:      time.Now().UTC(),
	}, nil
}

func lastUser(messages []schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.RoleUser || messages[i].Role == "" {
			return messages[i].Content
		}
	}
	return ""
}
