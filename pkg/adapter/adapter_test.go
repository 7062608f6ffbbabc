package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/withmartian/deimos-router/pkg/schema"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "rate limited", err: &AdapterError{Status: 429}, want: true},
		{name: "server error", err: fmt.Errorf("wrapped: %w", &AdapterError{Status: 503}), want: true},
		{name: "bad request", err: &AdapterError{Status: 400}, want: false},
		{name: "temporary flag", err: &AdapterError{Temporary: true}, want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSplitSystem(t *testing.T) {
	system, convo := splitSystem([]schema.Message{
		{Role: schema.RoleSystem, Content: "be terse"},
		{Role: schema.RoleUser, Content: "hi"},
		{Role: schema.RoleSystem, Content: "use go"},
		{Role: schema.RoleAssistant, Content: "hello"},
	})
	if system != "be terse\nuse go" {
		t.Fatalf("unexpected system prompt %q", system)
	}
	if len(convo) != 2 || convo[0].Content != "hi" || convo[1].Role != schema.RoleAssistant {
		t.Fatalf("unexpected conversation %+v", convo)
	}
}

func TestMockAdapter(t *testing.T) {
	mock := NewMockAdapterWithResponses(map[string]string{"ping": "pong"}, "")

	got, err := Prompt(context.Background(), mock, "", "ping", 0)
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if got != "pong" {
		t.Fatalf("expected pong, got %q", got)
	}

	got, err = Prompt(context.Background(), mock, "mock-1", "other", 0)
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if got != "mock response:\nother" {
		t.Fatalf("unexpected default response %q", got)
	}

	if calls := mock.Calls(); len(calls) != 2 || calls[0].Model != "" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestMockAdapterQueuedErrors(t *testing.T) {
	boom := &AdapterError{Status: 500}
	mock := NewMockAdapter().FailWith(boom)

	if _, err := Prompt(context.Background(), mock, "m", "x", 0); !errors.Is(err, boom) {
		t.Fatalf("expected queued error, got %v", err)
	}
	if _, err := Prompt(context.Background(), mock, "m", "x", 0); err != nil {
		t.Fatalf("queue should be drained, got %v", err)
	}
}

func TestPromptWithoutAdapter(t *testing.T) {
	if _, err := Prompt(context.Background(), nil, "m", "x", 0); err == nil {
		t.Fatalf("expected error for nil adapter")
	}
}

func TestDeepSeekComplete(t *testing.T) {
	var received deepseekRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		fmt.Fprint(w, `{"id":"ds-1","model":"deepseek-chat","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	a, err := newDeepSeekAdapter("key", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	resp, err := a.Complete(context.Background(), &Request{
		Model: "deepseek-chat",
		Messages: []schema.Message{
			{Role: schema.RoleSystem, Content: "sys"},
			{Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "ok" || resp.ID != "ds-1" || resp.Adapter != "deepseek" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 4 {
		t.Fatalf("expected normalized usage, got %+v", resp.Usage)
	}
	if received.MaxTokens != DefaultMaxTokens || len(received.Messages) != 2 || received.Messages[1].Role != "user" {
		t.Fatalf("unexpected request %+v", received)
	}
}

func TestDeepSeekStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a, _ := newDeepSeekAdapter("key", srv.URL, srv.Client())
	_, err := a.Complete(context.Background(), &Request{Model: "deepseek-chat"})
	if err == nil || !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if p, m := ProviderOf(err); p != "deepseek" || m != "deepseek-chat" {
		t.Fatalf("error attributed to %q/%q", p, m)
	}
}

func TestAttribute(t *testing.T) {
	plain := errors.New("boom")
	upstream := &AdapterError{Status: 503, Err: plain}
	owned := &AdapterError{Provider: "google", Model: "gemini-2.0-flash", Status: 400}

	tests := []struct {
		name          string
		err           error
		wantProvider  string
		wantModel     string
		wantTransient bool
	}{
		{name: "plain", err: plain, wantProvider: "openai", wantModel: "gpt-4o"},
		{name: "keeps status", err: fmt.Errorf("wrapped: %w", upstream), wantProvider: "openai", wantModel: "gpt-4o", wantTransient: true},
		{name: "already attributed", err: owned, wantProvider: "google", wantModel: "gemini-2.0-flash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Attribute(tt.err, "openai", "gpt-4o")
			if !errors.Is(err, tt.err) {
				t.Fatalf("Attribute lost the original error: %v", err)
			}
			p, m := ProviderOf(err)
			if p != tt.wantProvider || m != tt.wantModel {
				t.Fatalf("ProviderOf = %q/%q, want %q/%q", p, m, tt.wantProvider, tt.wantModel)
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Fatalf("IsTransient = %v, want %v", got, tt.wantTransient)
			}
		})
	}

	if Attribute(nil, "openai", "gpt-4o") != nil {
		t.Fatalf("nil error should stay nil")
	}
	if p, _ := ProviderOf(plain); p != "" {
		t.Fatalf("unattributed error reported provider %q", p)
	}
}

func TestNewAdaptersRequireKey(t *testing.T) {
	if _, err := NewOpenAIAdapter(""); err == nil {
		t.Fatalf("expected openai error")
	}
	if _, err := NewAnthropicAdapter(""); err == nil {
		t.Fatalf("expected anthropic error")
	}
	if _, err := NewDeepSeekAdapter(""); err == nil {
		t.Fatalf("expected deepseek error")
	}
	if _, err := NewGoogleAdapter(""); err == nil {
		t.Fatalf("expected google error")
	}
}
