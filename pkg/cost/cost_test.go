package cost

import (
	"errors"
	"math"
	"testing"

	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/config"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeModel(t *testing.T) {
	tests := map[string]string{
		"gpt-4o-mini":                       "gpt-4o-mini",
		"GPT-4o":                            "gpt-4o",
		"gpt-4o-mini-2024-07-18":            "gpt-4o-mini",
		"claude-sonnet-4-20250514":          "claude-sonnet-4",
		"anthropic/claude-3-5-haiku-latest": "claude-3-5-haiku-latest",
		"openai/gpt-4.1":                    "gpt-4.1",
		" deepseek-chat ":                   "deepseek-chat",
	}
	for in, want := range tests {
		if got := NormalizeModel(in); got != want {
			t.Fatalf("NormalizeModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPricingLookup(t *testing.T) {
	calc := NewCalculator(nil)
	tests := []struct {
		model string
		key   string
	}{
		{"gpt-4o-mini", "gpt-4o-mini"},
		{"gpt-4o-mini-audio-preview", "gpt-4o-mini"},
		{"gpt-4o", "gpt-4o"},
		{"gpt-4-0613", "gpt-4"},
		{"o3-mini", "o3-mini"},
		{"claude-3-5-haiku-latest", "claude-3-5-haiku"},
		{"anthropic/claude-sonnet-4-20250514", "claude-sonnet-4"},
		{"mistral-large", defaultKey},
	}
	for _, tt := range tests {
		if _, key := calc.Pricing(tt.model); key != tt.key {
			t.Fatalf("Pricing(%q) matched %q, want %q", tt.model, key, tt.key)
		}
	}
}

func TestEstimate(t *testing.T) {
	calc := NewCalculator(config.PricingConfig{
		"Custom/My-Model": {InputPer1M: 1, OutputPer1M: 2},
		"gpt-4o-mini":     {InputPer1M: 10, OutputPer1M: 20},
	})

	c := calc.Estimate("my-model", adapter.Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})
	if !approx(c.Amount, 2.0) || !c.IsEstimate || c.Currency != Currency {
		t.Fatalf("unexpected cost %+v", c)
	}

	c = calc.Estimate("gpt-4o-mini", adapter.Usage{PromptTokens: 1000, CompletionTokens: 1000})
	if !approx(c.Amount, 0.03) {
		t.Fatalf("override not applied: %+v", c)
	}

	c = NewCalculator(nil).Estimate("unknown-model", adapter.Usage{PromptTokens: 1000})
	if !approx(c.Amount, 0.002) || c.PricingModel != "per_1m_tokens:default" {
		t.Fatalf("default pricing not applied: %+v", c)
	}
}

func TestFromResponse(t *testing.T) {
	calc := NewCalculator(nil)

	reported := &adapter.Cost{Currency: "USD", Amount: 0.42}
	r := calc.FromResponse(&adapter.Response{Model: "gpt-4o", Cost: reported, Usage: &adapter.Usage{PromptTokens: 10}})
	if r.Source != SourceAPIResponse || r.Estimated() || !approx(r.Cost.Amount, 0.42) {
		t.Fatalf("reported cost should win: %+v", r)
	}

	r = calc.FromResponse(&adapter.Response{Model: "gpt-4o", Usage: &adapter.Usage{PromptTokens: 1_000_000}})
	if r.Source != SourceTokenCalculation || !r.Estimated() || !approx(r.Cost.Amount, 2.5) {
		t.Fatalf("expected token estimate: %+v", r)
	}

	r = calc.FromResponse(&adapter.Response{Model: "gpt-4o"})
	if r.Source != SourceUnknown || r.Cost != nil {
		t.Fatalf("expected unknown cost: %+v", r)
	}

	if r := calc.FromResponse(nil); r.Source != SourceUnknown {
		t.Fatalf("nil response: %+v", r)
	}
}

func TestTrackerBudget(t *testing.T) {
	tracker := NewTracker(NewCalculator(config.PricingConfig{"budget-1": {InputPer1M: 1_000_000}}), 2.5)

	if err := tracker.Check("budget-1"); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	tracker.Record(adapter.CallReport{Model: "budget-1", Usage: adapter.Usage{PromptTokens: 1, TotalTokens: 1}, Cost: adapter.Cost{Amount: 1}})

	if err := tracker.Check("budget-1"); err != nil {
		t.Fatalf("projected 2.0 is within budget: %v", err)
	}
	tracker.Record(adapter.CallReport{Model: "budget-1", Usage: adapter.Usage{PromptTokens: 1, TotalTokens: 1}, Cost: adapter.Cost{Amount: 1}})

	err := tracker.Check("budget-1")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("projected 3.0 should exceed budget, got %v", err)
	}

	tracker.Record(adapter.CallReport{Model: "budget-1", Error: "boom"})
	totals := tracker.Totals()
	if totals.Calls != 3 || totals.Failed != 1 || !approx(totals.Amount, 2) || totals.Usage.TotalTokens != 2 {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestTrackerWithoutBudget(t *testing.T) {
	tracker := NewTracker(nil, 0)
	tracker.Record(adapter.CallReport{Cost: adapter.Cost{Amount: 100}})
	if err := tracker.Check("gpt-4o"); err != nil {
		t.Fatalf("no budget configured: %v", err)
	}

	var nilTracker *Tracker
	if err := nilTracker.Check("x"); err != nil {
		t.Fatalf("nil tracker: %v", err)
	}
	nilTracker.Record(adapter.CallReport{})
}
