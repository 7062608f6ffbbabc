package cost

import (
	"errors"
	"fmt"
	"sync"

	"github.com/withmartian/deimos-router/pkg/adapter"
)

// ErrBudgetExceeded is returned once spend reaches the configured budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Totals summarizes the calls recorded by a Tracker.
type Totals struct {
	Currency string        `json:"currency"`
	Amount   float64       `json:"amount"`
	Usage    adapter.Usage `json:"usage"`
	Calls    int           `json:"calls"`
	Failed   int           `json:"failed"`
}

// Tracker accumulates call reports and enforces an optional budget. It is
// safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	maxUSD    float64
	amount    float64
	usage     adapter.Usage
	calls     int
	failed    int
	lastUsage *adapter.Usage
	calc      *Calculator
}

// NewTracker creates a tracker. A non-positive maxUSD disables the budget.
func NewTracker(calc *Calculator, maxUSD float64) *Tracker {
	if calc == nil {
		calc = NewCalculator(nil)
	}
	return &Tracker{calc: calc, maxUSD: maxUSD}
}

// Check fails when spend has reached the budget, or when the next call to
// model would exceed it assuming usage similar to the last successful call.
func (t *Tracker) Check(model string) error {
	if t == nil || t.maxUSD <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.amount >= t.maxUSD {
		return fmt.Errorf("%w: budget %.4f reached (current total %.4f)", ErrBudgetExceeded, t.maxUSD, t.amount)
	}
	if t.lastUsage == nil {
		return nil
	}
	projected := t.amount + t.calc.Estimate(model, *t.lastUsage).Amount
	if projected > t.maxUSD {
		return fmt.Errorf("%w: budget %.4f exceeded (projected total %.4f)", ErrBudgetExceeded, t.maxUSD, projected)
	}
	return nil
}

// Record adds reports to the running totals. Failed calls count but cost
// nothing.
func (t *Tracker) Record(reports ...adapter.CallReport) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range reports {
		t.calls++
		if r.Error != "" {
			t.failed++
			continue
		}
		t.amount += r.Cost.Amount
		t.usage = addUsage(t.usage, r.Usage)
		usage := r.Usage
		t.lastUsage = &usage
	}
}

// Totals returns a snapshot of the running totals.
func (t *Tracker) Totals() Totals {
	if t == nil {
		return Totals{Currency: Currency}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Totals{
		Currency: Currency,
		Amount:   t.amount,
		Usage:    t.usage,
		Calls:    t.calls,
		Failed:   t.failed,
	}
}

func addUsage(a, b adapter.Usage) adapter.Usage {
	return adapter.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
