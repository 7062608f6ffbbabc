// Package cost estimates the price of provider calls from token usage.
package cost

import (
	"regexp"
	"sort"
	"strings"

	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/config"
)

// Cost sources recorded with every estimate.
const (
	SourceAPIResponse      = "api_response"
	SourceTokenCalculation = "token_calculation"
	SourceUnknown          = "unknown"
)

// Currency of every built-in price.
const Currency = "USD"

const pricingModel = "per_1m_tokens"

// defaultKey prices models missing from the table.
const defaultKey = "default"

// DefaultPricing is USD per 1M tokens. Prices are approximate.
var DefaultPricing = config.PricingConfig{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":           {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":      {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4.1-nano":      {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gpt-4-turbo":       {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4":             {InputPer1M: 30.00, OutputPer1M: 60.00},
	"gpt-3.5-turbo":     {InputPer1M: 0.50, OutputPer1M: 1.50},
	"o3":                {InputPer1M: 2.00, OutputPer1M: 8.00},
	"o3-mini":           {InputPer1M: 1.10, OutputPer1M: 4.40},
	"o4-mini":           {InputPer1M: 1.10, OutputPer1M: 4.40},
	"claude-opus-4":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-7-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-2.5-pro":    {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash":  {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.0-flash":  {InputPer1M: 0.10, OutputPer1M: 0.40},
	"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.10},
	"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19},
	defaultKey:          {InputPer1M: 2.00, OutputPer1M: 4.00},
}

var dateSuffix = regexp.MustCompile(`-(?:\d{4}-\d{2}-\d{2}|\d{8})$`)

// Calculator prices token usage with the built-in table plus overrides.
type Calculator struct {
	pricing config.PricingConfig
	// keys sorted longest first for prefix matching
	keys []string
}

// NewCalculator returns a calculator whose table is DefaultPricing updated
// with custom. Custom keys are normalized like model names.
func NewCalculator(custom config.PricingConfig) *Calculator {
	pricing := make(config.PricingConfig, len(DefaultPricing)+len(custom))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	for k, v := range custom {
		pricing[NormalizeModel(k)] = v
	}

	keys := make([]string, 0, len(pricing))
	for k := range pricing {
		if k != defaultKey {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return &Calculator{pricing: pricing, keys: keys}
}

// NormalizeModel lowercases a model name and strips a provider prefix and a
// date suffix: "anthropic/claude-sonnet-4-20250514" -> "claude-sonnet-4".
func NormalizeModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	return dateSuffix.ReplaceAllString(model, "")
}

// Pricing returns the price entry for model and the table key it matched.
// Unknown models get the default entry.
func (c *Calculator) Pricing(model string) (config.ModelPricing, string) {
	name := NormalizeModel(model)
	if p, ok := c.pricing[name]; ok {
		return p, name
	}
	for _, k := range c.keys {
		if strings.HasPrefix(name, k) {
			return c.pricing[k], k
		}
	}
	return c.pricing[defaultKey], defaultKey
}

// Estimate prices usage for model.
func (c *Calculator) Estimate(model string, usage adapter.Usage) adapter.Cost {
	p, key := c.Pricing(model)
	amount := float64(usage.PromptTokens)/1e6*p.InputPer1M +
		float64(usage.CompletionTokens)/1e6*p.OutputPer1M
	return adapter.Cost{
		Currency:     Currency,
		Amount:       amount,
		IsEstimate:   true,
		PricingModel: pricingModel + ":" + key,
	}
}

// Result is the cost attached to one response.
type Result struct {
	Cost   *adapter.Cost
	Source string
}

// Estimated reports whether the amount was computed locally.
func (r Result) Estimated() bool {
	return r.Cost == nil || r.Cost.IsEstimate
}

// FromResponse prefers a cost reported by the provider, then estimates from
// usage. A response without either has no cost.
func (c *Calculator) FromResponse(resp *adapter.Response) Result {
	if resp == nil {
		return Result{Source: SourceUnknown}
	}
	if resp.Cost != nil && !resp.Cost.IsEstimate {
		reported := *resp.Cost
		return Result{Cost: &reported, Source: SourceAPIResponse}
	}
	if resp.Usage == nil {
		return Result{Source: SourceUnknown}
	}
	usage := resp.Usage.Normalize()
	if usage.TotalTokens == 0 {
		return Result{Source: SourceUnknown}
	}
	estimate := c.Estimate(resp.Model, usage)
	return Result{Cost: &estimate, Source: SourceTokenCalculation}
}
