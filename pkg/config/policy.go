package config

// RetryConfig defines retry and backoff behavior for provider calls.
type RetryConfig struct {
	MaxRetries    int `mapstructure:"max_retries"`
	BaseBackoffMs int `mapstructure:"base_backoff_ms"`
	MaxBackoffMs  int `mapstructure:"max_backoff_ms"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `mapstructure:"adapter" yaml:"adapter"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// FallbackConfig defines adapter/model fallbacks, keyed by "adapter:model"
// or by adapter name alone.
type FallbackConfig struct {
	AllowFallback bool                     `mapstructure:"allow_fallback"`
	FallbackChain map[string][]RouteTarget `mapstructure:"fallback_chain"`
}

// PricingConfig maps model -> pricing, overriding the built-in table.
type PricingConfig map[string]ModelPricing

// ModelPricing defines per-1M token pricing.
type ModelPricing struct {
	InputPer1M  float64 `mapstructure:"input_per_1m"`
	OutputPer1M float64 `mapstructure:"output_per_1m"`
}

// Chain returns the fallback targets for a primary target.
func (f FallbackConfig) Chain(adapterName, model string) []RouteTarget {
	if !f.AllowFallback || len(f.FallbackChain) == 0 {
		return nil
	}
	if chain, ok := f.FallbackChain[adapterName+":"+model]; ok {
		return chain
	}
	return f.FallbackChain[adapterName]
}

func applyPolicyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 2
	}
	if cfg.Retry.BaseBackoffMs == 0 {
		cfg.Retry.BaseBackoffMs = 200
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Classifier.TimeoutMs <= 0 {
		cfg.Classifier.TimeoutMs = 10000
	}
	if cfg.Classifier.MaxChars <= 0 {
		cfg.Classifier.MaxChars = 2000
	}
	if cfg.Classifier.Burst <= 0 {
		cfg.Classifier.Burst = 1
	}
}
