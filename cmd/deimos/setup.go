package main

import (
	"context"
	"fmt"
	"time"

	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/cache"
	"github.com/withmartian/deimos-router/pkg/chat"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/cost"
	"github.com/withmartian/deimos-router/pkg/metrics"
	"github.com/withmartian/deimos-router/pkg/requestlog"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/rules"
)

// app holds everything a command needs, built from the config.
type app struct {
	cfg        *config.Config
	aliases    *config.ModelAliases
	adapters   map[string]adapter.Adapter
	classifier rules.Classifier
	cache      cache.Cache
	registry   *router.Registry
	requestLog *requestlog.Logger
	metrics    *metrics.Metrics
}

func loadConfig() (*config.Config, *config.ModelAliases, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFrom(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}
	if routersFile != "" {
		cfg.RoutersFile = routersFile
	}

	level, format := logLevel, logFormat
	if level == "" {
		level = cfg.Log.Level
	}
	if format == "" {
		format = cfg.Log.Format
	}
	l, err := newLogger(level, format)
	if err != nil {
		return nil, nil, err
	}
	logger = l

	aliases, err := config.LoadAliasesWithFallback(cfg.AliasesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load model aliases: %w", err)
	}
	if len(aliases.Aliases) == 0 && len(aliases.Providers) == 0 {
		aliases = config.DefaultAliases()
	}
	return cfg, aliases, nil
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if key := cfg.APIKeyFor("anthropic"); key != "" {
		a, err := adapter.NewAnthropicAdapter(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if key := cfg.APIKeyFor("openai"); key != "" {
		var opts []adapter.OpenAIOption
		if cfg.APIURL != "" {
			opts = append(opts, adapter.WithBaseURL(cfg.APIURL))
		}
		a, err := adapter.NewOpenAIAdapter(key, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if key := cfg.APIKeyFor("google"); key != "" {
		a, err := adapter.NewGoogleAdapter(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if key := cfg.APIKeyFor("deepseek"); key != "" {
		a, err := adapter.NewDeepSeekAdapter(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

// classifierKinds maps each classifier kind to the helper task whose
// default model serves it.
var classifierKinds = map[rules.Kind]string{
	rules.KindTask:            config.TaskClassification,
	rules.KindNaturalLanguage: config.TaskNaturalLanguageDetection,
	rules.KindCodeLanguage:    config.TaskCodeLanguageDetection,
}

// newClassifier builds the LLM classifier behind the classifier-backed
// rules, cached per config. It returns nil when no adapter serves the
// classifier model.
func newClassifier(cfg *config.Config, aliases *config.ModelAliases, adapters map[string]adapter.Adapter) (rules.Classifier, cache.Cache, error) {
	model := aliases.Resolve(cfg.Classifier.Model)
	provider := aliases.ProviderFor(model)
	if provider == "" {
		provider = cfg.DefaultProvider
	}
	a, ok := adapters[provider]
	if !ok {
		logger.Warn().Str("model", model).Str("provider", provider).
			Msg("no adapter for classifier model; classifier-backed rules are unavailable")
		return nil, nil, nil
	}

	opts := []rules.ClassifierOption{
		rules.WithRateLimit(cfg.Classifier.RatePerSecond, cfg.Classifier.Burst),
		rules.WithMaxChars(cfg.Classifier.MaxChars),
		rules.WithClassifierLogger(logger),
	}
	if cfg.Classifier.TimeoutMs > 0 {
		opts = append(opts, rules.WithTimeout(time.Duration(cfg.Classifier.TimeoutMs)*time.Millisecond))
	}
	for kind, task := range classifierKinds {
		km := aliases.Resolve(cfg.DefaultModel(task))
		if aliases.ProviderFor(km) == provider {
			opts = append(opts, rules.WithKindModel(kind, km))
		}
	}

	llm, err := rules.NewLLMClassifier(a, model, opts...)
	if err != nil {
		return nil, nil, err
	}

	var c cache.Cache
	switch cfg.Cache.Backend {
	case "", "none":
		return llm, nil, nil
	case "memory":
		c = cache.NewMemoryCache()
	case "redis":
		c, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect classifier cache: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	return rules.NewCachedClassifier(llm, c, ttl, logger), c, nil
}

// newApp loads the config and builds every router in the routers file.
func newApp(withMetrics bool) (*app, error) {
	cfg, aliases, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	adapters, err := createAdapters(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapters: %w", err)
	}
	classifier, c, err := newClassifier(cfg, aliases, adapters)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		aliases:    aliases,
		adapters:   adapters,
		classifier: classifier,
		cache:      c,
		registry:   router.NewRegistry(),
	}
	if withMetrics {
		a.metrics = metrics.New(nil)
	}

	rf, err := config.LoadRouters(cfg.RoutersFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load routers: %w", err)
	}
	set, err := rules.Build(rf, a.buildOptions()...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build routers: %w", err)
	}
	if err := a.registry.Replace(set.Routers); err != nil {
		a.Close()
		return nil, err
	}
	for _, errs := range aliases.ValidateRouters(rf) {
		logger.Warn().Err(errs).Msg("routers file references an unknown model")
	}

	a.requestLog, err = requestlog.FromConfig(cfg.RequestLog, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}
	return a, nil
}

func (a *app) buildOptions() []rules.BuildOption {
	routerOpts := []router.RouterOption{router.WithLogger(logger)}
	if a.metrics != nil {
		routerOpts = append(routerOpts, router.WithObserver(a.metrics))
	}
	opts := []rules.BuildOption{
		rules.WithRouterOptions(routerOpts...),
		rules.WithBuildLogger(logger),
	}
	if a.classifier != nil {
		opts = append(opts, rules.WithClassifier(a.classifier))
	}
	return opts
}

func (a *app) client() *chat.Client {
	calc := cost.NewCalculator(a.cfg.Pricing)
	opts := []chat.Option{
		chat.WithAliases(a.aliases),
		chat.WithDefaultProvider(a.cfg.DefaultProvider),
		chat.WithRetry(a.cfg.Retry),
		chat.WithFallback(a.cfg.Fallback),
		chat.WithCostCalculator(calc),
		chat.WithTracker(cost.NewTracker(calc, a.cfg.MaxBudgetUSD)),
		chat.WithRequestLog(a.requestLog),
		chat.WithLogger(logger),
	}
	if a.metrics != nil {
		opts = append(opts, chat.WithProviderObserver(a.metrics))
	}
	return chat.New(a.registry, a.adapters, opts...)
}

func (a *app) Close() {
	if a.requestLog != nil {
		if err := a.requestLog.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close request log")
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

// validationClassifier lets classifier-backed rules build without a
// configured provider.
var validationClassifier = rules.ClassifierFunc(func(context.Context, rules.Kind, string, []string) (string, error) {
	return "", fmt.Errorf("classifier not configured")
})
