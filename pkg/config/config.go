package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every deimos environment variable.
const EnvPrefix = "DEIMOS"

// DefaultHelperModel serves the built-in helper tasks unless overridden.
const DefaultHelperModel = "gpt-4o-mini"

// Helper tasks that have a built-in default model.
const (
	TaskCodeLanguageDetection    = "code_language_detection"
	TaskNaturalLanguageDetection = "natural_language_detection"
	TaskClassification           = "task_classification"
	TaskGeneralChat              = "general_chat"
	TaskCodeAnalysis             = "code_analysis"
)

// Config holds the application configuration.
type Config struct {
	APIURL          string            `mapstructure:"api_url"`
	APIKey          string            `mapstructure:"api_key"`
	APIKeys         APIKeysConfig     `mapstructure:"api_keys"`
	DefaultProvider string            `mapstructure:"default_provider"`
	DefaultModels   map[string]string `mapstructure:"default_models"`
	RoutersFile     string            `mapstructure:"routers_file"`
	AliasesFile     string            `mapstructure:"aliases_file"`
	Classifier      ClassifierConfig  `mapstructure:"classifier"`
	Cache           CacheConfig       `mapstructure:"cache"`
	RequestLog      RequestLogConfig  `mapstructure:"request_log"`
	Server          ServerConfig      `mapstructure:"server"`
	Log             LogConfig         `mapstructure:"log"`
	Retry           RetryConfig       `mapstructure:"retry"`
	Fallback        FallbackConfig    `mapstructure:"fallback"`
	Pricing         PricingConfig     `mapstructure:"pricing"`
	MaxBudgetUSD    float64           `mapstructure:"max_budget_usd"`

	ConfigDir string `mapstructure:"-"`
}

// APIKeysConfig holds provider API keys.
type APIKeysConfig struct {
	Anthropic string `mapstructure:"anthropic"`
	OpenAI    string `mapstructure:"openai"`
	Google    string `mapstructure:"google"`
	DeepSeek  string `mapstructure:"deepseek"`
}

// ClassifierConfig configures the LLM classifier behind the LLM-backed rules.
type ClassifierConfig struct {
	Model         string  `mapstructure:"model"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	MaxChars      int     `mapstructure:"max_chars"`
}

// CacheConfig selects the classifier cache backend.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"` // memory, redis, none
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
}

// RequestLogConfig configures request logging.
type RequestLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Prefix     string `mapstructure:"prefix"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	Reload bool   `mapstructure:"reload"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

// Load reads ~/.deimos/config.yaml and the environment.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, filepath.Join(configDir, "config.yaml"), false)
}

// LoadFrom reads configuration from an explicit file and the environment.
func LoadFrom(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, path, true)
}

func load(configDir, path string, required bool) (*Config, error) {
	v := viper.New()
	setDefaults(v, configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("api_keys.anthropic", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("api_keys.openai", "OPENAI_API_KEY")
	_ = v.BindEnv("api_keys.google", "GOOGLE_API_KEY")
	_ = v.BindEnv("api_keys.deepseek", "DEEPSEEK_API_KEY")

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case !required && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigDir = configDir
	if cfg.DefaultModels == nil {
		cfg.DefaultModels = make(map[string]string)
	}
	applyEnvDefaultModels(cfg.DefaultModels, os.Environ())
	applyPolicyDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("api_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("api_keys.anthropic", "")
	v.SetDefault("api_keys.openai", "")
	v.SetDefault("api_keys.google", "")
	v.SetDefault("api_keys.deepseek", "")
	v.SetDefault("default_provider", "openai")
	v.SetDefault("default_models", BuiltinDefaultModels())
	v.SetDefault("routers_file", filepath.Join(configDir, "routers.yaml"))
	v.SetDefault("aliases_file", filepath.Join(configDir, "models.yaml"))
	v.SetDefault("classifier.model", DefaultHelperModel)
	v.SetDefault("classifier.timeout_ms", 10000)
	v.SetDefault("classifier.rate_per_second", 0)
	v.SetDefault("classifier.burst", 1)
	v.SetDefault("classifier.max_chars", 2000)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("request_log.enabled", true)
	v.SetDefault("request_log.dir", filepath.Join(configDir, "logs"))
	v.SetDefault("request_log.prefix", "requests")
	v.SetDefault("request_log.sqlite_path", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.reload", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("max_budget_usd", 0)
}

// BuiltinDefaultModels returns the default model for each helper task.
func BuiltinDefaultModels() map[string]string {
	return map[string]string{
		TaskCodeLanguageDetection:    DefaultHelperModel,
		TaskNaturalLanguageDetection: DefaultHelperModel,
		TaskClassification:           DefaultHelperModel,
		TaskGeneralChat:              DefaultHelperModel,
		TaskCodeAnalysis:             DefaultHelperModel,
	}
}

// applyEnvDefaultModels honors DEIMOS_DEFAULT_MODEL_<TASK> for any task,
// including ones without a built-in default.
func applyEnvDefaultModels(models map[string]string, environ []string) {
	prefix := EnvPrefix + "_DEFAULT_MODEL_"
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || val == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		task := strings.ToLower(strings.TrimPrefix(key, prefix))
		if task != "" {
			models[task] = val
		}
	}
}

// DefaultModel returns the model configured for a helper task.
func (c *Config) DefaultModel(task string) string {
	if c != nil {
		if m := c.DefaultModels[task]; m != "" {
			return m
		}
	}
	if m := BuiltinDefaultModels()[task]; m != "" {
		return m
	}
	return DefaultHelperModel
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	return c.APIKeyFor(name) != ""
}

// APIKeyFor returns the API key for a provider.
func (c *Config) APIKeyFor(name string) string {
	switch name {
	case "anthropic":
		return c.APIKeys.Anthropic
	case "openai":
		if c.APIKeys.OpenAI == "" && c.APIURL != "" {
			return c.APIKey
		}
		return c.APIKeys.OpenAI
	case "google":
		return c.APIKeys.Google
	case "deepseek":
		return c.APIKeys.DeepSeek
	default:
		return ""
	}
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".deimos")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
