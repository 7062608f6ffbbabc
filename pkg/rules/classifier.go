package rules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/cache"
	"github.com/withmartian/deimos-router/pkg/schema"
	"golang.org/x/time/rate"
)

// Kind names what a classifier is asked to detect.
type Kind string

const (
	KindTask            Kind = "task"
	KindNaturalLanguage Kind = "natural_language"
	KindCodeLanguage    Kind = "code_language"
)

// Classifier picks one of labels for text. An empty label means no confident
// answer; an error means the classifier could not be consulted.
type Classifier interface {
	Classify(ctx context.Context, kind Kind, text string, labels []string) (string, error)
}

// ClassifierFunc adapts a function into a Classifier.
type ClassifierFunc func(ctx context.Context, kind Kind, text string, labels []string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, kind Kind, text string, labels []string) (string, error) {
	return f(ctx, kind, text, labels)
}

// modelScoped is implemented by classifiers that can answer with a
// different model.
type modelScoped interface {
	ForModel(model string) Classifier
}

// withModel returns c bound to model when c supports it.
func withModel(c Classifier, model string) Classifier {
	if ms, ok := c.(modelScoped); ok && model != "" {
		return ms.ForModel(model)
	}
	return c
}

const (
	defaultClassifierMaxChars  = 2000
	defaultClassifierMaxTokens = 50
	classifierTemperature      = 0.1
)

// LLMClassifier classifies text by prompting a model through an adapter.
type LLMClassifier struct {
	adapter    adapter.Adapter
	model      string
	kindModels map[Kind]string
	timeout    time.Duration
	limiter    *rate.Limiter
	maxChars   int
	logger     zerolog.Logger
}

// ClassifierOption configures an LLMClassifier.
type ClassifierOption func(*LLMClassifier)

// WithKindModel uses model for one kind of detection.
func WithKindModel(kind Kind, model string) ClassifierOption {
	return func(c *LLMClassifier) {
		if model != "" {
			c.kindModels[kind] = model
		}
	}
}

// WithTimeout bounds each classification call.
func WithTimeout(d time.Duration) ClassifierOption {
	return func(c *LLMClassifier) {
		c.timeout = d
	}
}

// WithRateLimit caps classification calls per second. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) ClassifierOption {
	return func(c *LLMClassifier) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxChars caps the amount of text sent to the model.
func WithMaxChars(n int) ClassifierOption {
	return func(c *LLMClassifier) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithClassifierLogger sets the logger.
func WithClassifierLogger(logger zerolog.Logger) ClassifierOption {
	return func(c *LLMClassifier) {
		c.logger = logger
	}
}

// NewLLMClassifier creates a classifier that asks model through a.
func NewLLMClassifier(a adapter.Adapter, model string, opts ...ClassifierOption) (*LLMClassifier, error) {
	if a == nil {
		return nil, fmt.Errorf("classifier adapter is required")
	}
	if model == "" {
		return nil, fmt.Errorf("classifier model is required")
	}
	c := &LLMClassifier{
		adapter:    a,
		model:      model,
		kindModels: make(map[Kind]string),
		maxChars:   defaultClassifierMaxChars,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ForModel returns a copy that uses model for every kind. The rate limiter
// is shared with c.
func (c *LLMClassifier) ForModel(model string) Classifier {
	cp := *c
	cp.model = model
	cp.kindModels = map[Kind]string{}
	return &cp
}

func (c *LLMClassifier) modelFor(kind Kind) string {
	if m := c.kindModels[kind]; m != "" {
		return m
	}
	return c.model
}

// Classify asks the model to pick one of labels. Answers outside labels and
// "none" yield an empty label.
func (c *LLMClassifier) Classify(ctx context.Context, kind Kind, text string, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", nil
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("classifier rate limit: %w", err)
		}
	}

	model := c.modelFor(kind)
	temperature := classifierTemperature
	req := &adapter.Request{
		Model:    model,
		Messages: []schema.Message{{Role: schema.RoleUser, Content: buildClassifierPrompt(kind, truncateRunes(text, c.maxChars), labels)}},
	}
	// Nano models reject sampling overrides.
	if !strings.HasSuffix(model, "-nano") {
		req.MaxTokens = defaultClassifierMaxTokens
		req.Temperature = &temperature
	}

	resp, err := c.adapter.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("classifier %s call failed: %w", model, err)
	}
	if resp == nil {
		return "", fmt.Errorf("classifier %s returned empty response", model)
	}

	label := matchLabel(resp.Content, labels)
	c.logger.Debug().
		Str("kind", string(kind)).
		Str("model", model).
		Str("answer", strings.TrimSpace(resp.Content)).
		Str("label", label).
		Msg("classified")
	return label, nil
}

func buildClassifierPrompt(kind Kind, text string, labels []string) string {
	list := strings.Join(labels, ", ")
	var sb strings.Builder
	switch kind {
	case KindNaturalLanguage:
		sb.WriteString("Analyze the following text and determine what natural language it is predominantly written in.\n\n")
		sb.WriteString("You must respond with ONLY a 2-letter ISO language code from this list: " + list + "\n\n")
		sb.WriteString("If the text doesn't clearly match any of these languages, or if you cannot determine the language, respond with \"None\".\n\n")
		sb.WriteString("Respond with ONLY the 2-letter language code (or \"None\"), nothing else.\n\n")
		sb.WriteString("Text to analyze:\n")
		sb.WriteString(text)
	case KindCodeLanguage:
		sb.WriteString("Analyze the following code snippet and determine which programming language it is most likely written in.\n\n")
		sb.WriteString("You must choose from one of these languages: " + list + "\n\n")
		sb.WriteString("If the code doesn't clearly match any of these languages, respond with \"None\".\n\n")
		sb.WriteString("Respond with ONLY the language name (or \"None\"), nothing else.\n\n")
		sb.WriteString("Code to analyze:\n```\n")
		sb.WriteString(text)
		sb.WriteString("\n```")
	default:
		sb.WriteString("Analyze the following user message and determine what type of task they are requesting.\n\n")
		sb.WriteString("You must respond with ONLY ONE of these exact task names: " + list + "\n\n")
		sb.WriteString("If the message doesn't clearly match any of these tasks, respond with \"none\".\n\n")
		sb.WriteString("IMPORTANT: Your response must be EXACTLY one of the task names listed above, or \"none\". Do not include any other text, explanations, or formatting.\n\n")
		sb.WriteString("User message:\n")
		sb.WriteString(text)
	}
	return sb.String()
}

// matchLabel maps a model answer onto labels, case-insensitively.
func matchLabel(answer string, labels []string) string {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`.")
	if answer == "" || strings.EqualFold(answer, "none") {
		return ""
	}
	for _, label := range labels {
		if strings.EqualFold(label, answer) {
			return label
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// CachedClassifier memoizes another classifier's answers, so replaying a
// request resolves to the same model.
type CachedClassifier struct {
	inner     Classifier
	cache     cache.Cache
	ttl       time.Duration
	namespace string
	logger    zerolog.Logger
}

// NewCachedClassifier wraps inner with c. A zero ttl keeps answers forever.
func NewCachedClassifier(inner Classifier, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *CachedClassifier {
	return &CachedClassifier{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// ForModel returns a cached classifier over inner bound to model.
func (c *CachedClassifier) ForModel(model string) Classifier {
	cp := *c
	cp.inner = withModel(c.inner, model)
	cp.namespace = model
	return &cp
}

func (c *CachedClassifier) Classify(ctx context.Context, kind Kind, text string, labels []string) (string, error) {
	key := c.key(kind, text, labels)
	if label, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("classifier cache read failed")
	} else if ok {
		return label, nil
	}

	label, err := c.inner.Classify(ctx, kind, text, labels)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, label, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("classifier cache write failed")
	}
	return label, nil
}

func (c *CachedClassifier) key(kind Kind, text string, labels []string) string {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(c.namespace))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
