package rules

import (
	"context"
	"fmt"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// NaturalLanguageRule routes on the human language of the conversation,
// keyed by 2-letter ISO codes.
type NaturalLanguageRule struct {
	named
	languages  map[string]router.Target
	fallback   router.Target
	classifier Classifier
}

// NewNaturalLanguageRule maps language codes to targets.
func NewNaturalLanguageRule(name string, languages map[string]router.Target, fallback router.Target, c Classifier) (*NaturalLanguageRule, error) {
	n, err := newNamed(TypeNaturalLanguage, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%s %s: classifier is required", TypeNaturalLanguage, name)
	}
	return &NaturalLanguageRule{named: n, languages: copyTargets(languages), fallback: fallback, classifier: c}, nil
}

func (r *NaturalLanguageRule) Type() string { return TypeNaturalLanguage }

func (r *NaturalLanguageRule) Evaluate(ctx context.Context, req *schema.Request) (router.Decision, error) {
	text := req.Text()
	if text == "" {
		return r.fallback.Decide(TriggerNoContent), nil
	}
	lang, err := r.classifier.Classify(ctx, KindNaturalLanguage, text, sortedLabels(r.languages))
	if err != nil {
		return router.Decision{}, fmt.Errorf("natural language detection: %w", err)
	}
	if target, ok := r.languages[lang]; ok {
		return target.Decide(lang), nil
	}
	return r.fallback.Decide(TriggerNoLanguageDetected), nil
}
