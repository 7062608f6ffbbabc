package rules

import (
	"context"
	"fmt"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// AutoTaskRule infers the task from message content with a classifier.
type AutoTaskRule struct {
	named
	tasks      map[string]router.Target
	fallback   router.Target
	classifier Classifier
}

// NewAutoTaskRule maps detectable task names to targets.
func NewAutoTaskRule(name string, tasks map[string]router.Target, fallback router.Target, c Classifier) (*AutoTaskRule, error) {
	n, err := newNamed(TypeAutoTask, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%s %s: classifier is required", TypeAutoTask, name)
	}
	return &AutoTaskRule{named: n, tasks: copyTargets(tasks), fallback: fallback, classifier: c}, nil
}

func (r *AutoTaskRule) Type() string { return TypeAutoTask }

func (r *AutoTaskRule) Evaluate(ctx context.Context, req *schema.Request) (router.Decision, error) {
	text := req.Text()
	if text == "" {
		return r.fallback.Decide(TriggerNoContent), nil
	}
	task, err := r.classifier.Classify(ctx, KindTask, text, sortedLabels(r.tasks))
	if err != nil {
		return router.Decision{}, fmt.Errorf("task detection: %w", err)
	}
	if target, ok := r.tasks[task]; ok {
		return target.Decide(task), nil
	}
	return r.fallback.Decide(TriggerNoTaskDetected), nil
}
