package rules

import (
	"context"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// TaskRule routes on the request's explicit task label.
type TaskRule struct {
	named
	triggers map[string]router.Target
}

// NewTaskRule maps task names to targets. The map is copied.
func NewTaskRule(name string, triggers map[string]router.Target) (*TaskRule, error) {
	n, err := newNamed(TypeTask, name)
	if err != nil {
		return nil, err
	}
	return &TaskRule{named: n, triggers: copyTargets(triggers)}, nil
}

func (r *TaskRule) Type() string { return TypeTask }

// Tasks returns the mapped task names, sorted.
func (r *TaskRule) Tasks() []string { return sortedLabels(r.triggers) }

// Evaluate abstains with an empty trigger when the request has no task and
// with the task as trigger when the task is not mapped.
func (r *TaskRule) Evaluate(_ context.Context, req *schema.Request) (router.Decision, error) {
	if req == nil || req.Task == "" {
		return router.NoMatch(""), nil
	}
	target, ok := r.triggers[req.Task]
	if !ok {
		return router.NoMatch(req.Task), nil
	}
	return target.Decide(req.Task), nil
}
