package router

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleEvaluation means a rule could not classify the request.
	ErrRuleEvaluation = errors.New("rule evaluation failed")

	// ErrRoutingCycle means a delegate chain revisited a rule.
	ErrRoutingCycle = errors.New("routing cycle detected")

	// ErrRoutingDepthExceeded means a delegate chain grew past the maximum depth.
	ErrRoutingDepthExceeded = errors.New("routing depth exceeded")

	// ErrRouterNotFound means no router is registered under the requested name.
	ErrRouterNotFound = errors.New("router not found")
)

// RuleError wraps a failure returned by a rule's Evaluate.
type RuleError struct {
	RuleName string
	RuleType string
	Err      error
}

func (e *RuleError) Error() string {
	if e == nil {
		return ErrRuleEvaluation.Error()
	}
	return fmt.Sprintf("rule %s (%s): %v", e.RuleName, e.RuleType, e.Err)
}

func (e *RuleError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is makes every RuleError match ErrRuleEvaluation.
func (e *RuleError) Is(target error) bool {
	return target == ErrRuleEvaluation
}

// ResolutionError reports why a resolution aborted, with the trail gathered
// up to that point.
type ResolutionError struct {
	Router      string
	Rule        string
	Depth       int
	Explanation Explanation
	Err         error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return "resolution failed"
	}
	if e.Rule == "" {
		return fmt.Sprintf("router %s: %v", e.Router, e.Err)
	}
	return fmt.Sprintf("router %s: rule %s: %v", e.Router, e.Rule, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Kind names the failure class for logs and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRouterNotFound):
		return "router_not_found"
	case errors.Is(err, ErrRoutingCycle):
		return "routing_cycle"
	case errors.Is(err, ErrRoutingDepthExceeded):
		return "routing_depth_exceeded"
	case errors.Is(err, ErrRuleEvaluation):
		return "rule_evaluation_failed"
	default:
		return "error"
	}
}
