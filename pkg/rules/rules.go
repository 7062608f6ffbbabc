// Package rules implements the concrete routing rules: task lookup, content
// detection, length and depth bucketing, CEL expressions, and the
// classifier-backed detectors.
package rules

import (
	"fmt"
	"sort"

	"github.com/withmartian/deimos-router/pkg/router"
)

// Type tags reported in explanation entries.
const (
	TypeTask                = "TaskRule"
	TypeCode                = "CodeRule"
	TypeCodeLanguage        = "CodeLanguageRule"
	TypeNaturalLanguage     = "NaturalLanguageRule"
	TypeAutoTask            = "AutoTaskRule"
	TypeMessageLength       = "MessageLengthRule"
	TypeConversationContext = "ConversationContextRule"
	TypeExpression          = "ExpressionRule"
)

// Triggers used when a rule falls back.
const (
	TriggerNoContent          = "no_content"
	TriggerCodeDetected       = "code_detected"
	TriggerNoCodeDetected     = "no_code_detected"
	TriggerNoLanguageDetected = "no_language_detected"
	TriggerNoTaskDetected     = "no_task_detected"
)

type named struct {
	name string
}

func (n named) Name() string { return n.name }

func newNamed(kind, name string) (named, error) {
	if name == "" {
		return named{}, fmt.Errorf("%s: name is required", kind)
	}
	return named{name: name}, nil
}

func copyTargets(in map[string]router.Target) map[string]router.Target {
	out := make(map[string]router.Target, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedLabels(m map[string]router.Target) []string {
	labels := make([]string, 0, len(m))
	for k := range m {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}
