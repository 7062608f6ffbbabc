package router

import (
	"encoding/json"
	"strings"
)

// Decision labels recorded in explanation entries besides model names.
const (
	LabelContinue = "continue"
	LabelNoMatch  = "no_match"
	LabelDefault  = "default"
)

// DefaultRuleType is the rule type of the entry appended when the router
// falls back to its default model.
const DefaultRuleType = "default"

// ExplanationEntry records one rule visited during resolution.
type ExplanationEntry struct {
	RuleType string `json:"rule_type"`
	RuleName string `json:"rule_name"`
	Trigger  string `json:"rule_trigger"`
	Decision string `json:"decision"`
}

// MarshalJSON renders an empty trigger as null.
func (e ExplanationEntry) MarshalJSON() ([]byte, error) {
	var trigger *string
	if e.Trigger != "" {
		trigger = &e.Trigger
	}
	return json.Marshal(struct {
		RuleType string  `json:"rule_type"`
		RuleName string  `json:"rule_name"`
		Trigger  *string `json:"rule_trigger"`
		Decision string  `json:"decision"`
	}{e.RuleType, e.RuleName, trigger, e.Decision})
}

// Explanation is the ordered trail of rules visited in one resolution.
type Explanation []ExplanationEntry

// Last returns the final entry.
func (e Explanation) Last() (ExplanationEntry, bool) {
	if len(e) == 0 {
		return ExplanationEntry{}, false
	}
	return e[len(e)-1], true
}

// String renders the trail as a causal path, one hop per entry.
func (e Explanation) String() string {
	var sb strings.Builder
	for i, entry := range e {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		sb.WriteString(entry.RuleType)
		sb.WriteString("(")
		sb.WriteString(entry.RuleName)
		if entry.Trigger != "" {
			sb.WriteString(", ")
			sb.WriteString(entry.Trigger)
		}
		sb.WriteString(")=")
		sb.WriteString(entry.Decision)
	}
	return sb.String()
}

func entryFor(rule Rule, d Decision) ExplanationEntry {
	label := LabelNoMatch
	switch {
	case d.IsModel():
		label = d.Model()
	case d.IsDelegate():
		label = LabelContinue
	}
	return ExplanationEntry{
		RuleType: rule.Type(),
		RuleName: rule.Name(),
		Trigger:  d.Trigger(),
		Decision: label,
	}
}
