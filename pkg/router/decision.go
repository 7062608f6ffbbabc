package router

import "fmt"

type decisionKind uint8

const (
	kindNoMatch decisionKind = iota
	kindModel
	kindDelegate
)

// Decision is the outcome of evaluating one rule: a terminal model, a
// delegation to another rule, or no match. The zero value is NoMatch without
// a trigger.
type Decision struct {
	kind    decisionKind
	model   string
	next    Rule
	trigger string
}

// UseModel selects a model. An empty model name abstains instead.
func UseModel(model, trigger string) Decision {
	if model == "" {
		return NoMatch(trigger)
	}
	return Decision{kind: kindModel, model: model, trigger: trigger}
}

// DelegateTo hands evaluation to another rule. A nil rule abstains instead.
func DelegateTo(rule Rule, trigger string) Decision {
	if rule == nil {
		return NoMatch(trigger)
	}
	return Decision{kind: kindDelegate, next: rule, trigger: trigger}
}

// NoMatch abstains; resolution moves to the next top-level rule.
func NoMatch(trigger string) Decision {
	return Decision{kind: kindNoMatch, trigger: trigger}
}

// IsModel reports whether the decision selects a model.
func (d Decision) IsModel() bool { return d.kind == kindModel }

// IsDelegate reports whether the decision delegates to another rule.
func (d Decision) IsDelegate() bool { return d.kind == kindDelegate }

// IsNoMatch reports whether the rule abstained.
func (d Decision) IsNoMatch() bool { return d.kind == kindNoMatch }

// Model returns the selected model, or "" for other kinds.
func (d Decision) Model() string { return d.model }

// Next returns the delegate rule, or nil for other kinds.
func (d Decision) Next() Rule { return d.next }

// Trigger returns the label describing why the decision was reached.
func (d Decision) Trigger() string { return d.trigger }

func (d Decision) String() string {
	switch d.kind {
	case kindModel:
		return fmt.Sprintf("Model(%s, trigger=%q)", d.model, d.trigger)
	case kindDelegate:
		return fmt.Sprintf("Delegate(%s, trigger=%q)", d.next.Name(), d.trigger)
	default:
		return fmt.Sprintf("NoMatch(trigger=%q)", d.trigger)
	}
}

// Target is what a rule variant holds for one of its outcomes: either a model
// name or a nested rule. The zero Target abstains.
type Target struct {
	Model string
	Rule  Rule
}

// ToModel targets a model by name.
func ToModel(model string) Target { return Target{Model: model} }

// ToRule targets another rule.
func ToRule(rule Rule) Target { return Target{Rule: rule} }

// IsZero reports whether the target abstains.
func (t Target) IsZero() bool { return t.Model == "" && t.Rule == nil }

// Decide turns the target into a decision carrying trigger.
func (t Target) Decide(trigger string) Decision {
	if t.Rule != nil {
		return DelegateTo(t.Rule, trigger)
	}
	return UseModel(t.Model, trigger)
}

func (t Target) String() string {
	if t.Rule != nil {
		return RuleRefPrefix + t.Rule.Name()
	}
	return t.Model
}

// RuleRefPrefix marks a target string that names a rule rather than a model.
const RuleRefPrefix = "deimos/rules/"
