package rules

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/router"
)

// Set is the result of building a routers file.
type Set struct {
	Rules   map[string]router.Rule
	Routers []*router.Router
}

// Router returns the router with the given name, or nil.
func (s *Set) Router(name string) *router.Router {
	for _, r := range s.Routers {
		if r.Name() == name {
			return r
		}
	}
	return nil
}

// BuildOption configures Build.
type BuildOption func(*builder)

// WithClassifier supplies the classifier for classifier-backed rules.
func WithClassifier(c Classifier) BuildOption {
	return func(b *builder) {
		b.classifier = c
	}
}

// WithRouterOptions applies opts to every built router.
func WithRouterOptions(opts ...router.RouterOption) BuildOption {
	return func(b *builder) {
		b.routerOpts = append(b.routerOpts, opts...)
	}
}

// WithBuildLogger sets the logger for build diagnostics.
func WithBuildLogger(logger zerolog.Logger) BuildOption {
	return func(b *builder) {
		b.logger = logger
	}
}

type builder struct {
	specs      map[string]config.RuleSpec
	built      map[string]router.Rule
	visiting   []string
	classifier Classifier
	routerOpts []router.RouterOption
	logger     zerolog.Logger
}

// Build turns a routers file into rules and routers. Rule references are
// resolved by name; unknown references and reference cycles are errors.
func Build(rf *config.RoutersFile, opts ...BuildOption) (*Set, error) {
	if rf == nil {
		return nil, fmt.Errorf("routers file is required")
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}

	b := &builder{
		specs:  make(map[string]config.RuleSpec, len(rf.Rules)),
		built:  make(map[string]router.Rule, len(rf.Rules)),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, spec := range rf.Rules {
		b.specs[spec.Name] = spec
	}

	for _, spec := range rf.Rules {
		if _, err := b.rule(spec.Name); err != nil {
			return nil, err
		}
	}

	set := &Set{Rules: b.built}
	for _, rs := range rf.Routers {
		top := make([]router.Rule, 0, len(rs.Rules))
		for _, name := range rs.Rules {
			top = append(top, b.built[config.RuleRefName(name)])
		}
		routerOpts := append([]router.RouterOption(nil), b.routerOpts...)
		if rs.MaxDepth > 0 {
			routerOpts = append(routerOpts, router.WithMaxDepth(rs.MaxDepth))
		}
		r, err := router.New(rs.Name, top, rs.Default, routerOpts...)
		if err != nil {
			return nil, err
		}
		set.Routers = append(set.Routers, r)
		b.logger.Debug().Str("router", rs.Name).Int("rules", len(top)).Msg("router built")
	}
	return set, nil
}

func (b *builder) rule(name string) (router.Rule, error) {
	if r, ok := b.built[name]; ok {
		return r, nil
	}
	for i, v := range b.visiting {
		if v == name {
			chain := append(append([]string(nil), b.visiting[i:]...), name)
			return nil, fmt.Errorf("rule reference cycle: %s", strings.Join(chain, " -> "))
		}
	}
	spec, ok := b.specs[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q", name)
	}

	b.visiting = append(b.visiting, name)
	r, err := b.construct(spec)
	b.visiting = b.visiting[:len(b.visiting)-1]
	if err != nil {
		return nil, err
	}
	b.built[name] = r
	return r, nil
}

func (b *builder) target(ref string) (router.Target, error) {
	switch {
	case ref == "":
		return router.Target{}, nil
	case config.IsRuleRef(ref):
		r, err := b.rule(config.RuleRefName(ref))
		if err != nil {
			return router.Target{}, err
		}
		return router.ToRule(r), nil
	default:
		return router.ToModel(ref), nil
	}
}

func (b *builder) targets(refs map[string]string) (map[string]router.Target, error) {
	out := make(map[string]router.Target, len(refs))
	for key, ref := range refs {
		t, err := b.target(ref)
		if err != nil {
			return nil, err
		}
		out[key] = t
	}
	return out, nil
}

func (b *builder) targetList(refs ...string) ([]router.Target, error) {
	out := make([]router.Target, len(refs))
	for i, ref := range refs {
		t, err := b.target(ref)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (b *builder) classifierFor(spec config.RuleSpec) (Classifier, error) {
	if b.classifier == nil {
		return nil, fmt.Errorf("rule %q: %s needs a classifier", spec.Name, spec.Type)
	}
	return withModel(b.classifier, spec.Model), nil
}

// normalizeType accepts both "message_length" and "MessageLengthRule".
func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSuffix(t, "Rule")) {
	case "task":
		return TypeTask
	case "code":
		return TypeCode
	case "code_language", "codelanguage":
		return TypeCodeLanguage
	case "natural_language", "naturallanguage":
		return TypeNaturalLanguage
	case "auto_task", "autotask":
		return TypeAutoTask
	case "message_length", "messagelength":
		return TypeMessageLength
	case "conversation_context", "conversationcontext":
		return TypeConversationContext
	case "expression":
		return TypeExpression
	}
	return ""
}

func (b *builder) construct(spec config.RuleSpec) (router.Rule, error) {
	switch normalizeType(spec.Type) {
	case TypeTask:
		triggers, err := b.targets(spec.Triggers)
		if err != nil {
			return nil, err
		}
		return NewTaskRule(spec.Name, triggers)

	case TypeCode:
		t, err := b.targetList(spec.Code, spec.NotCode)
		if err != nil {
			return nil, err
		}
		return NewCodeRule(spec.Name, t[0], t[1])

	case TypeCodeLanguage:
		languages, err := b.targets(spec.Triggers)
		if err != nil {
			return nil, err
		}
		fallback, err := b.target(spec.Fallback)
		if err != nil {
			return nil, err
		}
		var opts []CodeLanguageOption
		if spec.Classifier {
			c, err := b.classifierFor(spec)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithLanguageClassifier(c))
		}
		return NewCodeLanguageRule(spec.Name, languages, fallback, opts...)

	case TypeNaturalLanguage:
		languages, err := b.targets(spec.Triggers)
		if err != nil {
			return nil, err
		}
		fallback, err := b.target(spec.Fallback)
		if err != nil {
			return nil, err
		}
		c, err := b.classifierFor(spec)
		if err != nil {
			return nil, err
		}
		return NewNaturalLanguageRule(spec.Name, languages, fallback, c)

	case TypeAutoTask:
		tasks, err := b.targets(spec.Triggers)
		if err != nil {
			return nil, err
		}
		fallback, err := b.target(spec.Fallback)
		if err != nil {
			return nil, err
		}
		c, err := b.classifierFor(spec)
		if err != nil {
			return nil, err
		}
		return NewAutoTaskRule(spec.Name, tasks, fallback, c)

	case TypeMessageLength:
		t, err := b.targetList(spec.Short, spec.Medium, spec.Long)
		if err != nil {
			return nil, err
		}
		return NewMessageLengthRule(spec.Name, spec.ShortThreshold, spec.LongThreshold, t[0], t[1], t[2])

	case TypeConversationContext:
		t, err := b.targetList(spec.New, spec.Developing, spec.Deep)
		if err != nil {
			return nil, err
		}
		return NewConversationContextRule(spec.Name, spec.NewThreshold, spec.DeepThreshold, t[0], t[1], t[2])

	case TypeExpression:
		cases := make([]Case, 0, len(spec.Cases))
		for _, c := range spec.Cases {
			t, err := b.target(c.Target)
			if err != nil {
				return nil, err
			}
			cases = append(cases, Case{When: c.When, Target: t})
		}
		fallback, err := b.target(spec.Fallback)
		if err != nil {
			return nil, err
		}
		return NewExpressionRule(spec.Name, cases, fallback)
	}
	return nil, fmt.Errorf("rule %q: unknown type %q", spec.Name, spec.Type)
}
