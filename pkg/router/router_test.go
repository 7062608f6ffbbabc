package router

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/withmartian/deimos-router/pkg/schema"
)

// stubRule returns a fixed decision and counts evaluations.
type stubRule struct {
	name     string
	decision Decision
	err      error
	mu       sync.Mutex
	calls    int
}

func (s *stubRule) Name() string { return s.name }

func (s *stubRule) Type() string { return "StubRule" }

func (s *stubRule) Evaluate(_ context.Context, _ *schema.Request) (Decision, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.decision, s.err
}

// linkRule delegates to whatever next points at when evaluated.
type linkRule struct {
	name string
	next *Rule
}

func (l *linkRule) Name() string { return l.name }

func (l *linkRule) Type() string { return "LinkRule" }

func (l *linkRule) Evaluate(_ context.Context, _ *schema.Request) (Decision, error) {
	return DelegateTo(*l.next, "link"), nil
}

func mustRouter(t *testing.T, name string, rules []Rule, def string, opts ...RouterOption) *Router {
	t.Helper()
	r, err := New(name, rules, def, opts...)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func TestResolve_FirstMatchWins(t *testing.T) {
	r1 := &stubRule{name: "r1", decision: NoMatch("nope")}
	r2 := &stubRule{name: "r2", decision: UseModel("model-b", "hit")}
	r3 := &stubRule{name: "r3", decision: UseModel("model-c", "hit")}
	r := mustRouter(t, "R", []Rule{r1, r2, r3}, "fallback")

	res, err := r.Resolve(context.Background(), schema.NewRequest("hi"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "model-b" {
		t.Fatalf("expected model-b, got %s", res.Model)
	}
	want := Explanation{
		{RuleType: "StubRule", RuleName: "r1", Trigger: "nope", Decision: LabelNoMatch},
		{RuleType: "StubRule", RuleName: "r2", Trigger: "hit", Decision: "model-b"},
	}
	if !reflect.DeepEqual(res.Explanation, want) {
		t.Fatalf("unexpected trail:\n got %+v\nwant %+v", res.Explanation, want)
	}
	if r3.calls != 0 {
		t.Fatalf("rule after the match must not be evaluated")
	}
}

func TestResolve_DefaultWhenNothingMatches(t *testing.T) {
	r := mustRouter(t, "R", []Rule{
		&stubRule{name: "a", decision: NoMatch("")},
		&stubRule{name: "b", decision: NoMatch("x")},
	}, "gpt-4o-mini")

	res, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %s", res.Model)
	}
	last, _ := res.Explanation.Last()
	want := ExplanationEntry{RuleType: DefaultRuleType, RuleName: "R", Decision: LabelDefault}
	if last != want {
		t.Fatalf("unexpected default entry: %+v", last)
	}
	if len(res.Explanation) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Explanation))
	}
}

func TestResolve_NoRules(t *testing.T) {
	r := mustRouter(t, "empty", nil, "d")
	res, err := r.Resolve(context.Background(), schema.NewRequest(""))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "d" || len(res.Explanation) != 1 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolve_LinearDelegateChain(t *testing.T) {
	b := &stubRule{name: "B", decision: UseModel("m", "b-trigger")}
	a := &stubRule{name: "A", decision: DelegateTo(b, "a-trigger")}
	r := mustRouter(t, "R", []Rule{a}, "d")

	res, err := r.Resolve(context.Background(), schema.NewRequest("x"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Explanation{
		{RuleType: "StubRule", RuleName: "A", Trigger: "a-trigger", Decision: LabelContinue},
		{RuleType: "StubRule", RuleName: "B", Trigger: "b-trigger", Decision: "m"},
	}
	if res.Model != "m" || !reflect.DeepEqual(res.Explanation, want) {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolve_DelegateNoMatchReturnsToTopLevel(t *testing.T) {
	sibling := &stubRule{name: "sibling", decision: UseModel("never", "")}
	inner := &stubRule{name: "inner", decision: NoMatch("inner-miss")}
	first := &stubRule{name: "first", decision: DelegateTo(inner, "go-inner")}
	second := &stubRule{name: "second", decision: UseModel("second-model", "ok")}
	r := mustRouter(t, "R", []Rule{first, second}, "d")

	res, err := r.Resolve(context.Background(), schema.NewRequest("x"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "second-model" {
		t.Fatalf("expected second-model, got %s", res.Model)
	}
	labels := []string{}
	for _, e := range res.Explanation {
		labels = append(labels, e.RuleName+":"+e.Decision)
	}
	want := []string{"first:continue", "inner:no_match", "second:second-model"}
	if !reflect.DeepEqual(labels, want) {
		t.Fatalf("unexpected trail %v", labels)
	}
	if sibling.calls != 0 {
		t.Fatalf("sibling must not be evaluated")
	}
}

func TestResolve_SharedSubRuleIsNotACycle(t *testing.T) {
	shared := &stubRule{name: "S", decision: NoMatch("miss")}
	a := &stubRule{name: "A", decision: DelegateTo(shared, "to-s")}
	b := &stubRule{name: "B", decision: DelegateTo(shared, "to-s")}
	r := mustRouter(t, "R", []Rule{a, b}, "fallback-model")

	res, err := r.Resolve(context.Background(), schema.NewRequest("x"))
	if err != nil {
		t.Fatalf("a sub-rule reached from two top-level rules must resolve: %v", err)
	}
	if res.Model != "fallback-model" {
		t.Fatalf("expected default model, got %s", res.Model)
	}
	labels := []string{}
	for _, e := range res.Explanation {
		labels = append(labels, e.RuleName+":"+e.Decision)
	}
	want := []string{"A:continue", "S:no_match", "B:continue", "S:no_match", "R:" + LabelDefault}
	if !reflect.DeepEqual(labels, want) {
		t.Fatalf("unexpected trail %v", labels)
	}
	if shared.calls != 2 {
		t.Fatalf("expected S evaluated once per chain, got %d", shared.calls)
	}
}

func TestResolve_CycleDetected(t *testing.T) {
	var aRef, bRef Rule
	a := &linkRule{name: "A", next: &bRef}
	b := &linkRule{name: "B", next: &aRef}
	aRef, bRef = a, b

	r := mustRouter(t, "R", []Rule{a}, "d")
	res, err := r.Resolve(context.Background(), schema.NewRequest("x"))
	if res != nil {
		t.Fatalf("expected no resolution")
	}
	if !errors.Is(err, ErrRoutingCycle) {
		t.Fatalf("expected ErrRoutingCycle, got %v", err)
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %T", err)
	}
	if resErr.Router != "R" || resErr.Rule != "B" {
		t.Fatalf("unexpected error context: %+v", resErr)
	}
	if len(resErr.Explanation) != 2 {
		t.Fatalf("expected partial trail of 2, got %d", len(resErr.Explanation))
	}
}

func TestResolve_SelfDelegationIsCycle(t *testing.T) {
	var self Rule
	a := &linkRule{name: "A", next: &self}
	self = a
	r := mustRouter(t, "R", []Rule{a}, "d")
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrRoutingCycle) {
		t.Fatalf("expected ErrRoutingCycle, got %v", err)
	}
}

func TestResolve_CycleByNameAcrossInstances(t *testing.T) {
	// Two distinct instances sharing a name count as the same rule.
	tail := &stubRule{name: "A", decision: UseModel("m", "")}
	head := &stubRule{name: "A", decision: DelegateTo(tail, "")}
	r := mustRouter(t, "R", []Rule{head}, "d")
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrRoutingCycle) {
		t.Fatalf("expected ErrRoutingCycle, got %v", err)
	}
}

// chain builds a delegate chain with the given number of delegations that
// ends in a model.
func chain(delegations int) Rule {
	var next Rule = &stubRule{name: fmt.Sprintf("r%d", delegations), decision: UseModel("deep-model", "end")}
	for i := delegations - 1; i >= 0; i-- {
		next = &stubRule{name: fmt.Sprintf("r%d", i), decision: DelegateTo(next, "")}
	}
	return next
}

func TestResolve_DepthLimit(t *testing.T) {
	const maxDepth = 5

	r := mustRouter(t, "R", []Rule{chain(maxDepth)}, "d", WithMaxDepth(maxDepth))
	res, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("chain of exactly max depth should resolve: %v", err)
	}
	if res.Model != "deep-model" || len(res.Explanation) != maxDepth+1 {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	r = mustRouter(t, "R", []Rule{chain(maxDepth + 1)}, "d", WithMaxDepth(maxDepth))
	_, err = r.Resolve(context.Background(), nil)
	if !errors.Is(err, ErrRoutingDepthExceeded) {
		t.Fatalf("expected ErrRoutingDepthExceeded, got %v", err)
	}
	if errors.Is(err, ErrRoutingCycle) {
		t.Fatalf("depth failure must not look like a cycle")
	}
}

func TestResolve_DefaultMaxDepth(t *testing.T) {
	r := mustRouter(t, "R", []Rule{chain(DefaultMaxDepth)}, "d")
	if _, err := r.Resolve(context.Background(), nil); err != nil {
		t.Fatalf("default depth chain: %v", err)
	}
	r = mustRouter(t, "R", []Rule{chain(DefaultMaxDepth + 1)}, "d")
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrRoutingDepthExceeded) {
		t.Fatalf("expected ErrRoutingDepthExceeded, got %v", err)
	}
}

func TestResolve_RuleFailureIsSurfaced(t *testing.T) {
	broken := &stubRule{name: "llm", err: errors.New("classifier unreachable")}
	after := &stubRule{name: "after", decision: UseModel("x", "")}
	r := mustRouter(t, "R", []Rule{broken, after}, "d")

	res, err := r.Resolve(context.Background(), nil)
	if res != nil {
		t.Fatalf("must not fall back to default on rule failure")
	}
	if !errors.Is(err, ErrRuleEvaluation) {
		t.Fatalf("expected ErrRuleEvaluation, got %v", err)
	}
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected RuleError in chain")
	}
	if ruleErr.RuleName != "llm" || ruleErr.RuleType != "StubRule" {
		t.Fatalf("unexpected rule context: %+v", ruleErr)
	}
	if after.calls != 0 {
		t.Fatalf("resolution must abort on failure")
	}
	if Kind(err) != "rule_evaluation_failed" {
		t.Fatalf("unexpected kind %q", Kind(err))
	}
}

func TestResolve_Deterministic(t *testing.T) {
	inner := &stubRule{name: "inner", decision: UseModel("m", "t")}
	r := mustRouter(t, "R", []Rule{
		&stubRule{name: "a", decision: NoMatch("")},
		&stubRule{name: "b", decision: DelegateTo(inner, "go")},
	}, "d")

	req := schema.NewRequest("same input")
	first, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolutions differ: %+v vs %+v", first, second)
	}
}

func TestResolve_ConcurrentResolutionsAreIndependent(t *testing.T) {
	inner := &stubRule{name: "inner", decision: UseModel("m", "")}
	r := mustRouter(t, "R", []Rule{
		&stubRule{name: "a", decision: NoMatch("")},
		&stubRule{name: "b", decision: DelegateTo(inner, "")},
	}, "d")

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), schema.NewRequest("x"))
			if err != nil {
				errs <- err
				return
			}
			if len(res.Explanation) != 3 {
				errs <- fmt.Errorf("trail length %d", len(res.Explanation))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

type recordingObserver struct {
	models []string
	errs   []error
}

func (o *recordingObserver) ObserveResolution(_ string, model string, _ Explanation, err error) {
	o.models = append(o.models, model)
	o.errs = append(o.errs, err)
}

func TestResolve_ObserverSeesEveryOutcome(t *testing.T) {
	obs := &recordingObserver{}
	ok := mustRouter(t, "ok", []Rule{&stubRule{name: "a", decision: UseModel("m", "")}}, "d", WithObserver(obs))
	bad := mustRouter(t, "bad", []Rule{&stubRule{name: "a", err: errors.New("boom")}}, "d", WithObserver(obs))

	_, _ = ok.Resolve(context.Background(), nil)
	_, _ = bad.Resolve(context.Background(), nil)

	if len(obs.models) != 2 || obs.models[0] != "m" || obs.errs[1] == nil {
		t.Fatalf("unexpected observations: %+v %+v", obs.models, obs.errs)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", nil, "d"); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := New("r", nil, ""); err == nil {
		t.Fatalf("expected error for empty default")
	}
	if _, err := New("r", []Rule{nil}, "d"); err == nil {
		t.Fatalf("expected error for nil rule")
	}
}

func TestNew_CopiesRules(t *testing.T) {
	rules := []Rule{&stubRule{name: "a", decision: UseModel("m", "")}}
	r := mustRouter(t, "R", rules, "d")
	rules[0] = &stubRule{name: "b", decision: UseModel("other", "")}

	model, err := r.SelectModel(context.Background(), nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if model != "m" {
		t.Fatalf("router must not observe caller mutation, got %s", model)
	}
}
