package rules

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

func mustRouter(t *testing.T, name string, rules []router.Rule, def string) *router.Router {
	t.Helper()
	r, err := router.New(name, rules, def)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func TestTaskRouterScenario(t *testing.T) {
	tasks, err := NewTaskRule("tasks", map[string]router.Target{"debug": router.ToModel("claude")})
	if err != nil {
		t.Fatalf("new task rule: %v", err)
	}
	r := mustRouter(t, "R", []router.Rule{tasks}, "gpt-4o-mini")

	res, err := r.Resolve(context.Background(), &schema.Request{Task: "debug"})
	if err != nil {
		t.Fatalf("resolve debug: %v", err)
	}
	want := router.Explanation{{RuleType: TypeTask, RuleName: "tasks", Trigger: "debug", Decision: "claude"}}
	if res.Model != "claude" || !reflect.DeepEqual(res.Explanation, want) {
		t.Fatalf("unexpected resolution %+v", res)
	}

	res, err = r.Resolve(context.Background(), &schema.Request{Task: "chat"})
	if err != nil {
		t.Fatalf("resolve chat: %v", err)
	}
	want = router.Explanation{
		{RuleType: TypeTask, RuleName: "tasks", Trigger: "chat", Decision: router.LabelNoMatch},
		{RuleType: router.DefaultRuleType, RuleName: "R", Decision: router.LabelDefault},
	}
	if res.Model != "gpt-4o-mini" || !reflect.DeepEqual(res.Explanation, want) {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestCodeThenLengthScenario(t *testing.T) {
	length, err := NewMessageLengthRule("length", 100, 1000,
		router.ToModel("short_model"), router.ToModel("medium_model"), router.ToModel("long_model"))
	if err != nil {
		t.Fatalf("new length rule: %v", err)
	}
	code, err := NewCodeRule("code", router.ToModel("gptX"), router.ToRule(length))
	if err != nil {
		t.Fatalf("new code rule: %v", err)
	}
	r := mustRouter(t, "R", []router.Rule{code}, "gpt-4o-mini")

	msg := "Tell me a brief story about a dog and a cat please"
	if len([]rune(msg)) != 50 {
		t.Fatalf("fixture must be 50 characters, got %d", len([]rune(msg)))
	}

	res, err := r.Resolve(context.Background(), schema.NewRequest(msg))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := router.Explanation{
		{RuleType: TypeCode, RuleName: "code", Trigger: TriggerNoCodeDetected, Decision: router.LabelContinue},
		{RuleType: TypeMessageLength, RuleName: "length", Trigger: "short_message_50_chars", Decision: "short_model"},
	}
	if res.Model != "short_model" || !reflect.DeepEqual(res.Explanation, want) {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestTaskRule(t *testing.T) {
	rule, _ := NewTaskRule("tasks", map[string]router.Target{
		"debug":  router.ToModel("claude"),
		"ignore": {},
	})

	tests := []struct {
		name    string
		req     *schema.Request
		model   string
		trigger string
	}{
		{name: "no task", req: schema.NewRequest("hi"), trigger: ""},
		{name: "nil request", req: nil, trigger: ""},
		{name: "mapped", req: &schema.Request{Task: "debug"}, model: "claude", trigger: "debug"},
		{name: "unmapped", req: &schema.Request{Task: "chat"}, trigger: "chat"},
		{name: "mapped to nothing", req: &schema.Request{Task: "ignore"}, trigger: "ignore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := rule.Evaluate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if d.Model() != tt.model || d.Trigger() != tt.trigger {
				t.Fatalf("got %s", d)
			}
			if tt.model == "" && !d.IsNoMatch() {
				t.Fatalf("expected no match, got %s", d)
			}
		})
	}
}

func TestRuleConstructorsRequireName(t *testing.T) {
	if _, err := NewTaskRule("", nil); err == nil {
		t.Fatalf("expected error for task rule")
	}
	if _, err := NewCodeRule("", router.Target{}, router.Target{}); err == nil {
		t.Fatalf("expected error for code rule")
	}
	if _, err := NewExpressionRule("", nil, router.Target{}); err == nil {
		t.Fatalf("expected error for expression rule")
	}
}

func TestContainsCode(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "python",
			text: "def add(a, b):\n    return a + b\n\nif __name__ == \"__main__\":\n    print(add(1, 2))",
			want: true,
		},
		{
			name: "javascript",
			text: "function greet(name) {\n  const msg = `hi ${name}`;\n  console.log(msg);\n}",
			want: true,
		},
		{
			name: "sql",
			text: "SELECT id, email FROM users WHERE active = 1 ORDER BY id",
			want: true,
		},
		{
			name: "prose question",
			text: "Can you please explain the history of the Roman empire?",
			want: false,
		},
		{
			name: "greeting",
			text: "Hello, thanks for your help yesterday!",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsCode(tt.text); got != tt.want {
				t.Fatalf("ContainsCode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeRuleTriggers(t *testing.T) {
	rule, _ := NewCodeRule("code", router.ToModel("coder"), router.ToModel("chatter"))

	d, _ := rule.Evaluate(context.Background(), &schema.Request{})
	if d.Model() != "chatter" || d.Trigger() != TriggerNoContent {
		t.Fatalf("empty request: got %s", d)
	}

	d, _ = rule.Evaluate(context.Background(), schema.NewRequest("package main\n\nfunc main() {\n\tx := 1\n}"))
	if d.Model() != "coder" || d.Trigger() != TriggerCodeDetected {
		t.Fatalf("code: got %s", d)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "python",
			text: "def add(a, b):\n    return a + b\n\nif __name__ == \"__main__\":\n    print(add(1, 2))",
			want: "python",
		},
		{
			name: "go",
			text: "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tx := 1\n\tfmt.Println(x)\n}",
			want: "go",
		},
		{
			name: "sql",
			text: "SELECT name, email FROM users WHERE id = 42 ORDER BY name",
			want: "sql",
		},
		{
			name: "html",
			text: "<!DOCTYPE html>\n<html>\n<body>\n<div class=\"x\">hi</div>\n</body>\n</html>",
			want: "html",
		},
		{
			name: "rust",
			text: "fn main() {\n    let x = 5;\n    println!(\"{}\", x);\n}",
			want: "rust",
		},
		{
			name: "prose",
			text: "hello there, how are you today?",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.text); got != tt.want {
				t.Fatalf("DetectLanguage = %q, want %q (scores %v)", got, tt.want, LanguageScores(tt.text))
			}
		})
	}
}

func TestCodeLanguageRule(t *testing.T) {
	goSrc := "package main\n\nfunc main() {\n\tx := 1\n\tfmt.Println(x)\n}"
	elixir := "defmodule Greeter do\n  def hello, do: IO.puts(\"hi\")\nend"

	var asked []string
	classifier := ClassifierFunc(func(_ context.Context, kind Kind, _ string, labels []string) (string, error) {
		if kind != KindCodeLanguage {
			t.Errorf("unexpected kind %s", kind)
		}
		asked = labels
		return "elixir", nil
	})

	rule, err := NewCodeLanguageRule("lang", map[string]router.Target{
		"go":     router.ToModel("go-model"),
		"elixir": router.ToModel("beam-model"),
	}, router.ToModel("generic"), WithLanguageClassifier(classifier))
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	d, _ := rule.Evaluate(context.Background(), schema.NewRequest(goSrc))
	if d.Model() != "go-model" || d.Trigger() != "go" {
		t.Fatalf("go source: got %s", d)
	}
	if asked != nil {
		t.Fatalf("classifier must not run when patterns matched")
	}

	d, _ = rule.Evaluate(context.Background(), schema.NewRequest(elixir))
	if d.Model() != "beam-model" || d.Trigger() != "elixir" {
		t.Fatalf("elixir source: got %s", d)
	}
	if !reflect.DeepEqual(asked, []string{"elixir"}) {
		t.Fatalf("classifier should only see unpatterned languages, got %v", asked)
	}

	d, _ = rule.Evaluate(context.Background(), &schema.Request{})
	if d.Model() != "generic" || d.Trigger() != TriggerNoContent {
		t.Fatalf("empty: got %s", d)
	}
}

func TestCodeLanguageRuleWithoutClassifier(t *testing.T) {
	rule, _ := NewCodeLanguageRule("lang", map[string]router.Target{"java": router.ToModel("jvm")}, router.Target{})
	d, err := rule.Evaluate(context.Background(), schema.NewRequest("package main\n\nfunc main() {\n\tx := 1\n}"))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.IsNoMatch() || d.Trigger() != TriggerNoLanguageDetected {
		t.Fatalf("expected abstain with no_language_detected, got %s", d)
	}
}

func TestNaturalLanguageRule(t *testing.T) {
	answer := "fr"
	var answerErr error
	classifier := ClassifierFunc(func(_ context.Context, kind Kind, _ string, labels []string) (string, error) {
		if kind != KindNaturalLanguage || !reflect.DeepEqual(labels, []string{"es", "fr"}) {
			t.Errorf("unexpected call %s %v", kind, labels)
		}
		return answer, answerErr
	})

	rule, err := NewNaturalLanguageRule("nl", map[string]router.Target{
		"fr": router.ToModel("mistral"),
		"es": router.ToModel("es-model"),
	}, router.ToModel("default-model"), classifier)
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	d, _ := rule.Evaluate(context.Background(), schema.NewRequest("Bonjour tout le monde"))
	if d.Model() != "mistral" || d.Trigger() != "fr" {
		t.Fatalf("got %s", d)
	}

	answer = ""
	d, _ = rule.Evaluate(context.Background(), schema.NewRequest("???"))
	if d.Model() != "default-model" || d.Trigger() != TriggerNoLanguageDetected {
		t.Fatalf("got %s", d)
	}

	answerErr = errors.New("upstream down")
	if _, err := rule.Evaluate(context.Background(), schema.NewRequest("hola")); err == nil {
		t.Fatalf("expected classifier error to surface")
	}

	if _, err := NewNaturalLanguageRule("nl", nil, router.Target{}, nil); err == nil {
		t.Fatalf("expected error without classifier")
	}
}

func TestAutoTaskRuleFailureSurfacesThroughRouter(t *testing.T) {
	boom := errors.New("classifier offline")
	rule, _ := NewAutoTaskRule("auto", map[string]router.Target{"summarize": router.ToModel("m")}, router.Target{},
		ClassifierFunc(func(context.Context, Kind, string, []string) (string, error) { return "", boom }))
	r := mustRouter(t, "R", []router.Rule{rule}, "fallback")

	_, err := r.Resolve(context.Background(), schema.NewRequest("sum this up"))
	if !errors.Is(err, router.ErrRuleEvaluation) || !errors.Is(err, boom) {
		t.Fatalf("expected rule evaluation failure wrapping cause, got %v", err)
	}
	var ruleErr *router.RuleError
	if !errors.As(err, &ruleErr) || ruleErr.RuleType != TypeAutoTask || ruleErr.RuleName != "auto" {
		t.Fatalf("expected RuleError for auto, got %v", err)
	}
}

func TestAutoTaskRule(t *testing.T) {
	rule, _ := NewAutoTaskRule("auto", map[string]router.Target{"summarize": router.ToModel("sum-model")},
		router.ToModel("general"),
		ClassifierFunc(func(_ context.Context, _ Kind, text string, _ []string) (string, error) {
			if text == "tl;dr this" {
				return "summarize", nil
			}
			return "", nil
		}))

	d, _ := rule.Evaluate(context.Background(), schema.NewRequest("tl;dr this"))
	if d.Model() != "sum-model" || d.Trigger() != "summarize" {
		t.Fatalf("got %s", d)
	}
	d, _ = rule.Evaluate(context.Background(), schema.NewRequest("write a poem"))
	if d.Model() != "general" || d.Trigger() != TriggerNoTaskDetected {
		t.Fatalf("got %s", d)
	}
	d, _ = rule.Evaluate(context.Background(), &schema.Request{})
	if d.Model() != "general" || d.Trigger() != TriggerNoContent {
		t.Fatalf("got %s", d)
	}
}

func TestMessageLengthRule(t *testing.T) {
	rule, err := NewMessageLengthRule("len", 5, 10,
		router.ToModel("s"), router.ToModel("m"), router.ToModel("l"))
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	tests := []struct {
		name    string
		req     *schema.Request
		model   string
		trigger string
	}{
		{name: "empty", req: &schema.Request{}, model: "s", trigger: "short_message_0_chars"},
		{name: "short", req: schema.NewRequest("abcd"), model: "s", trigger: "short_message_4_chars"},
		{name: "medium boundary", req: schema.NewRequest("abcde"), model: "m", trigger: "medium_message_5_chars"},
		{name: "long boundary", req: schema.NewRequest("abcdefghij"), model: "l", trigger: "long_message_10_chars"},
		{name: "runes not bytes", req: schema.NewRequest("héllo"), model: "m", trigger: "medium_message_5_chars"},
		{
			name: "only user messages",
			req: &schema.Request{Messages: []schema.Message{
				{Role: schema.RoleSystem, Content: "a very long system prompt"},
				{Role: schema.RoleUser, Content: "hi"},
			}},
			model:   "s",
			trigger: "short_message_2_chars",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := rule.Evaluate(context.Background(), tt.req)
			if d.Model() != tt.model || d.Trigger() != tt.trigger {
				t.Fatalf("got %s", d)
			}
		})
	}
}

func TestMessageLengthRuleValidation(t *testing.T) {
	for _, th := range [][2]int{{10, 10}, {20, 10}, {-1, 10}} {
		if _, err := NewMessageLengthRule("len", th[0], th[1], router.Target{}, router.Target{}, router.Target{}); err == nil {
			t.Fatalf("expected error for thresholds %v", th)
		}
	}
}

func TestConversationContextRule(t *testing.T) {
	rule, err := NewConversationContextRule("ctx", 2, 4,
		router.ToModel("fresh"), router.ToModel("mid"), router.ToModel("long-context"))
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	convo := func(contents ...string) *schema.Request {
		req := &schema.Request{}
		for i, c := range contents {
			role := schema.RoleUser
			if i%2 == 1 {
				role = schema.RoleAssistant
			}
			req.Messages = append(req.Messages, schema.Message{Role: role, Content: c})
		}
		return req
	}

	tests := []struct {
		name    string
		req     *schema.Request
		stage   string
		model   string
		trigger string
	}{
		{name: "new", req: convo("hello"), stage: StageNew, model: "fresh", trigger: "new_conversation_1_messages_5_chars"},
		{name: "developing", req: convo("hi", "yo", "ok"), stage: StageDeveloping, model: "mid", trigger: "developing_conversation_3_messages_6_chars"},
		{name: "deep", req: convo("a", "b", "c", "d"), stage: StageDeep, model: "long-context", trigger: "deep_conversation_4_messages_4_chars"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rule.Stage(tt.req); got != tt.stage {
				t.Fatalf("stage = %s, want %s", got, tt.stage)
			}
			d, _ := rule.Evaluate(context.Background(), tt.req)
			if d.Model() != tt.model || d.Trigger() != tt.trigger {
				t.Fatalf("got %s", d)
			}
		})
	}

	var decoded schema.Request
	body := `{"messages": [
		{"role": "user", "content": "hello"},
		{"role": "assistant", "content": null},
		{"role": "user", "content": [{"type": "text", "text": "see attached"}]},
		{"role": "user", "content": "ok"}
	]}`
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	d, _ := rule.Evaluate(context.Background(), &decoded)
	if d.Model() != "mid" || d.Trigger() != "developing_conversation_2_messages_7_chars" {
		t.Fatalf("only string content should count, got %s", d)
	}

	if _, err := NewConversationContextRule("ctx", 0, 4, router.Target{}, router.Target{}, router.Target{}); err == nil {
		t.Fatalf("expected error for zero threshold")
	}
	if _, err := NewConversationContextRule("ctx", 4, 4, router.Target{}, router.Target{}, router.Target{}); err == nil {
		t.Fatalf("expected error for equal thresholds")
	}
}

func TestExpressionRule(t *testing.T) {
	rule, err := NewExpressionRule("expr", []Case{
		{When: `task == "debug" && message_count > 1`, Target: router.ToModel("debugger")},
		{When: `"tier" in extra && extra.tier == "pro"`, Target: router.ToModel("premium")},
		{When: `user_text.contains("urgent")`, Target: router.ToModel("fast")},
	}, router.Target{})
	if err != nil {
		t.Fatalf("new rule: %v", err)
	}

	twoMessages := &schema.Request{Task: "debug", Messages: []schema.Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}}
	tests := []struct {
		name  string
		req   *schema.Request
		model string
	}{
		{name: "task and count", req: twoMessages, model: "debugger"},
		{name: "extra field", req: &schema.Request{Extra: map[string]any{"tier": "pro"}}, model: "premium"},
		{name: "user text", req: schema.NewRequest("this is urgent"), model: "fast"},
		{name: "nothing", req: schema.NewRequest("calm"), model: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := rule.Evaluate(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if d.Model() != tt.model {
				t.Fatalf("got %s", d)
			}
		})
	}
}

func TestExpressionRuleErrors(t *testing.T) {
	if _, err := NewExpressionRule("expr", []Case{{When: "task ==", Target: router.ToModel("m")}}, router.Target{}); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := NewExpressionRule("expr", []Case{{When: "message_count + 1", Target: router.ToModel("m")}}, router.Target{}); err == nil {
		t.Fatalf("expected non-bool condition to be rejected")
	}

	rule, err := NewExpressionRule("expr", []Case{{When: "extra.flag", Target: router.ToModel("m")}}, router.Target{})
	if err != nil {
		t.Fatalf("dyn condition should compile: %v", err)
	}
	if _, err := rule.Evaluate(context.Background(), &schema.Request{Extra: map[string]any{"flag": "yes"}}); err == nil {
		t.Fatalf("expected non-boolean result error")
	}
	if _, err := rule.Evaluate(context.Background(), &schema.Request{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
