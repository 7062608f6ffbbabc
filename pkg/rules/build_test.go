package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/withmartian/deimos-router/pkg/config"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

const routersYAML = `
rules:
  - name: tasks
    type: task
    triggers:
      debug: claude-sonnet-4-20250514
      write: deimos/rules/code-check
  - name: code-check
    type: CodeRule
    code: gpt-4.1
    not_code: deimos/rules/length
  - name: length
    type: message_length
    short_threshold: 100
    long_threshold: 1000
    short: gpt-4o-mini
    medium: gpt-4o
    long: gemini-2.5-pro
  - name: language
    type: natural_language
    triggers:
      fr: mistral-large
    fallback: deimos/rules/length
  - name: tiers
    type: expression
    cases:
      - when: 'extra.tier == "pro"'
        target: o3
routers:
  - name: default
    rules: [tasks, tiers]
    default: gpt-4o-mini
  - name: polyglot
    rules: [deimos/rules/language]
    default: gpt-4o-mini
    max_depth: 3
`

func parse(t *testing.T, data string) *config.RoutersFile {
	t.Helper()
	rf, err := config.ParseRouters([]byte(data), "yaml")
	require.NoError(t, err)
	return rf
}

func TestBuild(t *testing.T) {
	var asked []Kind
	classifier := ClassifierFunc(func(_ context.Context, kind Kind, text string, _ []string) (string, error) {
		asked = append(asked, kind)
		if text == "Bonjour" {
			return "fr", nil
		}
		return "", nil
	})

	set, err := Build(parse(t, routersYAML), WithClassifier(classifier))
	require.NoError(t, err)
	require.Len(t, set.Routers, 2)
	assert.Len(t, set.Rules, 5)
	assert.Nil(t, set.Router("missing"))

	def := set.Router("default")
	require.NotNil(t, def)

	res, err := def.Resolve(context.Background(), &schema.Request{
		Task:     "write",
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "a haiku about autumn leaves"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, router.Explanation{
		{RuleType: TypeTask, RuleName: "tasks", Trigger: "write", Decision: router.LabelContinue},
		{RuleType: TypeCode, RuleName: "code-check", Trigger: TriggerNoCodeDetected, Decision: router.LabelContinue},
		{RuleType: TypeMessageLength, RuleName: "length", Trigger: "short_message_27_chars", Decision: "gpt-4o-mini"},
	}, res.Explanation)

	res, err = def.Resolve(context.Background(), &schema.Request{Extra: map[string]any{"tier": "pro"}})
	require.NoError(t, err)
	assert.Equal(t, "o3", res.Model)
	assert.Len(t, res.Explanation, 2)

	poly := set.Router("polyglot")
	require.NotNil(t, poly)
	assert.Equal(t, 3, poly.MaxDepth())

	res, err = poly.Resolve(context.Background(), schema.NewRequest("Bonjour"))
	require.NoError(t, err)
	assert.Equal(t, "mistral-large", res.Model)

	res, err = poly.Resolve(context.Background(), schema.NewRequest("Hi"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, TypeMessageLength, res.Explanation[1].RuleType)
	assert.Equal(t, []Kind{KindNaturalLanguage, KindNaturalLanguage}, asked)
}

func TestBuildRuleIndex(t *testing.T) {
	set, err := Build(parse(t, routersYAML), WithClassifier(ClassifierFunc(
		func(context.Context, Kind, string, []string) (string, error) { return "", nil })))
	require.NoError(t, err)

	length, ok := set.Rules["length"].(*MessageLengthRule)
	require.True(t, ok)
	short, long := length.Thresholds()
	assert.Equal(t, 100, short)
	assert.Equal(t, 1000, long)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    *config.RoutersFile
		wantErr string
	}{
		{
			name: "reference cycle",
			file: &config.RoutersFile{Rules: []config.RuleSpec{
				{Name: "a", Type: "code", Code: "deimos/rules/b", NotCode: "m"},
				{Name: "b", Type: "code", Code: "m", NotCode: "deimos/rules/a"},
			}},
			wantErr: "rule reference cycle: a -> b -> a",
		},
		{
			name:    "self reference",
			file:    &config.RoutersFile{Rules: []config.RuleSpec{{Name: "a", Type: "task", Triggers: map[string]string{"x": "deimos/rules/a"}}}},
			wantErr: "rule reference cycle: a -> a",
		},
		{
			name:    "unknown type",
			file:    &config.RoutersFile{Rules: []config.RuleSpec{{Name: "a", Type: "vibes"}}},
			wantErr: `unknown type "vibes"`,
		},
		{
			name:    "classifier missing",
			file:    &config.RoutersFile{Rules: []config.RuleSpec{{Name: "a", Type: "auto_task", Triggers: map[string]string{"x": "m"}}}},
			wantErr: "needs a classifier",
		},
		{
			name: "bad thresholds",
			file: &config.RoutersFile{Rules: []config.RuleSpec{
				{Name: "a", Type: "message_length", ShortThreshold: 10, LongThreshold: 5},
			}},
			wantErr: "short threshold must be less than long threshold",
		},
		{
			name: "bad expression",
			file: &config.RoutersFile{Rules: []config.RuleSpec{
				{Name: "a", Type: "expression", Cases: []config.CaseSpec{{When: "task ==", Target: "m"}}},
			}},
			wantErr: "CEL compile error",
		},
		{
			name: "unknown reference",
			file: &config.RoutersFile{Rules: []config.RuleSpec{
				{Name: "a", Type: "code", Code: "deimos/rules/ghost"},
			}},
			wantErr: "unknown rule reference",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Build(nil)
	assert.Error(t, err)
}

func TestNormalizeType(t *testing.T) {
	tests := map[string]string{
		"task":                    TypeTask,
		"TaskRule":                TypeTask,
		"code_language":           TypeCodeLanguage,
		"CodeLanguageRule":        TypeCodeLanguage,
		"ConversationContextRule": TypeConversationContext,
		"conversation_context":    TypeConversationContext,
		"expression":              TypeExpression,
		"nonsense":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeType(in), in)
	}
}
