package rules

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// Conversation stages.
const (
	StageNew        = "new"
	StageDeveloping = "developing"
	StageDeep       = "deep"
)

// ConversationContextRule buckets requests by how far the conversation has
// progressed.
type ConversationContextRule struct {
	named
	newThreshold  int
	deepThreshold int
	targets       map[string]router.Target
}

// NewConversationContextRule creates a rule choosing newTarget below
// newThreshold messages, developing below deepThreshold and deep otherwise.
func NewConversationContextRule(name string, newThreshold, deepThreshold int, newTarget, developing, deep router.Target) (*ConversationContextRule, error) {
	n, err := newNamed(TypeConversationContext, name)
	if err != nil {
		return nil, err
	}
	if newThreshold < 1 || deepThreshold < 1 {
		return nil, fmt.Errorf("%s %s: thresholds must be positive", TypeConversationContext, name)
	}
	if newThreshold >= deepThreshold {
		return nil, fmt.Errorf("%s %s: new threshold must be less than deep threshold", TypeConversationContext, name)
	}
	return &ConversationContextRule{
		named:         n,
		newThreshold:  newThreshold,
		deepThreshold: deepThreshold,
		targets: map[string]router.Target{
			StageNew:        newTarget,
			StageDeveloping: developing,
			StageDeep:       deep,
		},
	}, nil
}

func (r *ConversationContextRule) Type() string { return TypeConversationContext }

// Thresholds returns the new and deep thresholds.
func (r *ConversationContextRule) Thresholds() (newThreshold, deepThreshold int) {
	return r.newThreshold, r.deepThreshold
}

// Stage returns the conversation stage of req.
func (r *ConversationContextRule) Stage(req *schema.Request) string {
	count, _ := conversationSize(req)
	return r.stage(count)
}

func (r *ConversationContextRule) stage(count int) string {
	switch {
	case count < r.newThreshold:
		return StageNew
	case count < r.deepThreshold:
		return StageDeveloping
	default:
		return StageDeep
	}
}

func (r *ConversationContextRule) Evaluate(_ context.Context, req *schema.Request) (router.Decision, error) {
	count, chars := conversationSize(req)
	stage := r.stage(count)
	trigger := fmt.Sprintf("%s_conversation_%d_messages_%d_chars", stage, count, chars)
	return r.targets[stage].Decide(trigger), nil
}

// conversationSize counts the messages with string content and their runes.
// Null and array-of-parts content are skipped.
func conversationSize(req *schema.Request) (messages, chars int) {
	if req == nil {
		return 0, 0
	}
	for _, m := range req.Messages {
		if !m.HasTextContent() {
			continue
		}
		messages++
		chars += utf8.RuneCountInString(m.Content)
	}
	return messages, chars
}
