package adapter

import (
	"context"
	"fmt"

	"github.com/withmartian/deimos-router/pkg/schema"
)

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// Adapter defines the interface for LLM provider adapters.
type Adapter interface {
	// Complete sends a chat conversation to the model.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// Request is a provider-neutral chat completion request.
type Request struct {
	Model       string
	Messages    []schema.Message
	MaxTokens   int
	Temperature *float64
}

func (r *Request) maxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// splitSystem separates system messages, which most providers take out of
// band, from the conversation.
func splitSystem(messages []schema.Message) (string, []schema.Message) {
	var system string
	convo := make([]schema.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == schema.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		convo = append(convo, m)
	}
	return system, convo
}

// Prompt sends a single user prompt and returns the text of the reply.
func Prompt(ctx context.Context, a Adapter, model, prompt string, maxTokens int) (string, error) {
	if a == nil {
		return "", fmt.Errorf("no adapter configured")
	}
	resp, err := a.Complete(ctx, &Request{
		Model:     model,
		Messages:  []schema.Message{{Role: schema.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("%s returned empty response", a.Name())
	}
	return resp.Content, nil
}
