package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// OpenAIAdapter implements the Adapter interface for OpenAI and any
// OpenAI-compatible endpoint.
type OpenAIAdapter struct {
	client openai.Client
	name   string
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	baseURL string
	name    string
}

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) {
		s.baseURL = url
	}
}

// WithName overrides the adapter identifier.
func WithName(name string) OpenAIOption {
	return func(s *openAISettings) {
		s.name = name
	}
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	settings := openAISettings{name: "openai"}
	for _, opt := range opts {
		opt(&settings)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(settings.baseURL))
	}

	client := openai.NewClient(reqOpts...)
	return &OpenAIAdapter{client: client, name: settings.name}, nil
}

// Name returns the adapter identifier.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

// Models returns the list of supported OpenAI models.
func (a *OpenAIAdapter) Models() []string {
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"gpt-4.1-mini",
		"gpt-3.5-turbo",
		"o3-mini",
	}
}

// Complete sends the conversation to OpenAI.
func (a *OpenAIAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case schema.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case schema.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(req.maxTokens())),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIError(err, req.Model)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}.Normalize()

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &Response{
		ID:           resp.ID,
		Adapter:      a.Name(),
		Model:        model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        &usage,
		Created:      time.Now().UTC(),
	}, nil
}

func wrapOpenAIError(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &AdapterError{Provider: "openai", Model: model, Status: apiErr.StatusCode, Err: fmt.Errorf("openai API error: %w", err)}
	}
	return fmt.Errorf("openai API error: %w", err)
}
