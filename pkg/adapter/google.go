package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withmartian/deimos-router/pkg/schema"
	"google.golang.org/genai"
)

// GoogleAdapter implements the Adapter interface for Gemini models.
type GoogleAdapter struct {
	client *genai.Client
}

// NewGoogleAdapter creates a new Google Gemini adapter.
func NewGoogleAdapter(apiKey string) (*GoogleAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleAdapter{
		client: client,
	}, nil
}

// Name returns the adapter identifier.
func (a *GoogleAdapter) Name() string {
	return "google"
}

// Models returns the list of supported Gemini models.
func (a *GoogleAdapter) Models() []string {
	return []string{
		"gemini-2.0-flash",
		"gemini-2.5-pro",
		"gemini-2.5-flash",
	}
}

// Complete sends the conversation to Gemini.
func (a *GoogleAdapter) Complete(ctx context.Context, req *Request) (*Response, error) {
	system, convo := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(convo))
	for _, m := range convo {
		role := genai.RoleUser
		if m.Role == schema.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.maxTokens()),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}

	resp, err := a.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &AdapterError{Provider: "google", Model: req.Model, Status: apiErr.Code, Err: fmt.Errorf("google API error: %w", err)}
		}
		return nil, fmt.Errorf("google API error: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("google returned no candidates")
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				content += part.Text
			}
		}
	}

	out := &Response{
		ID:           resp.ResponseID,
		Adapter:      a.Name(),
		Model:        req.Model,
		Content:      content,
		FinishReason: string(resp.Candidates[0].FinishReason),
		Created:      time.Now().UTC(),
	}
	if md := resp.UsageMetadata; md != nil {
		usage := Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}.Normalize()
		out.Usage = &usage
	}
	return out, nil
}
