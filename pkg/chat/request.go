package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/withmartian/deimos-router/pkg/adapter"
	"github.com/withmartian/deimos-router/pkg/router"
	"github.com/withmartian/deimos-router/pkg/schema"
)

// ModelPrefix marks a model that names a router: "deimos/<router>".
const ModelPrefix = "deimos/"

// RouterName returns the router named by model, if any.
func RouterName(model string) (string, bool) {
	if !strings.HasPrefix(model, ModelPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(model, ModelPrefix)
	return name, name != ""
}

// Request is an OpenAI-style chat completion request. Task and Explain are
// routing parameters and are never forwarded to the provider; other unknown
// fields travel in Extra and are visible to rules.
type Request struct {
	Model       string           `json:"model"`
	Messages    []schema.Message `json:"messages"`
	Task        string           `json:"task,omitempty"`
	Explain     bool             `json:"explain,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	Extra       map[string]any   `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the rest in Extra.
func (r *Request) UnmarshalJSON(data []byte) error {
	var base schema.Request
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	*r = Request{Messages: base.Messages, Task: base.Task, Explain: base.Explain}

	extra := base.Extra
	if v, ok := extra["model"]; ok {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("model: expected string")
		}
		r.Model = s
		delete(extra, "model")
	}
	if v, ok := extra["max_tokens"]; ok {
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("max_tokens: expected number")
		}
		r.MaxTokens = int(n)
		delete(extra, "max_tokens")
	}
	if v, ok := extra["temperature"]; ok {
		if v != nil {
			t, ok := v.(float64)
			if !ok {
				return fmt.Errorf("temperature: expected number")
			}
			r.Temperature = &t
		}
		delete(extra, "temperature")
	}
	if len(extra) > 0 {
		r.Extra = extra
	}
	return nil
}

// Validate checks the fields every call needs.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("request is required")
	}
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages are required")
	}
	return nil
}

// routing returns the request rules evaluate.
func (r *Request) routing() *schema.Request {
	req := &schema.Request{Messages: r.Messages, Task: r.Task, Explain: r.Explain}
	if len(r.Extra) > 0 {
		req.Extra = make(map[string]any, len(r.Extra)+2)
		for k, v := range r.Extra {
			req.Extra[k] = v
		}
	}
	if r.MaxTokens > 0 || r.Temperature != nil {
		if req.Extra == nil {
			req.Extra = make(map[string]any, 2)
		}
		if r.MaxTokens > 0 {
			req.Extra["max_tokens"] = r.MaxTokens
		}
		if r.Temperature != nil {
			req.Extra["temperature"] = *r.Temperature
		}
	}
	return req
}

// forward returns the provider request for model.
func (r *Request) forward(model string) *adapter.Request {
	return &adapter.Request{
		Model:       model,
		Messages:    r.Messages,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
}

// Routing describes how a routed request was resolved.
type Routing struct {
	Router        string             `json:"router_used"`
	SelectedModel string             `json:"selected_model"`
	OriginalModel string             `json:"original_model_field,omitempty"`
	Explain       router.Explanation `json:"explain,omitempty"`
}

// Choice is one completion.
type Choice struct {
	Index        int            `json:"index"`
	Message      schema.Message `json:"message"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// Response is an OpenAI-style chat completion. Routing is set only for
// routed requests.
type Response struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	Created   int64          `json:"created"`
	Model     string         `json:"model"`
	Provider  string         `json:"provider,omitempty"`
	Choices   []Choice       `json:"choices"`
	Usage     *adapter.Usage `json:"usage,omitempty"`
	Cost      *adapter.Cost  `json:"cost,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Routing   *Routing       `json:"_deimos_metadata,omitempty"`
}

// Content returns the text of the first choice.
func (r *Response) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

func newResponse(resp *adapter.Response) *Response {
	out := &Response{
		ID:       resp.ID,
		Object:   "chat.completion",
		Created:  resp.Created.Unix(),
		Model:    resp.Model,
		Provider: resp.Adapter,
		Choices: []Choice{{
			Message:      schema.Message{Role: schema.RoleAssistant, Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	}
	return out
}
