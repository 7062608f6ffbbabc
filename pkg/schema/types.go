package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles understood by rules and adapters.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// set when the decoded content was null, missing or an array of parts
	nonText bool
}

// HasTextContent reports whether the content arrived as a JSON string.
// Messages built in code always have text content.
func (m Message) HasTextContent() bool { return !m.nonText }

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts both a plain string content and the array-of-parts
// form. Only text parts are kept.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = ""
	m.nonText = true

	trimmed := strings.TrimSpace(string(raw.Content))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []contentPart
		if err := json.Unmarshal(raw.Content, &parts); err != nil {
			return fmt.Errorf("message content: %w", err)
		}
		var texts []string
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				texts = append(texts, part.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
		return nil
	}
	if err := json.Unmarshal(raw.Content, &m.Content); err != nil {
		return fmt.Errorf("message content: %w", err)
	}
	m.nonText = false
	return nil
}

// Request is the routing input. Fields other than messages, task and explain
// are kept verbatim in Extra.
type Request struct {
	Messages []Message      `json:"messages"`
	Task     string         `json:"task,omitempty"`
	Explain  bool           `json:"explain,omitempty"`
	Extra    map[string]any `json:"-"`
}

var knownFields = map[string]bool{"messages": true, "task": true, "explain": true}

// UnmarshalJSON decodes the typed fields and collects everything else in Extra.
func (r *Request) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = Request{}
	if raw, ok := fields["messages"]; ok {
		if err := json.Unmarshal(raw, &r.Messages); err != nil {
			return fmt.Errorf("messages: %w", err)
		}
	}
	if raw, ok := fields["task"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &r.Task); err != nil {
			return fmt.Errorf("task: %w", err)
		}
	}
	if raw, ok := fields["explain"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &r.Explain); err != nil {
			return fmt.Errorf("explain: %w", err)
		}
	}

	for key, raw := range fields {
		if knownFields[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if r.Extra == nil {
			r.Extra = make(map[string]any)
		}
		r.Extra[key] = v
	}
	return nil
}

// MarshalJSON flattens Extra back next to the typed fields.
func (r Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	messages := r.Messages
	if messages == nil {
		messages = []Message{}
	}
	out["messages"] = messages
	if r.Task != "" {
		out["task"] = r.Task
	}
	if r.Explain {
		out["explain"] = true
	}
	return json.Marshal(out)
}

// Field looks up a request field by its wire name.
func (r *Request) Field(name string) (any, bool) {
	if r == nil {
		return nil, false
	}
	switch name {
	case "messages":
		return r.Messages, true
	case "task":
		if r.Task == "" {
			return nil, false
		}
		return r.Task, true
	case "explain":
		return r.Explain, true
	}
	v, ok := r.Extra[name]
	return v, ok
}

// Text joins the content of every message with newlines.
func (r *Request) Text() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Messages))
	for _, m := range r.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// UserText joins the content of user messages. A message without a role
// counts as a user message.
func (r *Request) UserText() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, m := range r.Messages {
		if m.Role == "" || m.Role == RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// Clone returns a deep copy of the request's messages and a shallow copy of
// Extra.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := &Request{Task: r.Task, Explain: r.Explain}
	if r.Messages != nil {
		c.Messages = append([]Message(nil), r.Messages...)
	}
	if r.Extra != nil {
		c.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// NewRequest builds a request with a single user message.
func NewRequest(prompt string) *Request {
	return &Request{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
