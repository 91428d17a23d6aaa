package engine

import "sort"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single function invocation requested by the model.
// Arguments holds the JSON object text exactly as the provider produced it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Message is one entry of a provider-neutral conversation. Assistant
// messages may carry a ToolCall; tool messages answer one via ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCall   *ToolCall
	ToolName   string
	ToolCallID string
}

// Param describes one argument of a tool.
type Param struct {
	Name        string
	Type        string // string, integer, number, boolean, array
	Description string
	Required    bool
}

// ToolSpec declares a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Param
}

// JSONSchema renders the parameters as a JSON schema object, the shape every
// supported provider accepts for function declarations.
func (t ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Type == "array" {
			prop["items"] = map[string]any{"type": "string"}
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Completion is the single candidate consumed from a provider response.
// ToolCall is nil when the model produced a final answer.
type Completion struct {
	Content  string
	ToolCall *ToolCall
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
