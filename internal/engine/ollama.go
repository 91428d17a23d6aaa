package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/aide/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to Completer, Embedder and
// ModelManager.
type OllamaEngine struct {
	client     *ollama.Client
	chatModel  string
	embedModel string
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL, chatModel, embedModel string) *OllamaEngine {
	return &OllamaEngine{
		client:     ollama.New(baseURL),
		chatModel:  chatModel,
		embedModel: embedModel,
	}
}

func (e *OllamaEngine) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	msgs := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		om := ollama.Message{Role: string(m.Role), Content: m.Content}
		switch {
		case m.Role == RoleAssistant && m.ToolCall != nil:
			args := json.RawMessage(m.ToolCall.Arguments)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			om.ToolCalls = []ollama.ToolCall{{Function: ollama.ToolCallFunction{Name: m.ToolCall.Name, Arguments: args}}}
		case m.Role == RoleTool:
			om.ToolName = m.ToolName
		}
		msgs = append(msgs, om)
	}

	defs := make([]ollama.Tool, len(tools))
	for i, t := range tools {
		defs[i] = ollama.Tool{
			Type: "function",
			Function: ollama.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		}
	}

	reply, err := e.client.Chat(ctx, e.chatModel, msgs, defs)
	if err != nil {
		return Completion{}, err
	}

	out := Completion{Content: reply.Content}
	if len(reply.ToolCalls) > 0 {
		fn := reply.ToolCalls[0].Function
		out.ToolCall = &ToolCall{
			// Ollama does not issue call ids; the name is enough to pair the result.
			ID:        fn.Name,
			Name:      fn.Name,
			Arguments: string(fn.Arguments),
		}
	}
	return out, nil
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.embedModel, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	return vec, nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
