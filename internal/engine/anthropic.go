package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	ChatModel string
}

// AnthropicEngine implements Completer over the Messages API. Anthropic has
// no embeddings endpoint, so it is never used as an Embedder.
type AnthropicEngine struct {
	client    *anthropic.Client
	chatModel string
}

func NewAnthropicEngine(cfg AnthropicConfig) *AnthropicEngine {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicEngine{client: &client, chatModel: cfg.ChatModel}
}

func (e *AnthropicEngine) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	var system []string
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			if m.ToolCall != nil {
				blocks := make([]anthropic.ContentBlockParamUnion, 0, 2)
				if m.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(m.Content))
				}
				args := json.RawMessage(m.ToolCall.Arguments)
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    m.ToolCall.ID,
						Name:  m.ToolCall.Name,
						Input: args,
					},
				})
				converted = append(converted, anthropic.NewAssistantMessage(blocks...))
				continue
			}
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(e.chatModel),
		MaxTokens: anthropicMaxTokens,
		Messages:  converted,
		Tools:     anthropicTools(tools),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var out Completion
	var text strings.Builder
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			if out.ToolCall != nil {
				continue
			}
			args, _ := b.Input.MarshalJSON()
			out.ToolCall = &ToolCall{ID: b.ID, Name: b.Name, Arguments: string(args)}
		}
	}
	out.Content = text.String()
	return out, nil
}

func anthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := t.JSONSchema()
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
					Required:   schema["required"].([]string),
				},
			},
		}
	}
	return out
}
