package engine

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures OpenAIEngine. BaseURL may point at any
// OpenAI-compatible server; empty means the SDK default.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

// OpenAIEngine implements Completer over the Responses API and Embedder over
// the Embeddings API.
type OpenAIEngine struct {
	client     *openai.Client
	chatModel  string
	embedModel string
}

func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIEngine{
		client:     &client,
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
	}
}

func (e *OpenAIEngine) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(e.chatModel),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: openAIInput(messages),
		},
	}
	if len(tools) > 0 {
		params.Tools = openAITools(tools)
	}

	resp, err := e.client.Responses.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("openai responses: %w", err)
	}

	out := Completion{Content: resp.OutputText()}
	for _, item := range resp.Output {
		if item.Type == "function_call" {
			out.ToolCall = &ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments}
			break
		}
	}
	return out, nil
}

func openAIInput(messages []Message) responses.ResponseInputParam {
	input := make(responses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleSystem))
		case RoleUser:
			input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleUser))
		case RoleAssistant:
			if m.ToolCall != nil {
				input = append(input, responses.ResponseInputItemParamOfFunctionCall(m.ToolCall.Arguments, m.ToolCall.ID, m.ToolCall.Name))
				continue
			}
			input = append(input, responses.ResponseInputItemParamOfMessage(m.Content, responses.EasyInputMessageRoleAssistant))
		case RoleTool:
			input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(m.ToolCallID, m.Content))
		}
	}
	return input
}

func openAITools(tools []ToolSpec) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, len(tools))
	for i, t := range tools {
		out[i] = responses.ToolParamOfFunction(t.Name, t.JSONSchema(), false)
		if t.Description != "" {
			fn := out[i].OfFunction
			fn.Description = openai.String(t.Description)
			out[i].OfFunction = fn
		}
	}
	return out
}

func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty data array")
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, f := range src {
		vec[i] = float32(f)
	}
	return vec, nil
}
