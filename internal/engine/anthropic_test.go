package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicEngine_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-sonnet-latest",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "tu_1", "name": "search_contact", "input": {"email": "jo@x.com"}}
			],
			"stop_reason": "tool_use", "usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer srv.Close()

	e := NewAnthropicEngine(AnthropicConfig{APIKey: "test", BaseURL: srv.URL, ChatModel: "claude-3-5-sonnet-latest"})
	msgs := []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "find jo"},
	}
	tools := []ToolSpec{{Name: "search_contact", Description: "Find a contact", Params: []Param{{Name: "email", Type: "string", Required: true}}}}

	c, err := e.Complete(context.Background(), msgs, tools)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Content != "Let me check." {
		t.Errorf("content = %q", c.Content)
	}
	if c.ToolCall == nil || c.ToolCall.ID != "tu_1" || c.ToolCall.Name != "search_contact" {
		t.Fatalf("tool call = %+v", c.ToolCall)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(c.ToolCall.Arguments), &args); err != nil || args["email"] != "jo@x.com" {
		t.Errorf("arguments = %q (%v)", c.ToolCall.Arguments, err)
	}

	if sys, _ := body["system"].([]any); len(sys) != 1 {
		t.Errorf("system = %v", body["system"])
	}
	if m, _ := body["messages"].([]any); len(m) != 1 {
		t.Errorf("messages = %v, want only the user turn", body["messages"])
	}
}
