package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aide/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store, *mockAssistant) {
	t.Helper()
	store := openTestStore(t)
	if err := store.UpsertUser(storage.User{ID: "u1", Email: "pat@example.com", Name: "Pat"}); err != nil {
		t.Fatal(err)
	}
	a := &mockAssistant{}
	return MCPDeps{Store: store, Assistant: a}, store, a
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

// tool wraps one mcpTools method the way NewMCPServer registers it.
func tool(deps MCPDeps, method func(mcpTools, context.Context, mcp.CallToolRequest, storage.User) *mcp.CallToolResult) server.ToolHandlerFunc {
	t := mcpTools{deps}
	return t.forUser(func(ctx context.Context, req mcp.CallToolRequest, u storage.User) *mcp.CallToolResult {
		return method(t, ctx, req, u)
	})
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps, _, a := newTestMCPDeps(t)
	a.replyFn = func(u storage.User, text string) string { return "reply to " + u.ID + ": " + text }

	result, err := tool(deps, mcpTools.ask)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"user_id": "u1",
		"message": "what's next?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "reply to u1: what's next?" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_Ask_UnknownUser(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	result, _ := tool(deps, mcpTools.ask)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"user_id": "ghost",
		"message": "hi",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_Ask_MissingArgs(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t)
	result, _ := tool(deps, mcpTools.ask)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"user_id": "u1"}))
	if !result.IsError || toolText(t, result) != "message is required" {
		t.Errorf("missing message: %+v", result)
	}
	result, _ = tool(deps, mcpTools.ask)(context.Background(), makeCallToolRequest("ask", map[string]interface{}{"message": "hi"}))
	if !result.IsError || toolText(t, result) != "user_id is required" {
		t.Errorf("missing user_id: %+v", result)
	}
}

func TestMCPTool_Search(t *testing.T) {
	deps, _, a := newTestMCPDeps(t)
	var gotLimit int
	a.searchFn = func(_ storage.User, q string, limit int) string {
		gotLimit = limit
		if q == "nothing" {
			return ""
		}
		return "=== Relevant Emails ===\n" + q
	}
	handler := tool(deps, mcpTools.search)

	result, _ := handler(context.Background(), makeCallToolRequest("search_knowledge_base", map[string]interface{}{
		"user_id": "u1", "query": "bonds", "limit": float64(500),
	}))
	if toolText(t, result) != "=== Relevant Emails ===\nbonds" || gotLimit != 50 {
		t.Errorf("text = %q limit = %d", toolText(t, result), gotLimit)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("search_knowledge_base", map[string]interface{}{
		"user_id": "u1", "query": "nothing",
	}))
	if toolText(t, result) != "No relevant information found." || gotLimit != 5 {
		t.Errorf("text = %q limit = %d", toolText(t, result), gotLimit)
	}
}

func TestMCPTool_ListTasks(t *testing.T) {
	deps, store, _ := newTestMCPDeps(t)
	if _, err := store.CreateTask("u1", "follow_up", "call client", "client requested callback"); err != nil {
		t.Fatal(err)
	}

	result, err := tool(deps, mcpTools.listTasks)(context.Background(), makeCallToolRequest("list_tasks", map[string]interface{}{"user_id": "u1"}))
	if err != nil || result.IsError {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	var tasks []taskView
	if err := json.Unmarshal([]byte(toolText(t, result)), &tasks); err != nil {
		t.Fatalf("parsing tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Description != "call client" {
		t.Errorf("tasks = %+v", tasks)
	}
}
