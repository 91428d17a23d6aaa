package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aide/internal/storage"
)

// MCPDeps is what the MCP tools need. They share the Assistant with the
// REST API.
type MCPDeps struct {
	Store     *storage.Store
	Assistant Assistant
}

// NewMCPServer exposes ask, search_knowledge_base and list_tasks over MCP.
// Every tool acts for the user named by its user_id argument.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer("aide", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("aide: an assistant with access to a user's mail, calendar and CRM."),
		server.WithRecovery(),
	)
	userArg := mcp.WithString("user_id", mcp.Description("Id of the acting user"), mcp.Required())
	t := mcpTools{deps}

	s.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Send a message to the assistant on behalf of a user and return its reply. The assistant may act on the user's mail, calendar and CRM."),
		userArg,
		mcp.WithString("message", mcp.Description("The message to send"), mcp.Required()),
	), t.forUser(t.ask))

	s.AddTool(mcp.NewTool("search_knowledge_base",
		mcp.WithDescription("Search a user's indexed emails and CRM contacts."),
		userArg,
		mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum results per section (default 5, at most 50)")),
	), t.forUser(t.search))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List the tasks the assistant has recorded for a user."),
		userArg,
	), t.forUser(t.listTasks))

	return s
}

type mcpTools struct {
	MCPDeps
}

type userToolFunc func(context.Context, mcp.CallToolRequest, storage.User) *mcp.CallToolResult

// forUser resolves the user_id argument before calling fn. Failures become
// tool errors rather than protocol errors so the client sees the message.
func (t mcpTools) forUser(fn userToolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("user_id")
		if err != nil || id == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		u, err := t.Store.GetUser(id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcp.NewToolResultError(fmt.Sprintf("user %q not found", id)), nil
		case err != nil:
			return mcp.NewToolResultError(fmt.Sprintf("failed to load user: %v", err)), nil
		}
		return fn(ctx, req, u), nil
	}
}

func (t mcpTools) ask(ctx context.Context, req mcp.CallToolRequest, u storage.User) *mcp.CallToolResult {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message is required")
	}
	return mcp.NewToolResultText(t.Assistant.HandleUserMessage(ctx, u, message))
}

func (t mcpTools) search(ctx context.Context, req mcp.CallToolRequest, u storage.User) *mcp.CallToolResult {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required")
	}
	limit := req.GetInt("limit", 5)
	if limit <= 0 {
		limit = 5
	}
	if found := t.Assistant.Search(ctx, u, query, min(limit, 50)); found != "" {
		return mcp.NewToolResultText(found)
	}
	return mcp.NewToolResultText("No relevant information found.")
}

func (t mcpTools) listTasks(_ context.Context, _ mcp.CallToolRequest, u storage.User) *mcp.CallToolResult {
	tasks, err := t.Store.ListTasks(u.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err))
	}
	b, err := json.Marshal(newTaskViews(tasks))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode tasks: %v", err))
	}
	return mcp.NewToolResultText(string(b))
}
