package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/metrics"
	"github.com/kalambet/aide/internal/storage"
)

// MaxResultChars bounds the text a single tool call feeds back to the model.
const MaxResultChars = 8000

// TaskStore records deferred work.
type TaskStore interface {
	CreateTask(userID, taskType, description, taskContext string) (storage.Task, error)
}

// Searcher answers knowledge base queries. An empty result means nothing
// relevant was found or the search failed.
type Searcher interface {
	Search(ctx context.Context, owner, query string, limit int) string
}

// Deps are the collaborators shared by every Dispatcher.
type Deps struct {
	Tasks       TaskStore
	Knowledge   Searcher
	Connector   gateway.Connector
	SearchLimit int
	Timeout     time.Duration // per call; zero means unbounded
	Metrics     *metrics.Metrics
}

// Dispatcher executes tool calls for one user. It is created per agent run
// and never shared, so the acting user cannot leak between concurrent runs.
type Dispatcher struct {
	deps   Deps
	user   storage.User
	logger *slog.Logger
}

// Bind returns a Dispatcher acting as user.
func Bind(deps Deps, user storage.User) *Dispatcher {
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 5
	}
	return &Dispatcher{
		deps:   deps,
		user:   user,
		logger: slog.Default().With("user_id", user.ID),
	}
}

// User returns the acting user.
func (d *Dispatcher) User() storage.User {
	return d.user
}

// Dispatch runs the named tool with the JSON arguments the model produced.
// It always returns text for the model: failures are rendered as
// "Error <action>: <reason>" and unknown tools as "Unknown function: <name>".
func (d *Dispatcher) Dispatch(ctx context.Context, name, arguments string) string {
	t, ok := byName[name]
	if !ok {
		d.deps.Metrics.RecordToolCall("unknown", "unknown")
		return "Unknown function: " + name
	}

	raw, err := ParseArguments(arguments)
	if err != nil {
		d.deps.Metrics.RecordToolCall(name, "invalid")
		return fmt.Sprintf("Error executing function %s: %v", name, err)
	}
	args, err := Validate(t.spec, raw)
	if err != nil {
		d.deps.Metrics.RecordToolCall(name, "invalid")
		return fmt.Sprintf("Error %s: %v", t.action, err)
	}

	if d.deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.deps.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := t.run(d, ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", d.deps.Timeout)
		}
		d.logger.Warn("tool call failed", "tool", name, "duration", time.Since(start), "error", err)
		d.deps.Metrics.RecordToolCall(name, "error")
		return truncate(fmt.Sprintf("Error %s: %v", t.action, err))
	}

	d.logger.Debug("tool call finished", "tool", name, "duration", time.Since(start))
	d.deps.Metrics.RecordToolCall(name, "ok")
	return truncate(out)
}

func truncate(s string) string {
	if len(s) <= MaxResultChars {
		return s
	}
	cut := MaxResultChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
