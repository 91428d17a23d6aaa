package engine

import (
	"context"
	"fmt"
	"time"
)

// Completer turns a conversation plus a tool catalog into one completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ModelManager is implemented by local backends that host their own models.
type ModelManager interface {
	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Bounded wraps c so that every call is cut off after d.
// A zero or negative d returns c unchanged.
func Bounded(c Completer, d time.Duration) Completer {
	if d <= 0 {
		return c
	}
	return &boundedCompleter{next: c, timeout: d}
}

type boundedCompleter struct {
	next    Completer
	timeout time.Duration
}

func (b *boundedCompleter) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	c, err := b.next.Complete(ctx, messages, tools)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Completion{}, fmt.Errorf("completion timed out after %s: %w", b.timeout, err)
	}
	return c, err
}
