// Package agent runs the tool-calling loop that turns user messages and
// external events into model completions and gateway actions.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/engine"
	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/tools"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxDepth       = 10
	DefaultHistoryLimit   = 20
	DefaultInstructionTTL = time.Minute
)

// InstructionStore reads and records standing instructions.
type InstructionStore interface {
	AddInstruction(userID, text string) (storage.Instruction, error)
	ActiveInstructions(userID string) ([]storage.Instruction, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	InstructionStore
	AppendTurn(t storage.Turn) (storage.Turn, error)
	RecentTurns(userID string, limit int) ([]storage.Turn, error)
}

// Config bounds one orchestrator run.
type Config struct {
	MaxDepth       int // tool calls allowed per run
	HistoryLimit   int // persisted turns replayed into each prompt
	InstructionTTL time.Duration
}

// EventKind names the source of an external event.
type EventKind string

const (
	EventMail     EventKind = "mail"
	EventCalendar EventKind = "calendar"
)

// Event is an externally observed change handed to HandleExternalEvent.
// Exactly one of Mail and Calendar is set, matching Kind.
type Event struct {
	Kind     EventKind
	Mail     *gateway.MailMessage
	Calendar *gateway.CalendarEvent
}

// MailEvent wraps a received message.
func MailEvent(m gateway.MailMessage) Event {
	return Event{Kind: EventMail, Mail: &m}
}

// CalendarEvent wraps a newly seen calendar entry.
func CalendarEvent(e gateway.CalendarEvent) Event {
	return Event{Kind: EventCalendar, Calendar: &e}
}

// Orchestrator drives conversations between users, the model and the tools.
// It holds no per-call state; concurrent calls for any users are safe.
type Orchestrator struct {
	completer    engine.Completer
	store        Store
	deps         tools.Deps
	cfg          Config
	catalog      []engine.ToolSpec
	instructions *instructionCache
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an Orchestrator. deps.Tasks defaults to store when it
// implements tools.TaskStore.
func New(completer engine.Completer, store Store, deps tools.Deps, cfg Config) *Orchestrator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.InstructionTTL <= 0 {
		cfg.InstructionTTL = DefaultInstructionTTL
	}
	if deps.Tasks == nil {
		if ts, ok := store.(tools.TaskStore); ok {
			deps.Tasks = ts
		}
	}
	return &Orchestrator{
		completer:    completer,
		store:        store,
		deps:         deps,
		cfg:          cfg,
		catalog:      tools.Catalog(),
		instructions: newInstructionCache(store, cfg.InstructionTTL),
		logger:       slog.Default(),
		now:          time.Now,
	}
}

// HandleUserMessage answers one user message. The user turn, any standing
// instruction it carries and the final reply are persisted before it
// returns. Failures are reported in the reply text, which is persisted like
// any other answer.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, user storage.User, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return emptyReply
	}

	start := time.Now()
	reply, err := o.answer(ctx, user, text)
	outcome := "ok"
	if err != nil {
		o.logger.Error("handling user message", "user_id", user.ID, "error", err)
		reply = errorReply + err.Error()
		outcome = "error"
	}

	if _, err := o.store.AppendTurn(storage.Turn{UserID: user.ID, Role: storage.RoleAssistant, Content: reply}); err != nil {
		o.logger.Error("persisting assistant turn", "user_id", user.ID, "error", err)
	}
	o.deps.Metrics.RecordTurn("user", outcome, time.Since(start))
	return reply
}

func (o *Orchestrator) answer(ctx context.Context, user storage.User, text string) (string, error) {
	if _, err := o.store.AppendTurn(storage.Turn{UserID: user.ID, Role: storage.RoleUser, Content: text}); err != nil {
		return "", err
	}

	if IsStandingInstruction(text) {
		if _, err := o.store.AddInstruction(user.ID, text); err != nil {
			o.logger.Warn("saving standing instruction", "user_id", user.ID, "error", err)
		}
		o.instructions.invalidate(user.ID)
	}

	history, err := o.store.RecentTurns(user.ID, o.cfg.HistoryLimit)
	if err != nil {
		return "", err
	}
	instructions, err := o.instructions.active(user.ID)
	if err != nil {
		return "", err
	}

	conv := make([]engine.Message, 0, len(history)+1)
	conv = append(conv, engine.Message{Role: engine.RoleSystem, Content: systemPrompt(o.now(), instructions)})
	for _, t := range history {
		conv = append(conv, engine.Message{Role: engine.Role(t.Role), Content: t.Content})
	}

	return o.run(ctx, tools.Bind(o.deps, user), conv)
}

// HandleExternalEvent lets the model act on ev according to the user's
// standing instructions. Without active instructions the model is not
// called. Nothing is added to the user's conversation history; the reply is
// returned for logging only.
func (o *Orchestrator) HandleExternalEvent(ctx context.Context, user storage.User, ev Event) string {
	instructions, err := o.instructions.active(user.ID)
	if err != nil {
		o.logger.Error("loading standing instructions", "user_id", user.ID, "error", err)
		return ""
	}
	if len(instructions) == 0 {
		return ""
	}

	start := time.Now()
	conv := []engine.Message{
		{Role: engine.RoleSystem, Content: proactivePersona},
		{Role: engine.RoleUser, Content: eventPrompt(o.now(), ev, instructions)},
	}
	reply, err := o.run(ctx, tools.Bind(o.deps, user), conv)
	if err != nil {
		o.logger.Error("handling external event", "user_id", user.ID, "kind", ev.Kind, "error", err)
		o.deps.Metrics.RecordTurn(string(ev.Kind), "error", time.Since(start))
		return errorReply + err.Error()
	}

	o.logger.Debug("external event handled", "user_id", user.ID, "kind", ev.Kind, "reply", reply)
	o.deps.Metrics.RecordTurn(string(ev.Kind), "ok", time.Since(start))
	return reply
}

// Search renders knowledge base context for user. It returns "" when
// nothing was found or the search failed.
func (o *Orchestrator) Search(ctx context.Context, user storage.User, query string, limit int) string {
	if o.deps.Knowledge == nil {
		return ""
	}
	if limit <= 0 {
		limit = o.deps.SearchLimit
	}
	return o.deps.Knowledge.Search(ctx, user.ID, query, limit)
}

// InvalidateInstructions drops the cached instructions of userID, for
// callers that change instructions outside the orchestrator.
func (o *Orchestrator) InvalidateInstructions(userID string) {
	o.instructions.invalidate(userID)
}
