package agent

import (
	"context"
	"strings"

	"github.com/kalambet/aide/internal/engine"
	"github.com/kalambet/aide/internal/tools"
)

type state int

const (
	stateAwaitingModel state = iota
	stateToolRequested
	stateDone
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateToolRequested:
		return "tool_requested"
	case stateDone:
		return "done"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// run drives conv to a final answer. Each model completion either ends the
// run or requests one tool call, whose result is appended before the model
// is asked again. After cfg.MaxDepth tool calls the run ends with
// exhaustedReply without another completion.
//
// Tool failures arrive as text and never end the run. A completion error
// does, and is returned to the caller.
func (o *Orchestrator) run(ctx context.Context, d *tools.Dispatcher, conv []engine.Message) (string, error) {
	var (
		st      = stateAwaitingModel
		depth   int
		pending engine.Completion
		reply   string
	)

	for {
		switch st {
		case stateAwaitingModel:
			if depth >= o.cfg.MaxDepth {
				st = stateExhausted
				continue
			}
			c, err := o.completer.Complete(ctx, conv, o.catalog)
			if err != nil {
				return "", err
			}
			if c.ToolCall != nil && c.ToolCall.Name != "" {
				pending = c
				st = stateToolRequested
				continue
			}
			reply = c.Content
			if strings.TrimSpace(reply) == "" {
				reply = fallbackReply
			}
			st = stateDone

		case stateToolRequested:
			call := pending.ToolCall
			o.logger.Debug("tool requested", "user_id", d.User().ID, "tool", call.Name, "depth", depth)
			result := d.Dispatch(ctx, call.Name, call.Arguments)
			conv = append(conv,
				engine.Message{Role: engine.RoleAssistant, Content: pending.Content, ToolCall: call},
				engine.Message{Role: engine.RoleTool, Content: result, ToolName: call.Name, ToolCallID: call.ID},
			)
			depth++
			st = stateAwaitingModel

		case stateDone:
			return reply, nil

		case stateExhausted:
			o.logger.Warn("tool call limit reached", "user_id", d.User().ID, "limit", o.cfg.MaxDepth)
			return exhaustedReply, nil
		}
	}
}
