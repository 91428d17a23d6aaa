// Package tools declares the functions the agent may call and dispatches
// model tool calls to the action gateway on behalf of one user.
package tools

import (
	"context"

	"github.com/kalambet/aide/internal/engine"
)

// Tool names.
const (
	SearchKnowledgeBase = "search_knowledge_base"
	FetchRecentItems    = "fetch_recent_items"
	GetUpcomingEvents   = "get_upcoming_events"
	SendMessage         = "send_message"
	ReplyToMessage      = "reply_to_message"
	GetAvailableTimes   = "get_available_times"
	CreateCalendarEvent = "create_calendar_event"
	SearchContact       = "search_contact"
	CreateContact       = "create_contact"
	AddNote             = "add_note"
	CreateTask          = "create_task"
)

const (
	defaultRecentItems    = 10
	defaultUpcomingEvents = 10
)

// tool binds a declaration to its handler. action completes the sentence
// "Error <action>: ..." when the handler fails.
type tool struct {
	spec   engine.ToolSpec
	action string
	run    func(d *Dispatcher, ctx context.Context, a Args) (string, error)
}

var catalog = []tool{
	{
		spec: engine.ToolSpec{
			Name:        SearchKnowledgeBase,
			Description: "Search through the user's emails and CRM contacts for relevant information",
			Params: []engine.Param{
				{Name: "query", Type: "string", Description: "What to look for, in natural language", Required: true},
			},
		},
		action: "searching",
		run:    (*Dispatcher).searchKnowledgeBase,
	},
	{
		spec: engine.ToolSpec{
			Name:        FetchRecentItems,
			Description: "Fetch the most recent emails in the user's mailbox",
			Params: []engine.Param{
				{Name: "max_results", Type: "integer", Description: "How many messages to return (default 10)"},
			},
		},
		action: "fetching emails",
		run:    (*Dispatcher).fetchRecentItems,
	},
	{
		spec: engine.ToolSpec{
			Name:        GetUpcomingEvents,
			Description: "List the next events on the user's calendar",
			Params: []engine.Param{
				{Name: "max_results", Type: "integer", Description: "How many events to return (default 10)"},
			},
		},
		action: "fetching events",
		run:    (*Dispatcher).getUpcomingEvents,
	},
	{
		spec: engine.ToolSpec{
			Name:        SendMessage,
			Description: "Send an email to a recipient",
			Params: []engine.Param{
				{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
				{Name: "subject", Type: "string", Description: "Subject line", Required: true},
				{Name: "body", Type: "string", Description: "Plain text body", Required: true},
			},
		},
		action: "sending email",
		run:    (*Dispatcher).sendMessage,
	},
	{
		spec: engine.ToolSpec{
			Name:        ReplyToMessage,
			Description: "Reply to an existing email in its thread",
			Params: []engine.Param{
				{Name: "message_id", Type: "string", Description: "ID of the message being answered", Required: true},
				{Name: "thread_id", Type: "string", Description: "ID of the thread the message belongs to", Required: true},
				{Name: "body", Type: "string", Description: "Plain text body of the reply", Required: true},
			},
		},
		action: "replying",
		run:    (*Dispatcher).replyToMessage,
	},
	{
		spec: engine.ToolSpec{
			Name:        GetAvailableTimes,
			Description: "Get free 30-minute slots during working hours (09:00-17:00) between two times",
			Params: []engine.Param{
				{Name: "start", Type: "string", Description: "Range start, ISO 8601 date-time", Required: true},
				{Name: "end", Type: "string", Description: "Range end, ISO 8601 date-time", Required: true},
			},
		},
		action: "getting availability",
		run:    (*Dispatcher).getAvailableTimes,
	},
	{
		spec: engine.ToolSpec{
			Name:        CreateCalendarEvent,
			Description: "Create a new calendar event and invite attendees",
			Params: []engine.Param{
				{Name: "title", Type: "string", Description: "Event title", Required: true},
				{Name: "description", Type: "string", Description: "Event description"},
				{Name: "start", Type: "string", Description: "Start, ISO 8601 date-time", Required: true},
				{Name: "end", Type: "string", Description: "End, ISO 8601 date-time", Required: true},
				{Name: "attendees", Type: "array", Description: "Attendee email addresses"},
			},
		},
		action: "creating event",
		run:    (*Dispatcher).createCalendarEvent,
	},
	{
		spec: engine.ToolSpec{
			Name:        SearchContact,
			Description: "Look up a CRM contact by email address",
			Params: []engine.Param{
				{Name: "email", Type: "string", Description: "Contact email address", Required: true},
			},
		},
		action: "searching contact",
		run:    (*Dispatcher).searchContact,
	},
	{
		spec: engine.ToolSpec{
			Name:        CreateContact,
			Description: "Create a new CRM contact",
			Params: []engine.Param{
				{Name: "email", Type: "string", Description: "Contact email address", Required: true},
				{Name: "firstname", Type: "string", Description: "First name"},
				{Name: "lastname", Type: "string", Description: "Last name"},
				{Name: "phone", Type: "string", Description: "Phone number"},
				{Name: "company", Type: "string", Description: "Company name"},
			},
		},
		action: "creating contact",
		run:    (*Dispatcher).createContact,
	},
	{
		spec: engine.ToolSpec{
			Name:        AddNote,
			Description: "Add a note to a CRM contact",
			Params: []engine.Param{
				{Name: "contact_id", Type: "string", Description: "CRM contact ID", Required: true},
				{Name: "note", Type: "string", Description: "Note text", Required: true},
			},
		},
		action: "adding note",
		run:    (*Dispatcher).addNote,
	},
	{
		spec: engine.ToolSpec{
			Name:        CreateTask,
			Description: "Create a task for work that has to wait for external input",
			Params: []engine.Param{
				{Name: "type", Type: "string", Description: "Task category, e.g. follow_up", Required: true},
				{Name: "description", Type: "string", Description: "What needs to be done", Required: true},
				{Name: "context", Type: "string", Description: "Background needed to resume the work", Required: true},
			},
		},
		action: "creating task",
		run:    (*Dispatcher).createTask,
	},
}

var byName = func() map[string]tool {
	m := make(map[string]tool, len(catalog))
	for _, t := range catalog {
		m[t.spec.Name] = t
	}
	return m
}()

// Catalog returns the declarations of every tool, in a stable order.
func Catalog() []engine.ToolSpec {
	specs := make([]engine.ToolSpec, len(catalog))
	for i, t := range catalog {
		specs[i] = t.spec
	}
	return specs
}
