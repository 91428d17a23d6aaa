package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/storage"
)

// Fixed replies.
const (
	exhaustedReply = "I've reached the maximum number of actions for this request. Please try breaking it into smaller tasks."
	fallbackReply  = "I've completed that action for you."
	emptyReply     = "Please tell me what you need help with."
	errorReply     = "I encountered an error processing your request: "
)

const assistantPersona = "You are an AI assistant for a financial advisor. You have access to their emails, calendar, and HubSpot CRM."

const guidance = "Always be helpful, proactive, and professional. " +
	"Search the knowledge base before answering questions about past emails or contacts. " +
	"When scheduling meetings, suggest multiple time options. " +
	"When creating contacts, gather all relevant information. " +
	"If something has to wait for someone else, create a task for it."

const proactivePersona = "You are a proactive AI assistant. Analyze the event and the standing instructions, " +
	"then take appropriate action if needed using the available functions. If no instruction applies, do nothing and say so briefly."

const timestampLayout = "2006-01-02T15:04:05"

// systemPrompt renders the system message for a user-initiated turn.
func systemPrompt(now time.Time, instructions []storage.Instruction) string {
	var b strings.Builder
	b.WriteString(assistantPersona)
	b.WriteString("\n\nCurrent date and time: ")
	b.WriteString(now.Format(timestampLayout))
	b.WriteString("\n\n")

	if len(instructions) > 0 {
		b.WriteString("ONGOING INSTRUCTIONS:\n")
		writeInstructions(&b, instructions)
		b.WriteString("\n")
	}

	b.WriteString(guidance)
	return b.String()
}

// eventPrompt renders the user message of a proactive run.
func eventPrompt(now time.Time, ev Event, instructions []storage.Instruction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date and time: %s\n\n", now.Format(timestampLayout))

	switch {
	case ev.Mail != nil:
		m := ev.Mail
		b.WriteString("New email received:\n")
		fmt.Fprintf(&b, "Message ID: %s\nThread ID: %s\n", m.ID, m.ThreadID)
		fmt.Fprintf(&b, "From: %s\nSubject: %s\nBody: %s\n\n", m.From, m.Subject, m.Body)
	case ev.Calendar != nil:
		e := ev.Calendar
		b.WriteString("New calendar event:\n")
		fmt.Fprintf(&b, "Event ID: %s\nTitle: %s\nStart: %s\nEnd: %s\n",
			e.ID, e.Summary, e.Start.Format(timestampLayout), e.End.Format(timestampLayout))
		fmt.Fprintf(&b, "Organizer: %s\nAttendees: %s\nDescription: %s\n\n",
			e.Organizer, strings.Join(e.Attendees, ", "), e.Description)
	}

	b.WriteString("Ongoing instructions:\n")
	writeInstructions(&b, instructions)
	b.WriteString("\nBased on these instructions, should you take any action? If yes, execute the appropriate functions.")
	return b.String()
}

func writeInstructions(b *strings.Builder, instructions []storage.Instruction) {
	for _, inst := range instructions {
		b.WriteString("- ")
		b.WriteString(inst.Text)
		b.WriteString("\n")
	}
}
