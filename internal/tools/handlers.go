package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/gateway"
)

// slotLength is the granularity of get_available_times.
const slotLength = 30 * time.Minute

// Working hours searched for free slots, in the range's own time zone.
const (
	dayStartHour = 9
	dayEndHour   = 17
)

const slotLayout = "2006-01-02T15:04"

func (d *Dispatcher) searchKnowledgeBase(ctx context.Context, a Args) (string, error) {
	out := d.deps.Knowledge.Search(ctx, d.user.ID, a.String("query"), d.deps.SearchLimit)
	if out == "" {
		return "No relevant information found.", nil
	}
	return out, nil
}

func (d *Dispatcher) fetchRecentItems(ctx context.Context, a Args) (string, error) {
	mail, err := d.deps.Connector.Mail(d.user)
	if err != nil {
		return "", err
	}
	msgs, err := mail.List(ctx, "", a.Int("max_results", defaultRecentItems))
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "No messages found", nil
	}

	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "ID: %s\nThread: %s\nFrom: %s\nSubject: %s\nDate: %s\nSnippet: %s\n\n",
			m.ID, m.ThreadID, m.From, m.Subject, m.Date.Format(time.RFC3339), m.Snippet)
	}
	return b.String(), nil
}

func (d *Dispatcher) getUpcomingEvents(ctx context.Context, a Args) (string, error) {
	cal, err := d.deps.Connector.Calendar(d.user)
	if err != nil {
		return "", err
	}
	events, err := cal.Upcoming(ctx, a.Int("max_results", defaultUpcomingEvents))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "No upcoming events", nil
	}

	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "ID: %s\nTitle: %s\nStart: %s\nEnd: %s\nAttendees: %s\n\n",
			e.ID, e.Summary, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), strings.Join(e.Attendees, ", "))
	}
	return b.String(), nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, a Args) (string, error) {
	mail, err := d.deps.Connector.Mail(d.user)
	if err != nil {
		return "", err
	}
	to := a.String("to")
	if err := mail.Send(ctx, to, a.String("subject"), a.String("body")); err != nil {
		return "", err
	}
	return "Email sent successfully to " + to, nil
}

func (d *Dispatcher) replyToMessage(ctx context.Context, a Args) (string, error) {
	mail, err := d.deps.Connector.Mail(d.user)
	if err != nil {
		return "", err
	}
	if err := mail.Reply(ctx, a.String("message_id"), a.String("thread_id"), a.String("body")); err != nil {
		return "", err
	}
	return "Reply sent successfully", nil
}

func (d *Dispatcher) getAvailableTimes(ctx context.Context, a Args) (string, error) {
	start, err := ParseTime(a.String("start"))
	if err != nil {
		return "", err
	}
	end, err := ParseTime(a.String("end"))
	if err != nil {
		return "", err
	}
	if !end.After(start) {
		return "", fmt.Errorf("end %s is not after start %s", a.String("end"), a.String("start"))
	}

	cal, err := d.deps.Connector.Calendar(d.user)
	if err != nil {
		return "", err
	}
	busy, err := cal.Between(ctx, start, end)
	if err != nil {
		return "", err
	}

	slots := FreeSlots(start, end, busy)
	if len(slots) == 0 {
		return "No available times in that range", nil
	}
	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = s.Format(slotLayout)
	}
	return "Available times:\n" + strings.Join(lines, "\n"), nil
}

// FreeSlots returns the starts of the slotLength slots in [start, end) that
// fall within working hours and overlap none of the busy events.
func FreeSlots(start, end time.Time, busy []gateway.CalendarEvent) []time.Time {
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(slotLength) {
		slotEnd := t.Add(slotLength)
		if t.Hour() < dayStartHour || slotEnd.After(time.Date(t.Year(), t.Month(), t.Day(), dayEndHour, 0, 0, 0, t.Location())) {
			continue
		}
		free := true
		for _, e := range busy {
			if t.Before(e.End) && slotEnd.After(e.Start) {
				free = false
				break
			}
		}
		if free {
			out = append(out, t)
		}
	}
	return out
}

func (d *Dispatcher) createCalendarEvent(ctx context.Context, a Args) (string, error) {
	start, err := ParseTime(a.String("start"))
	if err != nil {
		return "", err
	}
	end, err := ParseTime(a.String("end"))
	if err != nil {
		return "", err
	}

	cal, err := d.deps.Connector.Calendar(d.user)
	if err != nil {
		return "", err
	}
	ev, err := cal.Create(ctx, gateway.EventInput{
		Title:       a.String("title"),
		Description: a.String("description"),
		Start:       start,
		End:         end,
		Attendees:   a.Strings("attendees"),
	})
	if err != nil {
		return "", err
	}
	return "Calendar event created: " + ev.HTMLLink, nil
}

func (d *Dispatcher) searchContact(ctx context.Context, a Args) (string, error) {
	crm, err := d.deps.Connector.CRM(d.user)
	if err != nil {
		return "", err
	}
	c, err := crm.FindContact(ctx, a.String("email"))
	if err != nil {
		return "", err
	}
	if c == nil {
		return "Contact not found", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding contact: %w", err)
	}
	return string(b), nil
}

func (d *Dispatcher) createContact(ctx context.Context, a Args) (string, error) {
	email := strings.TrimSpace(a.String("email"))
	if d.user.Email != "" && strings.EqualFold(email, d.user.Email) {
		return fmt.Sprintf("Cannot create a contact for your own email address (%s).", email), nil
	}

	crm, err := d.deps.Connector.CRM(d.user)
	if err != nil {
		return "", err
	}
	c, err := crm.CreateContact(ctx, gateway.ContactInput{
		Email:     email,
		FirstName: a.String("firstname"),
		LastName:  a.String("lastname"),
		Phone:     a.String("phone"),
		Company:   a.String("company"),
	})
	if err != nil {
		return "", err
	}

	d.sendWelcome(ctx, email, a.String("firstname"))
	return "Contact created with ID: " + c.ID, nil
}

// sendWelcome emails a new contact. Failures are logged only; the contact
// already exists at this point.
func (d *Dispatcher) sendWelcome(ctx context.Context, to, firstName string) {
	mail, err := d.deps.Connector.Mail(d.user)
	if err == nil {
		err = mail.Send(ctx, to, "Thanks for connecting", welcomeBody(firstName, d.user.Name))
	}
	if err != nil {
		d.logger.Warn("welcome email not sent", "to", to, "error", err)
	}
}

func welcomeBody(firstName, sender string) string {
	if firstName == "" {
		firstName = "there"
	}
	if sender == "" {
		sender = "your advisor"
	}
	return fmt.Sprintf("Hi %s,\n\nThank you for getting in touch. I have added your details to my contacts and look forward to working with you.\n\nBest regards,\n%s", firstName, sender)
}

func (d *Dispatcher) addNote(ctx context.Context, a Args) (string, error) {
	crm, err := d.deps.Connector.CRM(d.user)
	if err != nil {
		return "", err
	}
	if err := crm.AddNote(ctx, a.String("contact_id"), a.String("note")); err != nil {
		return "", err
	}
	return "Note added successfully", nil
}

func (d *Dispatcher) createTask(_ context.Context, a Args) (string, error) {
	task, err := d.deps.Tasks.CreateTask(d.user.ID, a.String("type"), a.String("description"), a.String("context"))
	if err != nil {
		return "", err
	}
	return "Task created with ID: " + task.ID, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	time.DateOnly,
}

// ParseTime reads the date-time formats models commonly produce. Values
// without an offset are taken in the local time zone.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
