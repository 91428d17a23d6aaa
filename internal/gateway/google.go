package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kalambet/aide/internal/storage"
)

// GoogleOptions overrides the Google API endpoints. Zero values select the
// public endpoints.
type GoogleOptions struct {
	GmailEndpoint    string
	CalendarEndpoint string
	HTTPClient       *http.Client
}

func (o GoogleOptions) clientOptions(token, endpoint string) []option.ClientOption {
	var opts []option.ClientOption
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		opts = append(opts, option.WithTokenSource(ts))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

// GoogleMail implements Mail on the Gmail API for one user.
type GoogleMail struct {
	svc  *gmail.Service
	self string
}

// NewGoogleMail creates a Gmail client authorised with the user's access token.
func NewGoogleMail(ctx context.Context, user storage.User, opts GoogleOptions) (*GoogleMail, error) {
	if !user.HasMailAccess() {
		return nil, fmt.Errorf("mail %w", ErrNotConfigured)
	}
	svc, err := gmail.NewService(ctx, opts.clientOptions(user.GoogleAccessToken, opts.GmailEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &GoogleMail{svc: svc, self: user.Email}, nil
}

func (g *GoogleMail) List(ctx context.Context, query string, max int) ([]MailMessage, error) {
	call := g.svc.Users.Messages.List("me").MaxResults(int64(max)).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, googleError("gmail", err)
	}

	out := make([]MailMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg, err := g.Get(ctx, m.Id)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (g *GoogleMail) Get(ctx context.Context, id string) (MailMessage, error) {
	m, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return MailMessage{}, googleError("gmail", err)
	}
	msg := convertMessage(m)

	for _, part := range attachmentParts(m.Payload) {
		if !strings.EqualFold(part.MimeType, "application/pdf") {
			msg.Attachments = append(msg.Attachments, Attachment{Filename: part.Filename, MimeType: part.MimeType})
			continue
		}
		body, err := g.svc.Users.Messages.Attachments.Get("me", id, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return MailMessage{}, googleError("gmail", err)
		}
		data, err := decodeBase64URL(body.Data)
		if err != nil {
			return MailMessage{}, fmt.Errorf("decoding attachment %s: %w", part.Filename, err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{Filename: part.Filename, MimeType: part.MimeType, Data: data})
	}
	return msg, nil
}

func (g *GoogleMail) Send(ctx context.Context, to, subject, body string) error {
	raw := rfc822(g.self, to, subject, body)
	_, err := g.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return googleError("gmail", err)
	}
	return nil
}

func (g *GoogleMail) Reply(ctx context.Context, messageID, threadID, body string) error {
	orig, err := g.svc.Users.Messages.Get("me", messageID).Format("metadata").
		MetadataHeaders("From", "Subject").Context(ctx).Do()
	if err != nil {
		return googleError("gmail", err)
	}
	_, to := SplitAddress(header(orig.Payload, "From"))
	subject := header(orig.Payload, "Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	raw := rfc822(g.self, to, subject, body)
	_, err = g.svc.Users.Messages.Send("me", &gmail.Message{Raw: raw, ThreadId: threadID}).Context(ctx).Do()
	if err != nil {
		return googleError("gmail", err)
	}
	return nil
}

func rfc822(from, to, subject, body string) string {
	msg := "From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n" +
		body
	return base64.URLEncoding.EncodeToString([]byte(msg))
}

func convertMessage(m *gmail.Message) MailMessage {
	msg := MailMessage{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Snippet:  m.Snippet,
	}
	if m.InternalDate > 0 {
		msg.Date = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload != nil {
		msg.From = header(m.Payload, "From")
		msg.To = header(m.Payload, "To")
		msg.Subject = header(m.Payload, "Subject")
		msg.Body = extractBody(m.Payload)
	}
	return msg
}

func header(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// extractBody prefers the top-level body, then the first text/plain part,
// then the first text/html part converted to text. Nested multiparts are
// searched depth first.
func extractBody(p *gmail.MessagePart) string {
	if p.Body != nil && p.Body.Data != "" && p.Filename == "" {
		if text, ok := decodePart(p); ok {
			return text
		}
	}
	if part := findPart(p, "text/plain"); part != nil {
		if text, ok := decodePart(part); ok {
			return text
		}
	}
	if part := findPart(p, "text/html"); part != nil {
		if text, ok := decodePart(part); ok {
			return text
		}
	}
	return ""
}

func decodePart(p *gmail.MessagePart) (string, bool) {
	data, err := decodeBase64URL(p.Body.Data)
	if err != nil {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(p.MimeType), "text/html") {
		return HTMLToText(string(data)), true
	}
	return string(data), true
}

func findPart(p *gmail.MessagePart, mimeType string) *gmail.MessagePart {
	for _, part := range p.Parts {
		if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
			return part
		}
		if found := findPart(part, mimeType); found != nil {
			return found
		}
	}
	return nil
}

func attachmentParts(p *gmail.MessagePart) []*gmail.MessagePart {
	if p == nil {
		return nil
	}
	var out []*gmail.MessagePart
	for _, part := range p.Parts {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			out = append(out, part)
		}
		out = append(out, attachmentParts(part)...)
	}
	return out
}

// decodeBase64URL accepts both padded and unpadded base64url, which Gmail
// mixes across endpoints.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// GoogleCalendar implements Calendar on the Google Calendar API for one user.
type GoogleCalendar struct {
	svc *calendar.Service
}

// NewGoogleCalendar creates a Calendar client authorised with the user's access token.
func NewGoogleCalendar(ctx context.Context, user storage.User, opts GoogleOptions) (*GoogleCalendar, error) {
	if !user.HasCalendarAccess() {
		return nil, fmt.Errorf("calendar %w", ErrNotConfigured)
	}
	svc, err := calendar.NewService(ctx, opts.clientOptions(user.GoogleAccessToken, opts.CalendarEndpoint)...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return &GoogleCalendar{svc: svc}, nil
}

func (g *GoogleCalendar) Upcoming(ctx context.Context, max int) ([]CalendarEvent, error) {
	resp, err := g.svc.Events.List("primary").
		TimeMin(time.Now().Format(time.RFC3339)).
		MaxResults(int64(max)).
		OrderBy("startTime").
		SingleEvents(true).
		Context(ctx).Do()
	if err != nil {
		return nil, googleError("calendar", err)
	}
	return convertEvents(resp.Items), nil
}

func (g *GoogleCalendar) Between(ctx context.Context, start, end time.Time) ([]CalendarEvent, error) {
	resp, err := g.svc.Events.List("primary").
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		SingleEvents(true).
		Context(ctx).Do()
	if err != nil {
		return nil, googleError("calendar", err)
	}
	return convertEvents(resp.Items), nil
}

func (g *GoogleCalendar) Create(ctx context.Context, in EventInput) (CalendarEvent, error) {
	ev := &calendar.Event{
		Summary:     in.Title,
		Description: in.Description,
		Start:       &calendar.EventDateTime{DateTime: in.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: in.End.Format(time.RFC3339)},
	}
	for _, a := range in.Attendees {
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: a})
	}

	created, err := g.svc.Events.Insert("primary", ev).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return CalendarEvent{}, googleError("calendar", err)
	}
	return convertEvent(created), nil
}

func convertEvents(items []*calendar.Event) []CalendarEvent {
	out := make([]CalendarEvent, 0, len(items))
	for _, it := range items {
		out = append(out, convertEvent(it))
	}
	return out
}

func convertEvent(e *calendar.Event) CalendarEvent {
	ev := CalendarEvent{
		ID:          e.Id,
		Summary:     e.Summary,
		Description: e.Description,
		Start:       eventTime(e.Start),
		End:         eventTime(e.End),
		HTMLLink:    e.HtmlLink,
	}
	if e.Organizer != nil {
		ev.Organizer = e.Organizer.Email
	}
	for _, a := range e.Attendees {
		ev.Attendees = append(ev.Attendees, a.Email)
	}
	return ev
}

// eventTime reads a timed or all-day boundary. All-day events start at
// midnight UTC of their date.
func eventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(time.DateOnly, dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func googleError(service string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%s: %w", service, ErrUnauthorized)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", service, ErrNotFound)
		}
		return &UpstreamError{Service: service, Status: gerr.Code, Body: gerr.Message}
	}
	return fmt.Errorf("%s: %w", service, err)
}
