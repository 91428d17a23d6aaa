package gateway

import (
	"context"
	"time"

	"github.com/kalambet/aide/internal/storage"
)

// Mail is the mailbox of one user.
type Mail interface {
	// List returns up to max messages matching a provider search query,
	// newest first, with full bodies.
	List(ctx context.Context, query string, max int) ([]MailMessage, error)
	Get(ctx context.Context, id string) (MailMessage, error)
	Send(ctx context.Context, to, subject, body string) error
	// Reply answers messageID inside threadID, addressed to the original sender.
	Reply(ctx context.Context, messageID, threadID, body string) error
}

// Calendar is the primary calendar of one user.
type Calendar interface {
	// Upcoming returns up to max events starting from now, ordered by start.
	Upcoming(ctx context.Context, max int) ([]CalendarEvent, error)
	// Between returns the events overlapping [start, end).
	Between(ctx context.Context, start, end time.Time) ([]CalendarEvent, error)
	Create(ctx context.Context, in EventInput) (CalendarEvent, error)
}

// CRM is the contact book of one user.
type CRM interface {
	ListContacts(ctx context.Context) ([]Contact, error)
	// FindContact returns nil, nil when no contact has the address.
	FindContact(ctx context.Context, email string) (*Contact, error)
	CreateContact(ctx context.Context, in ContactInput) (Contact, error)
	AddNote(ctx context.Context, contactID, note string) error
	Notes(ctx context.Context, contactID string) ([]string, error)
}

// Connector hands out service clients bound to one user's credentials.
// It returns ErrNotConfigured when the user has no credential for a service.
type Connector interface {
	Mail(user storage.User) (Mail, error)
	Calendar(user storage.User) (Calendar, error)
	CRM(user storage.User) (CRM, error)
}
