package gateway

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrNotConfigured means the user has no credential for the service.
	ErrNotConfigured = errors.New("access is not configured for this user")
	// ErrUnauthorized means the service rejected the user's credential.
	ErrUnauthorized = errors.New("authorization failed")
	// ErrNotFound means the addressed remote object does not exist.
	ErrNotFound = errors.New("not found")
)

// UpstreamError carries a non-2xx reply from a remote service.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Status, e.Body)
}

// Attachment is a file carried by a mail message. Data is only populated for
// types the indexer can read.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// MailMessage is the gateway's view of one email.
type MailMessage struct {
	ID          string
	ThreadID    string
	From        string // raw header value, e.g. `Jo Smith <jo@example.com>`
	To          string
	Subject     string
	Body        string
	Snippet     string
	Date        time.Time
	Attachments []Attachment
}

// Sender splits the From header into a display name and address. When the
// header has no angle-bracketed address, both values are the raw header.
func (m MailMessage) Sender() (name, address string) {
	return SplitAddress(m.From)
}

// SplitAddress parses `Name <addr>` headers, falling back to the raw value.
func SplitAddress(header string) (name, address string) {
	header = strings.TrimSpace(header)
	if a, err := mail.ParseAddress(header); err == nil {
		if a.Name == "" {
			return a.Address, a.Address
		}
		return a.Name, a.Address
	}
	open := strings.Index(header, "<")
	end := strings.LastIndex(header, ">")
	if open >= 0 && end > open {
		return strings.TrimSpace(header[:open]), strings.TrimSpace(header[open+1 : end])
	}
	return header, header
}

// CalendarEvent is the gateway's view of one calendar entry.
type CalendarEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	Organizer   string
	HTMLLink    string
}

// EventInput describes an event to create.
type EventInput struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// Contact is a CRM record.
type Contact struct {
	ID           string            `json:"id"`
	FirstName    string            `json:"firstname,omitempty"`
	LastName     string            `json:"lastname,omitempty"`
	Email        string            `json:"email,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	Notes        []string          `json:"notes,omitempty"`
	LastModified time.Time         `json:"lastmodified,omitempty"`
}

// ContactInput describes a contact to create.
type ContactInput struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Company   string
}
