package tools

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
)

type fakeMail struct {
	sendFn  func(ctx context.Context, to, subject, body string) error
	listFn  func(ctx context.Context, query string, max int) ([]gateway.MailMessage, error)
	sends   atomic.Int32
	replies atomic.Int32
}

func (f *fakeMail) List(ctx context.Context, query string, max int) ([]gateway.MailMessage, error) {
	if f.listFn != nil {
		return f.listFn(ctx, query, max)
	}
	return nil, nil
}

func (f *fakeMail) Get(_ context.Context, id string) (gateway.MailMessage, error) {
	return gateway.MailMessage{ID: id}, nil
}

func (f *fakeMail) Send(ctx context.Context, to, subject, body string) error {
	f.sends.Add(1)
	if f.sendFn != nil {
		return f.sendFn(ctx, to, subject, body)
	}
	return nil
}

func (f *fakeMail) Reply(context.Context, string, string, string) error {
	f.replies.Add(1)
	return nil
}

type fakeCalendar struct {
	betweenFn func(ctx context.Context, start, end time.Time) ([]gateway.CalendarEvent, error)
	created   []gateway.EventInput
}

func (f *fakeCalendar) Upcoming(context.Context, int) ([]gateway.CalendarEvent, error) {
	return nil, nil
}

func (f *fakeCalendar) Between(ctx context.Context, start, end time.Time) ([]gateway.CalendarEvent, error) {
	if f.betweenFn != nil {
		return f.betweenFn(ctx, start, end)
	}
	return nil, nil
}

func (f *fakeCalendar) Create(_ context.Context, in gateway.EventInput) (gateway.CalendarEvent, error) {
	f.created = append(f.created, in)
	return gateway.CalendarEvent{ID: "e1", HTMLLink: "https://calendar.example/e1"}, nil
}

type fakeCRM struct {
	findFn   func(ctx context.Context, email string) (*gateway.Contact, error)
	createFn func(ctx context.Context, in gateway.ContactInput) (gateway.Contact, error)
	calls    atomic.Int32
}

func (f *fakeCRM) ListContacts(context.Context) ([]gateway.Contact, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeCRM) FindContact(ctx context.Context, email string) (*gateway.Contact, error) {
	f.calls.Add(1)
	if f.findFn != nil {
		return f.findFn(ctx, email)
	}
	return nil, nil
}

func (f *fakeCRM) CreateContact(ctx context.Context, in gateway.ContactInput) (gateway.Contact, error) {
	f.calls.Add(1)
	if f.createFn != nil {
		return f.createFn(ctx, in)
	}
	return gateway.Contact{ID: "c-new", Email: in.Email}, nil
}

func (f *fakeCRM) AddNote(context.Context, string, string) error {
	f.calls.Add(1)
	return nil
}

func (f *fakeCRM) Notes(context.Context, string) ([]string, error) {
	f.calls.Add(1)
	return nil, nil
}

// fakeConnector hands out the same fakes for every user. A nil service
// behaves like a user without credentials for it.
type fakeConnector struct {
	mail     *fakeMail
	calendar *fakeCalendar
	crm      *fakeCRM
	requests atomic.Int32
}

func (f *fakeConnector) Mail(storage.User) (gateway.Mail, error) {
	f.requests.Add(1)
	if f.mail == nil {
		return nil, errNotConfigured("mail")
	}
	return f.mail, nil
}

func (f *fakeConnector) Calendar(storage.User) (gateway.Calendar, error) {
	f.requests.Add(1)
	if f.calendar == nil {
		return nil, errNotConfigured("calendar")
	}
	return f.calendar, nil
}

func (f *fakeConnector) CRM(storage.User) (gateway.CRM, error) {
	f.requests.Add(1)
	if f.crm == nil {
		return nil, errNotConfigured("crm")
	}
	return f.crm, nil
}

func errNotConfigured(service string) error {
	return fmt.Errorf("%s %w", service, gateway.ErrNotConfigured)
}

type fakeSearcher struct {
	searchFn func(ctx context.Context, owner, query string, limit int) string
}

func (f *fakeSearcher) Search(ctx context.Context, owner, query string, limit int) string {
	if f.searchFn != nil {
		return f.searchFn(ctx, owner, query, limit)
	}
	return ""
}
