package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/aide/internal/engine"
	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
)

var testUser = storage.User{ID: "u1", Email: "advisor@example.com", Name: "Pat Advisor", GoogleAccessToken: "g", HubSpotToken: "h"}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.UpsertUser(testUser); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	return st
}

// scriptedCompleter answers with completeFn and records every conversation
// it was shown.
type scriptedCompleter struct {
	completeFn func(call int, messages []engine.Message) (engine.Completion, error)
	calls      atomic.Int32

	mu   sync.Mutex
	seen [][]engine.Message
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []engine.Message, _ []engine.ToolSpec) (engine.Completion, error) {
	n := int(s.calls.Add(1))
	s.mu.Lock()
	s.seen = append(s.seen, append([]engine.Message(nil), messages...))
	s.mu.Unlock()
	return s.completeFn(n, messages)
}

func (s *scriptedCompleter) last() []engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return nil
	}
	return s.seen[len(s.seen)-1]
}

// toolCall returns a completion requesting name with the given JSON arguments.
func toolCall(id, name, args string) engine.Completion {
	return engine.Completion{ToolCall: &engine.ToolCall{ID: id, Name: name, Arguments: args}}
}

func text(s string) engine.Completion {
	return engine.Completion{Content: s}
}

type fakeMail struct {
	mu    sync.Mutex
	sent  []string // recipients
	sends atomic.Int32
}

func (f *fakeMail) List(context.Context, string, int) ([]gateway.MailMessage, error) {
	return nil, nil
}

func (f *fakeMail) Get(_ context.Context, id string) (gateway.MailMessage, error) {
	return gateway.MailMessage{ID: id}, nil
}

func (f *fakeMail) Send(_ context.Context, to, _, _ string) error {
	f.sends.Add(1)
	f.mu.Lock()
	f.sent = append(f.sent, to)
	f.mu.Unlock()
	return nil
}

func (f *fakeMail) Reply(context.Context, string, string, string) error { return nil }

type fakeCalendar struct {
	created atomic.Int32
}

func (f *fakeCalendar) Upcoming(context.Context, int) ([]gateway.CalendarEvent, error) {
	return nil, nil
}

func (f *fakeCalendar) Between(context.Context, time.Time, time.Time) ([]gateway.CalendarEvent, error) {
	return nil, nil
}

func (f *fakeCalendar) Create(context.Context, gateway.EventInput) (gateway.CalendarEvent, error) {
	f.created.Add(1)
	return gateway.CalendarEvent{ID: "e1"}, nil
}

type fakeCRM struct {
	findFn  func(email string) (*gateway.Contact, error)
	created atomic.Int32
	calls   atomic.Int32
}

func (f *fakeCRM) ListContacts(context.Context) ([]gateway.Contact, error) {
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeCRM) FindContact(_ context.Context, email string) (*gateway.Contact, error) {
	f.calls.Add(1)
	if f.findFn != nil {
		return f.findFn(email)
	}
	return nil, nil
}

func (f *fakeCRM) CreateContact(_ context.Context, in gateway.ContactInput) (gateway.Contact, error) {
	f.calls.Add(1)
	f.created.Add(1)
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

type fakeConnector struct {
	mail     *fakeMail
	calendar *fakeCalendar
	crm      *fakeCRM
}

func (f *fakeConnector) Mail(storage.User) (gateway.Mail, error) {
	if f.mail == nil {
		return nil, fmt.Errorf("mail %w", gateway.ErrNotConfigured)
	}
	return f.mail, nil
}

func (f *fakeConnector) Calendar(storage.User) (gateway.Calendar, error) {
	if f.calendar == nil {
		return nil, fmt.Errorf("calendar %w", gateway.ErrNotConfigured)
	}
	return f.calendar, nil
}

func (f *fakeConnector) CRM(storage.User) (gateway.CRM, error) {
	if f.crm == nil {
		return nil, fmt.Errorf("crm %w", gateway.ErrNotConfigured)
	}
	return f.crm, nil
}
