package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/aide/internal/gateway"
	"github.com/kalambet/aide/internal/storage"
)

type mockIndexer struct {
	mu       sync.Mutex
	mail     []string
	contacts []gateway.Contact
}

func (m *mockIndexer) IndexMail(_ context.Context, _ string, msg gateway.MailMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mail = append(m.mail, msg.ID)
}

func (m *mockIndexer) IndexContact(_ context.Context, _ string, c gateway.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, c)
}

type mockMail struct {
	listFn func(max int) ([]gateway.MailMessage, error)
}

func (m *mockMail) List(_ context.Context, _ string, max int) ([]gateway.MailMessage, error) {
	return m.listFn(max)
}
func (m *mockMail) Get(context.Context, string) (gateway.MailMessage, error) {
	return gateway.MailMessage{}, nil
}
func (m *mockMail) Send(context.Context, string, string, string) error  { return nil }
func (m *mockMail) Reply(context.Context, string, string, string) error { return nil }

type mockCRM struct {
	contacts []gateway.Contact
	notes    map[string][]string
}

func (m *mockCRM) ListContacts(context.Context) ([]gateway.Contact, error) { return m.contacts, nil }
func (m *mockCRM) FindContact(context.Context, string) (*gateway.Contact, error) {
	return nil, nil
}
func (m *mockCRM) CreateContact(context.Context, gateway.ContactInput) (gateway.Contact, error) {
	return gateway.Contact{}, nil
}
func (m *mockCRM) AddNote(context.Context, string, string) error { return nil }
func (m *mockCRM) Notes(_ context.Context, id string) ([]string, error) {
	return m.notes[id], nil
}

type mockConnector struct {
	mail gateway.Mail
	crm  gateway.CRM
}

func (m *mockConnector) Mail(storage.User) (gateway.Mail, error) {
	if m.mail == nil {
		return nil, fmt.Errorf("mail %w", gateway.ErrNotConfigured)
	}
	return m.mail, nil
}

func (m *mockConnector) Calendar(storage.User) (gateway.Calendar, error) {
	return nil, fmt.Errorf("calendar %w", gateway.ErrNotConfigured)
}

func (m *mockConnector) CRM(storage.User) (gateway.CRM, error) {
	if m.crm == nil {
		return nil, fmt.Errorf("crm %w", gateway.ErrNotConfigured)
	}
	return m.crm, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestUser(t *testing.T, store *storage.Store, u storage.User) {
	t.Helper()
	if err := store.UpsertUser(u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
}

func enqueueTestSync(t *testing.T, store *storage.Store, userID string) string {
	t.Helper()
	if _, err := EnqueueSync(store, userID); err != nil {
		t.Fatalf("EnqueueSync: %v", err)
	}
	var id string
	if err := store.DB().QueryRow(`SELECT id FROM jobs WHERE type = ? ORDER BY created_at DESC LIMIT 1`, JobSyncUser).Scan(&id); err != nil {
		t.Fatalf("reading job id: %v", err)
	}
	return id
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (string, int) {
	t.Helper()
	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = ?`, jobID).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	return status, attempts
}

func TestWorker_SyncsMailAndContacts(t *testing.T) {
	store := openTestStore(t)
	user := storage.User{ID: "u1", Email: "a@example.com", GoogleAccessToken: "g", HubSpotToken: "h"}
	addTestUser(t, store, user)
	jobID := enqueueTestSync(t, store, user.ID)

	var gotMax int
	conn := &mockConnector{
		mail: &mockMail{listFn: func(max int) ([]gateway.MailMessage, error) {
			gotMax = max
			return []gateway.MailMessage{{ID: "m1"}, {ID: "m2"}}, nil
		}},
		crm: &mockCRM{
			contacts: []gateway.Contact{{ID: "c1", Email: "jo@example.com"}},
			notes:    map[string][]string{"c1": {"met at conference"}},
		},
	}
	idx := &mockIndexer{}
	w := NewWorker(store, conn, idx, 25, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if gotMax != 25 {
		t.Errorf("mail batch = %d, want 25", gotMax)
	}
	if len(idx.mail) != 2 {
		t.Errorf("indexed %d messages, want 2", len(idx.mail))
	}
	if len(idx.contacts) != 1 || len(idx.contacts[0].Notes) != 1 || idx.contacts[0].Notes[0] != "met at conference" {
		t.Errorf("indexed contacts = %+v", idx.contacts)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_NoJob(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockConnector{}, &mockIndexer{}, 0, 0)
	didWork, err := w.RunOnce(context.Background())
	if err != nil || didWork {
		t.Errorf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_UnconnectedServicesSkipped(t *testing.T) {
	store := openTestStore(t)
	user := storage.User{ID: "u1", Email: "a@example.com", HubSpotToken: "h"}
	addTestUser(t, store, user)
	jobID := enqueueTestSync(t, store, user.ID)

	idx := &mockIndexer{}
	w := NewWorker(store, &mockConnector{crm: &mockCRM{}}, idx, 0, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	user := storage.User{ID: "u1", Email: "a@example.com", GoogleAccessToken: "g"}
	addTestUser(t, store, user)
	jobID := enqueueTestSync(t, store, user.ID)

	var calls atomic.Int32
	conn := &mockConnector{mail: &mockMail{listFn: func(int) ([]gateway.MailMessage, error) {
		n := calls.Add(1)
		if n <= 2 {
			return nil, fmt.Errorf("transient error %d", n)
		}
		return []gateway.MailMessage{{ID: "m1"}}, nil
	}}}
	idx := &mockIndexer{}
	w := NewWorker(store, conn, idx, 0, 0)
	ctx := context.Background()

	// 1st attempt fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	if status, attempts := jobStatus(t, store, jobID); status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	resetRunAfter(t, store, jobID)

	// 2nd attempt fails
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	if _, attempts := jobStatus(t, store, jobID); attempts != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", attempts)
	}

	resetRunAfter(t, store, jobID)

	// 3rd attempt succeeds
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobStatus(t, store, jobID); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}
	if len(idx.mail) != 1 {
		t.Errorf("indexed %d messages, want 1", len(idx.mail))
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	user := storage.User{ID: "u1", Email: "a@example.com", GoogleAccessToken: "g"}
	addTestUser(t, store, user)
	jobID := enqueueTestSync(t, store, user.ID)

	conn := &mockConnector{mail: &mockMail{listFn: func(int) ([]gateway.MailMessage, error) {
		return nil, errors.New("permanent error")
	}}}
	w := NewWorker(store, conn, &mockIndexer{}, 0, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, jobID)
		}
	}

	if status, _ := jobStatus(t, store, jobID); status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestWorker_UnknownUserFails(t *testing.T) {
	store := openTestStore(t)
	jobID := enqueueTestSync(t, store, "ghost")

	w := NewWorker(store, &mockConnector{}, &mockIndexer{}, 0, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if status, attempts := jobStatus(t, store, jobID); status != "pending" || attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", status, attempts)
	}
}
