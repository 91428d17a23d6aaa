package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/aide/internal/storage"
)

var crmUser = storage.User{ID: "u1", Email: "me@example.com", HubSpotToken: "hs-token"}

func newTestHubSpot(t *testing.T, handler http.HandlerFunc) *HubSpot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	h, err := NewHubSpot(srv.URL, crmUser, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewHubSpot: %v", err)
	}
	return h
}

func TestNewHubSpot_NotConfigured(t *testing.T) {
	_, err := NewHubSpot("", storage.User{ID: "u2"}, nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHubSpot_ListContactsPaginates(t *testing.T) {
	var calls int
	h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/crm/v3/objects/contacts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hs-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("after") == "" {
			io.WriteString(w, `{"results":[{"id":"1","properties":{"firstname":"Ada","email":"ada@example.com","phone":null}}],
				"paging":{"next":{"after":"cursor-2"}}}`)
			return
		}
		if r.URL.Query().Get("after") != "cursor-2" {
			t.Errorf("after = %q", r.URL.Query().Get("after"))
		}
		io.WriteString(w, `{"results":[{"id":"2","properties":{"firstname":"Grace","lastname":"Hopper"},"updatedAt":"2024-02-03T04:05:06.789Z"}]}`)
	})

	contacts, err := h.ListContacts(context.Background())
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].Email != "ada@example.com" || contacts[0].Phone != "" {
		t.Errorf("unexpected first contact: %+v", contacts[0])
	}
	if _, ok := contacts[0].Properties["phone"]; ok {
		t.Error("null properties should be dropped")
	}
	if contacts[1].LastName != "Hopper" || contacts[1].LastModified.IsZero() {
		t.Errorf("unexpected second contact: %+v", contacts[1])
	}
}

func TestHubSpot_FindContact(t *testing.T) {
	h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		var req hubspotSearch
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.FilterGroups) == 0 {
			t.Errorf("decoding search: %v", err)
			return
		}
		f := req.FilterGroups[0].Filters[0]
		if f.PropertyName != "email" || f.Operator != "EQ" {
			t.Errorf("unexpected filter %+v", f)
		}
		if f.Value == "known@example.com" {
			io.WriteString(w, `{"results":[{"id":"42","properties":{"email":"known@example.com"}}]}`)
			return
		}
		io.WriteString(w, `{"results":[]}`)
	})

	c, err := h.FindContact(context.Background(), "known@example.com")
	if err != nil || c == nil || c.ID != "42" {
		t.Fatalf("FindContact known = %+v, %v", c, err)
	}
	c, err = h.FindContact(context.Background(), "nobody@example.com")
	if err != nil || c != nil {
		t.Errorf("FindContact unknown = %+v, %v; want nil, nil", c, err)
	}
}

func TestHubSpot_CreateContactOmitsEmpty(t *testing.T) {
	h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Properties map[string]string `json:"properties"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body.Properties["phone"]; ok {
			t.Error("empty phone should be omitted")
		}
		if body.Properties["firstname"] != "Ada" {
			t.Errorf("firstname = %q", body.Properties["firstname"])
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"77","properties":{"email":"ada@example.com","firstname":"Ada"}}`)
	})

	c, err := h.CreateContact(context.Background(), ContactInput{Email: "ada@example.com", FirstName: "Ada"})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if c.ID != "77" {
		t.Errorf("ID = %q", c.ID)
	}
}

func TestHubSpot_AddNoteAssociatesContact(t *testing.T) {
	h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(b), `"associationTypeId":202`) || !strings.Contains(string(b), `"id":"c9"`) {
			t.Errorf("note not associated with contact: %s", b)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"n1"}`)
	})

	if err := h.AddNote(context.Background(), "c9", "called about renewal"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
}

func TestHubSpot_Notes(t *testing.T) {
	h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v3/objects/notes/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"results":[{"id":"n1","properties":{"hs_note_body":"<p>Prefers email</p>"}},{"id":"n2","properties":{"hs_note_body":""}}]}`)
	})

	notes, err := h.Notes(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(notes) != 1 || notes[0] != "Prefers email" {
		t.Errorf("notes = %q", notes)
	}
}

func TestHubSpot_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, func(err error) bool { return errors.Is(err, ErrUnauthorized) }},
		{http.StatusNotFound, func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{http.StatusBadRequest, func(err error) bool {
			var up *UpstreamError
			return errors.As(err, &up) && up.Status == http.StatusBadRequest && up.Body == "bad property"
		}},
	}
	for _, tt := range tests {
		h := newTestHubSpot(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, "bad property")
		})
		_, err := h.ListContacts(context.Background())
		if !tt.check(err) {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
	}
}
