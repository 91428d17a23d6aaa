package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/ingest"
	"github.com/kalambet/aide/internal/storage"
)

type UserRequest struct {
	ID                string `json:"id"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GoogleAccessToken string `json:"google_access_token"`
	HubSpotToken      string `json:"hubspot_token"`
}

type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// userView never carries credentials.
type userView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name,omitempty"`
	MailAccess     bool   `json:"mail_access"`
	CalendarAccess bool   `json:"calendar_access"`
	CRMAccess      bool   `json:"crm_access"`
}

type turnView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type instructionView struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type taskView struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Context     string    `json:"context"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func newUserView(u storage.User) userView {
	return userView{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		MailAccess:     u.HasMailAccess(),
		CalendarAccess: u.HasCalendarAccess(),
		CRMAccess:      u.HasCRMAccess(),
	}
}

func newInstructionView(in storage.Instruction) instructionView {
	return instructionView{ID: in.ID, Text: in.Text, Active: in.Active, CreatedAt: in.CreatedAt}
}

func newTaskViews(tasks []storage.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView{
			ID:          t.ID,
			Type:        t.Type,
			Description: t.Description,
			Context:     t.Context,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out
}

// lookupUser loads id or writes a 404/500 and returns false.
func lookupUser(w http.ResponseWriter, store *storage.Store, id string) (storage.User, bool) {
	if id == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
		return storage.User{}, false
	}
	u, err := store.GetUser(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "user %q not found", id)
		return storage.User{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load user: %v", err)
		return storage.User{}, false
	}
	return u, true
}

func handleUpsertUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req UserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "email is required")
			return
		}
		if req.ID == "" {
			if existing, err := deps.Store.FindUserByEmail(req.Email); err == nil {
				req.ID = existing.ID
			} else {
				req.ID = uuid.New().String()
			}
		}

		u := storage.User{
			ID:                req.ID,
			Email:             req.Email,
			Name:              req.Name,
			GoogleAccessToken: req.GoogleAccessToken,
			HubSpotToken:      req.HubSpotToken,
		}
		if err := deps.Store.UpsertUser(u); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save user: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newUserView(u))
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		user, ok := lookupUser(w, deps.Store, req.UserID)
		if !ok {
			return
		}

		reply := deps.Assistant.HandleUserMessage(r.Context(), user, req.Message)
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		user, ok := lookupUser(w, deps.Store, r.URL.Query().Get("user_id"))
		if !ok {
			return
		}
		limit := parseIntParam(r, "limit", 0, 50)
		writeJSON(w, http.StatusOK, map[string]string{"context": deps.Assistant.Search(r.Context(), user, q, limit)})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := lookupUser(w, deps.Store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		turns, err := deps.Store.RecentTurns(user.ID, parseIntParam(r, "limit", 20, 200))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		out := make([]turnView, 0, len(turns))
		for _, t := range turns {
			out = append(out, turnView{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListInstructions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := lookupUser(w, deps.Store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		list, err := deps.Store.Instructions(user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list instructions: %v", err)
			return
		}
		out := make([]instructionView, 0, len(list))
		for _, in := range list {
			out = append(out, newInstructionView(in))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handlePatchInstruction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Active == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "active is required")
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.SetInstructionActive(id, *req.Active)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "instruction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update instruction: %v", err)
			return
		}
		in, err := deps.Store.GetInstruction(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload instruction: %v", err)
			return
		}
		deps.Assistant.InvalidateInstructions(in.UserID)
		writeJSON(w, http.StatusOK, newInstructionView(in))
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := lookupUser(w, deps.Store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		tasks, err := deps.Store.ListTasks(user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tasks: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newTaskViews(tasks))
	}
}

func handleSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := lookupUser(w, deps.Store, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		added, err := ingest.EnqueueSync(deps.Store, user.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue sync: %v", err)
			return
		}
		status := "queued"
		if !added {
			status = "already_queued"
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
	}
}
