// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/aide/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Assistant is the agent surface the transports call into.
type Assistant interface {
	HandleUserMessage(ctx context.Context, user storage.User, text string) string
	Search(ctx context.Context, user storage.User, query string, limit int) string
	InvalidateInstructions(userID string)
}

type Deps struct {
	Store     *storage.Store
	Assistant Assistant
	Token     string
	Gatherer  prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

// NewRouter returns the HTTP API. Everything under /v1 requires the bearer
// token; /health and /metrics are open.
func NewRouter(deps Deps) http.Handler {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/users", handleUpsertUser(deps))
		r.Post("/chat", handleChat(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/users/{id}/history", handleHistory(deps))
		r.Get("/users/{id}/instructions", handleListInstructions(deps))
		r.Get("/users/{id}/tasks", handleListTasks(deps))
		r.Post("/users/{id}/sync", handleSync(deps))
		r.Patch("/instructions/{id}", handlePatchInstruction(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
