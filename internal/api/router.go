// Package api exposes the chat pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/resumechat/internal/pipeline"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/sessionlog"
	"github.com/kalambet/resumechat/internal/storage"
	"github.com/kalambet/resumechat/internal/tree"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer runs the chat pipeline for one question.
type Answerer interface {
	Answer(ctx context.Context, message string) (pipeline.Answer, error)
}

// Profiles loads the current profile document and can drop cached copies.
type Profiles interface {
	Load(ctx context.Context) (*tree.Map, profile.Source, error)
	Invalidate()
	Key() string
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Chat     Answerer
	Sessions *sessionlog.Logger // nil disables session logging and the viewer's data
	Profiles Profiles           // optional; enables the admin context endpoints
	Store    storage.Store      // target of context uploads; nil rejects uploads
	// AdminSecret guards the admin endpoints. Empty means they always answer 401.
	AdminSecret string
	Logger      *slog.Logger
}

// NewRouter returns the HTTP handler for the public chat endpoint, the health
// check and the admin endpoints.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(CORS)
		r.Options("/api/chat", handlePreflight)
		r.Post("/api/chat", handleChat(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(SecretAuth(deps.AdminSecret))
		r.Get("/api/logs", handleLogs(deps))
		r.Get("/api/context", handleGetContext(deps))
		r.Put("/api/context", handlePutContext(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
