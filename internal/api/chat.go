package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/kalambet/resumechat/internal/pipeline"
	"github.com/kalambet/resumechat/internal/sessionlog"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is a successful answer.
type ChatResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for every failed chat request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

const chatFailure = "Failed to process chat message"

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		var ans pipeline.Answer
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			err = &pipeline.InputError{Err: fmt.Errorf("invalid request body: %w", err)}
		} else {
			ans, err = deps.Chat.Answer(r.Context(), req.Message)
		}

		entry := sessionlog.Answered(req.Message, ans.Text)
		if err != nil {
			entry = sessionlog.Failed(req.Message, err)
		}
		entry.Timestamp = sessionlog.FormatTime(start)
		entry.IP = clientIdentity(r)
		entry.UserAgent = r.UserAgent()
		if lerr := deps.Sessions.Record(context.WithoutCancel(r.Context()), entry); lerr != nil {
			deps.Logger.Warn("session log failed", "error", lerr)
		}

		if err != nil {
			status := statusFor(err)
			logChatError(deps.Logger, status, err)
			writeJSON(w, status, ErrorResponse{Error: chatFailure, Details: err.Error()})
			return
		}

		deps.Logger.Debug("chat answered",
			"categories", ans.Metadata.Categories,
			"source", ans.Metadata.Source,
			"prompt_tokens", ans.Metadata.PromptTokens,
			"upstream_duration", ans.Metadata.CompleteDuration,
		)
		writeJSON(w, http.StatusOK, ChatResponse{Message: ans.Text})
	}
}

func statusFor(err error) int {
	var inErr *pipeline.InputError
	var upErr *pipeline.UpstreamError
	switch {
	case errors.As(err, &inErr):
		return http.StatusBadRequest
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func logChatError(logger *slog.Logger, status int, err error) {
	level := slog.LevelError
	if status == http.StatusBadRequest {
		level = slog.LevelInfo
	}
	var cause error = err
	if u := errors.Unwrap(err); u != nil {
		cause = u
	}
	logger.Log(context.Background(), level, "chat request failed", "status", status, "error", cause)
}

// clientIdentity prefers Cloudflare's visitor address header and falls back
// to the connection's remote address.
func clientIdentity(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return sessionlog.Unknown
}
