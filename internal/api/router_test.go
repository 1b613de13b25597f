package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/resumechat/internal/pipeline"
	"github.com/kalambet/resumechat/internal/profile"
	"github.com/kalambet/resumechat/internal/proxy"
	"github.com/kalambet/resumechat/internal/sessionlog"
	"github.com/kalambet/resumechat/internal/storage"
)

// --- mocks ---

type mockAnswerer struct {
	calls atomic.Int32
	last  string
	text  string
	err   error
}

func (m *mockAnswerer) Answer(_ context.Context, msg string) (pipeline.Answer, error) {
	m.calls.Add(1)
	m.last = msg
	if m.err != nil {
		return pipeline.Answer{}, m.err
	}
	return pipeline.Answer{Text: m.text}, nil
}

// --- helpers ---

func doRequest(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var out ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return out
}

// --- tests ---

func TestHealth(t *testing.T) {
	h := NewRouter(Deps{Chat: &mockAnswerer{}})
	rr := doRequest(t, h, http.MethodGet, "/health", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestChat_Success(t *testing.T) {
	m := &mockAnswerer{text: "<p>I play chess.</p>"}
	h := NewRouter(Deps{Chat: m})

	rr := doRequest(t, h, http.MethodPost, "/api/chat", `{"message":"What are your hobbies?"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	var resp ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Message != "<p>I play chess.</p>" {
		t.Errorf("message = %q", resp.Message)
	}
	if m.last != "What are your hobbies?" {
		t.Errorf("pipeline got %q", m.last)
	}
}

func TestChat_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantDetails string
	}{
		{"input", &pipeline.InputError{Err: pipeline.ErrNoMessage}, http.StatusBadRequest, "No message provided"},
		{"upstream", &pipeline.UpstreamError{Err: &proxy.APIError{Status: 429, Message: "rate limited"}}, http.StatusBadGateway, "rate limited"},
		{"breaker", &pipeline.UpstreamError{Err: proxy.ErrCircuitOpen}, http.StatusBadGateway, proxy.ErrCircuitOpen.Error()},
		{"context", &pipeline.ContextLoadError{Err: errors.New("kv down")}, http.StatusInternalServerError, "Failed to get context data"},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError, "surprise"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Deps{Chat: &mockAnswerer{err: tt.err}})
			rr := doRequest(t, h, http.MethodPost, "/api/chat", `{"message":"hi"}`, nil)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("CORS header missing on error response")
			}
			body := decodeError(t, rr)
			if body.Error != "Failed to process chat message" {
				t.Errorf("error = %q", body.Error)
			}
			if body.Details != tt.wantDetails {
				t.Errorf("details = %q, want %q", body.Details, tt.wantDetails)
			}
		})
	}
}

func TestChat_InvalidBody(t *testing.T) {
	m := &mockAnswerer{}
	h := NewRouter(Deps{Chat: m})

	for _, body := range []string{`not json`, `{"message": 42}`} {
		rr := doRequest(t, h, http.MethodPost, "/api/chat", body, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rr.Code)
		}
	}
	if m.calls.Load() != 0 {
		t.Error("pipeline must not run for an undecodable body")
	}
}

func TestChat_Preflight(t *testing.T) {
	h := NewRouter(Deps{Chat: &mockAnswerer{}})
	rr := doRequest(t, h, http.MethodOptions, "/api/chat", "", map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": "POST",
	})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing allow-origin")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Error("missing allow-methods")
	}
}

func TestChat_RecordsSession(t *testing.T) {
	store := storage.NewMemory()
	logger := sessionlog.New(store, 0)
	h := NewRouter(Deps{Chat: &mockAnswerer{text: "answer"}, Sessions: logger})

	doRequest(t, h, http.MethodPost, "/api/chat", `{"message":"q1"}`, map[string]string{
		"CF-Connecting-IP": "198.51.100.4",
		"User-Agent":       "widget/1.0",
	})
	logger.Close()

	keys, _ := store.List(context.Background(), sessionlog.KeyPrefix)
	if len(keys) != 1 || !strings.HasSuffix(keys[0], ":198.51.100.4") {
		t.Fatalf("session keys = %v", keys)
	}
	sessions, err := logger.Sessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	got := sessions[0].Interactions[0]
	if got.Question != "q1" || got.Answer == nil || *got.Answer != "answer" || got.UserAgent != "widget/1.0" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestChat_RecordsFailures(t *testing.T) {
	store := storage.NewMemory()
	logger := sessionlog.New(store, 0)
	h := NewRouter(Deps{Chat: &mockAnswerer{err: &pipeline.InputError{Err: pipeline.ErrNoMessage}}, Sessions: logger})

	doRequest(t, h, http.MethodPost, "/api/chat", `{"message":""}`, nil)
	logger.Close()

	sessions, _ := logger.Sessions(context.Background())
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	got := sessions[0].Interactions[0]
	if got.Question != "Unknown" || got.Answer != nil || got.Error == nil || *got.Error != "No message provided" {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestClientIdentity(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	if got := clientIdentity(r); got != "192.0.2.1" {
		t.Errorf("clientIdentity = %q", got)
	}
	r.Header.Set("CF-Connecting-IP", "203.0.113.9")
	if got := clientIdentity(r); got != "203.0.113.9" {
		t.Errorf("clientIdentity = %q", got)
	}
	r = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.RemoteAddr = ""
	if got := clientIdentity(r); got != sessionlog.Unknown {
		t.Errorf("clientIdentity = %q", got)
	}
}

func TestLogs_Auth(t *testing.T) {
	logger := sessionlog.New(storage.NewMemory(), 0)

	tests := []struct {
		name    string
		secret  string
		target  string
		headers map[string]string
		want    int
	}{
		{"no credentials", "s3cret", "/api/logs", nil, http.StatusUnauthorized},
		{"wrong bearer", "s3cret", "/api/logs", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"wrong query", "s3cret", "/api/logs?auth=nope", nil, http.StatusUnauthorized},
		{"bearer", "s3cret", "/api/logs", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"query", "s3cret", "/api/logs?auth=s3cret", nil, http.StatusOK},
		{"no secret configured", "", "/api/logs?auth=", map[string]string{"Authorization": "Bearer "}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Deps{Chat: &mockAnswerer{}, Sessions: logger, AdminSecret: tt.secret})
			rr := doRequest(t, h, http.MethodGet, tt.target, "", tt.headers)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				if body := strings.TrimSpace(rr.Body.String()); body != `{"error":"unauthorized"}` {
					t.Errorf("401 body = %s", body)
				}
			}
		})
	}
}

func TestLogs_RendersEscapedHTML(t *testing.T) {
	store := storage.NewMemory()
	logger := sessionlog.New(store, 0)
	e := sessionlog.Answered("<script>alert(1)</script>", "<p>fine</p>")
	e.IP = "ip"
	if err := logger.Record(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	logger.Close()

	h := NewRouter(Deps{Chat: &mockAnswerer{}, Sessions: logger, AdminSecret: "s"})
	rr := doRequest(t, h, http.MethodGet, "/api/logs?auth=s", "", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("visitor text must be escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Errorf("escaped question missing from page")
	}
	if !strings.Contains(body, "1 messages") {
		t.Error("interaction count missing")
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestLogs_JSON(t *testing.T) {
	store := storage.NewMemory()
	logger := sessionlog.New(store, 0)
	logger.Record(context.Background(), sessionlog.Answered("q", "a"))
	logger.Close()

	h := NewRouter(Deps{Chat: &mockAnswerer{}, Sessions: logger, AdminSecret: "s"})
	rr := doRequest(t, h, http.MethodGet, "/api/logs?format=json", "", map[string]string{"Authorization": "Bearer s"})

	var out []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(out) != 1 || out[0]["key"] == "" {
		t.Errorf("unexpected logs: %v", out)
	}
}

func TestLogs_NoStoreRendersEmptyPage(t *testing.T) {
	h := NewRouter(Deps{Chat: &mockAnswerer{}, AdminSecret: "s"})
	rr := doRequest(t, h, http.MethodGet, "/api/logs?auth=s", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "0 sessions") {
		t.Error("expected empty session list")
	}
}

func TestContext_GetAndPut(t *testing.T) {
	store := storage.NewMemory()
	loader := profile.NewLoader(store, profile.DefaultKey, 0)
	h := NewRouter(Deps{Chat: &mockAnswerer{}, Profiles: loader, Store: store, AdminSecret: "s"})
	auth := map[string]string{"Authorization": "Bearer s"}

	rr := doRequest(t, h, http.MethodGet, "/api/context", "", auth)
	if rr.Code != http.StatusOK || rr.Header().Get("X-Context-Source") != "fallback" {
		t.Fatalf("GET before upload: status %d source %q", rr.Code, rr.Header().Get("X-Context-Source"))
	}

	rr = doRequest(t, h, http.MethodPut, "/api/context", `[1,2]`, auth)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("PUT invalid: status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, h, http.MethodPut, "/api/context", `{"name":"Ada"}`, auth)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT: status = %d, body %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodGet, "/api/context", "", auth)
	if rr.Header().Get("X-Context-Source") != "store" {
		t.Errorf("source after upload = %q", rr.Header().Get("X-Context-Source"))
	}
	if strings.TrimSpace(rr.Body.String()) != `{"name":"Ada"}` {
		t.Errorf("body = %s", rr.Body.String())
	}

	rr = doRequest(t, h, http.MethodPut, "/api/context", `{"name":"Eve"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated PUT status = %d", rr.Code)
	}
}
