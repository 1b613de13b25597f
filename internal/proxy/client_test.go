package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func okHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":%q}}]}`, content)
	}
}

func TestComplete_Success(t *testing.T) {
	srv := httptest.NewServer(okHandler("<p>Hello!</p>"))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	got, err := c.Complete(context.Background(), "system", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "<p>Hello!</p>" {
		t.Errorf("answer = %q, want %q", got, "<p>Hello!</p>")
	}
}

func TestComplete_RequestShape(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq ChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		okHandler("ok")(w, r)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL+"/")
	if _, err := c.Complete(context.Background(), "SYS", "USER"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.Model != "gpt-3.5-turbo" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.Temperature != 0.5 || gotReq.MaxTokens != 500 || gotReq.PresencePenalty != 0.5 || gotReq.FrequencyPenalty != 0.3 {
		t.Errorf("unexpected params: %+v", gotReq)
	}
	want := []Message{{Role: "system", Content: "SYS"}, {Role: "user", Content: "USER"}}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0] != want[0] || gotReq.Messages[1] != want[1] {
		t.Errorf("messages = %+v, want %+v", gotReq.Messages, want)
	}
}

func TestComplete_RateLimitNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL, WithBackoff(time.Millisecond))
	_, err := c.Complete(context.Background(), "s", "u")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusTooManyRequests || err.Error() != "rate limited" {
		t.Errorf("got status %d message %q", apiErr.Status, err.Error())
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestComplete_ErrorWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil || err.Error() != DefaultErrorMessage {
		t.Fatalf("err = %v, want %q", err, DefaultErrorMessage)
	}
}

func TestComplete_ServerErrorRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		okHandler("recovered")(w, r)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL, WithBackoff(time.Millisecond))
	got, err := c.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "recovered" {
		t.Errorf("answer = %q", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestComplete_ServerErrorGivesUpAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom"}}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL, WithBackoff(time.Millisecond))
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
	if n := calls.Load(); n != maxAttempts {
		t.Errorf("calls = %d, want %d", n, maxAttempts)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Complete(context.Background(), "s", "u")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
}

func TestComplete_PerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL,
		WithTimeout(50*time.Millisecond), WithBackoff(time.Millisecond))
	start := time.Now()
	_, err := c.Complete(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %s, timeout not applied", elapsed)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestComplete_CallerCancelNotRetried(t *testing.T) {
	srv := httptest.NewServer(okHandler("never"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBreaker(1, time.Minute)
	c := NewClientWithBaseURL("test-key", srv.URL, WithBreaker(b))
	_, err := c.Complete(ctx, "s", "u")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("caller cancellation must not trip the breaker, state = %s", b.State())
	}
}

func TestComplete_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewBreaker(2, time.Minute)
	c := NewClientWithBaseURL("test-key", srv.URL, WithBreaker(b), WithBackoff(time.Millisecond))

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	before := calls.Load()
	_, err := c.Complete(context.Background(), "s", "u")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open breaker must not reach the upstream")
	}
}

func TestComplete_ClientErrorKeepsBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}))
	defer srv.Close()

	b := NewBreaker(1, time.Minute)
	c := NewClientWithBaseURL("bad-key", srv.URL, WithBreaker(b))
	for i := 0; i < 3; i++ {
		if _, err := c.Complete(context.Background(), "s", "u"); err == nil || err.Error() != "Incorrect API key provided" {
			t.Fatalf("err = %v", err)
		}
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestNewClient_Options(t *testing.T) {
	c := NewClient("k", WithModel("gpt-4o-mini"), WithModel(""))
	if c.Model() != "gpt-4o-mini" {
		t.Errorf("Model() = %q", c.Model())
	}
	if c.timeout != defaultTimeout {
		t.Errorf("timeout = %s", c.timeout)
	}
}
