// Package proxy talks to an OpenAI-compatible chat completions API.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	defaultModel    = "gpt-3.5-turbo"
	defaultTimeout  = 30 * time.Second
	maxAttempts     = 2
	defaultBackoff  = 250 * time.Millisecond
	maxResponseBody = 1 << 20
)

// Client sends single, non-streaming completion requests.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	params     Params
	timeout    time.Duration
	backoff    time.Duration
	httpClient *http.Client
	breaker    *Breaker
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithParams overrides the sampling settings.
func WithParams(p Params) Option {
	return func(c *Client) { c.params = p }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBackoff sets the pause before the retry.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		params:     DefaultParams,
		timeout:    defaultTimeout,
		backoff:    defaultBackoff,
		httpClient: &http.Client{},
		breaker:    NewBreaker(0, 0),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string, opts ...Option) *Client {
	return NewClient(apiKey, append([]Option{WithBaseURL(baseURL)}, opts...)...)
}

// Model returns the model name sent with each request.
func (c *Client) Model() string { return c.model }

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Complete sends the system prompt and the user's message and returns the
// first choice's content.
//
// Network errors, per-attempt timeouts and 5xx responses are retried once.
// Other upstream errors, 429 included, are returned as *APIError right away.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if err := c.breaker.Allow(); err != nil {
		return "", err
	}

	body, err := json.Marshal(ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:      c.params.Temperature,
		MaxTokens:        c.params.MaxTokens,
		PresencePenalty:  c.params.PresencePenalty,
		FrequencyPenalty: c.params.FrequencyPenalty,
	})
	if err != nil {
		c.breaker.Abandon()
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxAttempts {
		answer, err := c.doComplete(ctx, body)
		if err == nil {
			c.breaker.Success()
			return answer, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			c.breaker.Abandon()
			return "", ctx.Err()
		}
		if !isTransient(err) {
			c.settle(err)
			return "", err
		}

		if attempt < maxAttempts-1 {
			c.logger.Debug("retrying completion", "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				c.breaker.Abandon()
				return "", ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}

	c.breaker.Failure()
	return "", lastErr
}

// settle records a non-retryable outcome. A 429 means the upstream is
// shedding load and counts against it; other errors mean it answered.
func (c *Client) settle(err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		c.breaker.Failure()
		return
	}
	c.breaker.Success()
}

func (c *Client) doComplete(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &transportError{err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	var out ChatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", &APIError{Status: resp.StatusCode, Message: "completion returned no choices"}
	}
	return out.Choices[0].Message.Content, nil
}

func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return DefaultErrorMessage
}

// transportError is a failure to get any response at all.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "executing request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}
