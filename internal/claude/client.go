// Package claude implements the Anthropic Messages API client used by both
// analysis stages.
//
// The client is constructed once at process start and passed down
// explicitly; there is no package-level singleton. Each call runs under its
// own deadline, behind a rate limiter, with exponential backoff on
// transient provider failures only.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.anthropic.com"
	defaultModel       = "claude-3-5-haiku-latest"
	defaultMaxTokens   = 8192
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 2 * time.Second
	anthropicVersion   = "2023-06-01"
)

// Usage counts tokens consumed by model calls. Recorded for cost
// accounting only; it never drives control flow.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Completer is the model-call surface the analysis stages depend on.
// It exists so tests can substitute a mock.
type Completer interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, system, prompt string) (string, Usage, error)
	// Model reports the model identifier in use.
	Model() string
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxTokens caps the response length.
	MaxTokens int
	// Timeout is the per-call deadline. A hung remote call must not stall
	// a pipeline slot indefinitely.
	Timeout time.Duration
	// MaxRetries bounds backoff attempts on transient failures.
	MaxRetries int
	// RequestInterval is the minimum spacing between calls.
	RequestInterval time.Duration
}

// Client is an Anthropic Messages API client.
type Client struct {
	config      Config
	httpClient  *http.Client
	limiter     *rate.Limiter
	baseBackoff time.Duration
}

// retryableError marks failures worth retrying: rate limits, overload,
// server errors, timeouts. Anything else (e.g. a malformed request)
// propagates immediately; retrying it wastes budget with no chance of
// success.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// New creates a client from config.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:     rate.NewLimiter(limit, 1),
		baseBackoff: defaultBaseBackoff,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.config.Model
}

// request/response wire shapes.

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one prompt to the Messages API.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	req := messagesRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		System:    system,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
		Temperature: 0, // classification, not generation
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", Usage{}, fmt.Errorf("rate limiter: %w", err)
		}

		text, usage, err := c.doRequest(ctx, req)
		if err == nil {
			return text, usage, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return "", Usage{}, err
		}
	}

	return "", Usage{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs one attempt under a per-call deadline.
func (c *Client) doRequest(ctx context.Context, req messagesRequest) (string, Usage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.config.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network failures and deadline expiry are transient.
		return "", Usage{}, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", Usage{}, &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode == 529:
		return "", Usage{}, &retryableError{err: fmt.Errorf("overloaded (529)")}
	case resp.StatusCode >= 500:
		return "", Usage{}, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	case resp.StatusCode != http.StatusOK:
		var errResp apiError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", Usage{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", Usage{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return "", Usage{}, fmt.Errorf("parsing response: %w", err)
	}
	if len(mr.Content) == 0 {
		return "", Usage{}, errors.New("empty response from API")
	}

	return mr.Content[0].Text, mr.Usage, nil
}

// Ensure Client implements Completer.
var _ Completer = (*Client)(nil)
