// Package host talks to the agent runtime over its HTTP API.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/reflection-judge/internal/domain"
	"github.com/ashureev/reflection-judge/internal/reflection"
)

var (
	// ErrHostStatus wraps non-2xx responses.
	ErrHostStatus = errors.New("unexpected host status")
	errEmptyID    = errors.New("host returned session without id")
)

const maxErrorBody = 512

// Config holds configuration for the host client.
type Config struct {
	BaseURL        string
	Directory      string
	RequestTimeout time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:4096",
		RequestTimeout: 30 * time.Second,
	}
}

// Client is an HTTP client for the agent runtime.
type Client struct {
	baseURL   *url.URL
	directory string
	timeout   time.Duration
	http      *http.Client
	stream    *http.Client // no timeout: the event stream is long-lived
	logger    *slog.Logger
}

// Ensure Client satisfies the judge's host contract.
var _ reflection.Host = (*Client)(nil)

// NewClient creates a client for the runtime at cfg.BaseURL.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse host url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("host url %q must be http or https", cfg.BaseURL)
	}

	return &Client{
		baseURL:   base,
		directory: cfg.Directory,
		timeout:   cfg.RequestTimeout,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		stream:    &http.Client{},
		logger:    logger,
	}, nil
}

// endpoint resolves an already escaped path against the base URL.
func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	}
	if c.directory != "" {
		q := u.Query()
		q.Set("directory", c.directory)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrHostStatus, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// CreateSession allocates a new session.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	var out wireSession
	if err := c.do(ctx, http.MethodPost, "/session", map[string]string{"title": title}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errEmptyID
	}
	return out.ID, nil
}

// SubmitPromptAsync queues a prompt without waiting for the reply.
func (c *Client) SubmitPromptAsync(ctx context.Context, sessionID string, prompt domain.Prompt) error {
	body := wirePromptRequest{
		Parts: []wirePromptPart{{Type: "text", Text: prompt.Text}},
		Model: prompt.Model,
	}
	return c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/prompt_async", body, nil)
}

// Messages returns the session transcript.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var out []wireMessage
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", nil, &out); err != nil {
		return nil, err
	}
	messages := make([]domain.Message, 0, len(out))
	for _, m := range out {
		messages = append(messages, m.toDomain())
	}
	return messages, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, nil)
}

// Notify shows a toast in the runtime's UI.
func (c *Client) Notify(ctx context.Context, n domain.Notification) error {
	return c.do(ctx, http.MethodPost, "/tui/show-toast", wireToast{
		Title:    n.Title,
		Message:  n.Message,
		Variant:  string(n.Severity),
		Duration: n.Duration.Milliseconds(),
	}, nil)
}
