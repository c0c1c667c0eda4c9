// Package client is the typed HTTP client of the anyheart backend.
package client

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

	"github.com/alexhamidi/anyheart/internal/logging"
	"github.com/alexhamidi/anyheart/pkg/domain"
	"github.com/alexhamidi/anyheart/pkg/ports"
)

// DefaultTimeout covers two upstream calls plus transport slack.
const DefaultTimeout = 75 * time.Second

var _ ports.Backend = (*Client)(nil)

// Error is a failure reported by the backend. It unwraps to the domain sentinel of its kind.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d %s: %s", e.StatusCode, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return domain.ErrorForKind(e.Kind)
}

// Client talks to the backend over HTTP.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger configures a logger for the Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: backend url %q", domain.ErrInvalidInput, baseURL)
	}
	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start opens a session with Round 1. An errored round returns both the result and the error.
func (c *Client) Start(ctx context.Context, req domain.StartRequest) (*domain.RoundResult, error) {
	return c.round(ctx, "/agent/start", req)
}

// Submit runs a follow-up round.
func (c *Client) Submit(ctx context.Context, sessionID, instruction, screenshot string) (*domain.RoundResult, error) {
	body := struct {
		Query      string `json:"query"`
		Screenshot string `json:"screenshot,omitempty"`
	}{instruction, screenshot}
	return c.round(ctx, "/agent/"+url.PathEscape(sessionID)+"/request", body)
}

// Status returns the session summary.
func (c *Client) Status(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var sum domain.Summary
	if err := c.do(ctx, http.MethodGet, "/agent/"+url.PathEscape(sessionID)+"/status", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Observe attaches an observation to the latest applied round.
func (c *Client) Observe(ctx context.Context, sessionID string, obs *domain.Observation) error {
	return c.do(ctx, http.MethodPost, "/agent/"+url.PathEscape(sessionID)+"/observation", obs, nil)
}

// Ack acknowledges the push of a round.
func (c *Client) Ack(ctx context.Context, sessionID string, iteration int) error {
	body := struct {
		Iteration int `json:"iteration"`
	}{iteration}
	return c.do(ctx, http.MethodPost, "/agent/"+url.PathEscape(sessionID)+"/ack", body, nil)
}

// Complete ends the session.
func (c *Client) Complete(ctx context.Context, sessionID string) (*domain.Summary, error) {
	var sum domain.Summary
	if err := c.do(ctx, http.MethodPost, "/agent/"+url.PathEscape(sessionID)+"/complete", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Abandon deletes the session.
func (c *Client) Abandon(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/agent/"+url.PathEscape(sessionID), nil, nil)
}

// CreateShare exports markup as a share link.
func (c *Client) CreateShare(ctx context.Context, req domain.ShareRequest) (*domain.ShareResult, error) {
	var res domain.ShareResult
	if err := c.do(ctx, http.MethodPost, "/api/share", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FetchShare loads a share record.
func (c *Client) FetchShare(ctx context.Context, shareID string) (*domain.ShareRecord, error) {
	var rec domain.ShareRecord
	if err := c.do(ctx, http.MethodGet, "/api/share/"+url.PathEscape(shareID), nil, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = shareID
	}
	return &rec, nil
}

// round posts a round request. Error bodies of errored rounds also carry the
// round result, which is returned alongside the error.
func (c *Client) round(ctx context.Context, path string, body any) (*domain.RoundResult, error) {
	var res domain.RoundResult
	err := c.do(ctx, http.MethodPost, path, body, &res)
	if err == nil {
		return &res, nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && res.SessionID != "" {
		return &res, err
	}
	return nil, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUpstreamError, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb domain.ErrorBody
		_ = json.Unmarshal(data, &eb)
		if eb.Error == "" {
			eb.Error = kindForStatus(resp.StatusCode)
		}
		if out != nil {
			// Errored rounds carry their result next to the error fields.
			_ = json.Unmarshal(data, out)
		}
		c.logger.Debug("Backend request failed", "method", method, "path", path, "status", resp.StatusCode, "kind", eb.Error)
		return &Error{StatusCode: resp.StatusCode, Kind: eb.Error, Message: eb.Message}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "session_not_found"
	case http.StatusGone:
		return "record_expired"
	case http.StatusRequestEntityTooLarge:
		return "content_too_large"
	case http.StatusGatewayTimeout:
		return "upstream_timeout"
	default:
		return "upstream_error"
	}
}
