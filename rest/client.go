// Package rest is the paginated HTTP client used to backfill the local cache.
package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

// Limits defines size and compression limits for the client.
type Limits struct {
	MaxBodyBytes         int64 // Maximum compressed response size
	MaxDecompressedBytes int64 // Maximum decompressed response size
	EnableGzip           bool  // Request gzip responses and compress large bodies
	GzipMinBytes         int   // Minimum request size before compressing
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:         8 << 20,  // 8MB
		MaxDecompressedBytes: 64 << 20, // 64MB
		EnableGzip:           true,
		GzipMinBytes:         1024,
	}
}

// TokenSource returns the user token for each request.
type TokenSource func(ctx context.Context) (string, error)

// Client talks to the chat REST API.
type Client struct {
	baseURL string
	apiKey  string
	token   TokenSource
	http    *http.Client
	limits  Limits
	logger  *logging.Logger
}

// Option configures a Client using the functional options pattern.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its transport should have
// compression disabled so size limits apply to the raw body.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) { c.http = cl }
}

// WithLimits sets the size and compression limits.
func WithLimits(l Limits) Option {
	return func(c *Client) { c.limits = l }
}

// WithToken authenticates every request with a fixed user token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = func(context.Context) (string, error) { return token, nil }
	}
}

// WithTokenSource authenticates requests with tokens from src.
func WithTokenSource(src TokenSource) Option {
	return func(c *Client) { c.token = src }
}

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// newHTTPClient disables Go's transparent decompression so both compressed
// and decompressed limits can be enforced.
func newHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableCompression = true
	return &http.Client{Transport: tr, Timeout: 30 * time.Second}
}

// NewClient creates a client for baseURL, e.g. "https://chat.example.com".
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limits:  DefaultLimits(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	c.logger = c.logger.WithComponent(logging.ComponentREST)
	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string { return c.baseURL }

// Limits returns the current limits configuration
func (c *Client) Limits() Limits { return c.limits }

// apiError is the error body returned by the API.
type apiError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"StatusCode"`
}

// do sends one request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, op errors.Operation, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", c.apiKey)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.NewValidationError(op, fmt.Errorf("failed to marshal request: %w", err))
		}
	}

	var reader io.Reader
	compressed := false
	if payload != nil {
		reader = bytes.NewReader(payload)
		if c.limits.EnableGzip && len(payload) > c.limits.GzipMinBytes {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			if _, err := gw.Write(payload); err != nil {
				return errors.NewValidationError(op, fmt.Errorf("failed to compress request: %w", err))
			}
			if err := gw.Close(); err != nil {
				return errors.NewValidationError(op, fmt.Errorf("failed to close gzip writer: %w", err))
			}
			reader = &buf
			compressed = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.NewValidationError(op, fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.limits.EnableGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	req.Header.Set("X-Client-Request-Id", uuid.NewString())
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return errors.NewValidationError(op, fmt.Errorf("user token: %w", err))
		}
		req.Header.Set("Authorization", token)
		req.Header.Set("Stream-Auth-Type", "jwt")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancellationError(string(op), ctx.Err())
		}
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return errors.NewNetworkError(op, fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	r, cleanup, err := safeResponseReader(resp, c.limits)
	if err != nil {
		if isMaxBytes(err) {
			return sizeLimitError(op, err)
		}
		return errors.NewNetworkError(op, fmt.Errorf("failed to read response: %w", err))
	}
	defer cleanup()

	c.logger.Debug("request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, r)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		if errors.Is(err, errDecompressedTooLarge) || isMaxBytes(err) {
			return sizeLimitError(op, err)
		}
		return errors.NewDecodeError(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func sizeLimitError(op errors.Operation, err error) error {
	return errors.E(op, errors.Component("rest"), errors.KindInvalid, errors.ErrCodeValidationFailure,
		"response exceeds size limit", err)
}

// statusError maps an error status: 429 and 5xx are retryable, other 4xx
// are not.
func statusError(op errors.Operation, status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var apiErr apiError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	cause := fmt.Errorf("server error (status %d): %s", status, msg)

	var e *errors.SyncError
	if status == http.StatusTooManyRequests || status >= 500 {
		e = errors.NewNetworkError(op, cause)
	} else {
		e = errors.NewValidationError(op, cause)
		e.Component = "rest"
	}
	e.Metadata = map[string]interface{}{"status": status}
	if apiErr.Code != 0 {
		e.Metadata["api_code"] = apiErr.Code
	}
	return e
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *errors.SyncError
	if !errors.As(err, &e) || e.Metadata == nil {
		return 0
	}
	status, _ := e.Metadata["status"].(int)
	return status
}
