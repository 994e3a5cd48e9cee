// Package websocket is the realtime transport, built on gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

const healthCheck = "health.check"

// TokenSource returns the user token used for each dial.
type TokenSource func(ctx context.Context) (string, error)

// Config holds the endpoint and credentials of the realtime socket.
type Config struct {
	// URL of the realtime endpoint, e.g. "wss://chat.example.com/connect".
	URL    string
	APIKey string
	UserID string
	Token  TokenSource

	// HandshakeTimeout bounds the upgrade plus the wait for the first
	// health.check frame.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds every control and data frame write.
	WriteTimeout time.Duration
	// ReadLimit is the largest inbound frame accepted, in bytes.
	ReadLimit int64

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
}

// Dialer implements connection.Dialer.
type Dialer struct {
	config Config
	dialer *gws.Dialer
	logger *logging.Logger
}

// NewDialer validates cfg and returns a Dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.URL == "" {
		return nil, errors.NewValidationError(errors.OpConnect, fmt.Errorf("websocket url is required"))
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.NewValidationError(errors.OpConnect, fmt.Errorf("invalid websocket url: %w", err))
	}
	cfg.setDefaults()
	return &Dialer{
		config: cfg,
		dialer: &gws.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.WithComponent(logging.ComponentTransport),
	}, nil
}

func (d *Dialer) endpoint(ctx context.Context) (string, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", d.config.APIKey)
	q.Set("user_id", d.config.UserID)
	if d.config.Token != nil {
		token, err := d.config.Token(ctx)
		if err != nil {
			return "", fmt.Errorf("user token: %w", err)
		}
		q.Set("authorization", token)
		q.Set("stream-auth-type", "jwt")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens the socket and waits for the server's first health.check,
// which carries the connection id. onPingResponse is called for every
// pong and every later health.check.
func (d *Dialer) Dial(ctx context.Context, onPingResponse func()) (connection.Conn, error) {
	endpoint, err := d.endpoint(ctx)
	if err != nil {
		return nil, errors.NewValidationError(errors.OpConnect, err)
	}
	requestID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Client-Request-Id", requestID)

	ws, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancellationError(requestID, ctx.Err())
		}
		if resp != nil {
			e := errors.NewConnectionError(errors.OpConnect, fmt.Errorf("dial: status=%d: %w", resp.StatusCode, err))
			e.Metadata = map[string]interface{}{"status": resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				e.Retryable = false
			}
			return nil, e
		}
		return nil, errors.NewConnectionError(errors.OpConnect, fmt.Errorf("dial: %w", err))
	}
	ws.SetReadLimit(d.config.ReadLimit)

	if onPingResponse == nil {
		onPingResponse = func() {}
	}
	c := &Conn{
		ws:             ws,
		writeTimeout:   d.config.WriteTimeout,
		onPingResponse: onPingResponse,
		logger:         d.logger,
	}
	ws.SetPongHandler(func(string) error {
		c.onPingResponse()
		return nil
	})

	if err := c.awaitHealthCheck(ctx, d.config.HandshakeTimeout); err != nil {
		_ = ws.Close()
		return nil, err
	}
	d.logger.Info("websocket connected",
		slog.String("connection_id", c.connectionID),
		slog.String("request_id", requestID),
	)
	return c, nil
}

// awaitHealthCheck reads the first frame. The server answers a rejected
// handshake with an error frame instead of health.check.
func (c *Conn) awaitHealthCheck(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	_, frame, err := c.ws.ReadMessage()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewCancellationError("handshake", ctx.Err())
		}
		return errors.NewConnectionError(errors.OpConnect, fmt.Errorf("waiting for health check: %w", err))
	}
	_ = c.ws.SetReadDeadline(time.Time{})

	if t := gjson.GetBytes(frame, "type").String(); t != healthCheck {
		msg := gjson.GetBytes(frame, "error.message").String()
		if msg == "" {
			msg = fmt.Sprintf("unexpected first frame %q", t)
		}
		e := errors.NewConnectionError(errors.OpConnect, fmt.Errorf("handshake rejected: %s", msg))
		e.Retryable = false
		return e
	}
	c.connectionID = gjson.GetBytes(frame, "connection_id").String()
	if c.connectionID == "" {
		return errors.NewConnectionError(errors.OpConnect, fmt.Errorf("health check without connection_id"))
	}
	c.first = frame
	return nil
}
