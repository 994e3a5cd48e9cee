package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

var opRead = errors.Op("read")

// Conn is an established realtime socket. ReadFrame must be called from a
// single goroutine; writes are serialized internally.
type Conn struct {
	ws             *gws.Conn
	connectionID   string
	writeTimeout   time.Duration
	onPingResponse func()
	logger         *logging.Logger

	first []byte // the handshake health.check, returned by the first read

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ConnectionID returns the id from the handshake health.check.
func (c *Conn) ConnectionID() string { return c.connectionID }

// ReadFrame returns the next text frame. Cancelling ctx aborts the read and
// leaves the socket unusable.
func (c *Conn) ReadFrame(ctx context.Context) ([]byte, error) {
	if c.first != nil {
		frame := c.first
		c.first = nil
		return frame, nil
	}
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		kind, frame, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewCancellationError(c.connectionID, ctx.Err())
			}
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				return nil, errors.E(opRead, errors.Component("transport"), errors.KindClosed,
					errors.ErrCodeConnectionFailure, true, "socket closed by server", err)
			}
			return nil, errors.NewConnectionError(opRead, err)
		}
		if kind != gws.TextMessage {
			c.logger.Debug("ignoring non-text frame", slog.Int("kind", kind))
			continue
		}
		if gjson.GetBytes(frame, "type").String() == healthCheck {
			c.onPingResponse()
		}
		return frame, nil
	}
}

// SendPing writes a ping control frame. The pong is reported through the
// onPingResponse callback given to Dial.
func (c *Conn) SendPing(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteControl(gws.PingMessage, nil, c.deadline(ctx)); err != nil {
		return errors.NewConnectionError(errors.OpPing, fmt.Errorf("ping: %w", err))
	}
	return nil
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// Close sends a normal close frame and closes the socket. It is safe to
// call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := gws.FormatCloseMessage(gws.CloseNormalClosure, "")
		_ = c.ws.WriteControl(gws.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
		c.logger.Debug("websocket closed", slog.String("connection_id", c.connectionID))
	})
	return c.closeErr
}
