package chatsync

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

// session is one open socket with the goroutines reading from it.
type session struct {
	conn   connection.Conn
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
}

// clientPinger routes keep-alive pings to the current socket.
type clientPinger Client

func (p *clientPinger) SendPing(ctx context.Context) error {
	c := (*Client)(p)
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return errors.NewConnectionError(errors.OpPing, fmt.Errorf("no open socket"))
	}
	return s.conn.SendPing(ctx)
}

// Connect opens the realtime socket. It returns once the server has
// acknowledged the connection, or with the dial error after moving the
// connection to disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if err := c.machine.Transition(connection.Connecting()); err != nil {
		return err
	}

	conn, err := c.dialer.Dial(ctx, c.keepAlive.PingResponded)
	if err != nil {
		c.logger.LogError(ctx, err, "connect failed")
		if terr := c.machine.Transition(connection.Disconnected(err)); terr != nil {
			c.logger.Debug("connect failure transition ignored", slog.String("reason", terr.Error()))
		}
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(sessCtx)
	s := &session{conn: conn, cancel: cancel, group: group, done: make(chan struct{})}

	c.mu.Lock()
	if c.closed || c.machine.State().Status() != connection.StatusConnecting {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		if c.isClosed() {
			return ErrClientClosed
		}
		return errors.NewConnectionError(errors.OpConnect, fmt.Errorf("connection aborted while dialing"))
	}
	c.session = s
	c.mu.Unlock()

	c.pipeline.SetAccepting(true)
	if err := c.machine.Transition(connection.Connected(conn.ConnectionID())); err != nil {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
		c.endSession(s)
		return err
	}
	c.logger.WithContext(logging.WithConnectionID(ctx, conn.ConnectionID())).Info("connected")
	group.Go(func() error { return c.readPump(groupCtx, conn) })
	go c.watch(s)
	return nil
}

// readPump hands every frame to the pipeline in arrival order.
func (c *Client) readPump(ctx context.Context, conn connection.Conn) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		if err := c.pipeline.Submit(ctx, frame); err != nil {
			return err
		}
	}
}

// watch waits for the session's goroutines and reports an unrequested end
// as a failure.
func (c *Client) watch(s *session) {
	err := s.group.Wait()
	close(s.done)

	c.mu.Lock()
	current := c.session == s
	c.mu.Unlock()
	if !current {
		return
	}
	if err == nil {
		err = errors.NewConnectionError(errors.OpConnect, fmt.Errorf("socket closed"))
	}
	if terr := c.machine.Transition(connection.Disconnected(err)); terr != nil {
		c.logger.Debug("socket end transition ignored", slog.String("reason", terr.Error()))
	}
}

// connectionStateDidChange tears the socket down whenever the connection
// leaves the connected state without Disconnect, e.g. after the keep-alive
// declared it dead.
func (c *Client) connectionStateDidChange(_, state connection.State) {
	if state.Status() != connection.StatusDisconnected {
		return
	}
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s != nil {
		c.endSession(s)
	}
}

func (c *Client) endSession(s *session) {
	c.pipeline.SetAccepting(false)
	s.cancel()
	if err := s.conn.Close(); err != nil {
		c.logger.Debug("closing socket", slog.String("error", err.Error()))
	}
}

// Disconnect closes the socket on request. Frames already received are
// still processed.
func (c *Client) Disconnect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.disconnect(ctx)
}

func (c *Client) disconnect(ctx context.Context) error {
	switch c.machine.State().Status() {
	case connection.StatusConnected, connection.StatusConnecting:
	default:
		return nil
	}
	if err := c.machine.Transition(connection.Disconnecting()); err != nil {
		return err
	}

	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		c.endSession(s)
		select {
		case <-s.done:
		case <-ctx.Done():
			c.logger.Warn("socket goroutines still running after disconnect")
		}
	}
	return c.machine.Transition(connection.Disconnected(nil))
}
