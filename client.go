// Package chatsync keeps a local chat cache in sync with a server.
//
// A Client owns one realtime connection and the event pipeline feeding the
// local store, and hands out controllers (MessageList, ChannelList,
// WatcherList) that expose ordered, deduplicated snapshots of that store.
package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/events"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/pending"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
	"github.com/c0deZ3R0/go-chatsync-kit/task"
	"github.com/c0deZ3R0/go-chatsync-kit/typing"
)

// DefaultPendingTimeout bounds how long SendMessage waits for the server to
// echo a message back over the socket.
const DefaultPendingTimeout = 30 * time.Second

// ErrClientClosed is returned by every operation after Close.
var ErrClientClosed = errors.E(errors.OpClose, errors.Component("client"), errors.KindClosed, "client is closed")

// API is the subset of the REST client the engine needs. *rest.Client
// implements it.
type API interface {
	QueryChannels(ctx context.Context, q rest.ChannelQuery) (rest.Page[rest.ChannelState], error)
	GetMessages(ctx context.Context, cid model.CID, p rest.Pagination) (rest.Page[model.Message], error)
	SendMessage(ctx context.Context, cid model.CID, msg model.Message) (model.Message, error)
}

var _ API = (*rest.Client)(nil)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger         *logging.Logger
	keepAlive      connection.KeepAliveConfig
	reconnect      bool
	reconnectOpts  []connection.ReconnectOption
	pendingTimeout time.Duration
	sendRetries    int
	sendBackoff    task.BackoffStrategy
	pageSize       int
	pipelineBuffer int
	typingTTL      time.Duration
	middleware     []events.Middleware
	closers        []func() error
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeepAlive sets the liveness ping cycle.
func WithKeepAlive(cfg connection.KeepAliveConfig) Option {
	return func(o *options) { o.keepAlive = cfg }
}

// WithReconnect reconnects with backoff after a failed connection.
func WithReconnect(opts ...connection.ReconnectOption) Option {
	return func(o *options) {
		o.reconnect = true
		o.reconnectOpts = opts
	}
}

// WithPendingTimeout bounds how long SendMessage waits for confirmation.
func WithPendingTimeout(d time.Duration) Option {
	return func(o *options) { o.pendingTimeout = d }
}

// WithSendRetries sets how often a failed send is retried and the delay
// between attempts.
func WithSendRetries(n int, backoff task.BackoffStrategy) Option {
	return func(o *options) {
		o.sendRetries = n
		o.sendBackoff = backoff
	}
}

// WithPageSize sets the page size used by the controllers.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithPipelineBuffer sets how many inbound frames may wait for processing.
func WithPipelineBuffer(n int) Option {
	return func(o *options) { o.pipelineBuffer = n }
}

// WithTypingTTL sets how long a typing indicator lives without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return func(o *options) { o.typingTTL = d }
}

// WithMiddleware adds persistence middleware run after the built in one.
func WithMiddleware(m events.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, m) }
}

// withCloser registers a resource the client owns and closes last.
func withCloser(fn func() error) Option {
	return func(o *options) { o.closers = append(o.closers, fn) }
}

// Client composes the store, the realtime connection and the REST API.
type Client struct {
	userID string
	store  storage.Store
	api    API
	dialer connection.Dialer
	opts   options
	logger *logging.Logger

	machine     *connection.Machine
	keepAlive   *connection.KeepAlive
	reconnector *connection.Reconnector
	pipeline    *events.Pipeline
	typing      *typing.Tracker
	outbox      *task.Queue
	sends       *pending.Table[string, model.Message]

	unsubscribe func()

	mu      sync.Mutex
	session *session
	closed  bool
}

// New builds a client for userID. The store is not closed by Close unless
// it was opened by NewFromConfig.
func New(userID string, store storage.Store, api API, dialer connection.Dialer, opts ...Option) (*Client, error) {
	if userID == "" {
		return nil, errors.NewValidationError(errors.OpConnect, fmt.Errorf("user id is required"))
	}
	if store == nil || api == nil || dialer == nil {
		return nil, errors.NewValidationError(errors.OpConnect, fmt.Errorf("store, api and dialer are required"))
	}
	o := options{
		keepAlive:      connection.DefaultKeepAliveConfig,
		pendingTimeout: DefaultPendingTimeout,
		sendRetries:    2,
		pageSize:       rest.DefaultPageSize,
		typingTTL:      typing.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	if o.sendBackoff == nil {
		o.sendBackoff = task.DefaultBackoff()
	}

	c := &Client{
		userID: userID,
		store:  store,
		api:    api,
		dialer: dialer,
		opts:   o,
		logger: o.logger.WithComponent(logging.ComponentClient),
		sends:  pending.New[string, model.Message](),
	}
	c.machine = connection.NewMachine(connection.WithMachineLogger(o.logger))
	c.keepAlive = connection.NewKeepAlive(c.machine, (*clientPinger)(c), o.keepAlive,
		connection.WithKeepAliveLogger(o.logger))
	if o.reconnect {
		ropts := append([]connection.ReconnectOption{connection.WithReconnectLogger(o.logger)}, o.reconnectOpts...)
		c.reconnector = connection.NewReconnector(c.machine, c.Connect, ropts...)
	}

	c.pipeline = events.NewPipeline(events.NewDecoder(), store,
		events.WithBuffer(o.pipelineBuffer), events.WithLogger(o.logger))
	c.pipeline.Use(events.Persistence{})
	for _, m := range o.middleware {
		c.pipeline.Use(m)
	}
	c.pipeline.Subscribe(events.ObserverFunc(c.confirmSends))

	c.typing = typing.NewTracker(
		typing.WithTTL(o.typingTTL),
		typing.WithIgnoredUser(userID),
		typing.WithLogger(o.logger),
	)
	c.pipeline.Subscribe(c.typing)

	c.outbox = task.NewQueue(task.WithQueueLogger(o.logger))
	c.unsubscribe = c.machine.Subscribe(c.connectionStateDidChange)
	return c, nil
}

// UserID returns the id of the connected user.
func (c *Client) UserID() string { return c.userID }

// Store returns the local cache.
func (c *Client) Store() storage.Store { return c.store }

// Typing returns the typing indicator tracker.
func (c *Client) Typing() *typing.Tracker { return c.typing }

// State returns the current connection state.
func (c *Client) State() connection.State { return c.machine.State() }

// OnConnectionChange registers l for connection state changes.
func (c *Client) OnConnectionChange(l connection.Listener) (cancel func()) {
	return c.machine.Subscribe(l)
}

// OnEvent registers o for every event after it was persisted.
func (c *Client) OnEvent(o events.Observer) (cancel func()) {
	return c.pipeline.Subscribe(o)
}

// PipelineStats returns the event pipeline counters.
func (c *Client) PipelineStats() events.Stats { return c.pipeline.Stats() }

// Flush waits until every frame received so far has been processed.
func (c *Client) Flush(ctx context.Context) error { return c.pipeline.Flush(ctx) }

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// confirmSends resolves callers waiting for their message to come back.
func (c *Client) confirmSends(_ context.Context, ev events.Event) {
	if e, ok := ev.(events.MessageNew); ok {
		msg := e.Message
		if msg.CID == "" {
			msg.CID = e.CID
		}
		msg.LocalState = model.LocalStateNone
		c.sends.Resolve(msg.ID, msg)
	}
}

// Close disconnects and releases every component. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.reconnector != nil {
		c.reconnector.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.disconnect(ctx); err != nil {
		c.logger.Debug("disconnect on close", slog.String("error", err.Error()))
	}

	c.unsubscribe()
	c.keepAlive.Close()
	_ = c.outbox.Close()
	_ = c.pipeline.Close()
	c.typing.Close()
	c.sends.FailAll(ErrClientClosed)

	var firstErr error
	for _, closer := range c.opts.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
