package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/sqlstore"
)

// NotificationHandler receives decoded change notifications.
type NotificationHandler func(ctx context.Context, n ChangeNotification)

// ListenerOption configures a NotificationListener.
type ListenerOption func(*NotificationListener)

// WithReconnectInterval sets the pq.Listener reconnect bounds.
func WithReconnectInterval(min, max time.Duration) ListenerOption {
	return func(nl *NotificationListener) {
		nl.minReconnect = min
		nl.maxReconnect = max
	}
}

// WithPingInterval sets how long the listener may stay idle before pinging.
func WithPingInterval(d time.Duration) ListenerOption {
	return func(nl *NotificationListener) { nl.pingInterval = d }
}

// NotificationListener receives change notifications over LISTEN/NOTIFY.
type NotificationListener struct {
	connectionString string
	channel          string
	logger           *logging.Logger

	listener *pq.Listener
	closed   atomic.Bool

	mu       sync.RWMutex
	handlers []NotificationHandler

	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration

	done chan struct{}
}

// NewNotificationListener creates a listener on channel. It does not
// connect until Start.
func NewNotificationListener(connectionString, channel string, logger *logging.Logger, opts ...ListenerOption) (*NotificationListener, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string cannot be empty")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Discard()
	}
	nl := &NotificationListener{
		connectionString: connectionString,
		channel:          channel,
		logger:           logger.WithComponent(logging.ComponentStore).WithOperation("listen"),
		minReconnect:     5 * time.Second,
		maxReconnect:     time.Minute,
		pingInterval:     90 * time.Second,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(nl)
	}
	return nl, nil
}

// Subscribe adds a handler. Handlers run on the listen loop goroutine.
func (nl *NotificationListener) Subscribe(h NotificationHandler) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	nl.handlers = append(nl.handlers, h)
}

// eventCallback handles pq.Listener connection events
func (nl *NotificationListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		nl.logger.Info("connected for LISTEN/NOTIFY", slog.String("channel", nl.channel))
	case pq.ListenerEventDisconnected:
		nl.logger.Warn("listener disconnected", slog.String("error", fmt.Sprint(err)))
	case pq.ListenerEventReconnected:
		nl.logger.Info("listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		nl.logger.Warn("listener connection attempt failed", slog.String("error", fmt.Sprint(err)))
	}
}

// Start connects and begins dispatching notifications until ctx is done or
// Close is called.
func (nl *NotificationListener) Start(ctx context.Context) error {
	if nl.closed.Load() {
		return fmt.Errorf("listener is closed")
	}
	nl.listener = pq.NewListener(nl.connectionString, nl.minReconnect, nl.maxReconnect, nl.eventCallback)
	if err := nl.listener.Listen(nl.channel); err != nil {
		nl.listener.Close()
		return fmt.Errorf("failed to listen to channel %s: %w", nl.channel, err)
	}
	go nl.listenLoop(ctx, nl.listener.Notify)
	return nil
}

func (nl *NotificationListener) listenLoop(ctx context.Context, notify <-chan *pq.Notification) {
	defer nl.logger.Debug("notification listener stopped")

	ticker := time.NewTicker(nl.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-nl.done:
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			nl.handle(ctx, n)
		case <-ticker.C:
			go func() {
				if err := nl.listener.Ping(); err != nil {
					nl.logger.Warn("listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// handle decodes one notification. pq delivers nil after a reconnect, when
// notifications may have been missed, so that refreshes everything.
func (nl *NotificationListener) handle(ctx context.Context, n *pq.Notification) {
	var change ChangeNotification
	if n == nil {
		change.Scopes = sqlstore.Scopes{All: true}
	} else if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		nl.logger.Warn("malformed change notification",
			slog.String("channel", n.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	nl.mu.RLock()
	handlers := append([]NotificationHandler(nil), nl.handlers...)
	nl.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, change)
	}
}

// Close shuts down the listener.
func (nl *NotificationListener) Close() error {
	if !nl.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(nl.done)
	if nl.listener != nil {
		if err := nl.listener.Close(); err != nil {
			nl.logger.Warn("error closing pq listener", slog.String("error", err.Error()))
			return err
		}
	}
	return nil
}
