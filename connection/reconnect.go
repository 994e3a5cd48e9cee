package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/task"
)

// Reconnector calls connect with backoff whenever the machine is
// disconnected by a failure. It is opt-in: without one, the application
// decides when to reconnect. Disconnects without a cause, and failures marked
// as not retryable, never trigger it.
type Reconnector struct {
	machine     *Machine
	connect     func(ctx context.Context) error
	backoff     task.BackoffStrategy
	maxAttempts int
	logger      *logging.Logger
	unsubscribe func()

	mu      sync.Mutex
	attempt int
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

// ReconnectOption configures a Reconnector.
type ReconnectOption func(*Reconnector)

// WithReconnectBackoff sets the delay strategy.
func WithReconnectBackoff(b task.BackoffStrategy) ReconnectOption {
	return func(r *Reconnector) { r.backoff = b }
}

// WithMaxAttempts bounds consecutive failed attempts. Zero means unlimited.
func WithMaxAttempts(n int) ReconnectOption {
	return func(r *Reconnector) { r.maxAttempts = n }
}

func WithReconnectLogger(l *logging.Logger) ReconnectOption {
	return func(r *Reconnector) { r.logger = l }
}

// NewReconnector attaches to machine.
func NewReconnector(machine *Machine, connect func(ctx context.Context) error, opts ...ReconnectOption) *Reconnector {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconnector{
		machine: machine,
		connect: connect,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backoff == nil {
		r.backoff = task.DefaultBackoff()
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	r.logger = r.logger.WithComponent(logging.ComponentConnection)
	r.unsubscribe = machine.Subscribe(r.connectionStateDidChange)
	return r
}

func (r *Reconnector) connectionStateDidChange(_, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch state.Status() {
	case StatusConnected:
		r.attempt = 0
		r.backoff.Reset()
	case StatusDisconnected:
		if state.Err() == nil || r.ctx.Err() != nil {
			return
		}
		if permanent(state.Err()) {
			r.logger.Warn("not reconnecting after permanent failure", slog.String("cause", state.Err().Error()))
			return
		}
		if r.maxAttempts > 0 && r.attempt >= r.maxAttempts {
			r.logger.Warn("giving up reconnecting", slog.Int("attempts", r.attempt))
			return
		}
		delay := r.backoff.NextDelay(r.attempt)
		r.attempt++
		r.logger.Info("scheduling reconnect",
			slog.Int("attempt", r.attempt),
			slog.Duration("delay", delay),
			slog.String("cause", state.Err().Error()),
		)
		if r.timer != nil {
			r.timer.Stop()
		}
		r.timer = time.AfterFunc(delay, r.reconnect)
	}
}

// permanent reports a failure explicitly marked as not retryable, such as a
// rejected token. Errors without classification are retried.
func permanent(err error) bool {
	var se *errors.SyncError
	return errors.As(err, &se) && !se.Retryable
}

func (r *Reconnector) reconnect() {
	if r.ctx.Err() != nil {
		return
	}
	if err := r.connect(r.ctx); err != nil {
		r.logger.Debug("reconnect attempt failed", slog.String("error", err.Error()))
	}
}

// Attempts returns the number of reconnects scheduled since the last
// successful connection.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// Close stops any scheduled attempt and detaches from the machine.
func (r *Reconnector) Close() {
	r.unsubscribe()
	r.cancel()
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.mu.Unlock()
}
