package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

// KeepAliveConfig controls the ping cycle.
type KeepAliveConfig struct {
	// Interval between pings.
	Interval time.Duration
	// Timeout for a ping response.
	Timeout time.Duration
	// MaxMissed consecutive unanswered pings force a disconnect.
	MaxMissed int
}

// DefaultKeepAliveConfig mirrors the server's expected health check cadence.
var DefaultKeepAliveConfig = KeepAliveConfig{
	Interval:  25 * time.Second,
	Timeout:   10 * time.Second,
	MaxMissed: 2,
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultKeepAliveConfig.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultKeepAliveConfig.Timeout
	}
	if c.MaxMissed <= 0 {
		c.MaxMissed = DefaultKeepAliveConfig.MaxMissed
	}
	return c
}

// KeepAlive pings the socket while the machine is connected. After
// MaxMissed consecutive pings go unanswered it moves the machine to
// disconnected with a liveness timeout error. It never reconnects itself.
type KeepAlive struct {
	machine     *Machine
	config      KeepAliveConfig
	logger      *logging.Logger
	unsubscribe func()

	mu           sync.Mutex
	pinger       Pinger
	running      bool
	gen          uint64
	seq          uint64
	awaiting     bool
	missed       int
	pingTimer    *time.Timer
	timeoutTimer *time.Timer
	ctx          context.Context
	cancel       context.CancelFunc
}

// KeepAliveOption configures a KeepAlive.
type KeepAliveOption func(*KeepAlive)

func WithKeepAliveLogger(l *logging.Logger) KeepAliveOption {
	return func(k *KeepAlive) { k.logger = l }
}

// NewKeepAlive attaches a controller to machine. The cycle starts whenever
// the machine enters the connected state and stops on any other state.
func NewKeepAlive(machine *Machine, pinger Pinger, config KeepAliveConfig, opts ...KeepAliveOption) *KeepAlive {
	k := &KeepAlive{
		machine: machine,
		pinger:  pinger,
		config:  config.withDefaults(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = logging.Discard()
	}
	k.logger = k.logger.WithComponent(logging.ComponentKeepAlive)
	k.unsubscribe = machine.Subscribe(k.connectionStateDidChange)
	if machine.State().IsConnected() {
		k.start()
	}
	return k
}

// SetPinger swaps the ping target, typically after a reconnect.
func (k *KeepAlive) SetPinger(p Pinger) {
	k.mu.Lock()
	k.pinger = p
	k.mu.Unlock()
}

func (k *KeepAlive) connectionStateDidChange(_, state State) {
	if state.IsConnected() {
		k.start()
		return
	}
	k.mu.Lock()
	k.stopLocked()
	k.mu.Unlock()
}

func (k *KeepAlive) start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
	k.running = true
	k.missed = 0
	k.ctx, k.cancel = context.WithCancel(context.Background())
	k.schedulePingLocked(k.config.Interval)
}

func (k *KeepAlive) stopLocked() {
	k.running = false
	k.awaiting = false
	k.gen++
	if k.pingTimer != nil {
		k.pingTimer.Stop()
		k.pingTimer = nil
	}
	if k.timeoutTimer != nil {
		k.timeoutTimer.Stop()
		k.timeoutTimer = nil
	}
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
}

func (k *KeepAlive) schedulePingLocked(d time.Duration) {
	gen := k.gen
	k.pingTimer = time.AfterFunc(d, func() { k.ping(gen) })
}

func (k *KeepAlive) ping(gen uint64) {
	k.mu.Lock()
	if !k.running || gen != k.gen {
		k.mu.Unlock()
		return
	}
	if k.awaiting && k.missLocked() {
		k.mu.Unlock()
		k.forceDisconnect()
		return
	}
	k.awaiting = true
	k.seq++
	seq := k.seq
	k.timeoutTimer = time.AfterFunc(k.config.Timeout, func() { k.expire(gen, seq) })
	k.schedulePingLocked(k.config.Interval)
	pinger, ctx := k.pinger, k.ctx
	k.mu.Unlock()

	if pinger == nil {
		return
	}
	if err := pinger.SendPing(ctx); err != nil {
		k.logger.Warn("liveness ping failed", slog.String("error", err.Error()))
	}
}

func (k *KeepAlive) expire(gen, seq uint64) {
	k.mu.Lock()
	if !k.running || gen != k.gen || !k.awaiting || seq != k.seq {
		k.mu.Unlock()
		return
	}
	k.awaiting = false
	force := k.missLocked()
	k.mu.Unlock()
	if force {
		k.forceDisconnect()
	}
}

// missLocked counts one unanswered ping and reports whether the limit was
// reached, in which case the cycle is already stopped.
func (k *KeepAlive) missLocked() bool {
	k.missed++
	k.logger.Debug("liveness ping unanswered",
		slog.Int("missed", k.missed),
		slog.Int("max_missed", k.config.MaxMissed),
	)
	if k.missed < k.config.MaxMissed {
		return false
	}
	k.stopLocked()
	return true
}

func (k *KeepAlive) forceDisconnect() {
	k.mu.Lock()
	missed := k.missed
	k.mu.Unlock()

	cause := errors.NewLivenessTimeoutError(missed)
	if err := k.machine.Transition(Disconnected(cause)); err != nil {
		k.logger.Debug("liveness timeout ignored", slog.String("reason", err.Error()))
		return
	}
	k.logger.LogError(context.Background(), cause, "connection declared dead")
}

// PingResponded records a liveness response and resets the missed counter.
func (k *KeepAlive) PingResponded() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.awaiting = false
	k.missed = 0
	if k.timeoutTimer != nil {
		k.timeoutTimer.Stop()
		k.timeoutTimer = nil
	}
}

// PingTimedOut lets the transport report a ping it knows is lost.
func (k *KeepAlive) PingTimedOut() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.awaiting = false
	force := k.missLocked()
	k.mu.Unlock()
	if force {
		k.forceDisconnect()
	}
}

// Missed returns the current count of consecutive unanswered pings.
func (k *KeepAlive) Missed() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.missed
}

// Running reports whether the ping cycle is active.
func (k *KeepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Close detaches the controller from the machine and stops its timers.
func (k *KeepAlive) Close() {
	k.unsubscribe()
	k.mu.Lock()
	k.stopLocked()
	k.mu.Unlock()
}
