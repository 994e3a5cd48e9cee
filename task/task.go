// Package task provides a cancellable unit of asynchronous work with a
// bounded number of retries, and a serial queue to run such tasks.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

// Outcome is reported by Work through its completion callback.
type Outcome int

const (
	// Retry asks for another execution if retries remain.
	Retry Outcome = iota + 1
	// ContinueToCompletion finishes the task regardless of remaining retries.
	ContinueToCompletion
)

func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case ContinueToCompletion:
		return "continueToCompletion"
	default:
		return "unknown"
	}
}

// Work performs one execution and must call complete exactly once, possibly
// from another goroutine. ctx is cancelled when the task is cancelled.
type Work func(ctx context.Context, complete func(Outcome))

// Option configures a Task.
type Option func(*Task)

// WithBackoff delays each retry by the strategy's delay.
func WithBackoff(b BackoffStrategy) Option {
	return func(t *Task) { t.backoff = b }
}

// WithName labels the task in log records.
func WithName(name string) Option {
	return func(t *Task) { t.name = name }
}

// WithLogger sets the logger used for retry and completion records.
func WithLogger(l *logging.Logger) Option {
	return func(t *Task) { t.logger = l }
}

// Task executes Work at most maxRetries+1 times. All state is guarded by mu
// and only exposed through accessor methods.
type Task struct {
	work       Work
	maxRetries int
	backoff    BackoffStrategy
	name       string
	logger     *logging.Logger

	mu         sync.Mutex
	started    bool
	executing  bool
	finished   bool
	cancelled  bool
	executions int
	retries    int
	timer      *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a task that is not started yet.
func New(maxRetries int, work Work, opts ...Option) *Task {
	if maxRetries < 0 {
		maxRetries = 0
	}
	t := &Task{
		work:       work,
		maxRetries: maxRetries,
		name:       "task",
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Discard()
	}
	t.logger = t.logger.WithComponent(logging.ComponentTask)
	return t
}

// Start begins the first execution in a new goroutine. A task cancelled
// before Start finishes without executing. Calling Start twice is a no-op.
func (t *Task) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	if t.cancelled {
		t.finishLocked()
		return
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	go t.execute()
}

// Cancel requests cooperative cancellation. An executing task sees its
// context cancelled and will not be retried; an idle task finishes at once.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || t.cancelled {
		return
	}
	t.cancelled = true
	if t.cancel != nil {
		t.cancel()
	}
	if !t.executing {
		if t.timer != nil {
			t.timer.Stop()
		}
		t.finishLocked()
	}
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) IsExecuting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executing
}

func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Executions returns how many times Work has been invoked.
func (t *Task) Executions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executions
}

// Retries returns how many re-executions have been scheduled.
func (t *Task) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

func (t *Task) execute() {
	t.mu.Lock()
	t.timer = nil
	if t.finished {
		t.mu.Unlock()
		return
	}
	if t.cancelled {
		t.finishLocked()
		t.mu.Unlock()
		return
	}
	t.executing = true
	t.executions++
	attempt := t.executions
	ctx := t.ctx
	t.mu.Unlock()

	var once sync.Once
	t.work(ctx, func(outcome Outcome) {
		once.Do(func() { t.complete(attempt, outcome) })
	})
}

func (t *Task) complete(attempt int, outcome Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || attempt != t.executions {
		return
	}
	t.executing = false

	if outcome != Retry || t.cancelled || t.retries >= t.maxRetries {
		if outcome == ContinueToCompletion && t.backoff != nil {
			t.backoff.Reset()
		}
		t.finishLocked()
		return
	}

	t.retries++
	var delay time.Duration
	if t.backoff != nil {
		delay = t.backoff.NextDelay(t.retries - 1)
	}
	t.logger.Debug("retrying task",
		slog.String("task", t.name),
		slog.Int("retry", t.retries),
		slog.Int("max_retries", t.maxRetries),
		slog.Duration("delay", delay),
	)
	if delay <= 0 {
		go t.execute()
		return
	}
	t.timer = time.AfterFunc(delay, t.execute)
}

func (t *Task) finishLocked() {
	if t.finished {
		return
	}
	t.finished = true
	t.executing = false
	if t.cancel != nil {
		t.cancel()
	}
	close(t.done)
	t.logger.Debug("task finished",
		slog.String("task", t.name),
		slog.Int("executions", t.executions),
		slog.Bool("cancelled", t.cancelled),
	)
}
