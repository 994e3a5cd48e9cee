package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

const defaultQueueCapacity = 64

// Queue runs tasks one at a time in submission order. A task is started only
// after the previous one has finished.
type Queue struct {
	tasks  chan *Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger

	mu        sync.Mutex
	closed    bool
	submitted int64
	completed int64
	dropped   int64
}

// QueueOption configures a Queue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	capacity int
	logger   *logging.Logger
}

// WithCapacity bounds the number of tasks waiting to run.
func WithCapacity(n int) QueueOption {
	return func(c *queueConfig) { c.capacity = n }
}

// WithQueueLogger sets the queue's logger.
func WithQueueLogger(l *logging.Logger) QueueOption {
	return func(c *queueConfig) { c.logger = l }
}

// NewQueue starts the queue's worker goroutine.
func NewQueue(opts ...QueueOption) *Queue {
	config := queueConfig{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(&config)
	}
	if config.capacity <= 0 {
		config.capacity = defaultQueueCapacity
	}
	if config.logger == nil {
		config.logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan *Task, config.capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: config.logger.WithComponent(logging.ComponentTask),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Enqueue schedules t. It fails without blocking when the queue is full or
// closed; the task is cancelled in that case so its waiters are released.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		t.Cancel()
		return fmt.Errorf("task queue closed")
	}
	select {
	case q.tasks <- t:
		q.submitted++
		return nil
	default:
		q.dropped++
		t.Cancel()
		q.logger.Warn("task queue full, dropping task", slog.String("task", t.name))
		return fmt.Errorf("task queue full")
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case t := <-q.tasks:
			q.run(t)
		}
	}
}

func (q *Queue) run(t *Task) {
	if q.ctx.Err() != nil {
		t.Cancel()
		return
	}
	start := time.Now()
	t.Start(q.ctx)
	select {
	case <-t.Done():
	case <-q.ctx.Done():
		t.Cancel()
		return
	}

	q.mu.Lock()
	q.completed++
	q.mu.Unlock()
	q.logger.Debug("task completed",
		slog.String("task", t.name),
		slog.Int("executions", t.Executions()),
		slog.Duration("duration", time.Since(start)),
	)
}

// Close cancels the running task and every queued one, then waits for the
// worker to exit.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	for {
		select {
		case t := <-q.tasks:
			t.Cancel()
		default:
			return nil
		}
	}
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Submitted int64
	Completed int64
	Dropped   int64
	Pending   int
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Submitted: q.submitted,
		Completed: q.completed,
		Dropped:   q.dropped,
		Pending:   len(q.tasks),
	}
}
