package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
)

const defaultBuffer = 256

// ErrPipelineClosed is returned by Submit after Close.
var ErrPipelineClosed = errors.E(errors.OpDispatch, errors.Component("pipeline"), errors.KindClosed, "pipeline is closed")

// Middleware persists an event. Every middleware for one event runs inside
// the same store write session.
type Middleware interface {
	Apply(ctx context.Context, ev Event, sess storage.Session) error
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(ctx context.Context, ev Event, sess storage.Session) error

func (f MiddlewareFunc) Apply(ctx context.Context, ev Event, sess storage.Session) error {
	return f(ctx, ev, sess)
}

// Observer is notified after the event's writes are committed.
type Observer interface {
	HandleEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Writer opens store write sessions. storage.Store satisfies it.
type Writer interface {
	Write(ctx context.Context, fn func(storage.Session) error) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBuffer sets how many frames may wait for the worker.
func WithBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

type item struct {
	frame   []byte
	barrier chan struct{}
}

// Pipeline processes frames strictly one after another: decode, persist,
// then notify observers in registration order. A frame is fully handled
// before the next one is decoded.
type Pipeline struct {
	decoder *Decoder
	writer  Writer
	logger  *logging.Logger
	buffer  int

	in   chan item
	done chan struct{}
	ctx  context.Context
	stop context.CancelFunc

	// mu guards closing in against concurrent sends.
	mu     sync.RWMutex
	closed bool

	hmu         sync.Mutex
	middlewares []Middleware
	observers   map[int]Observer
	nextID      int

	accepting atomic.Bool

	received           atomic.Int64
	processed          atomic.Int64
	dropped            atomic.Int64
	decodeFailures     atomic.Int64
	middlewareFailures atomic.Int64
}

// NewPipeline starts the worker. writer may be nil when no middleware is
// installed. The pipeline starts accepting frames.
func NewPipeline(decoder *Decoder, writer Writer, opts ...Option) *Pipeline {
	if decoder == nil {
		decoder = NewDecoder()
	}
	p := &Pipeline{
		decoder:   decoder,
		writer:    writer,
		buffer:    defaultBuffer,
		observers: make(map[int]Observer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.logger = p.logger.WithComponent(logging.ComponentPipeline)
	p.in = make(chan item, p.buffer)
	p.ctx, p.stop = context.WithCancel(context.Background())
	p.accepting.Store(true)

	go p.run()
	return p
}

// Use appends a persistence middleware.
func (p *Pipeline) Use(m Middleware) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	p.middlewares = append(p.middlewares, m)
}

// Subscribe registers an observer. Observers run on the worker goroutine.
func (p *Pipeline) Subscribe(o Observer) (cancel func()) {
	p.hmu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = o
	p.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.hmu.Lock()
			delete(p.observers, id)
			p.hmu.Unlock()
		})
	}
}

// SetAccepting gates the pipeline. Frames submitted while closed are
// dropped and counted.
func (p *Pipeline) SetAccepting(accepting bool) {
	p.accepting.Store(accepting)
}

// Accepting reports whether Submit currently enqueues frames.
func (p *Pipeline) Accepting() bool { return p.accepting.Load() }

// Submit enqueues a frame, blocking while the buffer is full.
func (p *Pipeline) Submit(ctx context.Context, frame []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.received.Add(1)
	if !p.accepting.Load() {
		p.dropped.Add(1)
		p.logger.Debug("pipeline gated, dropping frame", slog.Int("bytes", len(frame)))
		return nil
	}
	select {
	case p.in <- item{frame: frame}:
		return nil
	case <-ctx.Done():
		p.dropped.Add(1)
		return errors.NewCancellationError("pipeline.submit", ctx.Err())
	}
}

// Flush waits until every frame submitted before the call is handled.
func (p *Pipeline) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPipelineClosed
	}
	select {
	case p.in <- item{barrier: barrier}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) run() {
	defer close(p.done)
	for it := range p.in {
		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		p.process(p.ctx, it.frame)
	}
}

func (p *Pipeline) process(ctx context.Context, frame []byte) {
	ev, err := p.decoder.Decode(frame)
	if err != nil {
		p.decodeFailures.Add(1)
		p.logger.LogError(ctx, err, "dropping undecodable frame", slog.Int("bytes", len(frame)))
		return
	}
	p.Dispatch(ctx, ev)
}

// Dispatch runs an already decoded event through middleware and observers
// on the caller's goroutine. The worker uses it for every frame.
func (p *Pipeline) Dispatch(ctx context.Context, ev Event) {
	p.hmu.Lock()
	middlewares := append([]Middleware(nil), p.middlewares...)
	observers := make([]Observer, 0, len(p.observers))
	for id := 0; id < p.nextID; id++ {
		if o, ok := p.observers[id]; ok {
			observers = append(observers, o)
		}
	}
	p.hmu.Unlock()

	if len(middlewares) > 0 && p.writer != nil {
		err := p.writer.Write(ctx, func(sess storage.Session) error {
			for _, m := range middlewares {
				if err := m.Apply(ctx, ev, sess); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			p.middlewareFailures.Add(1)
			p.logger.LogError(ctx, err, "event persistence failed",
				slog.String("event", ev.EventType()),
				slog.String("cid", string(ev.Channel())),
			)
		}
	}

	for _, o := range observers {
		o.HandleEvent(ctx, ev)
	}
	p.processed.Add(1)
}

// Close stops accepting frames, handles the ones already queued and waits
// for the worker to exit.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.in)
	p.mu.Unlock()

	<-p.done
	p.stop()
	return nil
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Received           int64
	Processed          int64
	Dropped            int64
	DecodeFailures     int64
	MiddlewareFailures int64
	Queued             int
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:           p.received.Load(),
		Processed:          p.processed.Load(),
		Dropped:            p.dropped.Load(),
		DecodeFailures:     p.decodeFailures.Load(),
		MiddlewareFailures: p.middlewareFailures.Load(),
		Queued:             len(p.in),
	}
}
