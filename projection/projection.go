// Package projection publishes successive immutable snapshots of an ordered
// collection to any number of readers.
package projection

import (
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
)

// Subscriber receives every new snapshot.
type Subscriber[T model.Entity] func(snapshot *ordered.Collection[T])

// Option configures a Projection.
type Option func(*config)

type config struct {
	name   string
	logger *logging.Logger
}

// WithName labels the projection in log records.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithLogger sets the projection's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Projection owns the current snapshot. Mutations are serialized; each one
// reads the current snapshot, derives the next and publishes it. Subscribers
// are called outside the lock in publish order, so a subscriber may mutate
// the projection again.
type Projection[T model.Entity] struct {
	mu          sync.Mutex
	current     *ordered.Collection[T]
	subscribers map[int]Subscriber[T]
	nextID      int
	queue       []*ordered.Collection[T]
	draining    bool

	name   string
	logger *logging.Logger
}

// New returns a projection holding an empty collection sorted by desc.
func New[T model.Entity](desc ordered.SortDescriptor[T], opts ...Option) *Projection[T] {
	c := config{name: desc.String()}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return &Projection[T]{
		current:     ordered.NewCollection(desc),
		subscribers: make(map[int]Subscriber[T]),
		name:        c.name,
		logger:      c.logger.WithComponent(logging.ComponentProjection),
	}
}

// Current returns the latest complete snapshot.
func (p *Projection[T]) Current() *ordered.Collection[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ApplyChanges merges list changes. An empty batch publishes nothing.
func (p *Projection[T]) ApplyChanges(changes []ordered.ListChange[T]) *ordered.Collection[T] {
	if len(changes) == 0 {
		return p.Current()
	}
	return p.Update(func(c *ordered.Collection[T]) *ordered.Collection[T] {
		return c.WithListChanges(changes)
	})
}

// InsertPaginated merges a fetched page.
func (p *Projection[T]) InsertPaginated(batch []T, opts ...ordered.PaginationOption[T]) *ordered.Collection[T] {
	return p.Update(func(c *ordered.Collection[T]) *ordered.Collection[T] {
		return c.WithInsertingPaginated(batch, opts...)
	})
}

// Replace swaps the content for items.
func (p *Projection[T]) Replace(items []T) *ordered.Collection[T] {
	return p.Update(func(c *ordered.Collection[T]) *ordered.Collection[T] {
		return c.Replace(items)
	})
}

// Update derives the next snapshot from the current one under the lock and
// publishes it if its version differs.
func (p *Projection[T]) Update(fn func(*ordered.Collection[T]) *ordered.Collection[T]) *ordered.Collection[T] {
	p.mu.Lock()
	prev := p.current
	next := fn(prev)
	if next == nil || next.Version() == prev.Version() {
		p.mu.Unlock()
		return prev
	}
	p.current = next
	p.queue = append(p.queue, next)
	p.logger.Debug("snapshot published",
		slog.String("projection", p.name),
		slog.Uint64("version", next.Version()),
		slog.Int("len", next.Len()),
	)

	if p.draining {
		p.mu.Unlock()
		return next
	}
	p.draining = true
	for len(p.queue) > 0 {
		snapshot := p.queue[0]
		p.queue = p.queue[1:]
		subscribers := make([]Subscriber[T], 0, len(p.subscribers))
		for id := 0; id < p.nextID; id++ {
			if s, ok := p.subscribers[id]; ok {
				subscribers = append(subscribers, s)
			}
		}
		p.mu.Unlock()
		for _, s := range subscribers {
			s(snapshot)
		}
		p.mu.Lock()
	}
	p.draining = false
	p.mu.Unlock()
	return next
}

// Subscribe registers s for future snapshots and returns the current one.
func (p *Projection[T]) Subscribe(s Subscriber[T]) (current *ordered.Collection[T], cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subscribers[id] = s
	current = p.current
	p.mu.Unlock()

	var once sync.Once
	return current, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}
