// Package typing tracks who is currently typing in each channel.
package typing

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/c0deZ3R0/go-chatsync-kit/events"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// DefaultTTL is how long a typing.start stays valid without a refresh.
// Clients resend typing.start every few seconds while the user types.
const DefaultTTL = 7 * time.Second

// Typer is one user typing in a channel or thread.
type Typer struct {
	CID       model.CID
	ParentID  string
	User      model.User
	StartedAt time.Time
}

type key struct {
	cid      model.CID
	parentID string
	userID   string
}

// Listener receives the full set of typers of a channel or thread after it
// changed.
type Listener func(cid model.CID, parentID string, typers []model.User)

// Option configures a Tracker.
type Option func(*Tracker)

// WithTTL sets how long an entry lives without a refresh.
func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

// WithIgnoredUser skips events about userID, usually the current user.
func WithIgnoredUser(userID string) Option {
	return func(t *Tracker) { t.ignore = userID }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// Tracker is an events.Observer for typing.start and typing.stop. An entry
// disappears on typing.stop or once its TTL runs out, whichever comes first.
type Tracker struct {
	cache  *ttlcache.Cache[key, Typer]
	ttl    time.Duration
	ignore string
	logger *logging.Logger

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	closeOnce sync.Once
}

// NewTracker starts a tracker. Close stops its expiry loop.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{ttl: DefaultTTL, listeners: make(map[int]Listener)}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Discard()
	}
	t.logger = t.logger.WithComponent(logging.ComponentTyping)

	t.cache = ttlcache.New[key, Typer](
		ttlcache.WithTTL[key, Typer](t.ttl),
		ttlcache.WithDisableTouchOnHit[key, Typer](),
	)
	t.cache.OnInsertion(func(_ context.Context, item *ttlcache.Item[key, Typer]) {
		t.changed(item.Key())
	})
	t.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[key, Typer]) {
		if reason == ttlcache.EvictionReasonExpired {
			t.logger.Debug("typing indicator expired",
				slog.String("cid", string(item.Key().cid)),
				slog.String("user_id", item.Key().userID),
			)
		}
		t.changed(item.Key())
	})
	go t.cache.Start()
	return t
}

// HandleEvent implements events.Observer.
func (t *Tracker) HandleEvent(_ context.Context, ev events.Event) {
	switch e := ev.(type) {
	case events.TypingStart:
		if e.User.ID == "" || e.User.ID == t.ignore {
			return
		}
		started := e.CreatedAt
		if started.IsZero() {
			started = time.Now()
		}
		k := key{cid: e.CID, parentID: e.ParentID, userID: e.User.ID}
		if prev := t.cache.Get(k); prev != nil {
			started = prev.Value().StartedAt
		}
		t.cache.Set(k, Typer{CID: e.CID, ParentID: e.ParentID, User: e.User, StartedAt: started}, ttlcache.DefaultTTL)
	case events.TypingStop:
		t.cache.Delete(key{cid: e.CID, parentID: e.ParentID, userID: e.User.ID})
	}
}

// Typers returns the users typing in cid, or in a thread when parentID is
// set, in the order they started typing.
func (t *Tracker) Typers(cid model.CID, parentID string) []model.User {
	var found []Typer
	for k, item := range t.cache.Items() {
		if k.cid != cid || k.parentID != parentID || item.IsExpired() {
			continue
		}
		found = append(found, item.Value())
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].StartedAt.Equal(found[j].StartedAt) {
			return found[i].StartedAt.Before(found[j].StartedAt)
		}
		return strings.Compare(found[i].User.ID, found[j].User.ID) < 0
	})
	users := make([]model.User, len(found))
	for i, ty := range found {
		users[i] = ty.User
	}
	return users
}

// Subscribe registers l and returns a function removing it. Listeners run
// on the cache's callback goroutines and must not block.
func (t *Tracker) Subscribe(l Listener) (cancel func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) changed(k key) {
	t.mu.Lock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	typers := t.Typers(k.cid, k.parentID)
	for _, l := range listeners {
		l(k.cid, k.parentID, typers)
	}
}

// Close stops the expiry loop and drops every entry.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.cache.Stop()
		t.cache.DeleteAll()
	})
}
