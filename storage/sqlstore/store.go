// Package sqlstore implements storage.Store on database/sql. The sqlite and
// postgres packages open the database and pick the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.E(errors.OpStore, errors.Component("store"), errors.KindClosed, "store is closed")

type scopeKind int

const (
	scopeChannels scopeKind = iota
	scopeMessages
	scopeWatchers
)

type scope struct {
	kind scopeKind
	cid  model.CID
}

type observer struct {
	scope   scope
	refresh func(ctx context.Context) error
}

// Store is the shared database/sql implementation.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool

	// writeMu serializes writes with their notifications so observers see
	// commits in order.
	writeMu   sync.Mutex
	observers map[int]*observer
	nextID    int

	commitHook CommitHook
}

// CommitHook runs inside the write transaction just before commit with the
// scopes the write modified.
type CommitHook func(ctx context.Context, tx *sql.Tx, scopes Scopes) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs hook.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commitHook = hook }
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database and creates the schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect, logger *logging.Logger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Store{
		db:        db,
		dialect:   dialect,
		logger:    logger.WithComponent(logging.ComponentStore),
		observers: make(map[int]*observer),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.WrapOpComponent(err, "setupSchema", "storage/"+dialect.Name)
		}
	}
	return s, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Write runs fn in a transaction and notifies touched observations after
// commit.
func (s *Store) Write(ctx context.Context, fn func(storage.Session) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError(errors.OpStore, err)
	}
	sess := &session{tx: tx, dialect: s.dialect, touched: newTouched()}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(sess); err != nil {
		return err
	}
	if s.commitHook != nil && !sess.touched.empty() {
		if err = s.commitHook(ctx, tx, sess.touched.scopes()); err != nil {
			return errors.NewStorageError(errors.OpStore, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.NewStorageError(errors.OpStore, err)
	}

	s.notify(ctx, sess.touched)
	return nil
}

func (s *Store) notify(ctx context.Context, t *touched) {
	if t.empty() {
		return
	}
	for id := 0; id < s.nextID; id++ {
		o, ok := s.observers[id]
		if !ok || !t.covers(o.scope) {
			continue
		}
		if err := o.refresh(ctx); err != nil {
			s.logger.LogError(ctx, err, "observation refresh failed",
				slog.Int("observer", id),
				slog.String("cid", string(o.scope.cid)),
			)
		}
	}
}

// Refresh re-runs the observations covered by scopes. It is used when
// another process modified the database.
func (s *Store) Refresh(ctx context.Context, scopes Scopes) {
	if s.checkOpen() != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.notify(ctx, scopes.touched())
}

func (s *Store) register(sc scope, refresh func(ctx context.Context) error) (func(), error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := refresh(context.Background()); err != nil {
		return nil, err
	}
	id := s.nextID
	s.nextID++
	s.observers[id] = &observer{scope: sc, refresh: refresh}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.writeMu.Lock()
			delete(s.observers, id)
			s.writeMu.Unlock()
		})
	}, nil
}

// observe builds a refresh closure that diffs successive query results.
func observe[T model.Entity](s *Store, sc scope, query func(ctx context.Context) ([]T, error), fn func(storage.Batch[T])) (func(), error) {
	var last []T
	return s.register(sc, func(ctx context.Context) error {
		next, err := query(ctx)
		if err != nil {
			return err
		}
		changes := ordered.Diff(last, next)
		if len(changes) == 0 {
			return nil
		}
		before := last
		last = next
		fn(storage.Batch[T]{Before: before, Changes: changes})
		return nil
	})
}

func (s *Store) ObserveChannels(fn func(storage.Batch[model.Channel])) (func(), error) {
	return observe(s, scope{kind: scopeChannels}, s.Channels, fn)
}

func (s *Store) ObserveMessages(cid model.CID, fn func(storage.Batch[model.Message])) (func(), error) {
	return observe(s, scope{kind: scopeMessages, cid: cid}, func(ctx context.Context) ([]model.Message, error) {
		return s.Messages(ctx, cid)
	}, fn)
}

func (s *Store) ObserveWatchers(cid model.CID, fn func(storage.Batch[model.User])) (func(), error) {
	return observe(s, scope{kind: scopeWatchers, cid: cid}, func(ctx context.Context) ([]model.User, error) {
		return s.Watchers(ctx, cid)
	}, fn)
}

// Stats returns database statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database. Observations are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	s.observers = make(map[int]*observer)
	s.writeMu.Unlock()

	if err := s.db.Close(); err != nil {
		return errors.NewStorageError(errors.OpClose, fmt.Errorf("close %s: %w", s.dialect.Name, err))
	}
	return nil
}

// touched records which observation scopes a session modified.
type touched struct {
	all      bool
	channels bool
	users    bool
	messages map[model.CID]struct{}
	watchers map[model.CID]struct{}
}

func newTouched() *touched {
	return &touched{
		messages: make(map[model.CID]struct{}),
		watchers: make(map[model.CID]struct{}),
	}
}

func (t *touched) empty() bool {
	return !t.all && !t.channels && !t.users && len(t.messages) == 0 && len(t.watchers) == 0
}

func (t *touched) scopes() Scopes {
	sc := Scopes{All: t.all, Channels: t.channels, Users: t.users}
	for cid := range t.messages {
		sc.Messages = append(sc.Messages, cid)
	}
	for cid := range t.watchers {
		sc.Watchers = append(sc.Watchers, cid)
	}
	slices.Sort(sc.Messages)
	slices.Sort(sc.Watchers)
	return sc
}

// Scopes lists what a write modified. All covers every observation.
type Scopes struct {
	All      bool        `json:"all,omitempty"`
	Channels bool        `json:"channels,omitempty"`
	Users    bool        `json:"users,omitempty"`
	Messages []model.CID `json:"messages,omitempty"`
	Watchers []model.CID `json:"watchers,omitempty"`
}

func (sc Scopes) touched() *touched {
	t := newTouched()
	t.all = sc.All
	t.channels = sc.Channels
	t.users = sc.Users
	for _, cid := range sc.Messages {
		t.messages[cid] = struct{}{}
	}
	for _, cid := range sc.Watchers {
		t.watchers[cid] = struct{}{}
	}
	return t
}

func (t *touched) covers(sc scope) bool {
	if t.all {
		return true
	}
	switch sc.kind {
	case scopeChannels:
		return t.channels
	case scopeMessages:
		_, ok := t.messages[sc.cid]
		return ok
	case scopeWatchers:
		_, ok := t.watchers[sc.cid]
		return ok || t.users
	default:
		return false
	}
}
