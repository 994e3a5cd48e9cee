// Package pending correlates a suspended caller with the future event that
// completes its request.
//
// A caller registers a key, starts the request, then waits. The event
// pipeline resolves the key when the matching event arrives. Every exit path
// (resolution, failure, timeout, cancellation) removes the entry.
package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

type result[V any] struct {
	value V
	err   error
}

// Table maps keys to waiting callers. The zero value is not usable; call New.
type Table[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]chan result[V]
}

// New returns an empty table.
func New[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{entries: make(map[K]chan result[V])}
}

// Register reserves key and returns the handle to wait on. It fails if key
// is already awaited.
func (t *Table[K, V]) Register(key K) (*Waiter[K, V], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[key]; exists {
		return nil, errors.NewValidationError(errors.OpAwait, fmt.Errorf("key %v already pending", key))
	}
	ch := make(chan result[V], 1)
	t.entries[key] = ch
	return &Waiter[K, V]{table: t, key: key, ch: ch}, nil
}

// Resolve delivers value to the caller waiting on key. It reports whether a
// caller was registered.
func (t *Table[K, V]) Resolve(key K, value V) bool {
	return t.deliver(key, result[V]{value: value})
}

// Fail delivers err to the caller waiting on key.
func (t *Table[K, V]) Fail(key K, err error) bool {
	return t.deliver(key, result[V]{err: err})
}

func (t *Table[K, V]) deliver(key K, r result[V]) bool {
	t.mu.Lock()
	ch, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

// Waiter is the caller side of a registered key.
type Waiter[K comparable, V any] struct {
	table *Table[K, V]
	key   K
	ch    chan result[V]
}

// Wait blocks until the key is resolved, timeout elapses or ctx is done. A
// non-positive timeout waits for ctx only. Timeouts fail with
// PENDING_TIMEOUT and cancellation with CANCELLED. A result delivered
// before Wait is called is returned immediately.
func (w *Waiter[K, V]) Wait(ctx context.Context, timeout time.Duration) (V, error) {
	var zero V

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-w.ch:
		return r.value, r.err
	case <-expired:
		if r, delivered := w.table.abandon(w.key, w.ch); delivered {
			return r.value, r.err
		}
		return zero, errors.NewPendingTimeoutError(fmt.Sprint(w.key))
	case <-ctx.Done():
		if r, delivered := w.table.abandon(w.key, w.ch); delivered {
			return r.value, r.err
		}
		return zero, errors.NewCancellationError(fmt.Sprint(w.key), ctx.Err())
	}
}

// Cancel gives up on the key without waiting.
func (w *Waiter[K, V]) Cancel() {
	w.table.abandon(w.key, w.ch)
}

// Await registers key, runs start and waits for the result. If start fails
// the entry is removed and start's error returned.
func (t *Table[K, V]) Await(ctx context.Context, key K, timeout time.Duration, start func() error) (V, error) {
	var zero V
	w, err := t.Register(key)
	if err != nil {
		return zero, err
	}
	if start != nil {
		if err := start(); err != nil {
			w.Cancel()
			return zero, err
		}
	}
	return w.Wait(ctx, timeout)
}

// abandon removes key unless a result raced in, in which case that result
// is returned instead.
func (t *Table[K, V]) abandon(key K, ch chan result[V]) (result[V], bool) {
	t.mu.Lock()
	if current, ok := t.entries[key]; ok && current == ch {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	select {
	case r := <-ch:
		return r, true
	default:
		return result[V]{}, false
	}
}

// FailAll fails every pending caller with err. Used when the connection is
// torn down.
func (t *Table[K, V]) FailAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[K]chan result[V])
	t.mu.Unlock()
	for _, ch := range entries {
		ch <- result[V]{err: err}
	}
	return len(entries)
}

// Pending reports whether key is awaited.
func (t *Table[K, V]) Pending(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Len returns the number of awaited keys.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
