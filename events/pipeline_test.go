package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/sqlite"
)

const general = model.CID("messaging:general")

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), &sqlite.Config{DataSourceName: ":memory:", Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newPipeline(t *testing.T, w Writer, opts ...Option) *Pipeline {
	t.Helper()
	p := NewPipeline(NewDecoder(), w, append([]Option{WithLogger(logging.Discard())}, opts...)...)
	t.Cleanup(func() { p.Close() })
	return p
}

func messageFrame(n int) []byte {
	at := epoch.Add(time.Duration(n) * time.Second).Format(time.RFC3339Nano)
	return []byte(fmt.Sprintf(
		`{"type":"message.new","cid":%q,"created_at":%q,"message":{"id":"m%d","user_id":"bob","text":"msg %d","created_at":%q},"user":{"id":"bob","name":"Bob"}}`,
		general, at, n, n, at))
}

// recorder collects events on the worker goroutine.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleEvent(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// nopWriter runs middleware without a database.
type nopWriter struct{}

func (nopWriter) Write(_ context.Context, fn func(storage.Session) error) error { return fn(nil) }

func TestPipeline_ProcessesInOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	p := newPipeline(t, nopWriter{})
	p.Use(MiddlewareFunc(func(_ context.Context, ev Event, _ storage.Session) error {
		mu.Lock()
		defer mu.Unlock()
		trace = append(trace, "persist "+ev.(MessageNew).Message.ID)
		return nil
	}))
	for _, name := range []string{"first", "second"} {
		p.Subscribe(ObserverFunc(func(_ context.Context, ev Event) {
			mu.Lock()
			defer mu.Unlock()
			trace = append(trace, name+" "+ev.(MessageNew).Message.ID)
		}))
	}

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Submit(ctx, messageFrame(i)))
	}
	require.NoError(t, p.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"persist m1", "first m1", "second m1",
		"persist m2", "first m2", "second m2",
		"persist m3", "first m3", "second m3",
	}, trace)
}

func TestPipeline_ObserversSeeCommittedWrites(t *testing.T) {
	store := newStore(t)
	p := newPipeline(t, store)
	p.Use(Persistence{})

	found := make(chan bool, 1)
	p.Subscribe(ObserverFunc(func(ctx context.Context, ev Event) {
		_, ok, err := store.Message(ctx, ev.(MessageNew).Message.ID)
		found <- ok && err == nil
	}))

	require.NoError(t, p.Submit(context.Background(), messageFrame(1)))
	assert.True(t, <-found)
}

func TestPipeline_ContainsDecodeAndMiddlewareErrors(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, nopWriter{})
	p.Use(MiddlewareFunc(func(_ context.Context, ev Event, _ storage.Session) error {
		if ev.(MessageNew).Message.ID == "m2" {
			return fmt.Errorf("disk full")
		}
		return nil
	}))
	p.Subscribe(rec)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, []byte(`garbage`)))
	require.NoError(t, p.Submit(ctx, messageFrame(1)))
	require.NoError(t, p.Submit(ctx, messageFrame(2)))
	require.NoError(t, p.Submit(ctx, messageFrame(3)))
	require.NoError(t, p.Flush(ctx))

	events := rec.snapshot()
	require.Len(t, events, 3, "a failed write still notifies observers")
	stats := p.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(1), stats.DecodeFailures)
	assert.Equal(t, int64(1), stats.MiddlewareFailures)
}

func TestPipeline_GatedFramesAreDropped(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, nil)
	p.Subscribe(rec)

	ctx := context.Background()
	p.SetAccepting(false)
	assert.False(t, p.Accepting())
	require.NoError(t, p.Submit(ctx, messageFrame(1)))
	p.SetAccepting(true)
	require.NoError(t, p.Submit(ctx, messageFrame(2)))
	require.NoError(t, p.Flush(ctx))

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "m2", events[0].(MessageNew).Message.ID)
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPipeline_SubmitBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	p := newPipeline(t, nil, WithBuffer(1))
	p.Subscribe(ObserverFunc(func(context.Context, Event) { <-release }))

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, messageFrame(1))) // taken by the worker
	require.NoError(t, p.Submit(ctx, messageFrame(2))) // fills the buffer
	require.Eventually(t, func() bool { return p.Stats().Queued == 1 }, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := p.Submit(short, messageFrame(3))
	assert.True(t, errors.HasCode(err, errors.ErrCodeCancelled))

	close(release)
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, int64(2), p.Stats().Processed)
}

func TestPipeline_CloseDrains(t *testing.T) {
	rec := &recorder{}
	p := NewPipeline(nil, nil, WithLogger(logging.Discard()))
	p.Subscribe(rec)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Submit(ctx, messageFrame(i)))
	}
	require.NoError(t, p.Close())
	assert.Len(t, rec.snapshot(), 5)

	assert.ErrorIs(t, p.Submit(ctx, messageFrame(6)), ErrPipelineClosed)
	assert.ErrorIs(t, p.Flush(ctx), ErrPipelineClosed)
	require.NoError(t, p.Close())
}

func TestPipeline_Unsubscribe(t *testing.T) {
	rec := &recorder{}
	p := newPipeline(t, nil)
	cancel := p.Subscribe(rec)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, messageFrame(1)))
	require.NoError(t, p.Flush(ctx))
	cancel()
	cancel()
	require.NoError(t, p.Submit(ctx, messageFrame(2)))
	require.NoError(t, p.Flush(ctx))

	assert.Len(t, rec.snapshot(), 1)
}
