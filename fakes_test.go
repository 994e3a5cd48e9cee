package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/connection"
	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/events"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
	"github.com/c0deZ3R0/go-chatsync-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-chatsync-kit/task"
)

const general = model.CID("messaging:general")

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(n int) time.Time { return epoch.Add(time.Duration(n) * time.Minute) }

func serverMessage(n int) model.Message {
	return model.Message{ID: fmt.Sprintf("m%02d", n), CID: general, UserID: "bob", Text: fmt.Sprintf("msg %d", n), CreatedAt: at(n)}
}

// fakeConn is a socket fed by the test through frames.
type fakeConn struct {
	id          string
	frames      chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	pings       atomic.Int32
	answerPings bool
	onPing      func()
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, frames: make(chan []byte, 64), closed: make(chan struct{}), answerPings: true}
}

func (c *fakeConn) ConnectionID() string { return c.id }

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.NewConnectionError(errors.Op("read"), fmt.Errorf("socket closed"))
	case <-ctx.Done():
		return nil, errors.NewCancellationError(c.id, ctx.Err())
	}
}

func (c *fakeConn) SendPing(context.Context) error {
	c.pings.Add(1)
	if c.answerPings && c.onPing != nil {
		go c.onPing()
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers an event as a frame.
func (c *fakeConn) push(t *testing.T, ev events.Event) {
	t.Helper()
	frame, err := json.Marshal(ev)
	require.NoError(t, err)
	c.frames <- frame
}

// fakeDialer hands out queued connections, or fails with err.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, onPingResponse func()) (connection.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.NewConnectionError(errors.OpConnect, fmt.Errorf("no connection available"))
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	c.onPing = onPingResponse
	return c, nil
}

func (d *fakeDialer) add(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeAPI implements API with replaceable functions.
type fakeAPI struct {
	mu            sync.Mutex
	queryChannels func(rest.ChannelQuery) (rest.Page[rest.ChannelState], error)
	getMessages   func(rest.Pagination) (rest.Page[model.Message], error)
	sendMessage   func(model.Message) (model.Message, error)
	sent          []model.Message
	paginations   []rest.Pagination
	queries       []rest.ChannelQuery
}

func (a *fakeAPI) QueryChannels(_ context.Context, q rest.ChannelQuery) (rest.Page[rest.ChannelState], error) {
	a.mu.Lock()
	a.queries = append(a.queries, q)
	fn := a.queryChannels
	a.mu.Unlock()
	return fn(q)
}

func (a *fakeAPI) GetMessages(_ context.Context, _ model.CID, p rest.Pagination) (rest.Page[model.Message], error) {
	a.mu.Lock()
	a.paginations = append(a.paginations, p)
	fn := a.getMessages
	a.mu.Unlock()
	return fn(p)
}

func (a *fakeAPI) SendMessage(_ context.Context, _ model.CID, msg model.Message) (model.Message, error) {
	a.mu.Lock()
	a.sent = append(a.sent, msg)
	fn := a.sendMessage
	a.mu.Unlock()
	if fn == nil {
		msg.LocalState = model.LocalStateNone
		return msg, nil
	}
	return fn(msg)
}

func (a *fakeAPI) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type harness struct {
	client *Client
	store  *sqlite.Store
	api    *fakeAPI
	dialer *fakeDialer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store, err := sqlite.New(context.Background(), &sqlite.Config{DataSourceName: ":memory:", Logger: logging.Discard()})
	require.NoError(t, err)
	h := &harness{store: store, api: &fakeAPI{}, dialer: &fakeDialer{}}

	base := []Option{
		WithLogger(logging.Discard()),
		WithSendRetries(2, task.ConstantBackoff(time.Millisecond)),
		WithPageSize(3),
		withCloser(store.Close),
	}
	h.client, err = New("alice", store, h.api, h.dialer, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { h.client.Close() })
	return h
}

// connect opens a fresh fake socket.
func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	conn := newFakeConn(fmt.Sprintf("conn-%d", h.dialer.dialCount()+1))
	h.dialer.add(conn)
	require.NoError(t, h.client.Connect(context.Background()))
	return conn
}

func messageNew(m model.Message) events.MessageNew {
	return events.MessageNew{
		Header:  events.Header{Type: events.TypeMessageNew, CID: m.CID, CreatedAt: m.CreatedAt},
		Message: m,
		User:    &model.User{ID: m.UserID},
	}
}

func ids(items []model.Message) []string {
	out := []string{}
	for _, m := range items {
		out = append(out, m.ID)
	}
	return out
}

// waitProcessed blocks until the pipeline has handled n events in total.
// Flush alone is not enough: a pushed frame may still sit in the fake
// socket before the read pump submits it.
func (h *harness) waitProcessed(t *testing.T, n int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.client.PipelineStats().Processed >= n
	}, 2*time.Second, time.Millisecond)
}
