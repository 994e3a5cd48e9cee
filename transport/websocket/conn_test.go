package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

type fakeServer struct {
	server   *httptest.Server
	upgrader gws.Upgrader

	mu      sync.Mutex
	request *http.Request
	conn    *gws.Conn
	ready   chan struct{}

	first string
}

func newFakeServer(t *testing.T, first string) *fakeServer {
	t.Helper()
	s := &fakeServer{first: first, ready: make(chan struct{})}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
		s.server.Close()
	})
	return s
}

func (s *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("api_key") != "key" {
		http.Error(w, "bad api key", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.request = r
	s.conn = conn
	s.mu.Unlock()

	if s.first != "" {
		_ = conn.WriteMessage(gws.TextMessage, []byte(s.first))
	}
	close(s.ready)
	// Reading lets gorilla's default ping handler answer with pongs.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *fakeServer) send(t *testing.T, frame string) {
	t.Helper()
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(t, s.conn.WriteMessage(gws.TextMessage, []byte(frame)))
}

func (s *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func newTestDialer(t *testing.T, rawURL, apiKey string) *Dialer {
	t.Helper()
	d, err := NewDialer(Config{
		URL:              rawURL,
		APIKey:           apiKey,
		UserID:           "alice",
		Token:            func(context.Context) (string, error) { return "tok", nil },
		HandshakeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return d
}

const hello = `{"type":"health.check","connection_id":"conn-1","me":{"id":"alice"}}`

func TestDial_ReadsConnectionID(t *testing.T) {
	s := newFakeServer(t, hello)
	conn, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "conn-1", conn.ConnectionID())

	s.mu.Lock()
	q := s.request.URL.Query()
	assert.Equal(t, "alice", q.Get("user_id"))
	assert.Equal(t, "tok", q.Get("authorization"))
	assert.Equal(t, "jwt", q.Get("stream-auth-type"))
	assert.NotEmpty(t, s.request.Header.Get("X-Client-Request-Id"))
	s.mu.Unlock()

	frame, err := conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, hello, string(frame), "handshake frame is delivered first")

	s.send(t, `{"type":"message.new","cid":"messaging:general"}`)
	frame, err = conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(frame), "message.new")
}

func TestDial_RejectedHandshake(t *testing.T) {
	s := newFakeServer(t, `{"type":"connection.error","error":{"message":"token expired"}}`)
	_, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
	assert.False(t, errors.IsRetryable(err))
}

func TestDial_HTTPErrorIsNotRetryable(t *testing.T) {
	s := newFakeServer(t, hello)
	_, err := newTestDialer(t, s.url(), "wrong").Dial(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailure))
	assert.False(t, errors.IsRetryable(err))
}

func TestDial_UnreachableIsRetryable(t *testing.T) {
	s := newFakeServer(t, hello)
	target := s.url()
	s.server.Close()

	_, err := newTestDialer(t, target, "key").Dial(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestConn_PingIsAnsweredByPong(t *testing.T) {
	s := newFakeServer(t, hello)
	var responses atomic.Int32
	conn, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), func() { responses.Add(1) })
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			if _, err := conn.ReadFrame(ctx); err != nil {
				return
			}
		}
	}()

	require.NoError(t, conn.SendPing(context.Background()))
	assert.Eventually(t, func() bool { return responses.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestConn_HealthCheckCountsAsPingResponse(t *testing.T) {
	s := newFakeServer(t, hello)
	var responses atomic.Int32
	conn, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), func() { responses.Add(1) })
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Zero(t, responses.Load(), "the handshake frame is not a ping response")

	s.send(t, `{"type":"health.check","connection_id":"conn-1"}`)
	_, err = conn.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), responses.Load())
}

func TestConn_ReadFrameHonorsContext(t *testing.T) {
	s := newFakeServer(t, hello)
	conn, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), nil)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ReadFrame(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.ReadFrame(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeCancelled))
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	s := newFakeServer(t, hello)
	conn, err := newTestDialer(t, s.url(), "key").Dial(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
	_ = conn.Close()
}

func TestNewDialer_RequiresURL(t *testing.T) {
	_, err := NewDialer(Config{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))
}
