package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

const general = model.CID("messaging:general")

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "key", append([]Option{WithToken("tok"), WithLogger(logging.Discard())}, opts...)...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func messages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{ID: fmt.Sprintf("m%d", i), Text: "hello"}
	}
	return out
}

func TestGetMessages_PaginationAndHeaders(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages(2)})
	})

	page, err := c.GetMessages(context.Background(), general, Pagination{Limit: 2, IDLT: "m9"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/channels/messaging/general/messages", got.URL.Path)
	assert.Equal(t, "2", got.URL.Query().Get("limit"))
	assert.Equal(t, "m9", got.URL.Query().Get("id_lt"))
	assert.Equal(t, "key", got.URL.Query().Get("api_key"))
	assert.Equal(t, "tok", got.Header.Get("Authorization"))
	assert.Equal(t, "jwt", got.Header.Get("Stream-Auth-Type"))
	assert.NotEmpty(t, got.Header.Get("X-Client-Request-Id"))
	assert.Equal(t, "gzip", got.Header.Get("Accept-Encoding"))

	require.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, general, page.Items[0].CID)
}

func TestGetMessages_ShortPageHasNoMore(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages(3)})
	})
	page, err := c.GetMessages(context.Background(), general, Pagination{})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
}

func TestGetMessages_InvalidCID(t *testing.T) {
	c := NewClient("http://unused", "key")
	_, err := c.GetMessages(context.Background(), "nocolon", Pagination{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailure))
}

func TestClient_GzipResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(map[string]any{"messages": messages(1)})
		_ = gz.Close()
	})
	page, err := c.GetMessages(context.Background(), general, Pagination{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m0", page.Items[0].ID)
}

func TestClient_DecompressedLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(map[string]any{"messages": messages(500)})
		_ = gz.Close()
	}, WithLimits(Limits{MaxBodyBytes: 1 << 20, MaxDecompressedBytes: 1024, EnableGzip: true}))

	_, err := c.GetMessages(context.Background(), general, Pagination{})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
	assert.Contains(t, err.Error(), "size limit")
}

func TestClient_CompressedLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages(100)})
	}, WithLimits(Limits{MaxBodyBytes: 256, MaxDecompressedBytes: 1 << 20}))

	_, err := c.GetMessages(context.Background(), general, Pagination{})
	require.Error(t, err)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{"code": 4, "message": "nope"})
			})
			_, err := c.GetMessages(context.Background(), general, Pagination{})
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
			assert.Equal(t, tt.status, StatusCode(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestClient_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, "key")
	_, err := c.GetMessages(context.Background(), general, Pagination{})
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, errors.HasCode(err, errors.ErrCodeNetworkFailure))
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetMessages(ctx, general, Pagination{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeCancelled))
	assert.False(t, errors.IsRetryable(err))
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/channels/messaging/general/message", r.URL.Path)
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusCreated, map[string]any{"message": map[string]any{
			"id": req.Message.ID, "text": req.Message.Text, "user_id": "alice",
		}})
	})
	msg, err := c.SendMessage(context.Background(), general, model.Message{ID: "01HX", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "01HX", msg.ID)
	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, general, msg.CID)
}

func TestSendMessage_CompressesLargeBodies(t *testing.T) {
	var encoding string
	var text string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		encoding = r.Header.Get("Content-Encoding")
		var body io.Reader = r.Body
		if encoding == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			require.NoError(t, err)
			body = gz
		}
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(body).Decode(&req))
		text = req.Message.Text
		writeJSON(w, http.StatusCreated, map[string]any{"message": map[string]any{"id": req.Message.ID}})
	})

	long := strings.Repeat("a", 4096)
	_, err := c.SendMessage(context.Background(), general, model.Message{ID: "m1", Text: long})
	require.NoError(t, err)
	assert.Equal(t, "gzip", encoding)
	assert.Equal(t, long, text)
}

func TestQueryChannels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 1, req["limit"])
		assert.EqualValues(t, true, req["watch"])
		writeJSON(w, http.StatusCreated, map[string]any{"channels": []map[string]any{{
			"channel":  map[string]any{"type": "messaging", "id": "general"},
			"messages": []map[string]any{{"id": "m1"}},
			"members":  []map[string]any{{"user_id": "bob"}},
		}}})
	})
	page, err := c.QueryChannels(context.Background(), ChannelQuery{Watch: true, Pagination: Pagination{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.HasMore)

	state := page.Items[0]
	assert.Equal(t, general, state.Channel.CID)
	assert.Equal(t, general, state.Messages[0].CID)
	assert.Equal(t, general, state.Members[0].CID)
}

func TestMaxDecompressedReader(t *testing.T) {
	r := &maxDecompressedReader{reader: bytes.NewReader(make([]byte, 10)), limit: 10}
	_, err := io.ReadAll(r)
	assert.NoError(t, err, "exactly at the limit")

	r = &maxDecompressedReader{reader: bytes.NewReader(make([]byte, 11)), limit: 10}
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, errDecompressedTooLarge)
}
