package chatsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-chatsync-kit/events"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
)

// serverHistory serves messages 1..n newest first, paginated by id.
func serverHistory(n, pageSize int) func(rest.Pagination) (rest.Page[model.Message], error) {
	return func(p rest.Pagination) (rest.Page[model.Message], error) {
		start := n
		if p.IDLT != "" {
			_, _ = fmt.Sscanf(p.IDLT, "m%02d", &start)
			start--
		}
		var items []model.Message
		for i := start; i >= 1 && len(items) < pageSize; i-- {
			items = append(items, serverMessage(i))
		}
		return rest.Page[model.Message]{Items: items, HasMore: len(items) == pageSize && start-pageSize >= 1}, nil
	}
}

func TestMessageList_LoadPreviousPage(t *testing.T) {
	h := newHarness(t)
	h.api.getMessages = serverHistory(7, 3)
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	more, err := list.LoadPreviousPage(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"m07", "m06", "m05"}, ids(list.Messages().Items()))

	more, err = list.LoadPreviousPage(context.Background())
	require.NoError(t, err)
	assert.True(t, more)

	more, err = list.LoadPreviousPage(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.False(t, list.HasMore())
	assert.Equal(t, []string{"m07", "m06", "m05", "m04", "m03", "m02", "m01"}, ids(list.Messages().Items()))

	require.Len(t, h.api.paginations, 3)
	assert.Equal(t, "", h.api.paginations[0].IDLT)
	assert.Equal(t, "m05", h.api.paginations[1].IDLT)
	assert.Equal(t, "m02", h.api.paginations[2].IDLT)
	assert.Equal(t, 3, h.api.paginations[0].Limit)
}

func TestMessageList_LiveMessageAfterPagination(t *testing.T) {
	h := newHarness(t)
	h.api.getMessages = serverHistory(5, 3)
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	_, err = list.LoadPreviousPage(context.Background())
	require.NoError(t, err)

	conn := h.connect(t)
	conn.push(t, messageNew(serverMessage(6)))
	h.waitProcessed(t, 1)

	assert.Equal(t, []string{"m06", "m05", "m04", "m03"}, ids(list.Messages().Items()))
}

func TestMessageList_DuplicateDeliveryIsMergedOnce(t *testing.T) {
	h := newHarness(t)
	h.api.getMessages = serverHistory(3, 3)
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	conn := h.connect(t)
	conn.push(t, messageNew(serverMessage(3)))
	conn.push(t, messageNew(serverMessage(3)))
	h.waitProcessed(t, 2)

	_, err = list.LoadPreviousPage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"m03", "m02", "m01"}, ids(list.Messages().Items()))
}

func TestMessageList_PageReplacesLiveCopy(t *testing.T) {
	h := newHarness(t)
	edited := serverMessage(5)
	edited.Text = "edited"
	h.api.getMessages = func(rest.Pagination) (rest.Page[model.Message], error) {
		return rest.Page[model.Message]{Items: []model.Message{edited, serverMessage(4)}}, nil
	}
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	conn := h.connect(t)
	conn.push(t, messageNew(serverMessage(5)))
	h.waitProcessed(t, 1)
	require.Equal(t, "msg 5", list.Messages().Items()[0].Text)

	require.NoError(t, list.Resync(context.Background()))

	items := list.Messages().Items()
	assert.Equal(t, []string{"m05", "m04"}, ids(items))
	assert.Equal(t, "edited", items[0].Text)

	stored := storedMessage(t, h, "m05")
	assert.Equal(t, "edited", stored.Text)
}

func TestMessageList_LeavesOutThreadReplies(t *testing.T) {
	h := newHarness(t)
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	reply := serverMessage(2)
	reply.ParentID = "m01"
	conn := h.connect(t)
	conn.push(t, messageNew(serverMessage(1)))
	conn.push(t, messageNew(reply))
	h.waitProcessed(t, 2)

	assert.Equal(t, []string{"m01"}, ids(list.Messages().Items()))
}

func TestMessageList_SubscribeReceivesSnapshots(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(context.Background(), func(sess storage.Session) error {
		return sess.UpsertMessages(context.Background(), serverMessage(1))
	}))
	list, err := h.client.MessageList(general)
	require.NoError(t, err)
	defer list.Close()

	var got [][]string
	initial, cancel := list.Subscribe(func(s *ordered.OrderedMessages) { got = append(got, ids(s.Items())) })
	defer cancel()
	assert.Equal(t, []string{"m01"}, ids(initial.Items()), "cached messages are loaded up front")

	conn := h.connect(t)
	conn.push(t, messageNew(serverMessage(2)))
	h.waitProcessed(t, 1)

	assert.Equal(t, [][]string{{"m02", "m01"}}, got)
}

func TestMessageList_Resync(t *testing.T) {
	seed := func(t *testing.T, h *harness) {
		t.Helper()
		local := model.Message{ID: "local", CID: general, UserID: "alice", CreatedAt: at(20), LocalState: model.LocalStateSendingFailed}
		require.NoError(t, h.store.Write(context.Background(), func(sess storage.Session) error {
			return sess.UpsertMessages(context.Background(), serverMessage(1), serverMessage(2), local)
		}))
	}
	newest := func(rest.Pagination) (rest.Page[model.Message], error) {
		return rest.Page[model.Message]{Items: []model.Message{serverMessage(10), serverMessage(9)}, HasMore: true}, nil
	}

	t.Run("merge", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h)
		h.api.getMessages = newest
		list, err := h.client.MessageList(general)
		require.NoError(t, err)
		defer list.Close()

		require.NoError(t, list.Resync(context.Background()))
		assert.Equal(t, []string{"local", "m10", "m09", "m02", "m01"}, ids(list.Messages().Items()))
		assert.Empty(t, h.api.paginations[0].IDLT)
	})

	t.Run("reset to local only", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h)
		h.api.getMessages = newest
		list, err := h.client.MessageList(general)
		require.NoError(t, err)
		defer list.Close()

		require.NoError(t, list.Resync(context.Background(), ResetToLocalOnly()))
		assert.Equal(t, []string{"local", "m10", "m09"}, ids(list.Messages().Items()))
		assert.True(t, list.HasMore())

		stored, err := h.store.Messages(context.Background(), general)
		require.NoError(t, err)
		assert.Len(t, stored, 5, "the cache keeps older history")
	})
}

func TestMessageList_InvalidChannel(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.MessageList("general")
	assert.Error(t, err)
}

func channelState(n int, hidden bool) rest.ChannelState {
	cid := model.NewCID("messaging", fmt.Sprintf("c%02d", n))
	return rest.ChannelState{
		Channel:  model.Channel{CID: cid, Type: "messaging", ID: cid.ID(), LastMessageAt: at(n), CreatedAt: epoch, Hidden: hidden},
		Messages: []model.Message{{ID: fmt.Sprintf("c%02d-m1", n), CID: cid, UserID: "bob", CreatedAt: at(n)}},
		Members:  []model.Member{{CID: cid, UserID: "bob"}},
		Watchers: []model.User{{ID: "bob", Name: "Bob"}},
	}
}

func TestChannelList_LoadNextPage(t *testing.T) {
	h := newHarness(t)
	h.api.queryChannels = func(q rest.ChannelQuery) (rest.Page[rest.ChannelState], error) {
		if q.Pagination.Offset == 0 {
			return rest.Page[rest.ChannelState]{Items: []rest.ChannelState{channelState(5, false), channelState(4, true), channelState(3, false)}, HasMore: true}, nil
		}
		return rest.Page[rest.ChannelState]{Items: []rest.ChannelState{channelState(1, false)}}, nil
	}
	list, err := h.client.ChannelList(rest.ChannelQuery{Watch: true})
	require.NoError(t, err)
	defer list.Close()

	more, err := list.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	more, err = list.LoadNextPage(context.Background())
	require.NoError(t, err)
	assert.False(t, more)

	var cids []model.CID
	for _, ch := range list.Channels().Items() {
		cids = append(cids, ch.CID)
	}
	assert.Equal(t, []model.CID{"messaging:c05", "messaging:c03", "messaging:c01"}, cids, "hidden channels are left out")

	require.Len(t, h.api.queries, 2)
	assert.Equal(t, 0, h.api.queries[0].Pagination.Offset)
	assert.Equal(t, 3, h.api.queries[1].Pagination.Offset)
	assert.True(t, h.api.queries[1].Watch)

	messages, err := h.store.Messages(context.Background(), "messaging:c05")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	watchers, err := h.store.Watchers(context.Background(), "messaging:c05")
	require.NoError(t, err)
	require.Len(t, watchers, 1)
	assert.Equal(t, "Bob", watchers[0].Name)
}

func TestChannelList_NewMessageMovesChannelUp(t *testing.T) {
	h := newHarness(t)
	h.api.queryChannels = func(rest.ChannelQuery) (rest.Page[rest.ChannelState], error) {
		return rest.Page[rest.ChannelState]{Items: []rest.ChannelState{channelState(5, false), channelState(3, false)}}, nil
	}
	list, err := h.client.ChannelList(rest.ChannelQuery{})
	require.NoError(t, err)
	defer list.Close()
	_, err = list.LoadNextPage(context.Background())
	require.NoError(t, err)

	m := model.Message{ID: "late", CID: "messaging:c03", UserID: "bob", CreatedAt: at(9)}
	conn := h.connect(t)
	conn.push(t, messageNew(m))
	h.waitProcessed(t, 1)

	require.Equal(t, 2, list.Channels().Len())
	assert.Equal(t, model.CID("messaging:c03"), list.Channels().Items()[0].CID)
}

func TestWatcherList_FollowsWatchingEvents(t *testing.T) {
	h := newHarness(t)
	list, err := h.client.WatcherList(general)
	require.NoError(t, err)
	defer list.Close()

	watching := func(typ string, u model.User) events.Event {
		header := events.Header{Type: typ, CID: general, CreatedAt: epoch}
		if typ == events.TypeUserWatchingStart {
			return events.UserWatchingStart{Header: header, User: u}
		}
		return events.UserWatchingStop{Header: header, User: u}
	}

	conn := h.connect(t)
	conn.push(t, watching(events.TypeUserWatchingStart, model.User{ID: "u2", Name: "carol"}))
	conn.push(t, watching(events.TypeUserWatchingStart, model.User{ID: "u1", Name: "Bob"}))
	h.waitProcessed(t, 2)

	var names []string
	for _, u := range list.Watchers().Items() {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"Bob", "carol"}, names)

	conn.push(t, watching(events.TypeUserWatchingStop, model.User{ID: "u1", Name: "Bob"}))
	require.Eventually(t, func() bool { return list.Watchers().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}
