package chatsync

import (
	"context"
	"sync"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
	"github.com/c0deZ3R0/go-chatsync-kit/projection"
	"github.com/c0deZ3R0/go-chatsync-kit/rest"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
)

// Controller subscribers may be called while the store is committing a
// write. They must not write to the store themselves.

// MessageList is the ordered, newest first message list of one channel.
// Thread replies are left out.
type MessageList struct {
	client *Client
	cid    model.CID
	proj   *projection.Projection[model.Message]
	stop   func()

	pageMu  sync.Mutex
	mu      sync.Mutex
	hasMore bool
}

// MessageList starts observing the cached messages of cid.
func (c *Client) MessageList(cid model.CID) (*MessageList, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	if _, err := model.ParseCID(string(cid)); err != nil {
		return nil, errors.NewValidationError(errors.OpLoad, err)
	}
	l := &MessageList{
		client:  c,
		cid:     cid,
		proj:    projection.New(ordered.MessagesByCreatedAt, projection.WithName("messages:"+string(cid)), projection.WithLogger(c.opts.logger)),
		hasMore: true,
	}
	stop, err := c.store.ObserveMessages(cid, func(b storage.Batch[model.Message]) {
		l.proj.ApplyChanges(channelMessages(b.Changes))
	})
	if err != nil {
		return nil, err
	}
	l.stop = stop
	return l, nil
}

func channelMessages(changes []ordered.ListChange[model.Message]) []ordered.ListChange[model.Message] {
	out := changes[:0:0]
	for _, ch := range changes {
		if ch.Item.ParentID == "" {
			out = append(out, ch)
		}
	}
	return out
}

func withoutReplies(messages []model.Message) []model.Message {
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.ParentID == "" {
			out = append(out, m)
		}
	}
	return out
}

// CID returns the channel id.
func (l *MessageList) CID() model.CID { return l.cid }

// Messages returns the current snapshot.
func (l *MessageList) Messages() *ordered.OrderedMessages { return l.proj.Current() }

// Subscribe registers fn for every new snapshot and returns the current one.
func (l *MessageList) Subscribe(fn projection.Subscriber[model.Message]) (*ordered.OrderedMessages, func()) {
	return l.proj.Subscribe(fn)
}

// HasMore reports whether older pages may exist on the server.
func (l *MessageList) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// oldestConfirmed is the pagination cursor: the oldest message the server
// knows about.
func (l *MessageList) oldestConfirmed() string {
	items := l.proj.Current().Items()
	for i := len(items) - 1; i >= 0; i-- {
		if !items[i].IsLocalOnly() {
			return items[i].ID
		}
	}
	return ""
}

// LoadPreviousPage fetches the page older than the oldest loaded message,
// stores it and merges it into the list. It reports whether more pages
// may follow. Calls are serialized.
func (l *MessageList) LoadPreviousPage(ctx context.Context) (bool, error) {
	l.pageMu.Lock()
	defer l.pageMu.Unlock()

	page, err := l.client.api.GetMessages(ctx, l.cid, rest.Pagination{
		Limit: l.client.opts.pageSize,
		IDLT:  l.oldestConfirmed(),
	})
	if err != nil {
		return l.HasMore(), err
	}
	if err := l.client.storeMessages(ctx, l.cid, page.Items); err != nil {
		return l.HasMore(), err
	}
	l.proj.InsertPaginated(withoutReplies(page.Items))

	l.mu.Lock()
	l.hasMore = page.HasMore
	l.mu.Unlock()
	return page.HasMore, nil
}

// ResyncOption configures Resync.
type ResyncOption func(*resyncConfig)

type resyncConfig struct {
	resetWindow bool
}

// ResetToLocalOnly makes Resync drop every loaded message that is not
// local only before merging the fresh page, so the list restarts at the
// newest page. Older history must then be paged in again.
func ResetToLocalOnly() ResyncOption {
	return func(c *resyncConfig) { c.resetWindow = true }
}

// Resync fetches the newest page, typically after a reconnect, and merges
// it into the list. Without options nothing already loaded is dropped.
func (l *MessageList) Resync(ctx context.Context, opts ...ResyncOption) error {
	var cfg resyncConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	l.pageMu.Lock()
	defer l.pageMu.Unlock()

	page, err := l.client.api.GetMessages(ctx, l.cid, rest.Pagination{Limit: l.client.opts.pageSize})
	if err != nil {
		return err
	}
	if err := l.client.storeMessages(ctx, l.cid, page.Items); err != nil {
		return err
	}
	batch := withoutReplies(page.Items)
	if cfg.resetWindow {
		l.proj.InsertPaginated(batch, ordered.ResetToLocalOnly(model.Message.IsLocalOnly))
		l.mu.Lock()
		l.hasMore = page.HasMore
		l.mu.Unlock()
		return nil
	}
	l.proj.InsertPaginated(batch)
	return nil
}

// Close stops observing the store.
func (l *MessageList) Close() { l.stop() }

// storeMessages persists a fetched page as server confirmed messages.
func (c *Client) storeMessages(ctx context.Context, cid model.CID, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}
	confirmed := make([]model.Message, len(messages))
	for i, m := range messages {
		if m.CID == "" {
			m.CID = cid
		}
		m.LocalState = model.LocalStateNone
		confirmed[i] = m
	}
	return c.store.Write(ctx, func(sess storage.Session) error {
		return sess.UpsertMessages(ctx, confirmed...)
	})
}

// ChannelList is the ordered list of visible channels, most recently active
// first.
type ChannelList struct {
	client *Client
	query  rest.ChannelQuery
	proj   *projection.Projection[model.Channel]
	stop   func()

	pageMu  sync.Mutex
	mu      sync.Mutex
	offset  int
	hasMore bool
}

// ChannelList starts observing the cached channels. Pages are fetched with
// q; its Pagination is managed by the list.
func (c *Client) ChannelList(q rest.ChannelQuery) (*ChannelList, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	l := &ChannelList{
		client:  c,
		query:   q,
		proj:    projection.New(ordered.ChannelsByLastMessage, projection.WithName("channels"), projection.WithLogger(c.opts.logger)),
		hasMore: true,
	}
	stop, err := c.store.ObserveChannels(func(b storage.Batch[model.Channel]) {
		l.proj.ApplyChanges(b.Changes)
	})
	if err != nil {
		return nil, err
	}
	l.stop = stop
	return l, nil
}

// Channels returns the current snapshot.
func (l *ChannelList) Channels() *ordered.OrderedChannels { return l.proj.Current() }

// Subscribe registers fn for every new snapshot and returns the current one.
func (l *ChannelList) Subscribe(fn projection.Subscriber[model.Channel]) (*ordered.OrderedChannels, func()) {
	return l.proj.Subscribe(fn)
}

// HasMore reports whether more pages may exist on the server.
func (l *ChannelList) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// LoadNextPage fetches the next page of channels with their initial
// messages, members and watchers, stores it and merges the channels into
// the list.
func (l *ChannelList) LoadNextPage(ctx context.Context) (bool, error) {
	l.pageMu.Lock()
	defer l.pageMu.Unlock()

	l.mu.Lock()
	q := l.query
	q.Pagination = rest.Pagination{Limit: l.client.opts.pageSize, Offset: l.offset}
	l.mu.Unlock()

	page, err := l.client.api.QueryChannels(ctx, q)
	if err != nil {
		return l.HasMore(), err
	}
	if err := l.client.storeChannelStates(ctx, page.Items); err != nil {
		return l.HasMore(), err
	}

	visible := make([]model.Channel, 0, len(page.Items))
	for _, st := range page.Items {
		if !st.Channel.Hidden {
			visible = append(visible, st.Channel)
		}
	}
	l.proj.InsertPaginated(visible)

	l.mu.Lock()
	l.offset += len(page.Items)
	l.hasMore = page.HasMore
	l.mu.Unlock()
	return page.HasMore, nil
}

// Close stops observing the store.
func (l *ChannelList) Close() { l.stop() }

func (c *Client) storeChannelStates(ctx context.Context, states []rest.ChannelState) error {
	if len(states) == 0 {
		return nil
	}
	return c.store.Write(ctx, func(sess storage.Session) error {
		for _, st := range states {
			if err := sess.UpsertChannels(ctx, st.Channel); err != nil {
				return err
			}
			messages := make([]model.Message, len(st.Messages))
			for i, m := range st.Messages {
				m.LocalState = model.LocalStateNone
				messages[i] = m
			}
			if err := sess.UpsertMessages(ctx, messages...); err != nil {
				return err
			}
			if err := sess.UpsertMembers(ctx, st.Members...); err != nil {
				return err
			}
			if err := sess.UpsertUsers(ctx, st.Watchers...); err != nil {
				return err
			}
			for _, w := range st.Watchers {
				if err := sess.AddWatcher(ctx, st.Channel.CID, w.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WatcherList is the alphabetical list of users watching a channel.
type WatcherList struct {
	cid  model.CID
	proj *projection.Projection[model.User]
	stop func()
}

// WatcherList starts observing the watchers of cid.
func (c *Client) WatcherList(cid model.CID) (*WatcherList, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	if _, err := model.ParseCID(string(cid)); err != nil {
		return nil, errors.NewValidationError(errors.OpLoad, err)
	}
	l := &WatcherList{
		cid:  cid,
		proj: projection.New(ordered.UsersByName, projection.WithName("watchers:"+string(cid)), projection.WithLogger(c.opts.logger)),
	}
	stop, err := c.store.ObserveWatchers(cid, func(b storage.Batch[model.User]) {
		l.proj.ApplyChanges(b.Changes)
	})
	if err != nil {
		return nil, err
	}
	l.stop = stop
	return l, nil
}

// Watchers returns the current snapshot.
func (l *WatcherList) Watchers() *ordered.OrderedUsers { return l.proj.Current() }

// Subscribe registers fn for every new snapshot and returns the current one.
func (l *WatcherList) Subscribe(fn projection.Subscriber[model.User]) (*ordered.OrderedUsers, func()) {
	return l.proj.Subscribe(fn)
}

// Close stops observing the store.
func (l *WatcherList) Close() { l.stop() }
