// Package storage defines the local cache the engine persists events into
// and the list-change observations the controllers consume.
package storage

import (
	"context"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/ordered"
)

// Batch is one observation delivery: the snapshot the observer held before
// the commit and the changes that turn it into the new snapshot.
type Batch[T model.Entity] struct {
	Before  []T
	Changes []ordered.ListChange[T]
}

// Session is a writable view of the store inside one transaction.
type Session interface {
	UpsertChannels(ctx context.Context, channels ...model.Channel) error
	// DeleteChannel removes the channel with its messages, members and watchers.
	DeleteChannel(ctx context.Context, cid model.CID) error
	SetChannelHidden(ctx context.Context, cid model.CID, hidden bool) error
	// TruncateChannel removes the channel's cached messages and keeps the
	// channel itself.
	TruncateChannel(ctx context.Context, cid model.CID) error
	// TouchChannel raises the channel's last message time to at.
	TouchChannel(ctx context.Context, cid model.CID, at time.Time) error

	UpsertMessages(ctx context.Context, messages ...model.Message) error
	DeleteMessage(ctx context.Context, cid model.CID, id string) error
	Message(ctx context.Context, id string) (model.Message, bool, error)

	UpsertUsers(ctx context.Context, users ...model.User) error
	SetUserPresence(ctx context.Context, userID string, online bool) error

	UpsertMembers(ctx context.Context, members ...model.Member) error
	DeleteMember(ctx context.Context, cid model.CID, userID string) error

	AddWatcher(ctx context.Context, cid model.CID, userID string) error
	RemoveWatcher(ctx context.Context, cid model.CID, userID string) error
}

// Store is the local cache. Write runs fn in one transaction; after it
// commits, every observation whose scope was touched is re-queried and
// notified before Write returns. Observer callbacks run while the store's
// write lock is held and must not write to the store.
type Store interface {
	Write(ctx context.Context, fn func(Session) error) error

	Channels(ctx context.Context) ([]model.Channel, error)
	Messages(ctx context.Context, cid model.CID) ([]model.Message, error)
	Message(ctx context.Context, id string) (model.Message, bool, error)
	Members(ctx context.Context, cid model.CID) ([]model.Member, error)
	Watchers(ctx context.Context, cid model.CID) ([]model.User, error)

	// ObserveChannels delivers the visible channel list. The current content
	// is delivered once, as inserts, before ObserveChannels returns.
	ObserveChannels(fn func(Batch[model.Channel])) (cancel func(), err error)
	ObserveMessages(cid model.CID, fn func(Batch[model.Message])) (cancel func(), err error)
	ObserveWatchers(cid model.CID, fn func(Batch[model.User])) (cancel func(), err error)

	Close() error
}
