package events

import (
	"context"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
	"github.com/c0deZ3R0/go-chatsync-kit/storage"
)

// Persistence writes the cache changes carried by each event.
type Persistence struct{}

var _ Middleware = Persistence{}

func upsertUser(ctx context.Context, sess storage.Session, u *model.User) error {
	if u == nil || u.ID == "" {
		return nil
	}
	return sess.UpsertUsers(ctx, *u)
}

func messageIn(cid model.CID, m model.Message) model.Message {
	if m.CID == "" {
		m.CID = cid
	}
	m.LocalState = model.LocalStateNone
	return m
}

func (Persistence) Apply(ctx context.Context, ev Event, sess storage.Session) error {
	switch e := ev.(type) {
	case HealthCheck:
		return upsertUser(ctx, sess, e.Me)

	case MessageNew:
		if err := upsertUser(ctx, sess, e.User); err != nil {
			return err
		}
		m := messageIn(e.CID, e.Message)
		if err := sess.UpsertMessages(ctx, m); err != nil {
			return err
		}
		if m.ParentID != "" {
			return nil
		}
		return sess.TouchChannel(ctx, m.CID, m.CreatedAt)

	case MessageUpdated:
		if err := upsertUser(ctx, sess, e.User); err != nil {
			return err
		}
		return sess.UpsertMessages(ctx, messageIn(e.CID, e.Message))

	case MessageDeleted:
		m := messageIn(e.CID, e.Message)
		if e.HardDelete {
			return sess.DeleteMessage(ctx, m.CID, m.ID)
		}
		if m.DeletedAt.IsZero() {
			m.DeletedAt = e.CreatedAt
		}
		return sess.UpsertMessages(ctx, m)

	case ChannelUpdated:
		c := e.ChannelData
		if c.CID == "" {
			c.CID = e.CID
		}
		return sess.UpsertChannels(ctx, c)

	case ChannelDeleted:
		return sess.DeleteChannel(ctx, e.CID)

	case ChannelHidden:
		if e.ClearHistory {
			if err := sess.TruncateChannel(ctx, e.CID); err != nil {
				return err
			}
		}
		return sess.SetChannelHidden(ctx, e.CID, true)

	case ChannelVisible:
		return sess.SetChannelHidden(ctx, e.CID, false)

	case MemberAdded:
		if err := upsertUser(ctx, sess, e.User); err != nil {
			return err
		}
		m := e.Member
		if m.CID == "" {
			m.CID = e.CID
		}
		return sess.UpsertMembers(ctx, m)

	case MemberRemoved:
		return sess.DeleteMember(ctx, e.CID, e.UserID)

	case UserPresenceChanged:
		return sess.UpsertUsers(ctx, e.User)

	case UserWatchingStart:
		if err := sess.UpsertUsers(ctx, e.User); err != nil {
			return err
		}
		return sess.AddWatcher(ctx, e.CID, e.User.ID)

	case UserWatchingStop:
		return sess.RemoveWatcher(ctx, e.CID, e.User.ID)
	}
	return nil
}
