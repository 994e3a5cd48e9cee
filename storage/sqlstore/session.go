package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

const (
	upsertChannel = `INSERT INTO channels
		(cid, type, id, name, created_by, member_count, last_message_at, created_at, updated_at, hidden, frozen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cid) DO UPDATE SET
			type = excluded.type,
			id = excluded.id,
			name = excluded.name,
			created_by = excluded.created_by,
			member_count = excluded.member_count,
			last_message_at = excluded.last_message_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			hidden = excluded.hidden,
			frozen = excluded.frozen`

	upsertMessage = `INSERT INTO messages
		(id, cid, user_id, text, type, parent_id, created_at, updated_at, deleted_at, local_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			cid = excluded.cid,
			user_id = excluded.user_id,
			text = excluded.text,
			type = excluded.type,
			parent_id = excluded.parent_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			local_state = excluded.local_state`

	upsertUser = `INSERT INTO users
		(id, name, role, online, last_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			online = excluded.online,
			last_active = excluded.last_active,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`

	upsertMember = `INSERT INTO members
		(cid, user_id, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cid, user_id) DO UPDATE SET
			role = excluded.role,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
)

// session implements storage.Session on one transaction.
type session struct {
	tx      *sql.Tx
	dialect Dialect
	touched *touched
}

func (s *session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.tx.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpStore, err)
	}
	return res, nil
}

func (s *session) UpsertChannels(ctx context.Context, channels ...model.Channel) error {
	for _, c := range channels {
		if c.CID == "" {
			c.CID = model.NewCID(c.Type, c.ID)
		}
		if c.Type == "" || c.ID == "" {
			c.Type, c.ID = c.CID.Type(), c.CID.ID()
		}
		if _, err := s.exec(ctx, upsertChannel,
			string(c.CID), c.Type, c.ID, c.Name, c.CreatedBy, c.MemberCount,
			toNanos(c.LastMessageAt), toNanos(c.CreatedAt), toNanos(c.UpdatedAt),
			c.Hidden, c.Frozen,
		); err != nil {
			return err
		}
		s.touched.channels = true
	}
	return nil
}

func (s *session) DeleteChannel(ctx context.Context, cid model.CID) error {
	for _, query := range []string{
		`DELETE FROM messages WHERE cid = ?`,
		`DELETE FROM members WHERE cid = ?`,
		`DELETE FROM watchers WHERE cid = ?`,
		`DELETE FROM channels WHERE cid = ?`,
	} {
		if _, err := s.exec(ctx, query, string(cid)); err != nil {
			return err
		}
	}
	s.touched.channels = true
	s.touched.messages[cid] = struct{}{}
	s.touched.watchers[cid] = struct{}{}
	return nil
}

func (s *session) SetChannelHidden(ctx context.Context, cid model.CID, hidden bool) error {
	if _, err := s.exec(ctx, `UPDATE channels SET hidden = ? WHERE cid = ?`, hidden, string(cid)); err != nil {
		return err
	}
	s.touched.channels = true
	return nil
}

func (s *session) TruncateChannel(ctx context.Context, cid model.CID) error {
	if _, err := s.exec(ctx, `DELETE FROM messages WHERE cid = ?`, string(cid)); err != nil {
		return err
	}
	s.touched.messages[cid] = struct{}{}
	return nil
}

func (s *session) TouchChannel(ctx context.Context, cid model.CID, at time.Time) error {
	n := toNanos(at)
	res, err := s.exec(ctx, `UPDATE channels SET last_message_at = ? WHERE cid = ? AND last_message_at < ?`, n, string(cid), n)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		s.touched.channels = true
	}
	return nil
}

func (s *session) UpsertMessages(ctx context.Context, messages ...model.Message) error {
	for _, m := range messages {
		if _, err := s.exec(ctx, upsertMessage,
			m.ID, string(m.CID), m.UserID, m.Text, m.Type, m.ParentID,
			toNanos(m.CreatedAt), toNanos(m.UpdatedAt), toNanos(m.DeletedAt),
			string(m.LocalState),
		); err != nil {
			return err
		}
		s.touched.messages[m.CID] = struct{}{}
	}
	return nil
}

func (s *session) DeleteMessage(ctx context.Context, cid model.CID, id string) error {
	if _, err := s.exec(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return err
	}
	s.touched.messages[cid] = struct{}{}
	return nil
}

func (s *session) Message(ctx context.Context, id string) (model.Message, bool, error) {
	row := s.tx.QueryRowContext(ctx, s.dialect.Rebind(selectMessages+` WHERE id = ?`), id)
	return scanOne(row, scanMessage)
}

func (s *session) UpsertUsers(ctx context.Context, users ...model.User) error {
	for _, u := range users {
		if _, err := s.exec(ctx, upsertUser,
			u.ID, u.Name, u.Role, u.Online,
			toNanos(u.LastActive), toNanos(u.CreatedAt), toNanos(u.UpdatedAt),
		); err != nil {
			return err
		}
		s.touched.users = true
	}
	return nil
}

func (s *session) SetUserPresence(ctx context.Context, userID string, online bool) error {
	if _, err := s.exec(ctx, `UPDATE users SET online = ? WHERE id = ?`, online, userID); err != nil {
		return err
	}
	s.touched.users = true
	return nil
}

func (s *session) UpsertMembers(ctx context.Context, members ...model.Member) error {
	for _, m := range members {
		if _, err := s.exec(ctx, upsertMember,
			string(m.CID), m.UserID, m.Role, toNanos(m.CreatedAt), toNanos(m.UpdatedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) DeleteMember(ctx context.Context, cid model.CID, userID string) error {
	_, err := s.exec(ctx, `DELETE FROM members WHERE cid = ? AND user_id = ?`, string(cid), userID)
	return err
}

func (s *session) AddWatcher(ctx context.Context, cid model.CID, userID string) error {
	if _, err := s.exec(ctx,
		`INSERT INTO watchers (cid, user_id) VALUES (?, ?) ON CONFLICT (cid, user_id) DO NOTHING`,
		string(cid), userID,
	); err != nil {
		return err
	}
	s.touched.watchers[cid] = struct{}{}
	return nil
}

func (s *session) RemoveWatcher(ctx context.Context, cid model.CID, userID string) error {
	if _, err := s.exec(ctx, `DELETE FROM watchers WHERE cid = ? AND user_id = ?`, string(cid), userID); err != nil {
		return err
	}
	s.touched.watchers[cid] = struct{}{}
	return nil
}
