package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

const (
	selectChannels = `SELECT cid, type, id, name, created_by, member_count,
		last_message_at, created_at, updated_at, hidden, frozen FROM channels`
	selectMessages = `SELECT id, cid, user_id, text, type, parent_id,
		created_at, updated_at, deleted_at, local_state FROM messages`
	selectUsers = `SELECT u.id, u.name, u.role, u.online, u.last_active,
		u.created_at, u.updated_at FROM users u`
	selectMembers = `SELECT cid, user_id, role, created_at, updated_at FROM members`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(row scanner) (model.Channel, error) {
	var c model.Channel
	var cid string
	var lastMessageAt, createdAt, updatedAt int64
	err := row.Scan(&cid, &c.Type, &c.ID, &c.Name, &c.CreatedBy, &c.MemberCount,
		&lastMessageAt, &createdAt, &updatedAt, &c.Hidden, &c.Frozen)
	c.CID = model.CID(cid)
	c.LastMessageAt = fromNanos(lastMessageAt)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return c, err
}

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	var cid, localState string
	var createdAt, updatedAt, deletedAt int64
	err := row.Scan(&m.ID, &cid, &m.UserID, &m.Text, &m.Type, &m.ParentID,
		&createdAt, &updatedAt, &deletedAt, &localState)
	m.CID = model.CID(cid)
	m.LocalState = model.LocalState(localState)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	m.DeletedAt = fromNanos(deletedAt)
	return m, err
}

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var lastActive, createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.Online, &lastActive, &createdAt, &updatedAt)
	u.LastActive = fromNanos(lastActive)
	u.CreatedAt = fromNanos(createdAt)
	u.UpdatedAt = fromNanos(updatedAt)
	return u, err
}

func scanMember(row scanner) (model.Member, error) {
	var m model.Member
	var cid string
	var createdAt, updatedAt int64
	err := row.Scan(&cid, &m.UserID, &m.Role, &createdAt, &updatedAt)
	m.CID = model.CID(cid)
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	return m, err
}

func scanOne[T any](row *sql.Row, scan func(scanner) (T, error)) (T, bool, error) {
	v, err := scan(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		return v, false, errors.NewStorageError(errors.OpLoad, err)
	}
	return v, true, nil
}

func queryAll[T any](ctx context.Context, s *Store, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpLoad, err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, errors.NewStorageError(errors.OpLoad, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError(errors.OpLoad, err)
	}
	return out, nil
}

// Channels returns visible channels, most recently active first.
func (s *Store) Channels(ctx context.Context) ([]model.Channel, error) {
	return queryAll(ctx, s, scanChannel, selectChannels+` WHERE hidden = ?
		ORDER BY CASE WHEN last_message_at = 0 THEN created_at ELSE last_message_at END DESC, created_at DESC, cid DESC`, false)
}

// Messages returns a channel's messages, newest first.
func (s *Store) Messages(ctx context.Context, cid model.CID) ([]model.Message, error) {
	return queryAll(ctx, s, scanMessage, selectMessages+` WHERE cid = ? ORDER BY created_at DESC, id DESC`, string(cid))
}

func (s *Store) Message(ctx context.Context, id string) (model.Message, bool, error) {
	if err := s.checkOpen(); err != nil {
		return model.Message{}, false, err
	}
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(selectMessages+` WHERE id = ?`), id)
	return scanOne(row, scanMessage)
}

func (s *Store) Members(ctx context.Context, cid model.CID) ([]model.Member, error) {
	return queryAll(ctx, s, scanMember, selectMembers+` WHERE cid = ? ORDER BY user_id`, string(cid))
}

// userOrder matches ordered.UsersByName: case-insensitive display name,
// which falls back to the id for unnamed users.
const userOrder = `LOWER(COALESCE(NULLIF(u.name, ''), u.id)), u.id`

// Watchers returns users currently watching cid.
func (s *Store) Watchers(ctx context.Context, cid model.CID) ([]model.User, error) {
	return queryAll(ctx, s, scanUser, selectUsers+`
		JOIN watchers w ON w.user_id = u.id
		WHERE w.cid = ? ORDER BY `+userOrder, string(cid))
}

// Users returns every cached user.
func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	return queryAll(ctx, s, scanUser, selectUsers+` ORDER BY `+userOrder)
}
