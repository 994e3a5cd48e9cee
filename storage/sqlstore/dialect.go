package sqlstore

import (
	"strconv"
	"strings"
	"time"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	// Name identifies the dialect in logs and errors.
	Name string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
}

var (
	SQLite   = Dialect{Name: "sqlite"}
	Postgres = Dialect{Name: "postgres", Numbered: true}
)

// Rebind rewrites ? placeholders for dialects using numbered ones.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema is valid for both SQLite and PostgreSQL. Timestamps are stored as
// unix nanoseconds, zero meaning unset.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		cid             TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		id              TEXT NOT NULL,
		name            TEXT NOT NULL DEFAULT '',
		created_by      TEXT NOT NULL DEFAULT '',
		member_count    INTEGER NOT NULL DEFAULT 0,
		last_message_at BIGINT NOT NULL DEFAULT 0,
		created_at      BIGINT NOT NULL DEFAULT 0,
		updated_at      BIGINT NOT NULL DEFAULT 0,
		hidden          BOOLEAN NOT NULL DEFAULT FALSE,
		frozen          BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id          TEXT PRIMARY KEY,
		cid         TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		text        TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL DEFAULT '',
		parent_id   TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL DEFAULT 0,
		updated_at  BIGINT NOT NULL DEFAULT 0,
		deleted_at  BIGINT NOT NULL DEFAULT 0,
		local_state TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_cid_created ON messages (cid, created_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL DEFAULT '',
		online      BOOLEAN NOT NULL DEFAULT FALSE,
		last_active BIGINT NOT NULL DEFAULT 0,
		created_at  BIGINT NOT NULL DEFAULT 0,
		updated_at  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS members (
		cid        TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (cid, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS watchers (
		cid     TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (cid, user_id)
	)`,
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
