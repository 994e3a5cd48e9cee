// Package model defines the chat entities cached and synchronized by the
// engine. Every entity has a stable Identity used for deduplication.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Entity is implemented by every cached value. Entities are plain comparable
// values so two snapshots of the same identity can be compared with ==.
type Entity interface {
	comparable
	Identity() string
}

// LocalState tracks a message that the server has not confirmed yet.
type LocalState string

const (
	LocalStateNone          LocalState = ""
	LocalStatePendingSend   LocalState = "pendingSend"
	LocalStateSending       LocalState = "sending"
	LocalStateSendingFailed LocalState = "sendingFailed"
)

// CID is a channel identifier of the form "type:id".
type CID string

// NewCID joins a channel type and id.
func NewCID(channelType, id string) CID {
	return CID(channelType + ":" + id)
}

// ParseCID splits a CID into type and id.
func ParseCID(s string) (CID, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return "", fmt.Errorf("invalid cid %q: expected type:id", s)
	}
	return CID(s), nil
}

// Type returns the channel type part.
func (c CID) Type() string {
	typ, _, _ := strings.Cut(string(c), ":")
	return typ
}

// ID returns the channel id part.
func (c CID) ID() string {
	_, id, _ := strings.Cut(string(c), ":")
	return id
}

func (c CID) String() string { return string(c) }

// Channel is a conversation.
type Channel struct {
	CID           CID       `json:"cid"`
	Type          string    `json:"type"`
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	MemberCount   int       `json:"member_count"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Hidden        bool      `json:"hidden,omitempty"`
	Frozen        bool      `json:"frozen,omitempty"`
}

func (c Channel) Identity() string { return string(c.CID) }

// Message is a single chat message.
type Message struct {
	ID         string     `json:"id"`
	CID        CID        `json:"cid"`
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Type       string     `json:"type,omitempty"`
	ParentID   string     `json:"parent_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  time.Time  `json:"deleted_at,omitempty"`
	LocalState LocalState `json:"-"`
}

func (m Message) Identity() string { return m.ID }

// IsLocalOnly reports whether the server does not know about the message yet.
func (m Message) IsLocalOnly() bool { return m.LocalState != LocalStateNone }

// IsDeleted reports whether the message was soft deleted.
func (m Message) IsDeleted() bool { return !m.DeletedAt.IsZero() }

// User is a chat participant.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Role       string    `json:"role,omitempty"`
	Online     bool      `json:"online"`
	LastActive time.Time `json:"last_active,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u User) Identity() string { return u.ID }

// DisplayName falls back to the id when no name is set.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// Member is a user's membership in a channel.
type Member struct {
	CID       CID       `json:"cid"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"channel_role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m Member) Identity() string { return string(m.CID) + "/" + m.UserID }
