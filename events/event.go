// Package events decodes real-time frames into typed events and dispatches
// them, one at a time, through persistence middleware and observers.
package events

import (
	"encoding/json"
	"time"

	"github.com/c0deZ3R0/go-chatsync-kit/model"
)

// Event type names as they appear on the wire.
const (
	TypeHealthCheck         = "health.check"
	TypeMessageNew          = "message.new"
	TypeMessageUpdated      = "message.updated"
	TypeMessageDeleted      = "message.deleted"
	TypeChannelUpdated      = "channel.updated"
	TypeChannelDeleted      = "channel.deleted"
	TypeChannelHidden       = "channel.hidden"
	TypeChannelVisible      = "channel.visible"
	TypeMemberAdded         = "member.added"
	TypeMemberRemoved       = "member.removed"
	TypeUserPresenceChanged = "user.presence.changed"
	TypeUserWatchingStart   = "user.watching.start"
	TypeUserWatchingStop    = "user.watching.stop"
	TypeTypingStart         = "typing.start"
	TypeTypingStop          = "typing.stop"
)

// Event is implemented by every decoded frame. The set is closed: use a type
// switch over the concrete types below.
type Event interface {
	EventType() string
	Channel() model.CID
	isEvent()
}

// Header holds the fields common to every event.
type Header struct {
	Type      string    `json:"type"`
	CID       model.CID `json:"cid,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h Header) EventType() string { return h.Type }

func (h Header) Channel() model.CID { return h.CID }

func (Header) isEvent() {}

// HealthCheck is sent by the server right after connecting and periodically
// afterwards. The first one carries the connection id.
type HealthCheck struct {
	Header
	ConnectionID string      `json:"connection_id"`
	Me           *model.User `json:"me,omitempty"`
}

type MessageNew struct {
	Header
	Message      model.Message `json:"message"`
	User         *model.User   `json:"user,omitempty"`
	WatcherCount int           `json:"watcher_count,omitempty"`
}

type MessageUpdated struct {
	Header
	Message model.Message `json:"message"`
	User    *model.User   `json:"user,omitempty"`
}

// MessageDeleted soft deletes unless HardDelete is set.
type MessageDeleted struct {
	Header
	Message    model.Message `json:"message"`
	HardDelete bool          `json:"hard_delete,omitempty"`
}

type ChannelUpdated struct {
	Header
	ChannelData model.Channel `json:"channel"`
}

type ChannelDeleted struct {
	Header
}

type ChannelHidden struct {
	Header
	ClearHistory bool `json:"clear_history,omitempty"`
}

type ChannelVisible struct {
	Header
}

type MemberAdded struct {
	Header
	Member model.Member `json:"member"`
	User   *model.User  `json:"user,omitempty"`
}

type MemberRemoved struct {
	Header
	UserID string `json:"user_id"`
}

type UserPresenceChanged struct {
	Header
	User model.User `json:"user"`
}

type UserWatchingStart struct {
	Header
	User         model.User `json:"user"`
	WatcherCount int        `json:"watcher_count,omitempty"`
}

type UserWatchingStop struct {
	Header
	User         model.User `json:"user"`
	WatcherCount int        `json:"watcher_count,omitempty"`
}

type TypingStart struct {
	Header
	User     model.User `json:"user"`
	ParentID string     `json:"parent_id,omitempty"`
}

type TypingStop struct {
	Header
	User     model.User `json:"user"`
	ParentID string     `json:"parent_id,omitempty"`
}

// Unknown carries a frame whose type has no decoder.
type Unknown struct {
	Header
	Raw json.RawMessage `json:"-"`
}
