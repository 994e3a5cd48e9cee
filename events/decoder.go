package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

// DecodeFunc turns a frame into a typed event.
type DecodeFunc func(frame []byte) (Event, error)

func decodeAs[T Event](frame []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(frame, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Decoder maps the "type" field of a frame to a typed event.
type Decoder struct {
	mu    sync.RWMutex
	types map[string]DecodeFunc
}

// NewDecoder returns a Decoder that knows every built in event type.
func NewDecoder() *Decoder {
	return &Decoder{types: map[string]DecodeFunc{
		TypeHealthCheck:         decodeAs[HealthCheck],
		TypeMessageNew:          decodeAs[MessageNew],
		TypeMessageUpdated:      decodeAs[MessageUpdated],
		TypeMessageDeleted:      decodeAs[MessageDeleted],
		TypeChannelUpdated:      decodeAs[ChannelUpdated],
		TypeChannelDeleted:      decodeAs[ChannelDeleted],
		TypeChannelHidden:       decodeAs[ChannelHidden],
		TypeChannelVisible:      decodeAs[ChannelVisible],
		TypeMemberAdded:         decodeAs[MemberAdded],
		TypeMemberRemoved:       decodeAs[MemberRemoved],
		TypeUserPresenceChanged: decodeAs[UserPresenceChanged],
		TypeUserWatchingStart:   decodeAs[UserWatchingStart],
		TypeUserWatchingStop:    decodeAs[UserWatchingStop],
		TypeTypingStart:         decodeAs[TypingStart],
		TypeTypingStop:          decodeAs[TypingStop],
	}}
}

// Register installs or replaces the decoder for eventType.
func (d *Decoder) Register(eventType string, fn DecodeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types[eventType] = fn
}

// Decode parses one frame. Frames with an unregistered type decode to
// Unknown. Malformed frames return a decode error.
func (d *Decoder) Decode(frame []byte) (Event, error) {
	if !gjson.ValidBytes(frame) {
		return nil, errors.NewDecodeError(fmt.Errorf("frame is not valid JSON"))
	}
	typ := gjson.GetBytes(frame, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, errors.NewDecodeError(fmt.Errorf("frame has no type"))
	}

	d.mu.RLock()
	fn, ok := d.types[typ.Str]
	d.mu.RUnlock()
	if !ok {
		var header Header
		if err := json.Unmarshal(frame, &header); err != nil {
			return nil, errors.NewDecodeError(fmt.Errorf("%s: %w", typ.Str, err))
		}
		raw := make(json.RawMessage, len(frame))
		copy(raw, frame)
		return Unknown{Header: header, Raw: raw}, nil
	}

	ev, err := fn(frame)
	if err != nil {
		return nil, errors.NewDecodeError(fmt.Errorf("%s: %w", typ.Str, err))
	}
	return ev, nil
}
