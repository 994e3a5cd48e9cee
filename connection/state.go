// Package connection models the lifecycle of the realtime socket and the
// controllers that react to it.
package connection

import (
	"context"
	"fmt"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
)

// Status is the tag of a State.
type Status int

const (
	StatusNotConnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusNotConnected:
		return "notConnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is the connection state. Connected states carry the session id
// assigned by the server; disconnected states may carry the failure cause.
type State struct {
	status    Status
	sessionID string
	err       error
}

func NotConnected() State { return State{status: StatusNotConnected} }

func Connecting() State { return State{status: StatusConnecting} }

func Connected(sessionID string) State {
	return State{status: StatusConnected, sessionID: sessionID}
}

func Disconnecting() State { return State{status: StatusDisconnecting} }

// Disconnected carries err when the connection was lost rather than closed
// on request.
func Disconnected(err error) State {
	return State{status: StatusDisconnected, err: err}
}

func (s State) Status() Status { return s.status }

// SessionID is set only for connected states.
func (s State) SessionID() string { return s.sessionID }

// Err is the failure cause of a disconnected state.
func (s State) Err() error { return s.err }

func (s State) IsConnected() bool { return s.status == StatusConnected }

// Equal compares tags and, for connected states, session ids. Disconnected
// states are equal when both causes are nil or match with errors.Is.
func (s State) Equal(other State) bool {
	if s.status != other.status {
		return false
	}
	switch s.status {
	case StatusConnected:
		return s.sessionID == other.sessionID
	case StatusDisconnected:
		if s.err == nil || other.err == nil {
			return s.err == nil && other.err == nil
		}
		return errors.Is(s.err, other.err) || errors.Is(other.err, s.err)
	default:
		return true
	}
}

func (s State) String() string {
	switch {
	case s.status == StatusConnected:
		return fmt.Sprintf("connected(%s)", s.sessionID)
	case s.status == StatusDisconnected && s.err != nil:
		return fmt.Sprintf("disconnected(%v)", s.err)
	default:
		return s.status.String()
	}
}

// CanTransition reports whether from may move to to.
//
// A connected socket closed on request must pass through disconnecting;
// only a failure may jump straight to disconnected.
func CanTransition(from, to State) bool {
	switch from.status {
	case StatusNotConnected:
		return to.status == StatusConnecting
	case StatusConnecting:
		return to.status == StatusConnected ||
			to.status == StatusDisconnecting ||
			to.status == StatusDisconnected
	case StatusConnected:
		return to.status == StatusDisconnecting ||
			(to.status == StatusDisconnected && to.err != nil)
	case StatusDisconnecting:
		return to.status == StatusDisconnected
	case StatusDisconnected:
		return to.status == StatusConnecting
	default:
		return false
	}
}

// Pinger sends a liveness ping over the socket.
type Pinger interface {
	SendPing(ctx context.Context) error
}

// Conn is an established realtime socket.
type Conn interface {
	Pinger
	// ConnectionID is the server assigned id for this socket.
	ConnectionID() string
	// ReadFrame blocks until the next inbound frame arrives.
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens sockets. onPingResponse is invoked for every liveness
// response the transport observes.
type Dialer interface {
	Dial(ctx context.Context, onPingResponse func()) (Conn, error)
}
