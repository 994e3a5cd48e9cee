package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c0deZ3R0/go-chatsync-kit/errors"
	"github.com/c0deZ3R0/go-chatsync-kit/logging"
)

// Listener observes state changes.
type Listener func(old, new State)

type stateChange struct {
	old, new State
}

// Machine holds the current connection state and validates every
// transition. Listeners are invoked outside the lock, one change at a time
// and in transition order, so a listener may itself call Transition.
type Machine struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	queue     []stateChange
	draining  bool
	logger    *logging.Logger
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithMachineLogger sets the logger used for transition records.
func WithMachineLogger(l *logging.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// NewMachine returns a machine in the notConnected state.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		state:     NotConnected(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	m.logger = m.logger.WithComponent(logging.ComponentConnection)
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to to, or fails with a validation error if the move is
// not allowed from the current state.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return errors.E(errors.OpTransition, errors.Component("connection"), errors.KindInvalid,
			errors.ErrCodeValidationFailure, fmt.Sprintf("invalid transition %s -> %s", from, to))
	}
	m.state = to
	m.queue = append(m.queue, stateChange{old: from, new: to})

	attrs := []any{slog.String("from", from.String()), slog.String("to", to.String())}
	if to.Status() == StatusDisconnected && to.Err() != nil {
		m.logger.Warn("connection lost", attrs...)
	} else {
		m.logger.Debug("connection state changed", attrs...)
	}

	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	for len(m.queue) > 0 {
		change := m.queue[0]
		m.queue = m.queue[1:]
		listeners := make([]Listener, 0, len(m.listeners))
		for id := 0; id < m.nextID; id++ {
			if l, ok := m.listeners[id]; ok {
				listeners = append(listeners, l)
			}
		}
		m.mu.Unlock()
		for _, l := range listeners {
			l(change.old, change.new)
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
	return nil
}

// Subscribe registers l and returns a function removing it.
func (m *Machine) Subscribe(l Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}
