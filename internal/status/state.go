package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wecrm/crmchat/internal/bus"
)

// State is the push connection state of a session.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Live         State = "LIVE"
	Reconnecting State = "RECONNECTING"
	Stopped      State = "STOPPED"
	Error        State = "ERROR"
)

var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Stopped, Error},
	AuthRequired: {Connecting, Stopped, Error},
	Connecting:   {Live, Reconnecting, Stopped, Error},
	Live:         {Reconnecting, AuthRequired, Stopped, Error},
	Reconnecting: {Connecting, Stopped, Error},
	Stopped:      {Booting},
	Error:        {Booting, Connecting, Stopped},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, StatusChange{From: from, To: to}))
	return nil
}

// CanTransition reports whether moving to the given state is currently allowed.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(validTransitions[m.current], to)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
