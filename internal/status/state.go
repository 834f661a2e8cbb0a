package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/roam/internal/bus"
)

// State describes how reachable the remote roaming feed currently is.
type State string

const (
	Booting  State = "BOOTING"
	Online   State = "ONLINE"   // last remote call succeeded
	Degraded State = "DEGRADED" // last remote call failed or timed out; pages fall back to the store
	Offline  State = "OFFLINE"  // no remote feed configured or obtainable
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Online, Degraded, Offline, Error},
	Online:   {Degraded, Offline, Error},
	Degraded: {Online, Offline, Error},
	Offline:  {Online, Degraded, Error},
	Error:    {Booting},
}

// Machine tracks and enforces remote link state transitions.
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
	return m.transitionLocked(to)
}

// Report records an observation of the remote link. Repeated observations
// of the current state are ignored; it reports whether the state changed.
func (m *Machine) Report(to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return false
	}
	return m.transitionLocked(to) == nil
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, StatusChange{From: from, To: to}))
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
