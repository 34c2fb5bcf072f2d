// Package status tracks the embedded provider's connection to WhatsApp.
// States are spelled the way the vendor API reports them, so they flow
// through the same mapper as the REST provider's responses.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppgw/internal/bus"
)

// State is the provider-side connection state.
type State string

const (
	Close      State = "close"
	Pairing    State = "qrcode"
	Connecting State = "connecting"
	Open       State = "open"
)

var validTransitions = map[State][]State{
	Close:      {Pairing, Connecting},
	Pairing:    {Open, Connecting, Close},
	Connecting: {Open, Pairing, Close},
	Open:       {Connecting, Close},
}

// Machine tracks and enforces provider state transitions. It also holds the
// pairing code shown while in Pairing.
type Machine struct {
	mu      sync.RWMutex
	current State
	qr      string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Close.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Close,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// QR returns the latest pairing code, empty outside Pairing.
func (m *Machine) QR() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.qr
}

// SetQR records a fresh pairing code and moves to Pairing when allowed.
func (m *Machine) SetQR(code string) error {
	m.mu.Lock()
	m.qr = code
	m.mu.Unlock()
	if m.Current() == Pairing {
		m.publish(Pairing, Pairing)
		return nil
	}
	return m.Transition(Pairing)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	if to != Pairing {
		m.qr = ""
	}
	m.mu.Unlock()

	m.publish(from, to)
	return nil
}

func (m *Machine) publish(from, to State) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(bus.KindStateChanged, StatusChange{From: from, To: to, QR: m.QR()})
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State
	To   State
	QR   string
}
