// Package fsm holds the game phase state machine. Transitions run exit, swap,
// enter and then announce PhaseChanged on the bus.
package fsm

import (
	"errors"
	"fmt"
	"log"
	"slices"

	"brickarena/internal/bus"
)

// ErrUnknownState is returned when a phase has no registered state.
var ErrUnknownState = errors.New("fsm: no state registered for phase")

// State is the behaviour attached to one phase.
type State interface {
	OnEnter()
	OnExit()
	OnTick(dt float64)
}

// StateFuncs adapts plain functions to State. Nil fields are skipped.
type StateFuncs struct {
	Enter func()
	Exit  func()
	Tick  func(dt float64)
}

func (s StateFuncs) OnEnter() {
	if s.Enter != nil {
		s.Enter()
	}
}

func (s StateFuncs) OnExit() {
	if s.Exit != nil {
		s.Exit()
	}
}

func (s StateFuncs) OnTick(dt float64) {
	if s.Tick != nil {
		s.Tick(dt)
	}
}

// Machine tracks the current phase. It is driven from the tick goroutine and
// is not safe for concurrent use.
type Machine struct {
	bus     *bus.Bus
	states  map[Phase]State
	current Phase

	transitioning bool
	queue         []Phase
	subs          []*bus.Subscription
}

// New creates a machine in None and subscribes it to Tick on b.
func New(b *bus.Bus) *Machine {
	m := &Machine{bus: b, states: make(map[Phase]State)}
	m.subs = append(m.subs, b.On(bus.KindTick, m.onTick))
	return m
}

// Register attaches s to phase p, replacing any previous state.
func (m *Machine) Register(p Phase, s State) error {
	if p == None || s == nil {
		return fmt.Errorf("%w: %s", ErrUnknownState, p)
	}
	m.states[p] = s
	return nil
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	return m.current
}

// SetState transitions to p. Setting the current phase does nothing. A call
// made while a transition is running is applied once that transition ends.
func (m *Machine) SetState(p Phase) error {
	if _, ok := m.states[p]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, p)
	}
	if m.transitioning {
		m.queue = append(m.queue, p)
		return nil
	}
	if p == m.current {
		return nil
	}

	m.transitioning = true
	defer func() {
		m.transitioning = false
		m.queue = m.queue[:0]
	}()

	m.apply(p)
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.apply(next)
	}
	return nil
}

func (m *Machine) apply(p Phase) {
	if p == m.current {
		return
	}
	old := m.current
	if s, ok := m.states[old]; ok {
		s.OnExit()
	}
	m.current = p
	m.states[p].OnEnter()

	err := m.bus.Publish(bus.NewEvent(bus.KindPhaseChanged, bus.PhaseChange{From: uint8(old), To: uint8(p)}))
	if err != nil {
		log.Printf("fsm: announce %s -> %s: %v", old, p, err)
	}
}

// Bind makes every kind event on the bus request a transition to p. When
// from is given the request only applies while the machine is in one of
// those phases.
func (m *Machine) Bind(kind bus.Kind, p Phase, from ...Phase) {
	m.subs = append(m.subs, m.bus.On(kind, func(bus.Event) {
		if len(from) > 0 && !slices.Contains(from, m.current) {
			return
		}
		if err := m.SetState(p); err != nil {
			log.Printf("fsm: %s: %v", kind, err)
		}
	}))
}

func (m *Machine) onTick(ev bus.Event) {
	dt, ok := bus.As[bus.Scalar](ev)
	if !ok {
		return
	}
	if s, ok := m.states[m.current]; ok {
		s.OnTick(float64(dt))
	}
}

// Close releases the tick and binding subscriptions.
func (m *Machine) Close() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.subs = nil
}
