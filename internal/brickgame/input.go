package brickgame

import (
	"github.com/go-gl/mathgl/mgl64"

	"brickarena/internal/bus"
)

// InputSystem samples an InputSource once per tick and publishes the
// resulting gestures on the bus.
type InputSystem struct {
	bus     *bus.Bus
	source  InputSource
	enabled bool

	pointerWasActive bool
}

func NewInputSystem(b *bus.Bus, source InputSource) *InputSystem {
	return &InputSystem{bus: b, source: source}
}

// SetEnabled toggles sampling. Disabling forgets the pointer edge state.
func (s *InputSystem) SetEnabled(on bool) {
	s.enabled = on
	if !on {
		s.pointerWasActive = false
	}
}

func (s *InputSystem) Enabled() bool { return s.enabled }

// Update publishes this tick's input.
func (s *InputSystem) Update() {
	if !s.enabled || s.source == nil {
		return
	}
	snap := s.source.Snapshot()

	s.bus.Emit(bus.KindInputHorizontal, bus.Scalar(snap.Horizontal))
	if snap.Pointer != nil {
		s.bus.Emit(bus.KindInputPointer, bus.Vec2(*snap.Pointer))
	}
	switch {
	case snap.PointerActive && !s.pointerWasActive:
		s.bus.Emit(bus.KindInputPointerDown, nil)
	case !snap.PointerActive && s.pointerWasActive:
		s.bus.Emit(bus.KindInputPointerUp, nil)
	}
	s.pointerWasActive = snap.PointerActive
}

// pointerVec copies a pointer so snapshots never alias caller memory.
func pointerVec(p *mgl64.Vec2) *mgl64.Vec2 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
