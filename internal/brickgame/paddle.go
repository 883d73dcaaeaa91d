package brickgame

import (
	"log"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"brickarena/internal/bus"
	"brickarena/internal/replica"
)

// PaddleOptions configure one paddle.
type PaddleOptions struct {
	ID    string
	Local replica.PeerID
	Owner replica.PeerID
	// Source is polled each tick when this process owns the paddle. When nil
	// and FollowBus is set, the paddle reacts to input events instead.
	Source    InputSource
	FollowBus bool
	Sink      func(replica.Update)
	Tuning    replica.Tuning
}

// Paddle is a player-controlled bar. Its position is replicated with an
// owner-only policy; non-owners interpolate towards received updates.
type Paddle struct {
	bus      *bus.Bus
	settings Settings
	value    *replica.Value[mgl64.Vec3]
	source   InputSource
	enabled  bool

	pos           mgl64.Vec3
	horizontal    float64
	pointer       *mgl64.Vec2
	pointerActive bool

	subs []*bus.Subscription
}

func NewPaddle(b *bus.Bus, settings Settings, opts PaddleOptions) *Paddle {
	start := mgl64.Vec3{(settings.PaddleMinX + settings.PaddleMaxX) / 2, settings.PaddleY, 0}
	p := &Paddle{
		bus:      b,
		settings: settings,
		source:   opts.Source,
		pos:      start,
		value: replica.New(start, replica.Options[mgl64.Vec3]{
			ID:     opts.ID,
			Policy: replica.OwnerOnly,
			Local:  opts.Local,
			Owner:  opts.Owner,
			Lerp:   replica.LerpVec3,
			Tuning: opts.Tuning,
			Sink:   opts.Sink,
		}),
	}
	if opts.FollowBus {
		p.subs = append(p.subs,
			b.On(bus.KindInputHorizontal, func(ev bus.Event) {
				h, _ := bus.As[bus.Scalar](ev)
				p.horizontal = float64(h)
			}),
			b.On(bus.KindInputPointer, func(ev bus.Event) {
				v, _ := bus.As[bus.Vec2](ev)
				pt := mgl64.Vec2(v)
				p.pointer = &pt
			}),
			b.On(bus.KindInputPointerDown, func(bus.Event) { p.pointerActive = true }),
			b.On(bus.KindInputPointerUp, func(bus.Event) { p.pointerActive = false }),
		)
	}
	p.subs = append(p.subs, b.On(bus.KindOwnerChanged, p.onOwnerChanged))
	return p
}

func (p *Paddle) ID() string { return p.value.ID() }

// Value exposes the replicated position for registration with a transport.
func (p *Paddle) Value() *replica.Value[mgl64.Vec3] { return p.value }

func (p *Paddle) SetEnabled(on bool) {
	p.enabled = on
	if !on {
		p.horizontal = 0
		p.pointerActive = false
	}
}

func (p *Paddle) Enabled() bool { return p.enabled }

// Owned reports whether this process writes the paddle.
func (p *Paddle) Owned() bool { return p.value.CanWrite() }

// Position is the local position for owners and the interpolated one for
// everyone else.
func (p *Paddle) Position() mgl64.Vec3 {
	if p.value.CanWrite() {
		return p.pos
	}
	return p.value.Rendered()
}

// Update moves an owned paddle from input, or interpolates a remote one.
func (p *Paddle) Update(dt float64) {
	if !p.enabled {
		return
	}
	if !p.value.CanWrite() {
		p.value.Advance(dt)
		return
	}
	if p.source != nil {
		snap := p.source.Snapshot()
		p.horizontal = snap.Horizontal
		p.pointer = snap.Pointer
		p.pointerActive = snap.PointerActive
	}

	x := p.pos.X()
	switch {
	case math.Abs(p.horizontal) > 0.01:
		x += p.horizontal * p.settings.KeyboardSpeed * dt
	case p.pointerActive && p.pointer != nil:
		x = replica.LerpFloat(x, p.pointer.X(), min(1, dt*p.settings.PointerSmoothing))
	}
	x = clamp(x, p.settings.PaddleMinX, p.settings.PaddleMaxX)
	p.pos = mgl64.Vec3{x, p.pos.Y(), p.pos.Z()}

	if p.pos.Sub(p.value.Read()).Len() > p.settings.SyncThreshold {
		p.write()
	}
}

// ResetPosition centres the paddle.
func (p *Paddle) ResetPosition() {
	p.pos = mgl64.Vec3{(p.settings.PaddleMinX + p.settings.PaddleMaxX) / 2, p.settings.PaddleY, 0}
	if p.value.CanWrite() {
		p.write()
	}
}

func (p *Paddle) write() {
	if err := p.value.Write(p.pos); err != nil {
		log.Printf("paddle %s: %v", p.value.ID(), err)
		return
	}
	p.bus.Emit(bus.KindPaddleMoved, bus.Vec3(p.pos))
}

func (p *Paddle) onOwnerChanged(ev bus.Event) {
	o, ok := bus.As[bus.Ownership](ev)
	if !ok || o.ValueID != p.value.ID() {
		return
	}
	if p.value.Handoff(replica.PeerID(o.Owner), o.Epoch) && p.value.CanWrite() {
		p.pos = p.value.Read()
	}
}

func (p *Paddle) Close() {
	for _, s := range p.subs {
		s.Unsubscribe()
	}
	p.subs = nil
}
