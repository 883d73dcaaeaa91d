package brickgame

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"brickarena/internal/bus"
	"brickarena/internal/replica"
)

var (
	ErrUnknownBrick   = errors.New("brickgame: unknown brick")
	ErrDuplicateBrick = errors.New("brickgame: brick already tracked")
)

type brick struct {
	spec BrickSpec
	hits *replica.Value[int]
	obs  *replica.Observation
}

// Bricks tracks live bricks. Remaining hits are server-written replicated
// values registered for the lifetime of each brick.
type Bricks struct {
	bus   *bus.Bus
	reg   *replica.Registry
	local replica.PeerID
	sink  func(replica.Update)

	bricks map[uint64]*brick
	nextID uint64
}

func NewBricks(b *bus.Bus, reg *replica.Registry, local replica.PeerID, sink func(replica.Update)) *Bricks {
	if reg == nil {
		reg = replica.NewRegistry()
	}
	return &Bricks{
		bus:    b,
		reg:    reg,
		local:  local,
		sink:   sink,
		bricks: make(map[uint64]*brick),
	}
}

// BrickValueID is the replica id carrying a brick's remaining hits.
func BrickValueID(id uint64) string {
	return "brick/" + strconv.FormatUint(id, 10)
}

// Spawn starts tracking a new brick on the authoritative side. A zero ID is
// assigned from the local sequence.
func (b *Bricks) Spawn(spec BrickSpec) (BrickSpec, error) {
	if b.local != replica.ServerPeer {
		return BrickSpec{}, fmt.Errorf("%w: spawn on %s", replica.ErrNotAuthorized, b.local)
	}
	if spec.ID == 0 {
		b.nextID++
		spec.ID = b.nextID
	} else if spec.ID > b.nextID {
		b.nextID = spec.ID
	}
	if spec.Hits < 1 {
		spec.Hits = 1
	}
	if _, ok := b.bricks[spec.ID]; ok {
		return BrickSpec{}, fmt.Errorf("%w: %d", ErrDuplicateBrick, spec.ID)
	}
	b.track(spec)
	return spec, nil
}

// Confirm tracks a brick announced by the authoritative side. Confirming a
// brick twice does nothing.
func (b *Bricks) Confirm(spec BrickSpec) bool {
	if spec.ID == 0 {
		return false
	}
	if _, ok := b.bricks[spec.ID]; ok {
		return false
	}
	b.track(spec)
	return true
}

func (b *Bricks) track(spec BrickSpec) {
	id := spec.ID
	hits := replica.New(spec.Hits, replica.Options[int]{
		ID:     BrickValueID(id),
		Policy: replica.ServerOnly,
		Local:  b.local,
		Sink:   b.sink,
	})
	br := &brick{spec: spec, hits: hits}
	br.obs = hits.Observe(func(_, remaining int, _ uint64) {
		if remaining <= 0 {
			b.destroy(id)
		}
	})
	b.bricks[id] = br
	b.reg.Add(hits)
	b.bus.Emit(bus.KindBrickSpawned, bus.Entity{ID: id, Value: int64(spec.Hits)})
}

// Hit removes power hits from a brick and returns what is left. The brick
// is destroyed when nothing is left.
func (b *Bricks) Hit(id uint64, power int) (int, error) {
	br, ok := b.bricks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBrick, id)
	}
	remaining := max(0, br.hits.Read()-max(1, power))
	if err := br.hits.Write(remaining); err != nil {
		return br.hits.Read(), err
	}
	return remaining, nil
}

func (b *Bricks) destroy(id uint64) {
	br, ok := b.bricks[id]
	if !ok {
		return
	}
	delete(b.bricks, id)
	br.obs.Dispose()
	b.reg.Remove(BrickValueID(id))
	b.bus.Emit(bus.KindBrickDestroyed, bus.Entity{ID: id, Value: int64(br.spec.Hits)})
}

// Clear forgets every brick without announcing destruction.
func (b *Bricks) Clear() {
	for id, br := range b.bricks {
		br.obs.Dispose()
		b.reg.Remove(BrickValueID(id))
	}
	clear(b.bricks)
}

func (b *Bricks) Count() int { return len(b.bricks) }

func (b *Bricks) Has(id uint64) bool {
	_, ok := b.bricks[id]
	return ok
}

// Hits returns the remaining hits of a brick.
func (b *Bricks) Hits(id uint64) (int, bool) {
	br, ok := b.bricks[id]
	if !ok {
		return 0, false
	}
	return br.hits.Read(), true
}

// Spec returns the spawn description of a live brick.
func (b *Bricks) Spec(id uint64) (BrickSpec, bool) {
	br, ok := b.bricks[id]
	if !ok {
		return BrickSpec{}, false
	}
	return br.spec, true
}

// Specs lists live bricks ordered by id.
func (b *Bricks) Specs() []BrickSpec {
	out := make([]BrickSpec, 0, len(b.bricks))
	for _, br := range b.bricks {
		out = append(out, br.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
