package brickgame

import (
	"math/rand/v2"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"brickarena/internal/bus"
)

// Clock reports simulation time in seconds.
type Clock interface {
	Now() float64
}

// TickClock accumulates the dt of every Tick published on the bus.
type TickClock struct {
	mu  sync.Mutex
	now float64
	sub *bus.Subscription
}

// NewTickClock subscribes a clock to b. Subscribe it before anything that
// reads Now during a tick so it advances first.
func NewTickClock(b *bus.Bus) *TickClock {
	c := &TickClock{}
	c.sub = b.On(bus.KindTick, func(ev bus.Event) {
		if dt, ok := bus.As[bus.Scalar](ev); ok && dt > 0 {
			c.mu.Lock()
			c.now += float64(dt)
			c.mu.Unlock()
		}
	})
	return c
}

func (c *TickClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *TickClock) Close() {
	c.sub.Unsubscribe()
}

// InputSnapshot is the raw input state sampled once per tick.
type InputSnapshot struct {
	Horizontal    float64
	Pointer       *mgl64.Vec2
	PointerActive bool
}

// InputSource samples player input.
type InputSource interface {
	Snapshot() InputSnapshot
}

// InputState is an InputSource fed from outside, e.g. by network messages.
type InputState struct {
	mu   sync.Mutex
	snap InputSnapshot
}

func (s *InputState) Set(snap InputSnapshot) {
	snap.Pointer = pointerVec(snap.Pointer)
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *InputState) Snapshot() InputSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// BrickSpec describes one brick to place.
type BrickSpec struct {
	ID       uint64     `json:"id" msgpack:"id"`
	Row      int        `json:"row" msgpack:"r"`
	Column   int        `json:"col" msgpack:"c"`
	Hits     int        `json:"hits" msgpack:"h"`
	Position mgl64.Vec3 `json:"pos" msgpack:"p"`
}

// RowPlacer puts spawned bricks into the world.
type RowPlacer interface {
	PlaceRow(bricks []BrickSpec)
}

// ScoreDisplay shows the current score.
type ScoreDisplay interface {
	DisplayScore(score int64)
}

// Spawner decides the bricks of the next row.
type Spawner interface {
	NextRow(level int) []BrickSpec
}

// RandomSpawner fills every column of a row with bricks whose hit count
// grows with the level.
type RandomSpawner struct {
	rng     *rand.Rand
	columns int
	minX    float64
	maxX    float64
	top     float64
	row     int
}

// NewRandomSpawner lays columns out evenly across [minX, maxX] at height top.
func NewRandomSpawner(seed uint64, columns int, minX, maxX, top float64) *RandomSpawner {
	if columns < 1 {
		columns = 1
	}
	return &RandomSpawner{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		columns: columns,
		minX:    minX,
		maxX:    maxX,
		top:     top,
	}
}

func (s *RandomSpawner) NextRow(level int) []BrickSpec {
	step := 0.0
	if s.columns > 1 {
		step = (s.maxX - s.minX) / float64(s.columns-1)
	}
	row := make([]BrickSpec, 0, s.columns)
	for c := 0; c < s.columns; c++ {
		row = append(row, BrickSpec{
			Row:      s.row,
			Column:   c,
			Hits:     s.hits(level),
			Position: mgl64.Vec3{s.minX + step*float64(c), s.top, 0},
		})
	}
	s.row++
	return row
}

// hits is 1..2 below level 10, then level/5 .. level/2-1.
func (s *RandomSpawner) hits(level int) int {
	lo, hi := 1, 3
	if level >= 10 {
		lo, hi = level/5, level/2
	}
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo)
}
