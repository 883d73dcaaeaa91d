// Package brickgame runs one brick breaker match. The Manager owns the phase
// machine and, on every Playing tick, drives input, paddle and ball movement
// and the row spawn schedule, all communicating through the bus.
package brickgame

import (
	"fmt"
	"log"
	"time"

	"brickarena/internal/bus"
	"brickarena/internal/fsm"
	"brickarena/internal/replica"
)

// ScoreValueID is the replica id of the match score.
const ScoreValueID = "score"

// Options wire a Manager to its collaborators. Everything except Settings
// may be left zero.
type Options struct {
	Settings Settings
	// Local is this process. Only ServerPeer spawns rows, applies hits and
	// keeps score.
	Local    replica.PeerID
	Clock    Clock
	Input    InputSource
	Placer   RowPlacer
	Display  ScoreDisplay
	Spawner  Spawner
	Registry *replica.Registry
	Sink     func(replica.Update)
	Seed     uint64
}

// Manager is the per-match orchestrator.
type Manager struct {
	bus      *bus.Bus
	settings Settings
	local    replica.PeerID
	sink     func(replica.Update)

	clock    Clock
	ownClock *TickClock
	machine  *fsm.Machine
	reg      *replica.Registry
	placer   RowPlacer
	display  ScoreDisplay
	spawner  Spawner

	input   *InputSystem
	paddles []*Paddle
	balls   *Balls
	bricks  *Bricks

	score   *replica.Value[int64]
	counted map[uint64]struct{}

	runs      int
	level     int
	rows      int
	interval  float64
	nextSpawn float64
	pausedAt  float64
	ended     bool

	subs []*bus.Subscription
}

// New builds a manager in the Idle phase.
func New(b *bus.Bus, opts Options) *Manager {
	s := opts.Settings.normalized()
	local := opts.Local
	if local == "" {
		local = replica.ServerPeer
	}
	reg := opts.Registry
	if reg == nil {
		reg = replica.NewRegistry()
	}

	m := &Manager{
		bus:      b,
		settings: s,
		local:    local,
		sink:     opts.Sink,
		clock:    opts.Clock,
		reg:      reg,
		placer:   opts.Placer,
		display:  opts.Display,
		spawner:  opts.Spawner,
		counted:  make(map[uint64]struct{}),
		level:    s.InitialLevel,
		interval: s.SpawnInterval,
	}
	// The clock must see each Tick before the machine forwards it.
	if m.clock == nil {
		m.ownClock = NewTickClock(b)
		m.clock = m.ownClock
	}
	if m.spawner == nil {
		seed := opts.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		m.spawner = NewRandomSpawner(seed, s.Columns, s.PaddleMinX, s.PaddleMaxX, 4)
	}

	m.input = NewInputSystem(b, opts.Input)
	m.balls = NewBalls(b, s.BallPower)
	m.bricks = NewBricks(b, reg, local, opts.Sink)
	m.score = replica.New(int64(0), replica.Options[int64]{
		ID:     ScoreValueID,
		Policy: replica.ServerOnly,
		Local:  local,
		Sink:   opts.Sink,
	})
	m.score.Observe(func(_, score int64, _ uint64) {
		if m.display != nil {
			m.display.DisplayScore(score)
		}
		m.bus.Emit(bus.KindScoreChanged, bus.Scalar(score))
	})
	reg.Add(m.score)

	m.machine = fsm.New(b)
	m.machine.Register(fsm.Idle, fsm.StateFuncs{Enter: func() { m.setActive(false) }})
	m.machine.Register(fsm.Playing, fsm.StateFuncs{
		Enter: func() { m.setActive(true) },
		Tick:  m.tick,
	})
	m.machine.Register(fsm.Paused, fsm.StateFuncs{
		Enter: func() {
			m.setActive(false)
			m.pausedAt = m.clock.Now()
		},
		Exit: func() { m.nextSpawn += m.clock.Now() - m.pausedAt },
	})
	m.machine.Register(fsm.GameOver, fsm.StateFuncs{Enter: func() { m.setActive(false) }})
	m.machine.Register(fsm.StageClear, fsm.StateFuncs{Enter: func() { m.setActive(false) }})
	m.machine.Bind(bus.KindGamePause, fsm.Paused, fsm.Playing)
	m.machine.Bind(bus.KindGameResume, fsm.Playing, fsm.Paused)

	m.subs = append(m.subs,
		b.On(bus.KindGameStart, m.onStart),
		b.On(bus.KindGameRestart, m.onRestart),
		b.On(bus.KindCollision, m.onCollision),
		b.On(bus.KindBrickDestroyed, m.onBrickDestroyed),
		b.On(bus.KindOutOfBounds, m.onOutOfBounds),
	)

	if err := m.machine.SetState(fsm.Idle); err != nil {
		log.Printf("brickgame: %v", err)
	}
	return m
}

// Authoritative reports whether this process owns the simulation.
func (m *Manager) Authoritative() bool { return m.local == replica.ServerPeer }

// StartGame begins a run from Idle.
func (m *Manager) StartGame() error { return m.bus.Publish(bus.Signal(bus.KindGameStart)) }

// PauseGame pauses a running game.
func (m *Manager) PauseGame() error { return m.bus.Publish(bus.Signal(bus.KindGamePause)) }

// ResumeGame continues a paused game.
func (m *Manager) ResumeGame() error { return m.bus.Publish(bus.Signal(bus.KindGameResume)) }

// Restart begins a fresh run from any phase.
func (m *Manager) Restart() error { return m.bus.Publish(bus.Signal(bus.KindGameRestart)) }

// ReportCollision forwards a physics contact to the bus.
func (m *Manager) ReportCollision(c bus.CollisionOutcome) error {
	return m.bus.Publish(bus.NewEvent(bus.KindCollision, c))
}

// ReportOutOfBounds announces that a brick crossed the bottom boundary.
func (m *Manager) ReportOutOfBounds(id uint64) error {
	return m.bus.Publish(bus.NewEvent(bus.KindOutOfBounds, bus.Entity{ID: id}))
}

// ReportBrickHeight reports a brick's height and announces it out of bounds
// when it is below the bottom boundary.
func (m *Manager) ReportBrickHeight(id uint64, y float64) error {
	if y >= m.settings.BottomBoundary {
		return nil
	}
	return m.ReportOutOfBounds(id)
}

// AddPaddle creates a paddle and registers its position for replication.
func (m *Manager) AddPaddle(opts PaddleOptions) (*Paddle, error) {
	if m.Paddle(opts.ID) != nil {
		return nil, fmt.Errorf("brickgame: paddle %s already exists", opts.ID)
	}
	if opts.Local == "" {
		opts.Local = m.local
	}
	if opts.Sink == nil {
		opts.Sink = m.sink
	}
	p := NewPaddle(m.bus, m.settings, opts)
	p.SetEnabled(m.machine.Current() == fsm.Playing)
	m.paddles = append(m.paddles, p)
	m.reg.Add(p.Value())
	return p, nil
}

// RemovePaddle drops a paddle. Unknown ids are ignored.
func (m *Manager) RemovePaddle(id string) {
	for i, p := range m.paddles {
		if p.ID() == id {
			p.Close()
			m.reg.Remove(id)
			m.paddles = append(m.paddles[:i], m.paddles[i+1:]...)
			return
		}
	}
}

// Paddle returns the paddle with id, or nil.
func (m *Manager) Paddle(id string) *Paddle {
	for _, p := range m.paddles {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

func (m *Manager) Paddles() []*Paddle { return m.paddles }

// TransferPaddle hands ownership of a paddle to another peer with the next
// epoch. The change travels as an OwnerChanged event.
func (m *Manager) TransferPaddle(id string, to replica.PeerID) (uint64, error) {
	p := m.Paddle(id)
	if p == nil {
		return 0, fmt.Errorf("brickgame: no paddle %s", id)
	}
	owner, epoch := p.Value().Owner()
	if owner == to {
		return epoch, nil
	}
	next := epoch + 1
	err := m.bus.Publish(bus.NewEvent(bus.KindOwnerChanged, bus.Ownership{
		ValueID: id,
		Owner:   string(to),
		Epoch:   next,
	}))
	return next, err
}

func (m *Manager) Phase() fsm.Phase            { return m.machine.Current() }
func (m *Manager) Score() int64                { return m.score.Read() }
func (m *Manager) Level() int                  { return m.level }
func (m *Manager) Runs() int                   { return m.runs }
func (m *Manager) RowsSpawned() int            { return m.rows }
func (m *Manager) SpawnInterval() float64      { return m.interval }
func (m *Manager) NextSpawn() float64          { return m.nextSpawn }
func (m *Manager) Settings() Settings          { return m.settings }
func (m *Manager) Bricks() *Bricks             { return m.bricks }
func (m *Manager) Balls() *Balls               { return m.balls }
func (m *Manager) Registry() *replica.Registry { return m.reg }

func (m *Manager) onStart(bus.Event) {
	if m.machine.Current() != fsm.Idle {
		return
	}
	m.begin()
}

func (m *Manager) onRestart(bus.Event) {
	m.begin()
}

// begin resets the run and enters Playing.
func (m *Manager) begin() {
	if err := m.machine.SetState(fsm.Playing); err != nil {
		log.Printf("brickgame: %v", err)
		return
	}
	m.runs++
	m.ended = false
	m.bricks.Clear()
	m.balls.Reset()
	clear(m.counted)
	m.level = m.settings.InitialLevel
	m.rows = 0
	m.interval = m.settings.SpawnInterval
	m.nextSpawn = m.clock.Now() + m.settings.InitialSpawnDelay

	if m.Authoritative() {
		if err := m.score.Write(0); err != nil {
			log.Printf("brickgame: reset score: %v", err)
		}
	}
	for _, p := range m.paddles {
		p.ResetPosition()
	}
	if m.Authoritative() {
		for i := 0; i < m.settings.InitialRows; i++ {
			m.placeRow()
		}
	}
	log.Printf("brickgame: run started at level %d", m.level)
}

func (m *Manager) setActive(on bool) {
	m.input.SetEnabled(on)
	for _, p := range m.paddles {
		p.SetEnabled(on)
	}
}

// tick runs input, then movement, then the spawn check.
func (m *Manager) tick(dt float64) {
	m.input.Update()
	for _, p := range m.paddles {
		p.Update(dt)
	}
	m.balls.UpdatePowerTimer(dt)

	if !m.Authoritative() || m.machine.Current() != fsm.Playing {
		return
	}
	if now := m.clock.Now(); now >= m.nextSpawn {
		m.spawnRow(now)
	}
}

func (m *Manager) placeRow() []BrickSpec {
	specs := m.spawner.NextRow(m.level)
	placed := make([]BrickSpec, 0, len(specs))
	for _, spec := range specs {
		s, err := m.bricks.Spawn(spec)
		if err != nil {
			log.Printf("brickgame: spawn: %v", err)
			continue
		}
		placed = append(placed, s)
	}
	if m.placer != nil && len(placed) > 0 {
		m.placer.PlaceRow(placed)
	}
	return placed
}

func (m *Manager) spawnRow(now float64) {
	m.placeRow()
	m.rows++
	m.levelUp()

	m.interval = max(m.settings.MinSpawnInterval, m.interval*m.settings.IntervalDecay)
	m.nextSpawn = now + m.interval
	m.bus.Emit(bus.KindRowSpawned, bus.Scalar(m.rows))
}

func (m *Manager) levelUp() {
	if m.level >= m.settings.MaxLevel {
		return
	}
	m.level++
	if step := m.settings.LevelIntervalStep; step > 0 {
		factor := 1 - step*float64(m.level-1)
		m.interval = max(m.settings.MinSpawnInterval, m.interval*factor)
	}
	m.bus.Emit(bus.KindLevelUp, bus.Scalar(m.level))
}

func (m *Manager) onCollision(ev bus.Event) {
	c, ok := bus.As[bus.CollisionOutcome](ev)
	if !ok || !m.Authoritative() || m.machine.Current() != fsm.Playing {
		return
	}
	if !m.bricks.Has(c.Entity) {
		return
	}
	if _, err := m.bricks.Hit(c.Entity, m.balls.AttackPower()); err != nil {
		log.Printf("brickgame: hit %d: %v", c.Entity, err)
	}
}

func (m *Manager) onBrickDestroyed(ev bus.Event) {
	e, ok := bus.As[bus.Entity](ev)
	if !ok || !m.Authoritative() || m.ended {
		return
	}
	if _, seen := m.counted[e.ID]; !seen {
		m.counted[e.ID] = struct{}{}
		if err := m.score.Write(m.score.Read() + e.Value); err != nil {
			log.Printf("brickgame: score: %v", err)
		}
	}
	if m.bricks.Count() == 0 && m.machine.Current() == fsm.Playing {
		m.finish(bus.KindStageCleared, fsm.StageClear)
	}
}

func (m *Manager) onOutOfBounds(ev bus.Event) {
	e, ok := bus.As[bus.Entity](ev)
	if !ok || !m.Authoritative() || m.ended {
		return
	}
	if !m.bricks.Has(e.ID) || m.machine.Current() != fsm.Playing {
		return
	}
	m.finish(bus.KindGameOver, fsm.GameOver)
}

// finish announces the end of a run, then switches phase.
func (m *Manager) finish(kind bus.Kind, phase fsm.Phase) {
	m.ended = true
	score := m.score.Read()
	m.bus.Emit(kind, bus.Scalar(score))
	if err := m.machine.SetState(phase); err != nil {
		log.Printf("brickgame: %v", err)
	}
	log.Printf("brickgame: %s with score %d at level %d", kind, score, m.level)
}

// Close releases every bus subscription the manager holds.
func (m *Manager) Close() {
	for _, s := range m.subs {
		s.Unsubscribe()
	}
	m.subs = nil
	m.machine.Close()
	for _, p := range m.paddles {
		p.Close()
	}
	if m.ownClock != nil {
		m.ownClock.Close()
	}
}
