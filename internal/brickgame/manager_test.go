package brickgame

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"brickarena/internal/bus"
	"brickarena/internal/fsm"
	"brickarena/internal/replica"
)

type manualClock struct {
	now float64
}

func (c *manualClock) Now() float64 { return c.now }

type fixedSpawner struct {
	columns int
	hits    int
}

func (s fixedSpawner) NextRow(level int) []BrickSpec {
	row := make([]BrickSpec, s.columns)
	for i := range row {
		row[i] = BrickSpec{Column: i, Hits: s.hits}
	}
	return row
}

type mockDisplay struct {
	scores []int64
}

func (d *mockDisplay) DisplayScore(s int64) { d.scores = append(d.scores, s) }

type mockPlacer struct {
	rows [][]BrickSpec
}

func (p *mockPlacer) PlaceRow(bricks []BrickSpec) { p.rows = append(p.rows, bricks) }

func newTestManager(t *testing.T, rows, columns int) (*Manager, *bus.Bus, *manualClock) {
	t.Helper()
	b := bus.New()
	clk := &manualClock{}
	s := DefaultSettings()
	s.InitialRows = rows
	s.Columns = columns
	m := New(b, Options{
		Settings: s,
		Clock:    clk,
		Spawner:  fixedSpawner{columns: columns, hits: 1},
	})
	t.Cleanup(m.Close)
	return m, b, clk
}

func kindsOf(events []bus.Event) []bus.Kind {
	out := make([]bus.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func indexOf(kinds []bus.Kind, k bus.Kind) int {
	for i, got := range kinds {
		if got == k {
			return i
		}
	}
	return -1
}

func TestManagerStartsIdle(t *testing.T) {
	m, _, _ := newTestManager(t, 1, 3)
	if m.Phase() != fsm.Idle {
		t.Errorf("expected idle, got %s", m.Phase())
	}
	if m.Bricks().Count() != 0 {
		t.Errorf("expected no bricks before start, got %d", m.Bricks().Count())
	}
}

func TestStartGamePlacesInitialRows(t *testing.T) {
	b := bus.New()
	placer := &mockPlacer{}
	display := &mockDisplay{}
	s := DefaultSettings()
	m := New(b, Options{Settings: s, Clock: &manualClock{}, Placer: placer, Display: display, Spawner: fixedSpawner{columns: 7, hits: 2}})
	defer m.Close()

	if err := m.StartGame(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Phase() != fsm.Playing {
		t.Errorf("expected playing, got %s", m.Phase())
	}
	if len(placer.rows) != 3 {
		t.Errorf("expected 3 initial rows, got %d", len(placer.rows))
	}
	if m.Bricks().Count() != 21 {
		t.Errorf("expected 21 bricks, got %d", m.Bricks().Count())
	}
	if m.RowsSpawned() != 0 {
		t.Errorf("initial rows do not count as spawned rows, got %d", m.RowsSpawned())
	}
	if m.Level() != 1 {
		t.Errorf("expected level 1, got %d", m.Level())
	}
	if m.NextSpawn() != 2 {
		t.Errorf("expected first spawn at 2, got %v", m.NextSpawn())
	}
	if len(display.scores) == 0 || display.scores[len(display.scores)-1] != 0 {
		t.Errorf("expected score 0 displayed, got %v", display.scores)
	}
}

func TestSpawnIntervalDecaysToFloor(t *testing.T) {
	m, b, clk := newTestManager(t, 0, 1)
	levels := 0
	b.On(bus.KindLevelUp, func(bus.Event) { levels++ })
	m.StartGame()

	clk.now = m.NextSpawn()
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	if math.Abs(m.SpawnInterval()-1.8) > 1e-9 {
		t.Errorf("expected interval 1.8 after first spawn, got %v", m.SpawnInterval())
	}
	if math.Abs(m.NextSpawn()-(clk.now+1.8)) > 1e-9 {
		t.Errorf("expected next spawn now+1.8, got %v", m.NextSpawn())
	}

	for i := 1; i < 20; i++ {
		clk.now = m.NextSpawn()
		b.Emit(bus.KindTick, bus.Scalar(0.016))
	}
	if m.RowsSpawned() != 20 {
		t.Errorf("expected 20 rows, got %d", m.RowsSpawned())
	}
	if m.SpawnInterval() != 0.3 {
		t.Errorf("expected interval at floor 0.3, got %v", m.SpawnInterval())
	}
	if m.Level() != 21 || levels != 20 {
		t.Errorf("expected level 21 after 20 level ups, got %d (%d events)", m.Level(), levels)
	}
}

func TestNoSpawnBeforeSchedule(t *testing.T) {
	m, b, clk := newTestManager(t, 0, 1)
	m.StartGame()
	clk.now = 1.99
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	if m.RowsSpawned() != 0 {
		t.Errorf("expected no rows before the initial delay, got %d", m.RowsSpawned())
	}
}

func TestLevelCappedAtMax(t *testing.T) {
	b := bus.New()
	clk := &manualClock{}
	s := DefaultSettings()
	s.InitialRows = 0
	s.MaxLevel = 3
	m := New(b, Options{Settings: s, Clock: clk, Spawner: fixedSpawner{columns: 1, hits: 1}})
	defer m.Close()
	m.StartGame()
	for i := 0; i < 5; i++ {
		clk.now = m.NextSpawn()
		b.Emit(bus.KindTick, bus.Scalar(0.016))
	}
	if m.Level() != 3 {
		t.Errorf("expected level capped at 3, got %d", m.Level())
	}
}

func TestLevelIntervalStep(t *testing.T) {
	b := bus.New()
	clk := &manualClock{}
	s := DefaultSettings()
	s.InitialRows = 0
	s.LevelIntervalStep = 0.05
	m := New(b, Options{Settings: s, Clock: clk, Spawner: fixedSpawner{columns: 1, hits: 1}})
	defer m.Close()
	m.StartGame()
	clk.now = m.NextSpawn()
	b.Emit(bus.KindTick, bus.Scalar(0.016))

	// level 2: 2.0 * 0.95, then decay 0.9
	want := 2.0 * 0.95 * 0.9
	if math.Abs(m.SpawnInterval()-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, m.SpawnInterval())
	}
}

func TestTickOrderInputMovementSpawn(t *testing.T) {
	b := bus.New()
	clk := &manualClock{}
	s := DefaultSettings()
	s.InitialRows = 0
	input := &InputState{}
	m := New(b, Options{Settings: s, Clock: clk, Input: input, Spawner: fixedSpawner{columns: 1, hits: 1}})
	defer m.Close()
	if _, err := m.AddPaddle(PaddleOptions{ID: "paddle/a", Owner: replica.ServerPeer, FollowBus: true}); err != nil {
		t.Fatalf("add paddle: %v", err)
	}
	m.StartGame()

	var events []bus.Event
	b.Subscribe(bus.All(), func(ev bus.Event) {
		if ev.Kind != bus.KindTick {
			events = append(events, ev)
		}
	})
	input.Set(InputSnapshot{Horizontal: 1})
	clk.now = m.NextSpawn()
	b.Emit(bus.KindTick, bus.Scalar(0.1))

	kinds := kindsOf(events)
	in := indexOf(kinds, bus.KindInputHorizontal)
	moved := indexOf(kinds, bus.KindPaddleMoved)
	row := indexOf(kinds, bus.KindRowSpawned)
	if in < 0 || moved < 0 || row < 0 {
		t.Fatalf("expected input, movement and spawn events, got %v", kinds)
	}
	if !(in < moved && moved < row) {
		t.Errorf("expected input < movement < spawn, got %v", kinds)
	}
	if x := m.Paddle("paddle/a").Position().X(); math.Abs(x-1.5) > 1e-9 {
		t.Errorf("expected paddle at x=1.5, got %v", x)
	}
}

func TestStageClearedOnceBeforePhaseChange(t *testing.T) {
	m, b, _ := newTestManager(t, 1, 2)
	var order []string
	cleared := 0
	b.On(bus.KindStageCleared, func(ev bus.Event) {
		cleared++
		score, _ := bus.As[bus.Scalar](ev)
		if score != 2 {
			t.Errorf("expected final score 2, got %v", score)
		}
		if m.Phase() != fsm.Playing {
			t.Errorf("stage cleared must precede the phase change, phase was %s", m.Phase())
		}
		order = append(order, "cleared")
	})
	b.On(bus.KindPhaseChanged, func(ev bus.Event) {
		pc, _ := bus.As[bus.PhaseChange](ev)
		if fsm.Phase(pc.To) == fsm.StageClear {
			order = append(order, "phase")
		}
	})
	m.StartGame()

	ids := m.Bricks().Specs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 bricks, got %d", len(ids))
	}
	for _, spec := range ids {
		if err := m.ReportCollision(bus.CollisionOutcome{Entity: spec.ID, Impact: 1}); err != nil {
			t.Fatalf("collision: %v", err)
		}
	}
	m.ReportCollision(bus.CollisionOutcome{Entity: ids[0].ID})

	if cleared != 1 {
		t.Errorf("expected 1 stage cleared, got %d", cleared)
	}
	if len(order) != 2 || order[0] != "cleared" || order[1] != "phase" {
		t.Errorf("expected [cleared phase], got %v", order)
	}
	if m.Phase() != fsm.StageClear {
		t.Errorf("expected stage_clear, got %s", m.Phase())
	}
	if m.Score() != 2 {
		t.Errorf("expected score 2, got %d", m.Score())
	}
}

func TestGameOverOnOutOfBounds(t *testing.T) {
	m, b, _ := newTestManager(t, 1, 2)
	over := 0
	b.On(bus.KindGameOver, func(bus.Event) {
		over++
		if m.Phase() != fsm.Playing {
			t.Errorf("game over must precede the phase change, phase was %s", m.Phase())
		}
	})
	m.StartGame()
	id := m.Bricks().Specs()[0].ID

	m.ReportBrickHeight(id, -1)
	if m.Phase() != fsm.Playing {
		t.Errorf("brick above the boundary should not end the game, got %s", m.Phase())
	}
	m.ReportOutOfBounds(999)
	if over != 0 {
		t.Errorf("untracked brick should be ignored, got %d game overs", over)
	}
	m.ReportBrickHeight(id, -2.5)
	m.ReportOutOfBounds(id)

	if over != 1 {
		t.Errorf("expected 1 game over, got %d", over)
	}
	if m.Phase() != fsm.GameOver {
		t.Errorf("expected game_over, got %s", m.Phase())
	}

	m.Restart()
	if m.Phase() != fsm.Playing {
		t.Errorf("expected restart to play, got %s", m.Phase())
	}
	if m.Score() != 0 || m.Bricks().Count() != 2 {
		t.Errorf("expected fresh run, got score %d with %d bricks", m.Score(), m.Bricks().Count())
	}
}

func TestRestartFromStageClearResetsRun(t *testing.T) {
	m, b, clk := newTestManager(t, 1, 2)
	m.StartGame()

	clk.now = m.NextSpawn()
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	if m.Level() != 2 || m.RowsSpawned() != 1 {
		t.Fatalf("expected level 2 with 1 row, got level %d with %d rows", m.Level(), m.RowsSpawned())
	}

	old := m.Bricks().Specs()
	for _, spec := range old {
		m.ReportCollision(bus.CollisionOutcome{Entity: spec.ID, Impact: 1})
	}
	if m.Phase() != fsm.StageClear {
		t.Fatalf("expected stage_clear, got %s", m.Phase())
	}
	if m.Score() != int64(len(old)) {
		t.Fatalf("expected score %d, got %d", len(old), m.Score())
	}
	runs := m.Runs()

	if err := m.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if m.Phase() != fsm.Playing {
		t.Errorf("expected playing, got %s", m.Phase())
	}
	if m.Runs() != runs+1 {
		t.Errorf("expected run %d, got %d", runs+1, m.Runs())
	}
	if m.Score() != 0 {
		t.Errorf("expected score 0, got %d", m.Score())
	}
	if m.Level() != 1 || m.RowsSpawned() != 0 {
		t.Errorf("expected level 1 with 0 rows, got level %d with %d rows", m.Level(), m.RowsSpawned())
	}
	if m.SpawnInterval() != 2.0 {
		t.Errorf("expected interval 2.0, got %v", m.SpawnInterval())
	}
	if m.NextSpawn() != clk.now+2 {
		t.Errorf("expected next spawn at %v, got %v", clk.now+2, m.NextSpawn())
	}
	if m.Bricks().Count() != 2 {
		t.Errorf("expected 2 fresh bricks, got %d", m.Bricks().Count())
	}

	// ids scored in the previous run count again
	b.Emit(bus.KindBrickDestroyed, bus.Entity{ID: old[0].ID, Value: 5})
	if m.Score() != 5 {
		t.Errorf("expected score 5, got %d", m.Score())
	}
}

func TestPartialSettingsKeepSchedule(t *testing.T) {
	b := bus.New()
	clk := &manualClock{}
	m := New(b, Options{
		Settings: Settings{Columns: 1},
		Clock:    clk,
		Spawner:  fixedSpawner{columns: 1, hits: 1},
	})
	defer m.Close()

	s := m.Settings()
	if s.IntervalDecay != 0.9 || s.MaxLevel != 50 || s.MinSpawnInterval != 0.3 {
		t.Errorf("expected defaults for unset fields, got %+v", s)
	}
	if s.InitialRows != 0 || s.Columns != 1 {
		t.Errorf("expected explicit fields kept, got rows %d columns %d", s.InitialRows, s.Columns)
	}

	m.StartGame()
	clk.now = m.NextSpawn()
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	if m.RowsSpawned() != 1 {
		t.Errorf("expected 1 row, got %d", m.RowsSpawned())
	}
	if math.Abs(m.SpawnInterval()-1.8) > 1e-9 {
		t.Errorf("expected interval 1.8, got %v", m.SpawnInterval())
	}
}

func TestScoreDeduplicatedByEntity(t *testing.T) {
	m, b, _ := newTestManager(t, 1, 1)
	m.StartGame()
	b.Emit(bus.KindBrickDestroyed, bus.Entity{ID: 99, Value: 3})
	b.Emit(bus.KindBrickDestroyed, bus.Entity{ID: 99, Value: 3})
	if m.Score() != 3 {
		t.Errorf("expected score 3, got %d", m.Score())
	}
}

func TestMultiHitBrickUsesAttackPower(t *testing.T) {
	b := bus.New()
	s := DefaultSettings()
	s.InitialRows = 1
	m := New(b, Options{Settings: s, Clock: &manualClock{}, Spawner: fixedSpawner{columns: 2, hits: 3}})
	defer m.Close()
	m.StartGame()
	id := m.Bricks().Specs()[0].ID

	m.ReportCollision(bus.CollisionOutcome{Entity: id})
	if hits, _ := m.Bricks().Hits(id); hits != 2 {
		t.Errorf("expected 2 hits left, got %d", hits)
	}
	m.Balls().ActivatePower(2, 5)
	m.ReportCollision(bus.CollisionOutcome{Entity: id})
	if m.Bricks().Has(id) {
		t.Error("powered hit should destroy the brick")
	}
	if m.Score() != 3 {
		t.Errorf("expected worth of the original hits, got %d", m.Score())
	}
}

func TestPauseStopsSpawningAndShiftsSchedule(t *testing.T) {
	m, b, clk := newTestManager(t, 0, 1)
	m.StartGame()
	clk.now = 1
	m.PauseGame()
	if m.Phase() != fsm.Paused {
		t.Fatalf("expected paused, got %s", m.Phase())
	}
	clk.now = 10
	b.Emit(bus.KindTick, bus.Scalar(0.016))
	if m.RowsSpawned() != 0 {
		t.Errorf("expected no spawn while paused, got %d", m.RowsSpawned())
	}
	m.ResumeGame()
	if m.Phase() != fsm.Playing {
		t.Fatalf("expected playing, got %s", m.Phase())
	}
	if m.NextSpawn() != 11 {
		t.Errorf("expected next spawn shifted to 11, got %v", m.NextSpawn())
	}
}

func TestPauseIgnoredOutsidePlaying(t *testing.T) {
	m, _, _ := newTestManager(t, 0, 1)
	m.PauseGame()
	if m.Phase() != fsm.Idle {
		t.Errorf("expected idle, got %s", m.Phase())
	}
	m.ResumeGame()
	if m.Phase() != fsm.Idle {
		t.Errorf("expected idle, got %s", m.Phase())
	}
}

func TestObserverManagerDoesNotSpawn(t *testing.T) {
	b := bus.New()
	clk := &manualClock{}
	m := New(b, Options{Local: "client", Clock: clk, Spawner: fixedSpawner{columns: 2, hits: 1}})
	defer m.Close()
	m.StartGame()
	clk.now = 100
	b.Emit(bus.KindTick, bus.Scalar(0.016))

	if m.Bricks().Count() != 0 || m.RowsSpawned() != 0 {
		t.Errorf("observer should not spawn, got %d bricks %d rows", m.Bricks().Count(), m.RowsSpawned())
	}

	srv := replica.New(int64(0), replica.Options[int64]{ID: ScoreValueID, Policy: replica.ServerOnly, Local: replica.ServerPeer})
	srv.Write(40)
	u, _ := srv.Snapshot()
	if _, err := m.Registry().Apply(u); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if m.Score() != 40 {
		t.Errorf("expected replicated score 40, got %d", m.Score())
	}
}

func TestTransferPaddle(t *testing.T) {
	m, _, _ := newTestManager(t, 0, 1)
	p, _ := m.AddPaddle(PaddleOptions{ID: "paddle/a", Owner: replica.ServerPeer})
	m.StartGame()

	epoch, err := m.TransferPaddle("paddle/a", "phone")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if epoch != 1 {
		t.Errorf("expected epoch 1, got %d", epoch)
	}
	if p.Owned() {
		t.Error("server should no longer own the paddle")
	}
	if owner, _ := p.Value().Owner(); owner != "phone" {
		t.Errorf("expected phone to own the paddle, got %s", owner)
	}

	epoch, _ = m.TransferPaddle("paddle/a", replica.ServerPeer)
	if epoch != 2 || !p.Owned() {
		t.Errorf("expected ownership back at epoch 2, got %d owned=%v", epoch, p.Owned())
	}
	if _, err := m.TransferPaddle("missing", "phone"); err == nil {
		t.Error("expected error for unknown paddle")
	}
}

func TestRemovePaddle(t *testing.T) {
	m, _, _ := newTestManager(t, 0, 1)
	m.AddPaddle(PaddleOptions{ID: "paddle/a", Owner: replica.ServerPeer})
	if _, err := m.AddPaddle(PaddleOptions{ID: "paddle/a"}); err == nil {
		t.Error("expected duplicate paddle error")
	}
	m.RemovePaddle("paddle/a")
	m.RemovePaddle("paddle/a")
	if m.Paddle("paddle/a") != nil || m.Registry().Get("paddle/a") != nil {
		t.Error("paddle should be removed")
	}
}

func TestPaddlePointerFollow(t *testing.T) {
	b := bus.New()
	s := DefaultSettings()
	p := NewPaddle(b, s, PaddleOptions{ID: "p", Local: replica.ServerPeer, Owner: replica.ServerPeer, Source: &InputState{}})
	p.SetEnabled(true)
	src := p.source.(*InputState)
	src.Set(InputSnapshot{Pointer: &mgl64.Vec2{2, 0}, PointerActive: true})

	p.Update(0.025) // t = 0.5
	if x := p.Position().X(); math.Abs(x-1) > 1e-9 {
		t.Errorf("expected x=1, got %v", x)
	}
	src.Set(InputSnapshot{Horizontal: 1})
	p.Update(1)
	if x := p.Position().X(); x != s.PaddleMaxX {
		t.Errorf("expected clamp at %v, got %v", s.PaddleMaxX, x)
	}
}

func TestPaddleSyncThreshold(t *testing.T) {
	b := bus.New()
	s := DefaultSettings()
	src := &InputState{}
	p := NewPaddle(b, s, PaddleOptions{ID: "p", Local: replica.ServerPeer, Owner: replica.ServerPeer, Source: src})
	p.SetEnabled(true)
	src.Set(InputSnapshot{Pointer: &mgl64.Vec2{0.005, 0}, PointerActive: true})
	p.Update(1)
	if p.Value().Version() != 0 {
		t.Errorf("moves under the threshold should not be sent, got version %d", p.Value().Version())
	}
}

func TestRemotePaddleInterpolates(t *testing.T) {
	b := bus.New()
	p := NewPaddle(b, DefaultSettings(), PaddleOptions{ID: "p", Local: replica.ServerPeer, Owner: "player"})
	p.SetEnabled(true)
	p.Value().Reconcile(mgl64.Vec3{1, -3.5, 0}, 1)
	p.Update(1.0 / 30)
	x := p.Position().X()
	if x <= 0 || x >= 1 {
		t.Errorf("expected interpolated x in (0,1), got %v", x)
	}
}
