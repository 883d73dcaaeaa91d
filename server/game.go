package main

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"brickarena/internal/brickgame"
	"brickarena/internal/bus"
	"brickarena/internal/replica"
)

const (
	TickRate       = 60 // simulation ticks per second
	BroadcastRate  = 30 // state broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

const maxPlayersPerSession = 4

var (
	errPlayerNotFound = errors.New("player not found")
	errNoController   = errors.New("no controller attached")
)

// Broadcaster interface for sending messages to clients
type Broadcaster interface {
	SendJSON(msg interface{})
	SendBinary(data []byte)
}

// Game hosts one brick match. All access to the bus and the manager happens
// under mu, from the tick loop or from client handlers.
type Game struct {
	mu          sync.Mutex
	bus         *bus.Bus
	manager     *brickgame.Manager
	reg         *replica.Registry
	outbox      *replica.Outbox
	players     map[string]*Player
	clients     map[string]Broadcaster // playerID -> client
	controllers map[string]Broadcaster // playerID -> phone controller
	spawns      []brickgame.BrickSpec
	destroyed   []uint64
	run         int // run the pending spawns and destroyed belong to
	tick        uint64
	running     bool
	stop        chan struct{}
}

// NewGame creates a Game in the idle phase
func NewGame(settings brickgame.Settings) *Game {
	g := &Game{
		bus:         bus.New(),
		reg:         replica.NewRegistry(),
		outbox:      &replica.Outbox{},
		players:     make(map[string]*Player),
		clients:     make(map[string]Broadcaster),
		controllers: make(map[string]Broadcaster),
		stop:        make(chan struct{}),
	}
	g.manager = brickgame.New(g.bus, brickgame.Options{
		Settings: settings,
		Local:    replica.ServerPeer,
		Registry: g.reg,
		Sink:     g.outbox.Push,
	})

	// Handlers below run inside bus dispatch, which only happens with mu held.
	g.bus.On(bus.KindBrickSpawned, func(ev bus.Event) {
		e, _ := bus.As[bus.Entity](ev)
		g.syncRun()
		if spec, ok := g.manager.Bricks().Spec(e.ID); ok {
			g.spawns = append(g.spawns, spec)
		}
	})
	g.bus.On(bus.KindBrickDestroyed, func(ev bus.Event) {
		e, _ := bus.As[bus.Entity](ev)
		g.syncRun()
		g.destroyed = append(g.destroyed, e.ID)
	})
	g.bus.Subscribe(bus.AnyOf(bus.KindGameOver, bus.KindStageCleared), func(ev bus.Event) {
		score, _ := bus.As[bus.Scalar](ev)
		g.broadcastMsg(Envelope{T: MsgEnded, Data: EndedMsg{
			Outcome: ev.Kind.String(),
			Score:   int64(score),
			Level:   g.manager.Level(),
		}})
	})
	return g
}

// Bus exposes the session bus so observers such as analytics can subscribe
func (g *Game) Bus() *bus.Bus {
	return g.bus
}

// Run starts the game loop
func (g *Game) Run() {
	g.mu.Lock()
	g.running = true
	g.mu.Unlock()

	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.update()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the game loop and releases the bus
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		g.running = false
		close(g.stop)
	}
	g.manager.Close()
	g.bus.Close()
}

// AddPlayer adds a new player with its own paddle
func (g *Game) AddPlayer(name string) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.players) >= maxPlayersPerSession {
		return nil
	}

	player := NewPlayer(GenerateID(4), name)
	_, err := g.manager.AddPaddle(brickgame.PaddleOptions{
		ID:     player.Paddle,
		Owner:  player.Peer,
		Source: player.Input,
	})
	if err != nil {
		log.Printf("game: add paddle: %v", err)
		return nil
	}
	g.players[player.ID] = player
	g.bus.Emit(bus.KindClientConnected, bus.Peer{ID: string(player.Peer)})
	return player
}

// RemovePlayer removes a player and its paddle
func (g *Game) RemovePlayer(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[id]
	if !ok {
		return
	}
	g.manager.RemovePaddle(p.Paddle)
	delete(g.players, id)
	delete(g.clients, id)
	delete(g.controllers, id)
	g.bus.Emit(bus.KindClientDisconnected, bus.Peer{ID: string(p.Peer)})
}

// SetClient associates a broadcaster with a player
func (g *Game) SetClient(playerID string, client Broadcaster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clients[playerID] = client
}

// HasPlayer reports whether the player is in this game
func (g *Game) HasPlayer(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.players[playerID]
	return ok
}

// Player returns a player by ID
func (g *Game) Player(playerID string) *Player {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.players[playerID]
}

// PlayerCount returns the number of players
func (g *Game) PlayerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.players)
}

// Phase returns the current phase name
func (g *Game) Phase() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.manager.Phase().String()
}

// Score returns the match score
func (g *Game) Score() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.manager.Score()
}

// SetController hands the player's paddle to the server, which then drives
// it from the controller's input messages
func (g *Game) SetController(playerID string, ctrl Broadcaster) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[playerID]
	if !ok {
		return 0, errPlayerNotFound
	}
	epoch, err := g.manager.TransferPaddle(p.Paddle, replica.ServerPeer)
	if err != nil {
		return 0, err
	}
	p.controlled = true
	g.controllers[playerID] = ctrl
	if client, ok := g.clients[playerID]; ok {
		client.SendJSON(Envelope{T: MsgCtrlOn, Data: CtrlMsg{Owner: string(replica.ServerPeer), Epoch: epoch}})
	}
	return epoch, nil
}

// RemoveController hands the paddle back to its player
func (g *Game) RemoveController(playerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[playerID]
	if !ok {
		return errPlayerNotFound
	}
	if _, ok := g.controllers[playerID]; !ok {
		return errNoController
	}
	delete(g.controllers, playerID)
	p.controlled = false
	p.Input.Set(brickgame.InputSnapshot{})
	epoch, err := g.manager.TransferPaddle(p.Paddle, p.Peer)
	if err != nil {
		return err
	}
	if client, ok := g.clients[playerID]; ok {
		client.SendJSON(Envelope{T: MsgCtrlOff, Data: CtrlMsg{Owner: string(p.Peer), Epoch: epoch}})
	}
	return nil
}

// HandleInput processes controller input for a player
func (g *Game) HandleInput(playerID string, input InputMsg) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[playerID]
	if !ok || !p.controlled {
		return
	}
	p.ApplyInput(input)
}

// HandleUpdates applies a binary batch of replica updates sent by a player.
// Only values that player currently writes are accepted. Returns how many
// updates were adopted.
func (g *Game) HandleUpdates(playerID string, data []byte) int {
	updates, err := replica.DecodeUpdates(data)
	if err != nil {
		log.Printf("game: %v", err)
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.players[playerID]
	if !ok {
		return 0
	}
	adopted := 0
	for _, u := range updates {
		outcome, err := g.reg.ApplyFrom(p.Peer, u)
		if err != nil {
			log.Printf("game: update from %s: %v", p.ID, err)
			continue
		}
		if outcome.Adopted() {
			adopted++
			g.outbox.Push(u)
		}
	}
	return adopted
}

// Command publishes a phase command (start, pause, resume, restart)
func (g *Game) Command(kind bus.Kind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch kind {
	case bus.KindGameStart:
		return g.manager.StartGame()
	case bus.KindGamePause:
		return g.manager.PauseGame()
	case bus.KindGameResume:
		return g.manager.ResumeGame()
	case bus.KindGameRestart:
		return g.manager.Restart()
	}
	return bus.ErrUnknownKind
}

// ReportHit forwards a ball contact reported by a client
func (g *Game) ReportHit(brickID uint64, impact float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.manager.ReportCollision(bus.CollisionOutcome{Entity: brickID, Impact: impact})
}

// ReportHeight forwards a brick height reported by a client
func (g *Game) ReportHeight(brickID uint64, y float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.manager.ReportBrickHeight(brickID, y)
}

// AttachClient sends the full state to a client and subscribes it to frames
// in one step, so no delta falls between the two.
func (g *Game) AttachClient(playerID string, client Broadcaster) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.players[playerID]; !ok {
		return errPlayerNotFound
	}
	frame, err := g.snapshotLocked()
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(frame)
	if err != nil {
		return err
	}
	client.SendBinary(data)
	g.clients[playerID] = client
	return nil
}

// SnapshotFrame builds a full-state frame for a client that just joined
func (g *Game) SnapshotFrame() (Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() (Frame, error) {
	updates, err := g.reg.Snapshot()
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Tick:    g.tick,
		Run:     g.manager.Runs(),
		Phase:   g.manager.Phase().String(),
		Score:   g.manager.Score(),
		Level:   g.manager.Level(),
		Spawns:  g.manager.Bricks().Specs(),
		Updates: updates,
	}, nil
}

// syncRun drops brick deltas left over from a run that has since restarted.
// A frame whose Run differs from the last one tells observers to forget every
// brick before applying Spawns.
func (g *Game) syncRun() {
	if run := g.manager.Runs(); run != g.run {
		g.run = run
		g.spawns = nil
		g.destroyed = nil
	}
}

// update runs one game tick
func (g *Game) update() {
	g.mu.Lock()
	defer g.mu.Unlock()

	dt := 1.0 / float64(TickRate)
	g.tick++
	g.bus.Emit(bus.KindTick, bus.Scalar(dt))

	if g.tick%BroadcastEvery == 0 {
		g.broadcastState()
	}
}

// broadcastState sends everything that changed since the last frame
func (g *Game) broadcastState() {
	g.syncRun()
	frame := Frame{
		Tick:      g.tick,
		Run:       g.run,
		Phase:     g.manager.Phase().String(),
		Score:     g.manager.Score(),
		Level:     g.manager.Level(),
		Spawns:    g.spawns,
		Destroyed: g.destroyed,
		Updates:   g.outbox.Drain(),
	}
	g.spawns = nil
	g.destroyed = nil

	data, err := msgpack.Marshal(frame)
	if err != nil {
		log.Printf("game: encode frame: %v", err)
		return
	}
	for _, client := range g.clients {
		client.SendBinary(data)
	}
	for _, ctrl := range g.controllers {
		ctrl.SendBinary(data)
	}
}

// broadcastMsg sends a message to all clients in the session
func (g *Game) broadcastMsg(msg Envelope) {
	for _, client := range g.clients {
		client.SendJSON(msg)
	}
}
