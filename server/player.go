package main

import (
	"github.com/go-gl/mathgl/mgl64"

	"brickarena/internal/brickgame"
	"brickarena/internal/replica"
)

// Player is one participant of a session. Each player owns a paddle; while a
// phone controller is attached the server drives it from Input instead.
type Player struct {
	ID     string
	Name   string
	Peer   replica.PeerID
	Paddle string
	Input  *brickgame.InputState

	controlled bool
}

// NewPlayer creates a player whose paddle is owned by its own peer
func NewPlayer(id, name string) *Player {
	return &Player{
		ID:     id,
		Name:   name,
		Peer:   replica.PeerID("player-" + id),
		Paddle: "paddle/" + id,
		Input:  &brickgame.InputState{},
	}
}

// ApplyInput stores controller input for the next tick
func (p *Player) ApplyInput(in InputMsg) {
	snap := brickgame.InputSnapshot{
		Horizontal:    Clamp(in.H, -1, 1),
		PointerActive: in.PA,
	}
	if in.HP {
		snap.Pointer = &mgl64.Vec2{in.PX, in.PY}
	}
	p.Input.Set(snap)
}
