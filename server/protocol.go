package main

import (
	"encoding/json"

	"brickarena/internal/brickgame"
	"brickarena/internal/replica"
)

// Client -> Server message types
const (
	MsgJoin    = "join"
	MsgLeave   = "leave"
	MsgInput   = "input"   // controller input, applied while the server drives the paddle
	MsgCreate  = "create"  // create session
	MsgList    = "list"    // list sessions
	MsgCheck   = "check"   // check if session exists
	MsgControl = "control" // phone controller attach
	MsgStart   = "start"
	MsgPause   = "pause"
	MsgResume  = "resume"
	MsgRestart = "restart"
	MsgHit     = "hit" // ball contact reported by the client's physics
	MsgOOB     = "oob" // brick height reported by the client's physics
)

// Server -> Client message types
const (
	MsgState     = "state" // binary msgpack Frame
	MsgWelcome   = "welcome"
	MsgSessions  = "sessions"
	MsgJoined    = "joined"
	MsgCreated   = "created" // session created, client should navigate
	MsgError     = "error"
	MsgChecked   = "checked"    // session check response
	MsgControlOK = "control_ok" // controller attach confirmed
	MsgCtrlOn    = "ctrl_on"    // notify desktop: controller attached
	MsgCtrlOff   = "ctrl_off"   // notify desktop: controller detached
	MsgEnded     = "ended"      // run finished
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; D stays raw until routed
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// InputMsg is controller input. Pointer coordinates are world units.
type InputMsg struct {
	H  float64 `json:"h"`
	PX float64 `json:"px"`
	PY float64 `json:"py"`
	PA bool    `json:"pa"` // pointer active
	HP bool    `json:"hp"` // pointer present
}

// JoinMsg is sent by client to join a session
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
}

// CreateMsg is sent by client to create a new session
type CreateMsg struct {
	Name        string `json:"name"`
	SessionName string `json:"sname"`
}

// CheckMsg asks whether a session exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg answers CheckMsg
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
	Phase   string `json:"phase,omitempty"`
}

// ControlMsg attaches a phone controller to a player
type ControlMsg struct {
	SID      string `json:"sid"`
	PlayerID string `json:"pid"`
}

// ControlOKMsg confirms a controller attach
type ControlOKMsg struct {
	PlayerID string `json:"pid"`
	Paddle   string `json:"paddle"`
	Epoch    uint64 `json:"epoch"`
}

// CtrlMsg tells a player its paddle changed hands
type CtrlMsg struct {
	Owner string `json:"owner"`
	Epoch uint64 `json:"epoch"`
}

// HitMsg reports a ball contact with a brick
type HitMsg struct {
	ID     uint64  `json:"id"`
	Impact float64 `json:"impact"`
}

// OOBMsg reports a brick's height
type OOBMsg struct {
	ID uint64  `json:"id"`
	Y  float64 `json:"y"`
}

// WelcomeMsg is sent to a client after joining
type WelcomeMsg struct {
	ID     string `json:"id"`
	Peer   string `json:"peer"`
	Paddle string `json:"paddle"`
}

// EndedMsg announces the end of a run
type EndedMsg struct {
	Outcome string `json:"outcome"`
	Score   int64  `json:"score"`
	Level   int    `json:"level"`
}

// ErrorMsg is sent when something goes wrong
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// SessionInfo describes a session for the lobby list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Phase   string `json:"phase"`
}

// Frame is the binary state broadcast. Updates carry every replicated value
// written since the previous frame; Spawns and Destroyed list brick changes.
// Run changes on every start or restart; observers then drop all bricks
// before applying Spawns.
type Frame struct {
	Tick      uint64                `msgpack:"tick"`
	Run       int                   `msgpack:"run"`
	Phase     string                `msgpack:"phase"`
	Score     int64                 `msgpack:"score"`
	Level     int                   `msgpack:"level"`
	Spawns    []brickgame.BrickSpec `msgpack:"spawns,omitempty"`
	Destroyed []uint64              `msgpack:"destroyed,omitempty"`
	Updates   []replica.Update      `msgpack:"updates,omitempty"`
}
