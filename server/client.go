package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"brickarena/internal/bus"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
	maxSessionNameLen = 30
)

// phase commands a joined client may send
var commandKinds = map[string]bus.Kind{
	MsgStart:   bus.KindGameStart,
	MsgPause:   bus.KindGamePause,
	MsgResume:  bus.KindGameResume,
	MsgRestart: bus.KindGameRestart,
}

// Client represents a WebSocket connection
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	playerID     string
	sessionID    string
	remoteAddr   string
	isController bool
	msgCount     int
	msgResetAt   time.Time
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		// Binary messages are msgpack replica updates for values this client owns
		if msgType == websocket.BinaryMessage {
			c.handleUpdates(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgInput:
		c.handleInput(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgCheck:
		c.handleCheck(env.D)
	case MsgControl:
		c.handleControl(env.D)
	case MsgStart, MsgPause, MsgResume, MsgRestart:
		c.handleCommand(env.T)
	case MsgHit:
		c.handleHit(env.D)
	case MsgOOB:
		c.handleOOB(env.D)
	}
}

// session returns the session this client is in, or nil
func (c *Client) session() *Session {
	if c.sessionID == "" || c.playerID == "" {
		return nil
	}
	return c.hub.sessions.GetSession(c.sessionID)
}

func (c *Client) handleList() {
	sessions := c.hub.sessions.ListSessions()
	c.SendJSON(Envelope{T: MsgSessions, Data: sessions})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sname := msg.SessionName
	if sname == "" {
		sname = "Brick Arena"
	}
	if len(sname) > maxSessionNameLen {
		sname = sname[:maxSessionNameLen]
	}

	sess := c.hub.sessions.CreateSession(sname)
	if sess == nil {
		c.sendError("too many active sessions")
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if c.sessionID != "" {
		c.sendError("already in a session")
		return
	}
	name := msg.Name
	if name == "" {
		name = "Player"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	sess := c.hub.sessions.GetSession(msg.SessionID)
	if sess == nil {
		c.sendError("session not found")
		return
	}

	player := sess.Game.AddPlayer(name)
	if player == nil {
		c.sendError("session full")
		return
	}
	c.hub.sessions.Joined(sess.ID)
	c.playerID = player.ID
	c.sessionID = sess.ID

	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: WelcomeMsg{
		ID:     player.ID,
		Peer:   string(player.Peer),
		Paddle: player.Paddle,
	}})

	// Late joiners get the whole state once, then deltas
	if err := sess.Game.AttachClient(player.ID, c); err != nil {
		log.Printf("attach error: %v", err)
	}
}

// handleUpdates applies replica updates from a player's own client
func (c *Client) handleUpdates(data []byte) {
	if c.isController {
		return
	}
	sess := c.session()
	if sess == nil {
		return
	}
	sess.Game.HandleUpdates(c.playerID, data)
}

func (c *Client) handleInput(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		return
	}
	var input InputMsg
	if err := json.Unmarshal(data, &input); err != nil {
		return
	}
	sess.Game.HandleInput(c.playerID, input)
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:     msg.SID,
		Exists:  true,
		Name:    sess.Name,
		Players: sess.Game.PlayerCount(),
		Phase:   sess.Game.Phase(),
	}})
}

func (c *Client) handleLeave() {
	if c.sessionID != "" {
		if c.isController {
			sess := c.hub.sessions.GetSession(c.sessionID)
			if sess != nil {
				sess.Game.RemoveController(c.playerID)
			}
		} else {
			c.hub.sessions.RemovePlayer(c.sessionID, c.playerID)
		}
		c.sessionID = ""
		c.playerID = ""
		c.isController = false
	}
}

func (c *Client) handleControl(data json.RawMessage) {
	var msg ControlMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	sess := c.hub.sessions.GetSession(msg.SID)
	if sess == nil {
		c.sendError("session not found")
		return
	}
	player := sess.Game.Player(msg.PlayerID)
	if player == nil {
		c.sendError("player not found")
		return
	}

	epoch, err := sess.Game.SetController(msg.PlayerID, c)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sessionID = msg.SID
	c.playerID = msg.PlayerID
	c.isController = true
	c.SendJSON(Envelope{T: MsgControlOK, Data: ControlOKMsg{
		PlayerID: msg.PlayerID,
		Paddle:   player.Paddle,
		Epoch:    epoch,
	}})
}

func (c *Client) handleCommand(t string) {
	sess := c.session()
	if sess == nil {
		return
	}
	if err := sess.Game.Command(commandKinds[t]); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) handleHit(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		return
	}
	var msg HitMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := sess.Game.ReportHit(msg.ID, msg.Impact); err != nil {
		log.Printf("hit from %s: %v", c.playerID, err)
	}
}

func (c *Client) handleOOB(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		return
	}
	var msg OOBMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := sess.Game.ReportHeight(msg.ID, msg.Y); err != nil {
		log.Printf("oob from %s: %v", c.playerID, err)
	}
}
