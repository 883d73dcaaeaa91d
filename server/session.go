package main

import (
	"sync"
	"time"

	"brickarena/internal/brickgame"
)

const maxSessions = 100

// SessionIdleTimeout is how long a session may sit with no players before it
// is stopped. Read once per SessionManager.
var SessionIdleTimeout = 30 * time.Second

// Session represents a game session that players can join
type Session struct {
	ID   string
	Name string
	Game *Game

	emptySince time.Time // zero while players are present
}

// SessionManager handles creation and lookup of sessions
type SessionManager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	settings  brickgame.Settings
	analytics *Analytics
	idle      time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewSessionManager creates a new SessionManager and starts its idle sweeper.
// analytics may be nil.
func NewSessionManager(settings brickgame.Settings, analytics *Analytics) *SessionManager {
	sm := &SessionManager{
		sessions:  make(map[string]*Session),
		settings:  settings,
		analytics: analytics,
		idle:      SessionIdleTimeout,
		stop:      make(chan struct{}),
	}
	go sm.sweepLoop()
	return sm
}

// CreateSession creates a new game session. Returns nil if limit reached.
func (sm *SessionManager) CreateSession(name string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= maxSessions {
		return nil
	}

	id := GenerateUUID()
	game := NewGame(sm.settings)
	sess := &Session{
		ID:         id,
		Name:       name,
		Game:       game,
		emptySince: time.Now(),
	}
	sm.sessions[id] = sess
	if sm.analytics != nil {
		sm.analytics.Watch(id, game.Bus())
	}
	go game.Run()
	return sess
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Joined marks a session as occupied
func (sm *SessionManager) Joined(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[sessionID]; ok {
		sess.emptySince = time.Time{}
	}
}

// RemovePlayer removes a player from a session. An emptied session lingers
// for the idle timeout so the host can rejoin.
func (sm *SessionManager) RemovePlayer(sessionID, playerID string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	sm.mu.Unlock()
	if !ok {
		return
	}
	sess.Game.RemovePlayer(playerID)

	if sess.Game.PlayerCount() == 0 {
		sm.mu.Lock()
		sess.emptySince = time.Now()
		sm.mu.Unlock()
	}
}

// ListSessions returns info about all active sessions
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Players: sess.Game.PlayerCount(),
			Phase:   sess.Game.Phase(),
		})
	}
	return list
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Sweep stops sessions that have been empty for longer than the idle timeout
func (sm *SessionManager) Sweep(now time.Time) int {
	sm.mu.Lock()
	var idle []*Session
	for id, sess := range sm.sessions {
		if sess.emptySince.IsZero() || now.Sub(sess.emptySince) < sm.idle {
			continue
		}
		if sess.Game.PlayerCount() > 0 {
			sess.emptySince = time.Time{}
			continue
		}
		idle = append(idle, sess)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	for _, sess := range idle {
		sm.stopSession(sess)
	}
	return len(idle)
}

// Close stops every session and the sweeper
func (sm *SessionManager) Close() {
	sm.stopOnce.Do(func() { close(sm.stop) })
	sm.mu.Lock()
	all := make([]*Session, 0, len(sm.sessions))
	for id, sess := range sm.sessions {
		all = append(all, sess)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	for _, sess := range all {
		sm.stopSession(sess)
	}
}

func (sm *SessionManager) stopSession(sess *Session) {
	if sm.analytics != nil {
		sm.analytics.Unwatch(sess.ID)
	}
	sess.Game.Stop()
}

func (sm *SessionManager) sweepLoop() {
	interval := max(sm.idle/10, 5*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			sm.Sweep(now)
		case <-sm.stop:
			return
		}
	}
}
