package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"brickarena/internal/bus"
)

// Session lifecycle events, tracked next to the bus event kinds
const (
	EvtSessionStart = "session_start"
	EvtSessionEnd   = "session_end"
)

// Bus kinds too frequent to be worth storing
var untracked = map[bus.Kind]bool{
	bus.KindTick:             true,
	bus.KindInputHorizontal:  true,
	bus.KindInputPointer:     true,
	bus.KindInputPointerDown: true,
	bus.KindInputPointerUp:   true,
	bus.KindInputCellClick:   true,
	bus.KindPaddleMoved:      true,
}

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Kind      string
	SessionID string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
	Match     *MatchRecord
}

// Analytics handles event tracking with batched background writes
type Analytics struct {
	db     *DB
	events chan AnalyticsEvent
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]*watcher
	dropped  int
}

type watcher struct {
	mu      sync.Mutex
	sub     *bus.Subscription
	tracker *matchTracker
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(db *DB) *Analytics {
	a := &Analytics{
		db:       db,
		events:   make(chan AnalyticsEvent, 1024),
		stop:     make(chan struct{}),
		watchers: make(map[string]*watcher),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Watch records the events of one session bus until Unwatch or bus close
func (a *Analytics) Watch(sessionID string, b *bus.Bus) {
	w := &watcher{tracker: newMatchTracker(sessionID)}
	w.sub = b.Subscribe(bus.All(), func(ev bus.Event) {
		w.mu.Lock()
		rec, done := w.tracker.observe(ev)
		w.mu.Unlock()
		if done {
			a.enqueue(AnalyticsEvent{Kind: ev.Kind.String(), SessionID: sessionID, Timestamp: rec.CreatedAt, Match: &rec})
			return
		}
		if untracked[ev.Kind] {
			return
		}
		a.Track(ev.Kind.String(), sessionID, encodePayload(ev.Payload))
	})

	a.mu.Lock()
	a.watchers[sessionID] = w
	a.mu.Unlock()
	a.Track(EvtSessionStart, sessionID, "")
}

// Unwatch stops recording a session
func (a *Analytics) Unwatch(sessionID string) {
	a.mu.Lock()
	w, ok := a.watchers[sessionID]
	delete(a.watchers, sessionID)
	a.mu.Unlock()
	if !ok {
		return
	}
	w.sub.Unsubscribe()
	w.mu.Lock()
	w.tracker.close()
	w.mu.Unlock()
	a.Track(EvtSessionEnd, sessionID, "")
}

// Track enqueues an event for async persistence (non-blocking)
func (a *Analytics) Track(kind, sessionID, data string) {
	a.enqueue(AnalyticsEvent{
		Kind:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Analytics) enqueue(evt AnalyticsEvent) {
	select {
	case a.events <- evt:
	default:
		// Channel full, drop rather than block the game loop
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
	}
}

// Dropped returns how many events were lost to a full queue
func (a *Analytics) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Stop gracefully shuts down the analytics writer. Later calls do nothing.
func (a *Analytics) Stop() {
	a.once.Do(a.shutdown)
}

func (a *Analytics) shutdown() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.watchers))
	for id := range a.watchers {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	for _, id := range ids {
		a.Unwatch(id)
	}
	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events to DB
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			// Flush immediately if batch is large or a run finished
			if len(batch) >= 50 || evt.Match != nil {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain remaining events
			for len(a.events) > 0 {
				batch = append(batch, <-a.events)
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the database
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.db == nil || len(events) == 0 {
		return
	}
	for _, evt := range events {
		if evt.Match == nil {
			continue
		}
		if _, err := a.db.RecordMatch(*evt.Match); err != nil {
			log.Printf("analytics: record match error: %v", err)
		}
	}

	tx, err := a.db.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO analytics_events (kind, session_id, data, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Kind, sid, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			log.Printf("analytics: insert error: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit error: %v", err)
	}
}

// EventCounts returns counts of each event kind for the last N days
func (a *Analytics) EventCounts(days int) (map[string]int, error) {
	if a.db == nil {
		return nil, nil
	}
	rows, err := a.db.conn.Query(`
		SELECT kind, COUNT(*) FROM analytics_events
		WHERE created_at >= date('now', '-' || ? || ' days')
		GROUP BY kind ORDER BY COUNT(*) DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			continue
		}
		result[kind] = count
	}
	return result, rows.Err()
}

// encodePayload renders an event payload as JSON metadata. Signals carry none.
func encodePayload(p bus.Payload) string {
	if _, ok := p.(bus.None); ok || p == nil {
		return ""
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}
