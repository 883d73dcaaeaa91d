package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"brickarena/internal/bus"
	"brickarena/internal/telemetry"
)

// Match outcomes
const (
	OutcomeGameOver     = "game_over"
	OutcomeStageCleared = "stage_cleared"
	OutcomeAbandoned    = "abandoned"
)

// MatchRecord is one finished run
type MatchRecord struct {
	SessionID string    `json:"session_id"`
	Outcome   string    `json:"outcome"`
	Score     int64     `json:"score"`
	Level     int       `json:"level"`
	Rows      int       `json:"rows"`
	Duration  float64   `json:"duration"` // seconds
	CreatedAt time.Time `json:"created_at"`
}

// matchTracker follows one session's runs from its bus events. A run starts
// with its first spawned row and ends with GameOver or StageCleared.
type matchTracker struct {
	sessionID string
	now       func() time.Time

	active  bool
	started time.Time
	level   int
	rows    int
	span    trace.Span
}

func newMatchTracker(sessionID string) *matchTracker {
	return &matchTracker{sessionID: sessionID, now: time.Now}
}

// observe folds an event into the current run. It returns a record when the
// event finished a run.
func (t *matchTracker) observe(ev bus.Event) (MatchRecord, bool) {
	switch ev.Kind {
	case bus.KindRowSpawned:
		rows, _ := bus.As[bus.Scalar](ev)
		if int(rows) == 1 {
			t.begin()
		}
		t.rows = int(rows)
	case bus.KindLevelUp:
		level, _ := bus.As[bus.Scalar](ev)
		t.level = int(level)
	case bus.KindGameOver:
		return t.end(OutcomeGameOver, ev)
	case bus.KindStageCleared:
		return t.end(OutcomeStageCleared, ev)
	}
	return MatchRecord{}, false
}

func (t *matchTracker) begin() {
	if t.active {
		t.span.SetAttributes(attribute.String("match.outcome", OutcomeAbandoned))
		t.span.End()
	}
	_, t.span = telemetry.Tracer().Start(context.Background(), "match",
		trace.WithAttributes(attribute.String("session.id", t.sessionID)))
	t.active = true
	t.started = t.now()
	t.level = 1
	t.rows = 0
}

func (t *matchTracker) end(outcome string, ev bus.Event) (MatchRecord, bool) {
	if !t.active {
		return MatchRecord{}, false
	}
	score, _ := bus.As[bus.Scalar](ev)
	now := t.now()
	rec := MatchRecord{
		SessionID: t.sessionID,
		Outcome:   outcome,
		Score:     int64(score),
		Level:     t.level,
		Rows:      t.rows,
		Duration:  now.Sub(t.started).Seconds(),
		CreatedAt: now.UTC(),
	}
	t.span.SetAttributes(
		attribute.String("match.outcome", outcome),
		attribute.Int64("match.score", rec.Score),
		attribute.Int("match.level", rec.Level),
		attribute.Int("match.rows", rec.Rows),
	)
	t.span.End()
	t.active = false
	return rec, true
}

// close ends an unfinished run
func (t *matchTracker) close() {
	if t.active {
		t.span.SetAttributes(attribute.String("match.outcome", OutcomeAbandoned))
		t.span.End()
		t.active = false
	}
}
