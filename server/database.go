package main

import (
	"database/sql"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// ScoreEntry represents one row in the high score table
type ScoreEntry struct {
	Rank      int     `json:"rank"`
	SessionID string  `json:"session_id"`
	Outcome   string  `json:"outcome"`
	Score     int64   `json:"score"`
	Level     int     `json:"level"`
	Rows      int     `json:"rows"`
	Duration  float64 `json:"duration"`
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		rows INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		session_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_score ON matches(score DESC);
	CREATE INDEX IF NOT EXISTS idx_analytics_kind ON analytics_events(kind, created_at);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// RecordMatch records a finished run and returns its ID
func (db *DB) RecordMatch(m MatchRecord) (int64, error) {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := db.conn.Exec(
		`INSERT INTO matches (session_id, outcome, score, level, rows, duration, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, m.Outcome, m.Score, m.Level, m.Rows, m.Duration, created.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TopScores returns the best runs, highest score first
func (db *DB) TopScores(limit int) ([]ScoreEntry, error) {
	rows, err := db.conn.Query(`
		SELECT session_id, outcome, score, level, rows, duration
		FROM matches
		ORDER BY score DESC, id ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScoreEntry
	rank := 1
	for rows.Next() {
		var e ScoreEntry
		if err := rows.Scan(&e.SessionID, &e.Outcome, &e.Score, &e.Level, &e.Rows, &e.Duration); err != nil {
			return nil, err
		}
		e.Rank = rank
		rank++
		result = append(result, e)
	}
	return result, rows.Err()
}

// MatchCount returns the number of recorded runs
func (db *DB) MatchCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM matches").Scan(&count)
	return count, err
}
