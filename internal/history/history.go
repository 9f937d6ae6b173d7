// Package history keeps a record of completed irrigation runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one completed irrigation.
type Run struct {
	ID           int64     `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Seconds      int64     `json:"seconds"`
	Reason       string    `json:"reason"`
	SurfaceStart float64   `json:"surface_start"`
	MiddleStart  float64   `json:"middle_start"`
	DeepStart    float64   `json:"deep_start"`
	SurfaceEnd   float64   `json:"surface_end"`
	MiddleEnd    float64   `json:"middle_end"`
	DeepEnd      float64   `json:"deep_end"`
}

const schema = `
CREATE TABLE IF NOT EXISTS irrigation_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	start_unix    INTEGER NOT NULL,
	end_unix      INTEGER NOT NULL,
	seconds       INTEGER NOT NULL,
	reason        TEXT    NOT NULL,
	surface_start REAL    NOT NULL,
	middle_start  REAL    NOT NULL,
	deep_start    REAL    NOT NULL,
	surface_end   REAL    NOT NULL,
	middle_end    REAL    NOT NULL,
	deep_end      REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS irrigation_runs_end ON irrigation_runs (end_unix);
`

// Store is an open history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a run and returns its id.
func (s *Store) Record(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO irrigation_runs
			(start_unix, end_unix, seconds, reason,
			 surface_start, middle_start, deep_start,
			 surface_end, middle_end, deep_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Start.Unix(), r.End.Unix(), r.Seconds, r.Reason,
		r.SurfaceStart, r.MiddleStart, r.DeepStart,
		r.SurfaceEnd, r.MiddleEnd, r.DeepEnd)
	if err != nil {
		return 0, fmt.Errorf("insert irrigation run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_unix, end_unix, seconds, reason,
		       surface_start, middle_start, deep_start,
		       surface_end, middle_end, deep_end
		FROM irrigation_runs
		ORDER BY end_unix DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query irrigation runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var start, end int64
		if err := rows.Scan(&r.ID, &start, &end, &r.Seconds, &r.Reason,
			&r.SurfaceStart, &r.MiddleStart, &r.DeepStart,
			&r.SurfaceEnd, &r.MiddleEnd, &r.DeepEnd); err != nil {
			return nil, fmt.Errorf("scan irrigation run: %w", err)
		}
		r.Start = time.Unix(start, 0).UTC()
		r.End = time.Unix(end, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
