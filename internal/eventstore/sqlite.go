package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the store. Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records an event with the payload marshaled to JSON.
func (s *SQLiteStore) Append(ctx context.Context, runID, eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO run_events (run_id, event_type, timestamp, payload) VALUES (?, ?, ?, ?)",
		runID, eventType, time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ByRun returns all events of a run in append order.
func (s *SQLiteStore) ByRun(ctx context.Context, runID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, event_type, timestamp, payload FROM run_events WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &ts, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentRuns derives run summaries from start/finish events, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, MIN(timestamp) AS started, MAX(timestamp) AS finished
		FROM run_events GROUP BY run_id ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var summary RunSummary
		var started, finished int64
		if err := rows.Scan(&summary.RunID, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		summary.StartedAt = time.Unix(started, 0)
		summary.FinishedAt = time.Unix(finished, 0)
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		if err := s.fillSummary(ctx, &summaries[i]); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

// fillSummary extracts tag and final status from the boundary events.
func (s *SQLiteStore) fillSummary(ctx context.Context, summary *RunSummary) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM run_events WHERE run_id = ? AND event_type = ? ORDER BY id LIMIT 1",
		summary.RunID, EventRunStarted).Scan(&payload)
	if err == nil && len(payload) > 0 {
		var meta struct {
			Tag string `json:"tag"`
		}
		if json.Unmarshal(payload, &meta) == nil {
			summary.Tag = meta.Tag
		}
	} else if err != nil && err != sql.ErrNoRows {
		return err
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT payload FROM run_events WHERE run_id = ? AND event_type = ? ORDER BY id DESC LIMIT 1",
		summary.RunID, EventRunFinished).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		summary.Status = "running"
	case err != nil:
		return err
	default:
		var meta struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(payload, &meta) == nil {
			summary.Status = meta.Status
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
