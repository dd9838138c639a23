package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite-based event store. Use ":memory:" for
// an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		project TEXT NOT NULL,
		dc_file TEXT NOT NULL,
		format TEXT,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_id ON job_events(job_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON job_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a lifecycle event.
func (s *SQLiteStore) Record(ctx context.Context, ev JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_events (job_id, project, dc_file, format, event_type, timestamp, detail) VALUES (?, ?, ?, ?, ?, ?, ?)",
		ev.JobID, ev.Project, ev.DCFile, ev.Format, ev.Type, s.now().Unix(), ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// HistoryForJob retrieves all events for one job, oldest first.
func (s *SQLiteStore) HistoryForJob(ctx context.Context, jobID string) ([]JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, project, dc_file, format, event_type, timestamp, detail FROM job_events WHERE job_id = ? ORDER BY id",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Recent retrieves events recorded at or after the given time.
func (s *SQLiteStore) Recent(ctx context.Context, since time.Time) ([]JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, project, dc_file, format, event_type, timestamp, detail FROM job_events WHERE timestamp >= ? ORDER BY id",
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]JobEvent, error) {
	var events []JobEvent
	for rows.Next() {
		var ev JobEvent
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Project, &ev.DCFile, &ev.Format, &ev.Type, &ts, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan job event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
