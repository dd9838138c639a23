// Package eventstore persists the job lifecycle history so operators can
// inspect what the daemon built and when, beyond what the in-memory status
// API shows.
package eventstore

import (
	"context"
	"time"
)

// Lifecycle event types recorded per job.
const (
	EventQueued         = "queued"
	EventStarted        = "started"
	EventBuildSucceeded = "build_succeeded"
	EventBuildFailed    = "build_failed"
	EventFinished       = "finished"
)

// JobEvent is one recorded lifecycle event.
type JobEvent struct {
	ID        int64
	JobID     string
	Project   string
	DCFile    string
	Format    string
	Type      string
	Timestamp time.Time
	Detail    string
}

// Store defines the interface for persisting and retrieving job events.
type Store interface {
	// Record appends a lifecycle event. The event's ID and Timestamp are
	// assigned by the store.
	Record(ctx context.Context, ev JobEvent) error

	// HistoryForJob retrieves all events for one job, oldest first.
	HistoryForJob(ctx context.Context, jobID string) ([]JobEvent, error)

	// Recent retrieves events recorded at or after the given time.
	Recent(ctx context.Context, since time.Time) ([]JobEvent, error)

	// Close releases the store's resources.
	Close() error
}

// NoopStore discards all events. Used when no event store is configured.
type NoopStore struct{}

func (NoopStore) Record(context.Context, JobEvent) error { return nil }
func (NoopStore) HistoryForJob(context.Context, string) ([]JobEvent, error) {
	return nil, nil
}
func (NoopStore) Recent(context.Context, time.Time) ([]JobEvent, error) { return nil, nil }
func (NoopStore) Close() error                                          { return nil }
