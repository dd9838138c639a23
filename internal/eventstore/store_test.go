package eventstore

import (
	"testing"
	"time"
)

func TestRecordAndHistoryForJob(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	ev := JobEvent{
		JobID:   "job-1",
		Project: "mybook",
		DCFile:  "DC-mybook",
		Format:  "html",
		Type:    EventQueued,
		Detail:  "commit abc123",
	}

	if err := store.Record(ctx, ev); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}
	ev.Type = EventStarted
	if err := store.Record(ctx, ev); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}

	events, err := store.HistoryForJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to query history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventQueued || events[1].Type != EventStarted {
		t.Errorf("events out of order: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].Project != "mybook" {
		t.Errorf("expected project mybook, got %s", events[0].Project)
	}
	if events[0].Detail != "commit abc123" {
		t.Errorf("expected detail preserved, got %q", events[0].Detail)
	}
}

func TestHistoryIsolatedPerJob(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	for _, jobID := range []string{"job-1", "job-2", "job-1"} {
		recordErr := store.Record(ctx, JobEvent{JobID: jobID, Project: "p", DCFile: "DC-p", Type: EventQueued})
		if recordErr != nil {
			t.Fatalf("failed to record event: %v", recordErr)
		}
	}

	events, err := store.HistoryForJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to query history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for job-1, got %d", len(events))
	}
}

func TestRecentFiltersByTimestamp(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	base := time.Unix(1000000, 0)
	clock := base
	store.now = func() time.Time { return clock }

	for i := range 3 {
		clock = base.Add(time.Duration(i) * time.Hour)
		recordErr := store.Record(ctx, JobEvent{JobID: "job-1", Project: "p", DCFile: "DC-p", Type: EventQueued})
		if recordErr != nil {
			t.Fatalf("failed to record event: %v", recordErr)
		}
	}

	events, err := store.Recent(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("failed to query recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 recent events, got %d", len(events))
	}
}
