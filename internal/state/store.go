// Package state holds the shared daemon state: the ordered job sequence and
// the running/queued counters. Every mutation and read goes through the Store,
// which guards the whole state with one lock. No operation performs blocking
// I/O while the lock is held.
package state

import (
	"sync"
	"time"

	"git.home.luguber.info/inful/docdaemon/internal/config"
)

// JobStatus enumerates the lifecycle states a job can be observed in.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
)

// Job is one pending or in-flight documentation build. The Project field is a
// deep copy taken at enqueue time so later project mutations never affect a
// job already in the queue.
type Job struct {
	ID          string
	Project     config.Project
	DCFile      string
	Commit      string
	Status      JobStatus
	ContainerID string
	TimeStarted int64 // unix seconds, 0 until promoted
}

// clone returns an independent copy of the job.
func (j Job) clone() Job {
	cp := j
	cp.Project = j.Project.Clone()
	return cp
}

// Snapshot is an immutable, independently owned copy of the store, safe to
// read without further locking.
type Snapshot struct {
	RunningBuilds   int
	ScheduledBuilds int
	Jobs            []Job
}

// Store is the daemon state store.
type Store struct {
	mu      sync.Mutex
	jobs    []Job
	running int
	queued  int

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// SetClock overrides the start-time clock. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue appends a job to the sequence with status queued.
func (s *Store) Enqueue(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.Status = StatusQueued
	job.TimeStarted = 0
	s.jobs = append(s.jobs, job.clone())
	s.queued++
}

// Snapshot returns deep copies of the counters and the job sequence.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j.clone())
	}
	return Snapshot{
		RunningBuilds:   s.running,
		ScheduledBuilds: s.queued,
		Jobs:            jobs,
	}
}

// PromoteEligible performs one scheduling pass: scanning from the front of
// the sequence it promotes consecutive queued jobs to running until it meets
// the first job that is not queued or the concurrency ceiling. Jobs behind a
// non-queued job are never promoted in that pass, even when capacity is free
// (head-of-line policy). Returns deep copies of the promoted jobs.
func (s *Store) PromoteEligible(maxConcurrent int) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var promoted []Job
	for i := range s.jobs {
		if s.running >= maxConcurrent {
			break
		}
		if s.jobs[i].Status != StatusQueued {
			break
		}
		s.jobs[i].Status = StatusRunning
		s.jobs[i].TimeStarted = s.now().Unix()
		s.running++
		s.queued--
		promoted = append(promoted, s.jobs[i].clone())
	}
	return promoted
}

// RecordContainer stores the build container id on a running job.
func (s *Store) RecordContainer(jobID, containerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID == jobID {
			s.jobs[i].ContainerID = containerID
			return
		}
	}
}

// RemoveJob removes a completed job from the sequence and decrements the
// running counter in the same critical section.
func (s *Store) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != jobID {
			continue
		}
		switch s.jobs[i].Status {
		case StatusRunning:
			s.running--
		case StatusQueued:
			s.queued--
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return true
	}
	return false
}

// Counts returns the current running and queued counters.
func (s *Store) Counts() (running, queued int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.queued
}
