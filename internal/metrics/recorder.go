// Package metrics exposes observability hooks for the build daemon.
package metrics

import "time"

// Recorder defines observability hooks for daemon and build metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	SetRunningBuilds(n int)
	SetScheduledBuilds(n int)
	IncBuildResult(format string, success bool)
	ObserveBuildDuration(format string, d time.Duration)
	IncRepoSync(project string, success bool)
	IncCommitDetected(project string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) SetRunningBuilds(int)                      {}
func (NoopRecorder) SetScheduledBuilds(int)                    {}
func (NoopRecorder) IncBuildResult(string, bool)               {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncRepoSync(string, bool)                  {}
func (NoopRecorder) IncCommitDetected(string)                  {}
