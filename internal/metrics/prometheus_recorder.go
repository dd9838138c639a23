package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	runningBuilds   prom.Gauge
	scheduledBuilds prom.Gauge
	buildResults    *prom.CounterVec
	buildDuration   *prom.HistogramVec
	repoSyncs       *prom.CounterVec
	commitsDetected *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics
// (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.runningBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "docdaemon",
			Name:      "running_builds",
			Help:      "Number of builds currently running",
		})
		pr.scheduledBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "docdaemon",
			Name:      "scheduled_builds",
			Help:      "Number of builds waiting in the queue",
		})
		pr.buildResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docdaemon",
			Name:      "build_results_total",
			Help:      "Build results by output format and outcome",
		}, []string{"format", "result"})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "docdaemon",
			Name:      "build_duration_seconds",
			Help:      "Duration of individual format builds",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		}, []string{"format"})
		pr.repoSyncs = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docdaemon",
			Name:      "repo_syncs_total",
			Help:      "Repository sync attempts by project and outcome",
		}, []string{"project", "result"})
		pr.commitsDetected = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "docdaemon",
			Name:      "commits_detected_total",
			Help:      "New commits detected per project",
		}, []string{"project"})
		reg.MustRegister(pr.runningBuilds, pr.scheduledBuilds, pr.buildResults,
			pr.buildDuration, pr.repoSyncs, pr.commitsDetected)
	})
	return pr
}

func (p *PrometheusRecorder) SetRunningBuilds(n int) {
	if p == nil || p.runningBuilds == nil {
		return
	}
	p.runningBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) SetScheduledBuilds(n int) {
	if p == nil || p.scheduledBuilds == nil {
		return
	}
	p.scheduledBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) IncBuildResult(format string, success bool) {
	if p == nil || p.buildResults == nil {
		return
	}
	p.buildResults.WithLabelValues(format, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(format string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(format).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRepoSync(project string, success bool) {
	if p == nil || p.repoSyncs == nil {
		return
	}
	p.repoSyncs.WithLabelValues(project, resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) IncCommitDetected(project string) {
	if p == nil || p.commitsDetected == nil {
		return
	}
	p.commitsDetected.WithLabelValues(project).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
