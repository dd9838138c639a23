// Package daemon wires change detection, the job queue and the build workers
// into the long-running documentation build service.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/docdaemon/internal/api"
	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/container"
	"git.home.luguber.info/inful/docdaemon/internal/errors"
	"git.home.luguber.info/inful/docdaemon/internal/eventstore"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
	"git.home.luguber.info/inful/docdaemon/internal/metrics"
	"git.home.luguber.info/inful/docdaemon/internal/notify"
	"git.home.luguber.info/inful/docdaemon/internal/state"
)

// promoteInterval is how often queued jobs are checked against free
// capacity.
const promoteInterval = time.Second

// Daemon is the long-running build service.
type Daemon struct {
	cfg       *config.Config
	autobuild *config.AutoBuildConfig
	store     *state.Store
	runtime   ContainerRuntime
	notifier  notify.Notifier
	events    eventstore.Store
	metrics   metrics.Recorder
	openRepo  RepoOpener
	registry  *prom.Registry

	checkMu sync.Mutex
	wg      sync.WaitGroup
}

// New assembles a daemon from its configuration. The only fatal error here
// is a missing or unparsable autobuild configuration; external services are
// connected in Run, after the environment checks.
func New(cfg *config.Config) (*Daemon, error) {
	autobuild, err := config.LoadAutoBuild(cfg.AutoBuildConfig)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:       cfg,
		autobuild: autobuild,
		store:     state.NewStore(),
		runtime:   container.NewRuntime(""),
		notifier:  notify.NoopNotifier{},
		events:    eventstore.NoopStore{},
		metrics:   metrics.NoopRecorder{},
		openRepo:  OpenGitRepo,
	}, nil
}

// connectServices replaces the no-op collaborators with the configured ones.
// Runs after the environment checks so a permission problem is reported
// before a broker or storage problem.
func (d *Daemon) connectServices() error {
	notifier, err := notify.New(d.cfg.Notifications)
	if err != nil {
		return err
	}
	d.notifier = notifier

	if d.cfg.EventStore != "" {
		events, err := eventstore.NewSQLiteStore(d.cfg.EventStore)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal,
				fmt.Sprintf("cannot open event store %s", d.cfg.EventStore))
		}
		d.events = events
	}

	if d.cfg.MetricsPort > 0 {
		d.registry = prom.NewRegistry()
		d.metrics = metrics.NewPrometheusRecorder(d.registry)
	}
	return nil
}

// Run performs the startup checks and then blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.startupChecks(ctx); err != nil {
		return err
	}

	if err := d.connectServices(); err != nil {
		return err
	}
	defer d.notifier.Close()
	defer func() { _ = d.events.Close() }()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal,
			"cannot create scheduler")
	}

	interval := time.Duration(d.cfg.CheckInterval) * time.Second
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(d.checkProjects, ctx),
		gocron.WithName("change-detection"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		// A sync pass slower than the interval must not overlap the next one.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal,
			"cannot schedule change detection")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(promoteInterval),
		gocron.NewTask(d.promote, ctx),
		gocron.WithName("job-promotion"),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityFatal,
			"cannot schedule job promotion")
	}

	watcher, err := newAutoBuildWatcher(d.autobuild)
	if err != nil {
		slog.Warn("autobuild file watching disabled", logfields.Error(err))
	} else {
		watcher.start(ctx)
		defer watcher.stop()
	}

	if d.cfg.APIServer {
		server := api.NewServer(d.store)
		go func() {
			if serveErr := server.Serve(ctx, d.cfg.APIServerPort); serveErr != nil {
				slog.Error("status API stopped", logfields.Error(serveErr))
			}
		}()
	}

	if d.cfg.MetricsPort > 0 {
		go func() {
			if serveErr := metrics.Serve(ctx, d.cfg.MetricsPort, d.registry); serveErr != nil {
				slog.Error("metrics endpoint stopped", logfields.Error(serveErr))
			}
		}()
	}

	scheduler.Start()
	slog.Info("daemon started",
		slog.Int("check_interval", d.cfg.CheckInterval),
		slog.Int("max_containers", d.cfg.MaxContainers),
		slog.Bool("api_server", d.cfg.APIServer),
		slog.Bool("debug", d.cfg.Debug))

	<-ctx.Done()
	slog.Info("shutting down, waiting for running builds")
	if err := scheduler.Shutdown(); err != nil {
		slog.Warn("scheduler shutdown failed", logfields.Error(err))
	}
	d.wg.Wait()
	return nil
}

// startupChecks validates the environment before any loop starts: container
// runtime access, target directories and every project's repository.
func (d *Daemon) startupChecks(ctx context.Context) error {
	if err := d.runtime.CheckRequirements(ctx); err != nil {
		return err
	}

	for _, dir := range []string{d.cfg.BuildsDir, d.cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, errors.CategoryFileSystem, errors.SeverityFatal,
				fmt.Sprintf("cannot create directory %s", dir))
		}
	}

	for _, project := range d.autobuild.Projects() {
		if _, err := d.openRepo(project.RepoDir); err != nil {
			return err
		}
	}
	return nil
}

// promote moves eligible queued jobs into running state and dispatches one
// worker goroutine per promoted job.
func (d *Daemon) promote(ctx context.Context) {
	promoted := d.store.PromoteEligible(d.cfg.MaxContainers)
	d.updateGauges()
	for _, job := range promoted {
		d.wg.Add(1)
		go func(job state.Job) {
			defer d.wg.Done()
			d.process(ctx, job)
		}(job)
	}
}

func (d *Daemon) updateGauges() {
	running, queued := d.store.Counts()
	d.metrics.SetRunningBuilds(running)
	d.metrics.SetScheduledBuilds(queued)
}

// recordEvent appends to the event store, logging instead of failing the
// build when history cannot be written.
func (d *Daemon) recordEvent(ctx context.Context, ev eventstore.JobEvent) {
	if err := d.events.Record(ctx, ev); err != nil {
		slog.Warn("cannot record job event",
			logfields.JobID(ev.JobID),
			logfields.Error(err))
	}
}
