package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/docdaemon/internal/container"
	"git.home.luguber.info/inful/docdaemon/internal/eventstore"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
	"git.home.luguber.info/inful/docdaemon/internal/state"
)

// Formats built for every DC file of every job, in order.
var buildFormats = []string{"html", "single_html", "pdf"}

// ContainerRuntime is the slice of the container layer the daemon needs.
type ContainerRuntime interface {
	CheckRequirements(ctx context.Context) error
	Spawn(ctx context.Context) (container.Environment, error)
}

// process runs one job from container spawn to teardown. Build failures are
// reported and logged but are not errors; only infrastructure faults abort
// the job early.
func (d *Daemon) process(ctx context.Context, job state.Job) {
	defer d.finishJob(ctx, job)

	env, err := d.runtime.Spawn(ctx)
	if err != nil {
		d.reportSetupFailure(ctx, job, "spawn", err)
		return
	}
	defer d.teardown(env)

	d.store.RecordContainer(job.ID, env.ID())
	d.recordEvent(ctx, eventstore.JobEvent{
		JobID:   job.ID,
		Project: job.Project.Name,
		DCFile:  job.DCFile,
		Type:    eventstore.EventStarted,
		Detail:  env.ID(),
	})
	slog.Info("build started",
		logfields.JobID(job.ID),
		logfields.Project(job.Project.Name),
		logfields.DCFile(job.DCFile),
		logfields.Container(env.ID()))

	if err := env.Prepare(ctx, job.Project.RepoDir); err != nil {
		d.reportSetupFailure(ctx, job, "prepare", err)
		return
	}

	for _, format := range buildFormats {
		d.buildFormat(ctx, env, job, format)
	}
}

// buildFormat builds one output format and handles its outcome.
func (d *Daemon) buildFormat(ctx context.Context, env container.Environment, job state.Job, format string) {
	start := time.Now()
	result, err := env.Build(ctx, job.DCFile, format)
	if err != nil {
		slog.Error("build execution failed",
			logfields.JobID(job.ID),
			logfields.DCFile(job.DCFile),
			logfields.Format(format),
			logfields.Error(err))
		d.metrics.IncBuildResult(format, false)
		return
	}
	d.metrics.ObserveBuildDuration(format, time.Since(start))

	d.mergeDocInfo(ctx, env, result)
	d.applyDebugPolicy(env, result)

	if result.BuildStatus {
		d.handleSuccess(ctx, env, job, result)
	} else {
		d.handleFailure(ctx, job, result)
	}
	d.metrics.IncBuildResult(format, result.BuildStatus)
}

// mergeDocInfo folds the optional metadata sidecar a build may leave behind
// into the result. A missing or unreadable sidecar is not an error.
func (d *Daemon) mergeDocInfo(ctx context.Context, env container.Environment, result *container.BuildResult) {
	out, err := env.Execute(ctx, "cat "+container.DocInfoPath)
	if err != nil {
		return
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(out), &extra); err != nil {
		slog.Debug("ignoring malformed doc info",
			logfields.DCFile(result.DCFile),
			logfields.Error(err))
		return
	}
	result.Extra = extra
}

// applyDebugPolicy redacts the raw build command outside debug mode and
// stamps the container id when debugging, so operators can attach to the
// kept container.
func (d *Daemon) applyDebugPolicy(env container.Environment, result *container.BuildResult) {
	if d.cfg.Debug {
		result.ContainerID = env.ID()
	} else {
		result.DapsCmd = ""
	}
}

// handleSuccess embeds the build metadata in the archive, compresses it and
// fetches it to the builds directory.
func (d *Daemon) handleSuccess(ctx context.Context, env container.Environment, job state.Job, result *container.BuildResult) {
	archive, err := d.packageArchive(ctx, env, job, result)
	if err != nil {
		slog.Error("cannot package build archive",
			logfields.JobID(job.ID),
			logfields.DCFile(job.DCFile),
			logfields.Format(result.Format),
			logfields.Error(err))
		return
	}

	slog.Info("build succeeded",
		logfields.JobID(job.ID),
		logfields.DCFile(job.DCFile),
		logfields.Format(result.Format),
		logfields.Path(archive))

	d.recordEvent(ctx, eventstore.JobEvent{
		JobID:   job.ID,
		Project: job.Project.Name,
		DCFile:  job.DCFile,
		Format:  result.Format,
		Type:    eventstore.EventBuildSucceeded,
		Detail:  archive,
	})

	if err := d.notifier.BuildSucceeded(ctx, job.Project.NotifyTargets,
		job.DCFile, result.Format, filepath.Base(archive)); err != nil {
		slog.Warn("success notification failed",
			logfields.JobID(job.ID),
			logfields.Error(err))
	}
}

// packageArchive appends the metadata file to the build tar, compresses it
// inside the container and copies the result to the builds directory.
func (d *Daemon) packageArchive(ctx context.Context, env container.Environment, job state.Job, result *container.BuildResult) (string, error) {
	info, err := json.Marshal(result.Info())
	if err != nil {
		return "", fmt.Errorf("marshal build info: %w", err)
	}
	if err := env.FileCreate(ctx, buildInfoPath, string(info)); err != nil {
		return "", err
	}
	appendCmd := fmt.Sprintf("tar -rf %s -C %s %s",
		result.ArchiveName, filepath.Dir(buildInfoPath), filepath.Base(buildInfoPath))
	if _, err := env.Execute(ctx, appendCmd); err != nil {
		return "", fmt.Errorf("append build info: %w", err)
	}
	if _, err := env.Execute(ctx, "gzip -f "+result.ArchiveName); err != nil {
		return "", fmt.Errorf("compress archive: %w", err)
	}

	local := filepath.Join(d.cfg.BuildsDir, ArtifactName(job.TimeStarted, job.DCFile, result.Format))
	if err := env.Fetch(ctx, result.ArchiveName+".gz", local); err != nil {
		return "", err
	}
	return local, nil
}

// handleFailure persists the build log and notifies the project's targets.
func (d *Daemon) handleFailure(ctx context.Context, job state.Job, result *container.BuildResult) {
	logPath := filepath.Join(d.cfg.LogDir, FailureLogName(job.DCFile, result.Format, job.TimeStarted))
	if err := os.WriteFile(logPath, []byte(result.BuildLog), 0o644); err != nil {
		slog.Error("cannot write failure log",
			logfields.JobID(job.ID),
			logfields.Path(logPath),
			logfields.Error(err))
	}

	slog.Warn("build failed",
		logfields.JobID(job.ID),
		logfields.DCFile(job.DCFile),
		logfields.Format(result.Format),
		logfields.Path(logPath))

	d.recordEvent(ctx, eventstore.JobEvent{
		JobID:   job.ID,
		Project: job.Project.Name,
		DCFile:  job.DCFile,
		Format:  result.Format,
		Type:    eventstore.EventBuildFailed,
		Detail:  logPath,
	})

	if err := d.notifier.BuildFailed(ctx, job.Project.NotifyTargets,
		job.DCFile, result.Format, logPath); err != nil {
		slog.Warn("failure notification failed",
			logfields.JobID(job.ID),
			logfields.Error(err))
	}
}

// reportSetupFailure handles faults before any format was built: the error
// lands in a failure log and the project's targets are notified once.
func (d *Daemon) reportSetupFailure(ctx context.Context, job state.Job, stage string, cause error) {
	slog.Error("cannot set up build container",
		logfields.JobID(job.ID),
		logfields.DCFile(job.DCFile),
		logfields.Target(stage),
		logfields.Error(cause))

	logPath := filepath.Join(d.cfg.LogDir, FailureLogName(job.DCFile, stage, job.TimeStarted))
	if err := os.WriteFile(logPath, []byte(cause.Error()+"\n"), 0o644); err != nil {
		slog.Error("cannot write failure log",
			logfields.JobID(job.ID),
			logfields.Path(logPath),
			logfields.Error(err))
	}

	d.recordEvent(ctx, eventstore.JobEvent{
		JobID:   job.ID,
		Project: job.Project.Name,
		DCFile:  job.DCFile,
		Format:  stage,
		Type:    eventstore.EventBuildFailed,
		Detail:  logPath,
	})

	if err := d.notifier.BuildFailed(ctx, job.Project.NotifyTargets,
		job.DCFile, stage, logPath); err != nil {
		slog.Warn("failure notification failed",
			logfields.JobID(job.ID),
			logfields.Error(err))
	}
}

// finishJob releases the job's slot and records the end of its lifecycle.
func (d *Daemon) finishJob(ctx context.Context, job state.Job) {
	d.store.RemoveJob(job.ID)
	d.updateGauges()
	d.recordEvent(ctx, eventstore.JobEvent{
		JobID:   job.ID,
		Project: job.Project.Name,
		DCFile:  job.DCFile,
		Type:    eventstore.EventFinished,
	})
	slog.Info("job finished", logfields.JobID(job.ID), logfields.DCFile(job.DCFile))
}

// teardown removes the container unless debug mode keeps it for inspection.
func (d *Daemon) teardown(env container.Environment) {
	if d.cfg.Debug {
		slog.Info("debug mode, keeping container", logfields.Container(env.ID()))
		return
	}
	// Teardown must survive daemon shutdown, so it gets its own context.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := env.Kill(ctx); err != nil {
		slog.Warn("cannot remove container",
			logfields.Container(env.ID()),
			logfields.Error(err))
	}
}
