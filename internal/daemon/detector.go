package daemon

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/eventstore"
	"git.home.luguber.info/inful/docdaemon/internal/git"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
	"git.home.luguber.info/inful/docdaemon/internal/state"
)

// Repo is the slice of the git layer the change detector needs.
type Repo interface {
	ForceSync(ctx context.Context, branch string) error
	LastCommitHash(branch string) (string, error)
}

// RepoOpener opens the repository at dir. The default implementation is
// backed by go-git; tests substitute fakes.
type RepoOpener func(dir string) (Repo, error)

// OpenGitRepo is the production RepoOpener.
func OpenGitRepo(dir string) (Repo, error) {
	repo, err := git.Open(dir)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// checkProjects runs one change detection pass over all configured projects.
// Each project whose branch tip moved gets one job enqueued per DC file.
// Failures are logged per project and never stop the pass. Passes are
// strictly sequential: a revision must be persisted before anyone else
// compares against it, or the same commit gets enqueued twice.
func (d *Daemon) checkProjects(ctx context.Context) {
	d.checkMu.Lock()
	defer d.checkMu.Unlock()

	for _, project := range d.autobuild.Projects() {
		if err := d.checkProject(ctx, project); err != nil {
			slog.Error("project check failed",
				logfields.Project(project.Name),
				logfields.Error(err))
			d.metrics.IncRepoSync(project.Name, false)
		}
	}
	d.updateGauges()
}

func (d *Daemon) checkProject(ctx context.Context, project config.Project) error {
	repo, err := d.openRepo(project.RepoDir)
	if err != nil {
		return err
	}

	if err := repo.ForceSync(ctx, project.Branch); err != nil {
		return err
	}
	d.metrics.IncRepoSync(project.Name, true)

	commit, err := repo.LastCommitHash(project.Branch)
	if err != nil {
		return err
	}

	if commit == project.LastRev {
		slog.Debug("no new commits",
			logfields.Project(project.Name),
			logfields.Branch(project.Branch))
		return nil
	}

	slog.Info("new commit detected",
		logfields.Project(project.Name),
		logfields.Branch(project.Branch),
		logfields.Commit(commit))
	d.metrics.IncCommitDetected(project.Name)

	// Persist the revision before enqueuing so a crash between the two never
	// rebuilds an already scheduled commit twice.
	if err := d.autobuild.UpdateCommitHash(project.Name, commit); err != nil {
		return err
	}

	for _, dcFile := range project.DCFiles {
		job := state.Job{
			ID:      uuid.NewString(),
			Project: project,
			DCFile:  dcFile,
			Commit:  commit,
		}
		d.store.Enqueue(job)
		d.recordEvent(ctx, eventstore.JobEvent{
			JobID:   job.ID,
			Project: project.Name,
			DCFile:  dcFile,
			Type:    eventstore.EventQueued,
			Detail:  commit,
		})
		slog.Info("job queued",
			logfields.JobID(job.ID),
			logfields.Project(project.Name),
			logfields.DCFile(dcFile))
	}
	return nil
}
