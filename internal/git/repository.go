// Package git wraps go-git for the daemon's revision tracking: force-syncing
// a local working copy to the tip of a tracked branch and reading the
// resulting commit hash. Local changes are discarded on sync; the daemon must
// track upstream exactly.
package git

import (
	"context"
	"fmt"
	"log/slog"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/docdaemon/internal/errors"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
)

// Repository is a handle on one project's local working copy.
type Repository struct {
	dir  string
	repo *gogit.Repository
}

// Open opens an existing working copy. A directory that is not a git
// repository is a fatal configuration-time error.
func Open(dir string) (*Repository, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryGit, errors.SeverityFatal,
			fmt.Sprintf("not a git repository: %s", dir))
	}
	return &Repository{dir: dir, repo: repo}, nil
}

// Dir returns the working copy path.
func (r *Repository) Dir() string { return r.dir }

// ForceSync fetches the remote and hard-resets the branch to the remote tip.
// Local modifications are discarded.
func (r *Repository) ForceSync(ctx context.Context, branch string) error {
	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		Force:      true,
	})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return fmt.Errorf("fetch origin: %w", err)
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("resolve origin/%s: %w", branch, err)
	}

	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if err := worktree.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: !r.branchExists(branch),
		Force:  true,
	}); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}

	if err := worktree.Reset(&gogit.ResetOptions{
		Commit: remoteRef.Hash(),
		Mode:   gogit.HardReset,
	}); err != nil {
		return fmt.Errorf("reset to origin/%s: %w", branch, err)
	}

	slog.Debug("Working copy synced",
		logfields.Path(r.dir),
		logfields.Branch(branch),
		logfields.Commit(remoteRef.Hash().String()[:8]))
	return nil
}

// LastCommitHash returns the commit hash at the tip of the branch.
func (r *Repository) LastCommitHash(branch string) (string, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	return ref.Hash().String(), nil
}

func (r *Repository) branchExists(branch string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	return err == nil
}
