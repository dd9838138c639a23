// Package container drives disposable build environments through the docker
// CLI. One Environment is spawned per job, prepared with the project's source
// tree, asked to build each output format, and torn down afterwards (unless
// debug mode keeps it for inspection).
package container

import (
	"context"
	"fmt"
	"os/user"
	"strings"

	"git.home.luguber.info/inful/docdaemon/internal/errors"
)

// DefaultImage is the build image expected to be imported on the host.
const DefaultImage = "docdaemon/build"

// Runtime spawns build environments and performs host-level checks.
type Runtime struct {
	image  string
	runner commandRunner
}

// NewRuntime creates a runtime for the given build image. An empty image
// selects DefaultImage.
func NewRuntime(image string) *Runtime {
	if image == "" {
		image = DefaultImage
	}
	return &Runtime{image: image, runner: execRunner{}}
}

// Image returns the configured build image.
func (r *Runtime) Image() string { return r.image }

// CheckRequirements verifies the caller may use the container runtime and
// that the build image is imported. Called once at startup, before any loop.
func (r *Runtime) CheckRequirements(ctx context.Context) error {
	if err := r.userPermitted(); err != nil {
		return err
	}
	if err := r.imageAvailable(ctx); err != nil {
		return err
	}
	return nil
}

// userPermitted checks membership in the docker group.
func (r *Runtime) userPermitted() error {
	current, err := user.Current()
	if err != nil {
		return errors.Wrap(err, errors.CategoryPermission, errors.SeverityFatal,
			"cannot determine current user")
	}
	group, err := user.LookupGroup("docker")
	if err != nil {
		return errors.PermissionError("docker group does not exist on this host")
	}
	gids, err := current.GroupIds()
	if err != nil {
		return errors.Wrap(err, errors.CategoryPermission, errors.SeverityFatal,
			"cannot read group memberships")
	}
	for _, gid := range gids {
		if gid == group.Gid {
			return nil
		}
	}
	return errors.PermissionError(
		fmt.Sprintf("user %s is not a member of the docker group", current.Username))
}

// imageAvailable checks that the build image is imported.
func (r *Runtime) imageAvailable(ctx context.Context) error {
	if _, err := runOK(ctx, r.runner, "", "docker", "image", "inspect", r.image); err != nil {
		return errors.ImageError(fmt.Sprintf("build image %s is not imported", r.image))
	}
	return nil
}

// Spawn starts a fresh build environment and returns a handle on it.
func (r *Runtime) Spawn(ctx context.Context) (Environment, error) {
	out, err := runOK(ctx, r.runner, "", "docker", "run", "-d", r.image, "sleep", "infinity")
	if err != nil {
		return nil, fmt.Errorf("spawn build container: %w", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return nil, fmt.Errorf("spawn build container: empty container id")
	}
	return &dockerEnv{id: id, runner: r.runner}, nil
}
