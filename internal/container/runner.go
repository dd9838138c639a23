package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// commandRunner abstracts process execution so environment behavior can be
// tested without a docker daemon.
type commandRunner interface {
	// run executes name with args, optionally feeding stdin. It returns the
	// combined output and the process exit code. err is non-nil only when the
	// process could not be run at all.
	run(ctx context.Context, stdin string, name string, args ...string) (out string, exitCode int, err error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, stdin string, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

// runOK wraps run, turning a non-zero exit into an error. For operations
// where any failure is exceptional.
func runOK(ctx context.Context, r commandRunner, stdin string, name string, args ...string) (string, error) {
	out, code, err := r.run(ctx, stdin, name, args...)
	if err != nil {
		return out, err
	}
	if code != 0 {
		return out, fmt.Errorf("%s exited with status %d: %s", name, code, strings.TrimSpace(out))
	}
	return out, nil
}
