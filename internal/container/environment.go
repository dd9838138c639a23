package container

import (
	"context"
	"fmt"
)

// sourceDir is where the project tree lives inside the environment.
const sourceDir = "/docdaemon/src"

// DocInfoPath is the well-known in-environment path where a build drops its
// supplementary metadata.
const DocInfoPath = "/tmp/doc_info.json"

// Environment is one disposable build environment. All operations are
// blocking and must be called outside any daemon lock.
type Environment interface {
	ID() string
	Prepare(ctx context.Context, srcDir string) error
	Build(ctx context.Context, dcFile, format string) (*BuildResult, error)
	Execute(ctx context.Context, command string) (string, error)
	FileCreate(ctx context.Context, path, content string) error
	Fetch(ctx context.Context, remotePath, localPath string) error
	Kill(ctx context.Context) error
}

// BuildResult describes the outcome of building one DC file in one format.
type BuildResult struct {
	ArchiveName string
	BuildStatus bool
	BuildLog    string
	DapsCmd     string
	DCFile      string
	Format      string
	ContainerID string         // set only in debug mode
	Extra       map[string]any // metadata merged from the doc info sidecar
}

// Info flattens the result into the map persisted as build_info.json inside
// the archive. DapsCmd and ContainerID appear only when set; redaction happens
// before this is called.
func (r *BuildResult) Info() map[string]any {
	info := make(map[string]any, len(r.Extra)+6)
	for k, v := range r.Extra {
		info[k] = v
	}
	info["dc_file"] = r.DCFile
	info["format"] = r.Format
	info["build_status"] = r.BuildStatus
	info["build_log"] = r.BuildLog
	if r.DapsCmd != "" {
		info["dapscmd"] = r.DapsCmd
	}
	if r.ContainerID != "" {
		info["container_id"] = r.ContainerID
	}
	return info
}

// dockerEnv implements Environment on the docker CLI.
type dockerEnv struct {
	id     string
	runner commandRunner
}

func (e *dockerEnv) ID() string { return e.id }

// Prepare copies the project's source tree into the environment.
func (e *dockerEnv) Prepare(ctx context.Context, srcDir string) error {
	if _, err := runOK(ctx, e.runner, "", "docker", "exec", e.id, "mkdir", "-p", sourceDir); err != nil {
		return fmt.Errorf("prepare source dir: %w", err)
	}
	if _, err := runOK(ctx, e.runner, "", "docker", "cp", srcDir+"/.", e.id+":"+sourceDir); err != nil {
		return fmt.Errorf("copy source tree: %w", err)
	}
	return nil
}

// dapsCommand builds the raw daps invocation for one DC file and format.
func dapsCommand(dcFile, format string) string {
	target := format
	if format == "single_html" {
		target = "html --single"
	}
	return fmt.Sprintf("daps -d %s/%s %s", sourceDir, dcFile, target)
}

// archivePath is the in-environment tar location for one build.
func archivePath(dcFile, format string) string {
	return fmt.Sprintf("/tmp/%s_%s.tar", dcFile, format)
}

// Build runs daps for one DC file and format. A failing build is not an
// error: the result carries build_status=false and the raw log.
func (e *dockerEnv) Build(ctx context.Context, dcFile, format string) (*BuildResult, error) {
	cmd := dapsCommand(dcFile, format)
	result := &BuildResult{
		ArchiveName: archivePath(dcFile, format),
		DapsCmd:     cmd,
		DCFile:      dcFile,
		Format:      format,
	}

	out, code, err := e.runner.run(ctx, "", "docker", "exec", e.id, "sh", "-c", cmd)
	result.BuildLog = out
	if err != nil {
		return nil, fmt.Errorf("run build: %w", err)
	}
	if code != 0 {
		return result, nil
	}

	// Archive the build output so the worker can append metadata and fetch it.
	// daps places its output under build/ next to the DC file.
	archiveCmd := fmt.Sprintf("tar -cf %s -C %s/build .", result.ArchiveName, sourceDir)
	archOut, code, err := e.runner.run(ctx, "", "docker", "exec", e.id, "sh", "-c", archiveCmd)
	if err != nil {
		return nil, fmt.Errorf("archive build output: %w", err)
	}
	if code != 0 {
		result.BuildLog += "\n" + archOut
		return result, nil
	}

	result.BuildStatus = true
	return result, nil
}

// Execute runs an arbitrary command inside the environment and returns its
// output.
func (e *dockerEnv) Execute(ctx context.Context, command string) (string, error) {
	return runOK(ctx, e.runner, "", "docker", "exec", e.id, "sh", "-c", command)
}

// FileCreate writes content to a path inside the environment.
func (e *dockerEnv) FileCreate(ctx context.Context, path, content string) error {
	if _, err := runOK(ctx, e.runner, content, "docker", "exec", "-i", e.id, "sh", "-c", "cat > "+path); err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	return nil
}

// Fetch copies a file out of the environment to the host.
func (e *dockerEnv) Fetch(ctx context.Context, remotePath, localPath string) error {
	if _, err := runOK(ctx, e.runner, "", "docker", "cp", e.id+":"+remotePath, localPath); err != nil {
		return fmt.Errorf("fetch %s: %w", remotePath, err)
	}
	return nil
}

// Kill removes the environment.
func (e *dockerEnv) Kill(ctx context.Context) error {
	if _, err := runOK(ctx, e.runner, "", "docker", "rm", "-f", e.id); err != nil {
		return fmt.Errorf("remove container %s: %w", e.id, err)
	}
	return nil
}
