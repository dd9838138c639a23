package container

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and replays scripted responses keyed on a
// substring of the command line.
type fakeRunner struct {
	calls     []string
	stdins    []string
	responses map[string]fakeResponse
}

type fakeResponse struct {
	out  string
	code int
	err  error
}

func (f *fakeRunner) run(_ context.Context, stdin, name string, args ...string) (string, int, error) {
	line := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, line)
	f.stdins = append(f.stdins, stdin)
	for key, resp := range f.responses {
		if strings.Contains(line, key) {
			return resp.out, resp.code, resp.err
		}
	}
	return "", 0, nil
}

func (f *fakeRunner) callMatching(t *testing.T, substr string) string {
	t.Helper()
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			return c
		}
	}
	t.Fatalf("no call matching %q in %v", substr, f.calls)
	return ""
}

func newFakeEnv(runner *fakeRunner) *dockerEnv {
	return &dockerEnv{id: "c0ffee", runner: runner}
}

func TestSpawnReturnsContainerID(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"docker run": {out: "deadbeefcafe\n"},
	}}
	rt := &Runtime{image: DefaultImage, runner: runner}

	env, err := rt.Spawn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deadbeefcafe", env.ID())
	assert.Contains(t, runner.callMatching(t, "docker run"), DefaultImage)
}

func TestImageAvailable(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"image inspect": {out: "[]", code: 1},
	}}
	rt := &Runtime{image: "docdaemon/build", runner: runner}

	err := rt.imageAvailable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docdaemon/build")
}

func TestBuildSuccess(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"daps -d": {out: "build log\n"},
	}}
	env := newFakeEnv(runner)

	result, err := env.Build(context.Background(), "DC-mybook", "pdf")
	require.NoError(t, err)
	assert.True(t, result.BuildStatus)
	assert.Equal(t, "DC-mybook", result.DCFile)
	assert.Equal(t, "pdf", result.Format)
	assert.Equal(t, "/tmp/DC-mybook_pdf.tar", result.ArchiveName)
	assert.Equal(t, "daps -d /docdaemon/src/DC-mybook pdf", result.DapsCmd)
	assert.Contains(t, result.BuildLog, "build log")
	// Output gets archived for the worker.
	runner.callMatching(t, "tar -cf /tmp/DC-mybook_pdf.tar")
}

func TestBuildSingleHTMLCommand(t *testing.T) {
	runner := &fakeRunner{}
	env := newFakeEnv(runner)

	result, err := env.Build(context.Background(), "DC-mybook", "single_html")
	require.NoError(t, err)
	assert.Equal(t, "daps -d /docdaemon/src/DC-mybook html --single", result.DapsCmd)
}

func TestBuildFailureIsNotAnError(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"daps -d": {out: "FATAL: validation failed\n", code: 1},
	}}
	env := newFakeEnv(runner)

	result, err := env.Build(context.Background(), "DC-mybook", "html")
	require.NoError(t, err)
	assert.False(t, result.BuildStatus)
	assert.Contains(t, result.BuildLog, "validation failed")
}

func TestBuildRunnerFailureIsAnError(t *testing.T) {
	runner := &fakeRunner{responses: map[string]fakeResponse{
		"daps -d": {err: fmt.Errorf("docker not running")},
	}}
	env := newFakeEnv(runner)

	_, err := env.Build(context.Background(), "DC-mybook", "html")
	require.Error(t, err)
}

func TestFileCreatePipesContent(t *testing.T) {
	runner := &fakeRunner{}
	env := newFakeEnv(runner)

	require.NoError(t, env.FileCreate(context.Background(), "/tmp/build_info.json", `{"a":1}`))
	runner.callMatching(t, "cat > /tmp/build_info.json")
	assert.Contains(t, runner.stdins, `{"a":1}`)
}

func TestFetchAndKillCommands(t *testing.T) {
	runner := &fakeRunner{}
	env := newFakeEnv(runner)

	require.NoError(t, env.Fetch(context.Background(), "/tmp/a.tar.gz", "/builds/a.tar.gz"))
	runner.callMatching(t, "docker cp c0ffee:/tmp/a.tar.gz /builds/a.tar.gz")

	require.NoError(t, env.Kill(context.Background()))
	runner.callMatching(t, "docker rm -f c0ffee")
}

func TestBuildResultInfoRedaction(t *testing.T) {
	result := &BuildResult{
		DCFile:      "DC-mybook",
		Format:      "html",
		BuildStatus: true,
		BuildLog:    "ok",
		Extra:       map[string]any{"product": "SUSE Docs"},
	}

	info := result.Info()
	assert.Equal(t, "SUSE Docs", info["product"])
	assert.NotContains(t, info, "dapscmd")
	assert.NotContains(t, info, "container_id")

	result.DapsCmd = "daps -d ..."
	result.ContainerID = "c0ffee"
	info = result.Info()
	assert.Contains(t, info, "dapscmd")
	assert.Contains(t, info, "container_id")
}
