package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/container"
	"git.home.luguber.info/inful/docdaemon/internal/eventstore"
	"git.home.luguber.info/inful/docdaemon/internal/metrics"
	"git.home.luguber.info/inful/docdaemon/internal/state"
)

type fakeRepo struct {
	commit   string
	syncErr  error
	syncs    int
	branches []string
	syncGate chan struct{} // when set, ForceSync blocks until it is closed
}

func (f *fakeRepo) ForceSync(_ context.Context, branch string) error {
	if f.syncGate != nil {
		<-f.syncGate
	}
	f.syncs++
	f.branches = append(f.branches, branch)
	return f.syncErr
}

func (f *fakeRepo) LastCommitHash(string) (string, error) {
	return f.commit, nil
}

type fakeEnv struct {
	mu          sync.Mutex
	id          string
	prepared    []string
	built       []string
	executed    []string
	files       map[string]string
	fetched     map[string]string
	killed      bool
	failFormats map[string]bool
	docInfo     string
}

func newFakeEnv(id string) *fakeEnv {
	return &fakeEnv{
		id:          id,
		files:       map[string]string{},
		fetched:     map[string]string{},
		failFormats: map[string]bool{},
	}
}

func (f *fakeEnv) ID() string { return f.id }

func (f *fakeEnv) Prepare(_ context.Context, srcDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, srcDir)
	return nil
}

func (f *fakeEnv) Build(_ context.Context, dcFile, format string) (*container.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built = append(f.built, dcFile+"/"+format)
	return &container.BuildResult{
		ArchiveName: fmt.Sprintf("/tmp/%s_%s.tar", dcFile, format),
		BuildStatus: !f.failFormats[format],
		BuildLog:    "log for " + format,
		DapsCmd:     "daps -d /docdaemon/src/" + dcFile + " " + format,
		DCFile:      dcFile,
		Format:      format,
	}, nil
}

func (f *fakeEnv) Execute(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, command)
	if strings.HasPrefix(command, "cat ") {
		if f.docInfo == "" {
			return "", fmt.Errorf("no such file")
		}
		return f.docInfo, nil
	}
	return "", nil
}

func (f *fakeEnv) FileCreate(_ context.Context, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	return nil
}

func (f *fakeEnv) Fetch(_ context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[remotePath] = localPath
	return nil
}

func (f *fakeEnv) Kill(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

type fakeRuntime struct {
	env      *fakeEnv
	spawnErr error
}

func (f *fakeRuntime) CheckRequirements(context.Context) error { return nil }

func (f *fakeRuntime) Spawn(context.Context) (container.Environment, error) {
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	return f.env, nil
}

type notification struct {
	targets []string
	dcFile  string
	format  string
	detail  string
}

type fakeNotifier struct {
	mu        sync.Mutex
	succeeded []notification
	failed    []notification
}

func (f *fakeNotifier) BuildSucceeded(_ context.Context, targets []string, dcFile, format, archive string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, notification{targets, dcFile, format, archive})
	return nil
}

func (f *fakeNotifier) BuildFailed(_ context.Context, targets []string, dcFile, format, logPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, notification{targets, dcFile, format, logPath})
	return nil
}

func (f *fakeNotifier) Close() {}

func writeAutoBuild(t *testing.T, projects string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autobuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(projects), 0o644))
	return path
}

func newTestDaemon(t *testing.T, repo *fakeRepo, env *fakeEnv) (*Daemon, *fakeNotifier) {
	t.Helper()

	dir := t.TempDir()
	autobuildPath := writeAutoBuild(t, `projects:
  - name: mybook
    branch: main
    repo_dir: /srv/repos/mybook
    dc_files: [DC-mybook, DC-other]
    notify_targets: [alice]
`)
	autobuild, err := config.LoadAutoBuild(autobuildPath)
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	store := state.NewStore()
	store.SetClock(func() time.Time { return time.Unix(1000000, 0) })

	d := &Daemon{
		cfg: &config.Config{
			MaxContainers: 2,
			BuildsDir:     filepath.Join(dir, "builds"),
			LogDir:        filepath.Join(dir, "logs"),
		},
		autobuild: autobuild,
		store:     store,
		runtime:   &fakeRuntime{env: env},
		notifier:  notifier,
		events:    eventstore.NoopStore{},
		metrics:   metrics.NoopRecorder{},
		openRepo: func(string) (Repo, error) {
			if repo == nil {
				return nil, fmt.Errorf("no repository")
			}
			return repo, nil
		},
	}
	require.NoError(t, os.MkdirAll(d.cfg.BuildsDir, 0o755))
	require.NoError(t, os.MkdirAll(d.cfg.LogDir, 0o755))
	return d, notifier
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "1000000_mybook_single-html.tar.gz", ArtifactName(1000000, "DC-mybook", "single_html"))
	assert.Equal(t, "1000000_mybook_html.tar.gz", ArtifactName(1000000, "DC-mybook", "html"))
	assert.Equal(t, "1000000_mybook_pdf.tar.gz", ArtifactName(1000000, "DC-mybook", "pdf"))
}

func TestFailureLogName(t *testing.T) {
	assert.Equal(t, "build_fail_DC-mybook_pdf_1000000.log", FailureLogName("DC-mybook", "pdf", 1000000))
}

func TestCheckProjectEnqueuesJobPerDCFile(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	d, _ := newTestDaemon(t, repo, newFakeEnv("c1"))

	d.checkProjects(context.Background())

	snap := d.store.Snapshot()
	require.Len(t, snap.Jobs, 2)
	assert.Equal(t, 2, snap.ScheduledBuilds)
	assert.Equal(t, "DC-mybook", snap.Jobs[0].DCFile)
	assert.Equal(t, "DC-other", snap.Jobs[1].DCFile)
	assert.Equal(t, "abc123", snap.Jobs[0].Commit)
	assert.NotEmpty(t, snap.Jobs[0].ID)
	assert.NotEqual(t, snap.Jobs[0].ID, snap.Jobs[1].ID)
	assert.Equal(t, []string{"main"}, repo.branches)

	// Revision is persisted so the next pass sees no change.
	assert.Equal(t, "abc123", d.autobuild.Projects()[0].LastRev)
}

func TestCheckProjectIdempotentOnSameCommit(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	d, _ := newTestDaemon(t, repo, newFakeEnv("c1"))

	d.checkProjects(context.Background())
	d.checkProjects(context.Background())

	snap := d.store.Snapshot()
	assert.Len(t, snap.Jobs, 2)
	assert.Equal(t, 2, repo.syncs)
}

func TestOverlappingDetectionPassesEnqueueOnce(t *testing.T) {
	repo := &fakeRepo{commit: "abc123", syncGate: make(chan struct{})}
	d, _ := newTestDaemon(t, repo, newFakeEnv("c1"))

	// Two passes racing: the second must observe the revision the first
	// persisted, not the stale one both started from.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.checkProjects(context.Background())
		}()
	}
	close(repo.syncGate)
	wg.Wait()

	snap := d.store.Snapshot()
	assert.Len(t, snap.Jobs, 2)
	assert.Equal(t, 2, repo.syncs)
	assert.Equal(t, "abc123", d.autobuild.Projects()[0].LastRev)
}

func TestCheckProjectSyncFailureEnqueuesNothing(t *testing.T) {
	repo := &fakeRepo{commit: "abc123", syncErr: fmt.Errorf("remote unreachable")}
	d, _ := newTestDaemon(t, repo, newFakeEnv("c1"))

	d.checkProjects(context.Background())

	assert.Empty(t, d.store.Snapshot().Jobs)
}

// promoteOne promotes exactly one queued job and returns it.
func promoteOne(t *testing.T, d *Daemon) state.Job {
	t.Helper()
	jobs := d.store.PromoteEligible(1)
	require.Len(t, jobs, 1)
	return jobs[0]
}

func TestProcessSuccessPipeline(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	env := newFakeEnv("c1")
	env.docInfo = `{"product": "SUSE Docs"}`
	d, notifier := newTestDaemon(t, repo, env)

	d.checkProjects(context.Background())
	job := promoteOne(t, d)
	d.process(context.Background(), job)

	// Source prepared once, all three formats built.
	assert.Equal(t, []string{"/srv/repos/mybook"}, env.prepared)
	assert.Equal(t, []string{
		"DC-mybook/html", "DC-mybook/single_html", "DC-mybook/pdf",
	}, env.built)

	// Archives land under the builds directory with deterministic names.
	assert.Equal(t, filepath.Join(d.cfg.BuildsDir, "1000000_mybook_html.tar.gz"),
		env.fetched["/tmp/DC-mybook_html.tar.gz"])
	assert.Equal(t, filepath.Join(d.cfg.BuildsDir, "1000000_mybook_single-html.tar.gz"),
		env.fetched["/tmp/DC-mybook_single_html.tar.gz"])

	// Metadata embedded in the archive carries the sidecar info but not the
	// raw build command.
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.files["/tmp/build_info.json"]), &info))
	assert.Equal(t, "SUSE Docs", info["product"])
	assert.Equal(t, true, info["build_status"])
	assert.NotContains(t, info, "dapscmd")
	assert.NotContains(t, info, "container_id")

	require.Len(t, notifier.succeeded, 3)
	assert.Equal(t, []string{"alice"}, notifier.succeeded[0].targets)
	assert.Equal(t, "1000000_mybook_html.tar.gz", notifier.succeeded[0].detail)

	// Job slot released, container removed.
	running, queued := d.store.Counts()
	assert.Zero(t, running)
	assert.Equal(t, 1, queued)
	assert.True(t, env.killed)
}

func TestProcessFailureWritesLogAndNotifies(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	env := newFakeEnv("c1")
	env.failFormats["html"] = true
	d, notifier := newTestDaemon(t, repo, env)

	d.checkProjects(context.Background())
	job := promoteOne(t, d)
	d.process(context.Background(), job)

	logPath := filepath.Join(d.cfg.LogDir, "build_fail_DC-mybook_html_1000000.log")
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "log for html", string(content))

	require.Len(t, notifier.failed, 1)
	assert.Equal(t, "html", notifier.failed[0].format)
	assert.Equal(t, logPath, notifier.failed[0].detail)

	// A failing first format does not halt the remaining ones.
	assert.Len(t, env.built, 3)
	assert.Len(t, notifier.succeeded, 2)
	assert.True(t, env.killed)
}

func TestDebugModeKeepsContainerAndCommand(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	env := newFakeEnv("c1")
	d, _ := newTestDaemon(t, repo, env)
	d.cfg.Debug = true

	d.checkProjects(context.Background())
	job := promoteOne(t, d)
	d.process(context.Background(), job)

	assert.False(t, env.killed)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.files["/tmp/build_info.json"]), &info))
	assert.Equal(t, "c1", info["container_id"])
	assert.Contains(t, info["dapscmd"], "daps -d")
}

func TestPromoteDispatchesUpToLimit(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	env := newFakeEnv("c1")
	d, _ := newTestDaemon(t, repo, env)
	d.cfg.MaxContainers = 1

	d.checkProjects(context.Background())
	d.promote(context.Background())
	d.wg.Wait()

	// Only the queue head ran; the second DC file is still waiting.
	running, queued := d.store.Counts()
	assert.Zero(t, running)
	assert.Equal(t, 1, queued)
	require.Len(t, env.built, 3)
	assert.Equal(t, "DC-mybook/html", env.built[0])

	d.promote(context.Background())
	d.wg.Wait()
	running, queued = d.store.Counts()
	assert.Zero(t, running)
	assert.Zero(t, queued)
	require.Len(t, env.built, 6)
	assert.Equal(t, "DC-other/html", env.built[3])
}

func TestSpawnFailureReleasesSlotAndNotifiesOnce(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	d, notifier := newTestDaemon(t, repo, nil)
	d.runtime = &fakeRuntime{spawnErr: fmt.Errorf("docker daemon unreachable")}

	d.checkProjects(context.Background())
	job := promoteOne(t, d)
	d.process(context.Background(), job)

	// The slot is released even though nothing was built.
	running, _ := d.store.Counts()
	assert.Zero(t, running)

	require.Len(t, notifier.failed, 1)
	assert.Equal(t, "spawn", notifier.failed[0].format)

	content, err := os.ReadFile(notifier.failed[0].detail)
	require.NoError(t, err)
	assert.Contains(t, string(content), "docker daemon unreachable")
}

func TestStartupChecksFailWithoutRepository(t *testing.T) {
	d, _ := newTestDaemon(t, nil, newFakeEnv("c1"))

	err := d.startupChecks(context.Background())
	require.Error(t, err)
}

func TestProcessRecordsLifecycleEvents(t *testing.T) {
	repo := &fakeRepo{commit: "abc123"}
	env := newFakeEnv("c1")
	d, _ := newTestDaemon(t, repo, env)

	events, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = events.Close() }()
	d.events = events

	d.checkProjects(context.Background())
	job := promoteOne(t, d)
	d.process(context.Background(), job)

	history, err := events.HistoryForJob(context.Background(), job.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range history {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		eventstore.EventQueued,
		eventstore.EventStarted,
		eventstore.EventBuildSucceeded,
		eventstore.EventBuildSucceeded,
		eventstore.EventBuildSucceeded,
		eventstore.EventFinished,
	}, types)
}
