package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
)

// autoBuildWatcher reloads the autobuild configuration when its file
// changes, so projects can be added or removed without restarting the
// daemon.
type autoBuildWatcher struct {
	autobuild *config.AutoBuildConfig
	watcher   *fsnotify.Watcher
	path      string
	debounce  time.Duration
}

func newAutoBuildWatcher(autobuild *config.AutoBuildConfig) (*autoBuildWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path, err := filepath.Abs(autobuild.Path())
	if err != nil {
		watcher.Close()
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &autoBuildWatcher{
		autobuild: autobuild,
		watcher:   watcher,
		path:      path,
		debounce:  2 * time.Second,
	}, nil
}

func (w *autoBuildWatcher) start(ctx context.Context) {
	slog.Info("watching autobuild configuration", logfields.Path(w.path))
	go w.loop(ctx)
}

func (w *autoBuildWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Debounce editor save bursts into one reload.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("autobuild watcher error", logfields.Error(err))
		}
	}
}

func (w *autoBuildWatcher) reload() {
	if err := w.autobuild.Reload(); err != nil {
		slog.Error("autobuild reload failed, keeping previous projects",
			logfields.Path(w.path),
			logfields.Error(err))
		return
	}
	slog.Info("autobuild configuration reloaded",
		logfields.Path(w.path),
		slog.Int("projects", len(w.autobuild.Projects())))
}

func (w *autoBuildWatcher) stop() {
	_ = w.watcher.Close()
}
