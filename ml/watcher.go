package ml

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ArtifactWatcher reports changes to artifact files on disk. Artifacts are
// never reloaded in place; a change only means the running process is serving
// a stale bundle until it is restarted.
type ArtifactWatcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]struct{}
	logger   *zap.Logger
	OnChange func(path string, op fsnotify.Op)
}

func NewArtifactWatcher(paths ArtifactPaths, logger *zap.Logger) (*ArtifactWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	files := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, file := range paths.Files() {
		abs, err := filepath.Abs(file)
		if err != nil {
			abs = file
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	// Parent directories, so replace-by-rename is still seen.
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	return &ArtifactWatcher{
		watcher: w,
		files:   files,
		logger:  logger,
	}, nil
}

// Run blocks until ctx is done or the watcher is closed.
func (aw *ArtifactWatcher) Run(ctx context.Context) {
	defer aw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			aw.handle(event)
		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return
			}
			aw.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (aw *ArtifactWatcher) handle(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		abs = event.Name
	}
	if _, ok := aw.files[abs]; !ok {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	aw.logger.Warn("artifact changed on disk, restart to load it",
		zap.String("path", abs),
		zap.String("op", event.Op.String()),
	)
	if aw.OnChange != nil {
		aw.OnChange(abs, event.Op)
	}
}
