package world

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/anima-runtime/anima/pkg/bus"
)

// Watcher streams filesystem events from the observed root onto the bus and
// into the model. fsnotify watches are per-directory, so the initial scan
// registers every subdirectory and newly created directories are added on
// the fly.
type Watcher struct {
	root     string
	excluded []string
	bus      *bus.Bus
	model    *Model
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher over root. Excluded names match any path
// segment (the being's own output directories, dotted directories).
func NewWatcher(root string, b *bus.Bus, model *Model, excluded ...string) *Watcher {
	return &Watcher{
		root:     root,
		excluded: excluded,
		bus:      b,
		model:    model,
		logger:   slog.Default().With("component", "world"),
	}
}

// Start scans the root, announces world.ready, and launches the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	fileCount := 0
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if path != w.root && w.isExcluded(path) {
				return filepath.SkipDir
			}
			if addErr := fsw.Add(path); addErr != nil {
				w.logger.Warn("Failed to watch directory", "path", path, "error", addErr)
			}
			return nil
		}
		fileCount++
		return nil
	})
	if err != nil {
		_ = fsw.Close()
		return err
	}

	w.model.SetFileCount(fileCount)
	w.bus.Publish(ctx, bus.TopicWorldReady, map[string]any{"file_count": fileCount})
	w.logger.Info("World watcher started", "root", w.root, "file_count", fileCount)

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

// Stop cancels the loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	_ = w.fsw.Close()
	w.cancel = nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.isExcluded(ev.Name) {
		return
	}

	var kind, topic string
	switch {
	case ev.Has(fsnotify.Create):
		// New directories must be registered for their own events.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
		kind, topic = KindCreated, bus.TopicFileCreated
	case ev.Has(fsnotify.Write):
		kind, topic = KindChanged, bus.TopicFileChanged
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind, topic = KindDeleted, bus.TopicFileDeleted
	default:
		return // chmod and friends are noise
	}

	w.model.RecordChange(kind, ev.Name)
	w.bus.Publish(context.Background(), topic, map[string]any{"path": ev.Name})
}

func (w *Watcher) isExcluded(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(segment, ".") && segment != "." {
			return true
		}
		for _, ex := range w.excluded {
			if segment == ex {
				return true
			}
		}
	}
	return false
}
