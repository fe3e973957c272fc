package autosync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/workspace-sync/internal/workspace"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports local edits under a workspace root. Bursts of events
// are coalesced: notify is called once the tree has been quiet for the
// debounce period.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the workspace at root.
func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{root: root, debounce: debounce, logger: logger}
}

// Watch monitors the workspace until ctx is cancelled, calling notify
// after each quiet period that followed a relevant change.
func (w *Watcher) Watch(ctx context.Context, notify func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher); err != nil {
		return fmt.Errorf("adding workspace to watcher: %w", err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if w.handleEvent(watcher, event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			// Non-fatal (e.g. too many watches). The scheduled interval
			// still picks up anything missed here.
			w.logger.Warn("autosync: watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			notify()
		}
	}
}

// handleEvent keeps the watch list current and reports whether the
// event is a change a sync could push.
func (w *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if w.shouldIgnore(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		// Lstat so symlinked directories outside the workspace are not
		// followed.
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		_ = watcher.Remove(event.Name)
	}

	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// addRecursive adds the root and every non-ignored directory below it.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// shouldIgnore returns true for paths whose changes never need a push:
// hidden entries (metadata, lock and temp files), editor backups, and
// exported conversations, which only ever flow from remote to local.
func (w *Watcher) shouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}

	name := filepath.Base(absPath)

	if strings.HasPrefix(name, ".") {
		return true
	}

	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return true
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ".") {
			return true
		}

		if i == 0 && part == workspace.StandaloneDir {
			return true
		}

		if i == 1 && part == workspace.ConversationsDir {
			return true
		}
	}

	return false
}
