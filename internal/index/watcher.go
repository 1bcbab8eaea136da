package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/roster/internal/cache"
)

// EventCallback is called after a watcher-driven index change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the cache directory and keeps the index
// in step with it until ctx is cancelled. It calls cb (if non-nil) after
// each successful index mutation.
//
// Only top-level image files are tracked. Temp files written by the store
// during a download never match an image extension, so the final rename
// shows up as a single Create of the finished file.
func Watch(ctx context.Context, db EntryIndex, store *cache.Store, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(store.Dir()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("dir", store.Dir()))

	// reconcileTimer debounces full resyncs after renames.
	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if err := Sync(db, store, logger); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !cache.IsImageName(filepath.Base(ev.Name)) {
				continue
			}
			p := ev.Name

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if !store.Exists(p) {
					continue
				}
				if idxErr := indexFile(db, store, p); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", p), slog.String("error", idxErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: indexed", slog.String("path", p), slog.String("op", kind))
				if cb != nil {
					cb(kind, p)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path only; the new name, if it
				// stays in the directory, arrives as its own Create.
				if delErr := db.DeleteEntry(p); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", p), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", p))
				if cb != nil {
					cb("deleted", p)
				}
				if ev.Op&fsnotify.Rename != 0 {
					scheduleReconcile()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
