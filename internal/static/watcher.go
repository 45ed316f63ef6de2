package static

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/taziji/ChinaRMBSite/internal/metrics"
)

// WatchRoot monitors the document root tree and drops cached entries
// as files change on disk. It runs until ctx is cancelled.
//
// fsnotify watches are per-directory, so the tree is walked once at
// startup and newly created directories are added as they appear. A
// missed event never corrupts serving; at worst an entry stays cached
// until its TTL expires.
func WatchRoot(ctx context.Context, root string, cache *ContentCache, cacheMetrics *metrics.CacheMetrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addTree(watcher, root); err != nil {
		return err
	}

	slog.Info("watching document root for changes", "root", root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						slog.Warn("watching new directory failed", "path", event.Name, "err", err)
					}
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if cache.Invalidate(event.Name) {
				if cacheMetrics != nil {
					cacheMetrics.Invalidations.Inc()
				}
				slog.Debug("invalidated cached file", "path", event.Name, "op", event.Op.String())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("filesystem watcher error", "err", err)
		}
	}
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
