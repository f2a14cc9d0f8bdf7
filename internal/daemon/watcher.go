package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/dotsyncd/internal/config"
	"github.com/schaermu/dotsyncd/internal/gitrepo"
)

// startWatcher watches the tracked directories and the parent
// directories of tracked files, feeding the debouncer on any change.
// Watching is best-effort: paths that cannot be watched are logged and
// skipped.
func (d *Daemon) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	watched := 0
	for _, p := range d.watchPaths() {
		if err := watcher.Add(p); err != nil {
			d.logger.Warn("failed to watch path", "path", p, "error", err)
			continue
		}
		watched++
	}
	d.logger.Info("watching tracked paths", "count", watched)

	go d.runWatcher(ctx, watcher)
	return nil
}

func (d *Daemon) runWatcher(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				d.logger.Debug("filesystem change detected", "path", ev.Name, "op", ev.Op.String())
				// fsnotify watches are not recursive; directories
				// created under a watched path are added as they appear.
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						if err := watcher.Add(ev.Name); err != nil {
							d.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
						}
					}
				}
				d.debounce.trigger()
			}
		case err := <-watcher.Errors:
			d.logger.Warn("watcher error", "error", err)
		case <-ctx.Done():
			_ = watcher.Close()
			return
		}
	}
}

// watchPaths expands the tracked entries into watchable directories:
// every tracked directory together with its subdirectories (fsnotify
// watches are not recursive), and the parent directories of tracked
// files. Nested repositories are skipped, matching the mirror.
func (d *Daemon) watchPaths() []string {
	var paths []string
	seen := make(map[string]bool)

	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		if _, err := os.Stat(p); err != nil {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	addTree := func(root string) {
		_ = filepath.WalkDir(root, func(p string, entry fs.DirEntry, err error) error {
			if err != nil || !entry.IsDir() {
				return nil
			}
			if p != root && gitrepo.IsRepository(p) {
				return filepath.SkipDir
			}
			add(p)
			return nil
		})
	}

	for _, dir := range d.cfg.Track.Dirs {
		if p, err := config.ExpandHome(dir); err == nil {
			addTree(p)
		}
	}
	for _, file := range d.cfg.Track.Files {
		if p, err := config.ExpandHome(file); err == nil {
			add(filepath.Dir(p))
		}
	}
	return paths
}
