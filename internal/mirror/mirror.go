// Package mirror copies tracked source trees into the repository
// working tree, honoring ignore patterns, skipping nested repositories,
// and propagating deletions made at the source.
package mirror

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/dotsyncd/internal/gitrepo"
	"github.com/schaermu/dotsyncd/internal/ignore"
)

// Engine performs one-way, best-effort mirroring. Failures on
// individual entries are logged and skipped; they never abort the
// mirror of sibling entries.
type Engine struct {
	patterns         []string
	baseDir          string
	deleteExtraneous bool
	logger           *slog.Logger
}

// NewEngine creates a mirror engine. Ignore patterns are interpreted
// relative to baseDir (typically the home directory). When
// deleteExtraneous is set, destination entries absent from (or ignored
// in) the source are removed.
func NewEngine(patterns []string, baseDir string, deleteExtraneous bool, logger *slog.Logger) *Engine {
	return &Engine{
		patterns:         patterns,
		baseDir:          baseDir,
		deleteExtraneous: deleteExtraneous,
		logger:           logger,
	}
}

// MirrorDir mirrors the directory tree at src into dest. It returns
// the number of entries copied or deleted. Only a missing or unreadable
// source root, or a non-directory occupying dest, is an error; entry
// level failures are logged and skipped.
func (e *Engine) MirrorDir(src, dest string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("source is not a directory: %s", src)
	}
	if err := ensureDir(dest); err != nil {
		return 0, err
	}
	return e.mirrorTree(src, dest), nil
}

// MirrorFile mirrors a single tracked file into destDir under the same
// base name. A source file that vanished removes the previously
// mirrored copy, so deletions made by the user propagate.
func (e *Engine) MirrorFile(src, destDir string) (int, error) {
	if ignore.Match(src, e.patterns, e.baseDir) {
		return 0, nil
	}
	destPath := filepath.Join(destDir, filepath.Base(src))

	if _, err := os.Stat(src); err != nil {
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("failed to stat tracked file: %w", err)
		}
		if _, err := os.Stat(destPath); err != nil {
			return 0, nil
		}
		e.logger.Info("tracked file removed at source, deleting mirror copy", "path", destPath)
		if err := os.Remove(destPath); err != nil {
			return 0, fmt.Errorf("failed to delete mirror copy: %w", err)
		}
		return 1, nil
	}

	if err := ensureDir(destDir); err != nil {
		return 0, err
	}
	if err := copyFile(src, destPath); err != nil {
		return 0, fmt.Errorf("failed to copy tracked file: %w", err)
	}
	return 1, nil
}

// mirrorTree recursively mirrors the entries of src into dest and
// reports how many entries changed.
func (e *Engine) mirrorTree(src, dest string) int {
	entries, err := os.ReadDir(src)
	if err != nil {
		e.logger.Warn("failed to read source directory, skipping", "dir", src, "error", err)
		return 0
	}

	changed := 0
	mirrored := make(map[string]bool, len(entries))

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		destPath := filepath.Join(dest, entry.Name())

		// Nested repositories are never flattened into the mirror.
		if entry.IsDir() && gitrepo.IsRepository(srcPath) {
			e.logger.Debug("skipping nested repository", "dir", srcPath)
			continue
		}
		if ignore.Match(srcPath, e.patterns, e.baseDir) {
			continue
		}

		// The entry exists in the source and is not ignored; a prior
		// mirror copy is retained even when copying it fails below,
		// otherwise a transient read failure would propagate as a
		// committed deletion.
		mirrored[entry.Name()] = true

		switch {
		case entry.IsDir():
			if err := ensureDir(destPath); err != nil {
				e.logger.Warn("failed to create mirror directory, skipping", "dir", destPath, "error", err)
				continue
			}
			changed += e.mirrorTree(srcPath, destPath)

		case entry.Type().IsRegular():
			if err := copyFile(srcPath, destPath); err != nil {
				e.logger.Warn("failed to copy file, skipping", "file", srcPath, "error", err)
				continue
			}
			changed++

		default:
			// Symlinks, sockets and such are not mirrored.
			e.logger.Debug("skipping non-regular file", "file", srcPath)
		}
	}

	if e.deleteExtraneous {
		changed += e.pruneExtraneous(dest, mirrored)
	}
	return changed
}

// pruneExtraneous removes dest entries that were not mirrored this
// pass, so the mirror reflects deletions (and newly ignored entries)
// at the source.
func (e *Engine) pruneExtraneous(dest string, mirrored map[string]bool) int {
	entries, err := os.ReadDir(dest)
	if err != nil {
		e.logger.Warn("failed to read mirror directory for pruning", "dir", dest, "error", err)
		return 0
	}

	deleted := 0
	for _, entry := range entries {
		if mirrored[entry.Name()] {
			continue
		}
		path := filepath.Join(dest, entry.Name())
		e.logger.Info("removing extraneous mirror entry", "path", path)
		if err := os.RemoveAll(path); err != nil {
			e.logger.Warn("failed to remove extraneous entry", "path", path, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}

// ensureDir creates dir if missing and fails if a non-directory
// occupies the path.
func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("mirror destination exists but is not a directory: %s", dir)
	}
	return nil
}

// copyFile copies src to dst with an atomic write, preserving the
// source file mode.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".dotsyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
