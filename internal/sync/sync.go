// Package sync sequences one reconciliation cycle: repository setup,
// ignore file refresh, mirroring of tracked paths, and publishing.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/dotsyncd/internal/config"
	"github.com/schaermu/dotsyncd/internal/gitrepo"
	"github.com/schaermu/dotsyncd/internal/ignore"
	"github.com/schaermu/dotsyncd/internal/notify"
)

// Repository is the repository lifecycle the orchestrator drives.
type Repository interface {
	// Ensure brings the repository into a publishable state.
	Ensure(ctx context.Context) error
	// Publish commits and pushes pending changes.
	Publish(ctx context.Context) (bool, error)
	// Dir returns the repository root path.
	Dir() string
}

// Mirrorer copies tracked sources into the repository working tree.
type Mirrorer interface {
	MirrorDir(src, dest string) (int, error)
	MirrorFile(src, destDir string) (int, error)
}

// Orchestrator runs reconciliation cycles. It holds no state between
// cycles; everything is re-derived per run so out-of-band changes to
// the repository are picked up.
type Orchestrator struct {
	cfg      *config.Config
	repo     Repository
	mirrorer Mirrorer
	notifier notify.Notifier
	logger   *slog.Logger
	dryRun   bool
	homeDir  string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg *config.Config, repo Repository, mirrorer Mirrorer, notifier notify.Notifier, logger *slog.Logger, dryRun bool) *Orchestrator {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		mirrorer: mirrorer,
		notifier: notifier,
		logger:   logger,
		dryRun:   dryRun,
		homeDir:  home,
	}
}

// Run executes one reconciliation cycle: ensure repository → refresh
// ignore file → mirror tracked directories and files → publish. The
// first setup failure short-circuits the rest of the cycle; mirror
// failures on individual paths are logged and skipped. Run never
// panics and is safe to call again on the next schedule regardless of
// the outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting sync cycle",
		"repo", o.cfg.Repo.LocalDir,
		"dirs", len(o.cfg.Track.Dirs),
		"files", len(o.cfg.Track.Files),
		"dry_run", o.dryRun)

	if o.dryRun {
		o.logPlan()
		o.logger.Info("dry-run complete, no changes applied")
		return nil
	}

	if err := o.repo.Ensure(ctx); err != nil {
		err = fmt.Errorf("repository setup failed: %w", err)
		o.notifyFailure(ctx, err)
		return err
	}

	if _, err := ignore.RefreshFile(filepath.Join(o.repo.Dir(), ".gitignore"), o.cfg.Ignore.Patterns); err != nil {
		err = fmt.Errorf("failed to refresh ignore file: %w", err)
		o.notifyFailure(ctx, err)
		return err
	}

	changed := o.mirrorAll()

	published, err := o.repo.Publish(ctx)
	if err != nil {
		err = fmt.Errorf("publish failed: %w", err)
		o.notifyFailure(ctx, err)
		return err
	}

	if published {
		o.notifier.Notify(ctx, "Dotfiles synced", "Changes committed and pushed to the remote.")
	}
	o.logger.Info("sync cycle completed", "mirrored", changed, "published", published)
	return nil
}

// mirrorAll mirrors every tracked directory and file, best-effort.
func (o *Orchestrator) mirrorAll() int {
	changed := 0

	for _, dir := range o.cfg.Track.Dirs {
		src, err := config.ExpandHome(dir)
		if err != nil {
			o.logger.Warn("skipping tracked directory", "dir", dir, "error", err)
			continue
		}
		// A tracked directory that is itself a repository is managed
		// elsewhere and never mirrored.
		if gitrepo.IsRepository(src) {
			o.logger.Info("tracked directory is a repository, skipping", "dir", src)
			continue
		}
		n, err := o.mirrorer.MirrorDir(src, o.destFor(src))
		if err != nil {
			o.logger.Warn("failed to mirror directory", "dir", src, "error", err)
			continue
		}
		changed += n
	}

	for _, file := range o.cfg.Track.Files {
		src, err := config.ExpandHome(file)
		if err != nil {
			o.logger.Warn("skipping tracked file", "file", file, "error", err)
			continue
		}
		n, err := o.mirrorer.MirrorFile(src, filepath.Dir(o.destFor(src)))
		if err != nil {
			o.logger.Warn("failed to mirror file", "file", src, "error", err)
			continue
		}
		changed += n
	}

	return changed
}

// destFor maps a tracked source path to its location inside the
// repository working tree. Paths under the home directory keep their
// home-relative layout; anything else lands under its base name.
func (o *Orchestrator) destFor(src string) string {
	if o.homeDir != "" {
		if rel, err := filepath.Rel(o.homeDir, src); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
			return filepath.Join(o.repo.Dir(), rel)
		}
	}
	return filepath.Join(o.repo.Dir(), filepath.Base(src))
}

func (o *Orchestrator) logPlan() {
	for _, dir := range o.cfg.Track.Dirs {
		src, err := config.ExpandHome(dir)
		if err != nil {
			continue
		}
		o.logger.Info("[dry-run] would mirror directory", "src", src, "dest", o.destFor(src))
	}
	for _, file := range o.cfg.Track.Files {
		src, err := config.ExpandHome(file)
		if err != nil {
			continue
		}
		o.logger.Info("[dry-run] would mirror file", "src", src, "dest", o.destFor(src))
	}
}

func (o *Orchestrator) notifyFailure(ctx context.Context, err error) {
	o.logger.Error("sync cycle failed", "error", err)
	o.notifier.Notify(ctx, "Dotfiles sync failed", err.Error())
}
