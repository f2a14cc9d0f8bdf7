//go:build integration

// End-to-end sync scenarios against a real git binary and a local bare
// repository standing in for the remote. No network, no containers.
package integration

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/schaermu/dotsyncd/internal/config"
	"github.com/schaermu/dotsyncd/internal/gitrepo"
	"github.com/schaermu/dotsyncd/internal/mirror"
	"github.com/schaermu/dotsyncd/internal/notify"
	"github.com/schaermu/dotsyncd/internal/sync"
)

type env struct {
	home      string
	repoDir   string
	remoteDir string
	cfg       *config.Config
	logger    *slog.Logger
}

// newEnv builds an isolated home directory, a bare "remote", and a
// global git config with identity and master as the init default so
// branch normalization gets exercised.
func newEnv(t *testing.T) *env {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")

	gitConfig := filepath.Join(t.TempDir(), "gitconfig")
	configBody := strings.Join([]string{
		"[user]",
		"\tname = Integration Test",
		"\temail = test@example.invalid",
		"[init]",
		"\tdefaultBranch = master",
		"",
	}, "\n")
	if err := os.WriteFile(gitConfig, []byte(configBody), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GIT_CONFIG_GLOBAL", gitConfig)

	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	runGit(t, "", "init", "--bare", remoteDir)

	e := &env{
		home:      home,
		repoDir:   filepath.Join(home, ".dotfiles-mirror"),
		remoteDir: remoteDir,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}

	cfg := &config.Config{}
	cfg.Repo.LocalDir = e.repoDir
	cfg.Repo.RemoteURL = remoteDir
	cfg.Repo.Branch = config.DefaultBranch
	cfg.Track.Dirs = []string{filepath.Join(home, ".config", "nvim")}
	cfg.Track.Files = []string{filepath.Join(home, ".vimrc")}
	cfg.Ignore.Patterns = []string{"*.log"}
	cfg.Sync.DeleteExtraneous = true
	e.cfg = cfg
	return e
}

func (e *env) orchestrator() *sync.Orchestrator {
	manager := gitrepo.NewManager(gitrepo.Options{
		Dir:       e.cfg.Repo.LocalDir,
		RemoteURL: e.cfg.Repo.RemoteURL,
		Branch:    e.cfg.Repo.Branch,
	}, gitrepo.NewExecRunner(), e.logger)
	engine := mirror.NewEngine(e.cfg.Ignore.Patterns, e.home, e.cfg.Sync.DeleteExtraneous, e.logger)
	return sync.NewOrchestrator(e.cfg, manager, engine, notify.Nop{}, e.logger, false)
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func commitCount(t *testing.T, dir, ref string) int {
	t.Helper()
	out := runGit(t, dir, "rev-list", "--count", ref)
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("unexpected rev-list output %q: %v", out, err)
	}
	return n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEndSync(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(e.home, ".vimrc"), "set nocompatible\n")
	writeFile(t, filepath.Join(e.home, ".config", "nvim", "init.lua"), "-- init\n")
	writeFile(t, filepath.Join(e.home, ".config", "nvim", "debug.log"), "noise\n")

	o := e.orchestrator()

	t.Run("FirstRunBootstrapsAndPublishes", func(t *testing.T) {
		if err := o.Run(ctx); err != nil {
			t.Fatalf("first run failed: %v", err)
		}

		// Bootstrap plus the sync commit, normalized onto main.
		if got := commitCount(t, e.repoDir, "main"); got != 2 {
			t.Errorf("expected 2 commits after first run, got %d", got)
		}
		if branch := strings.TrimSpace(runGit(t, e.repoDir, "rev-parse", "--abbrev-ref", "HEAD")); branch != "main" {
			t.Errorf("expected branch main, got %q", branch)
		}

		// Tracked paths mirrored with their home-relative layout.
		for _, rel := range []string{".vimrc", filepath.Join(".config", "nvim", "init.lua"), ".gitignore", ".dotsyncd"} {
			if _, err := os.Stat(filepath.Join(e.repoDir, rel)); err != nil {
				t.Errorf("expected %s in repository: %v", rel, err)
			}
		}
		if _, err := os.Stat(filepath.Join(e.repoDir, ".config", "nvim", "debug.log")); !os.IsNotExist(err) {
			t.Error("ignored file was mirrored")
		}

		// Everything pushed to the remote.
		if got := commitCount(t, e.remoteDir, "main"); got != 2 {
			t.Errorf("expected 2 commits on remote, got %d", got)
		}
	})

	t.Run("SecondRunIsNoOp", func(t *testing.T) {
		if err := o.Run(ctx); err != nil {
			t.Fatalf("second run failed: %v", err)
		}
		if got := commitCount(t, e.repoDir, "main"); got != 2 {
			t.Errorf("no-op run created commits, have %d", got)
		}
	})

	t.Run("ChangePublishesIncrement", func(t *testing.T) {
		writeFile(t, filepath.Join(e.home, ".vimrc"), "set nocompatible\nset number\n")
		if err := o.Run(ctx); err != nil {
			t.Fatalf("third run failed: %v", err)
		}
		if got := commitCount(t, e.repoDir, "main"); got != 3 {
			t.Errorf("expected 3 commits after change, got %d", got)
		}
		if got := commitCount(t, e.remoteDir, "main"); got != 3 {
			t.Errorf("expected 3 commits on remote, got %d", got)
		}
		data, err := os.ReadFile(filepath.Join(e.repoDir, ".vimrc"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "set number") {
			t.Errorf("mirror not refreshed: %q", string(data))
		}
	})

	t.Run("DeletionPropagates", func(t *testing.T) {
		if err := os.Remove(filepath.Join(e.home, ".config", "nvim", "init.lua")); err != nil {
			t.Fatal(err)
		}
		if err := o.Run(ctx); err != nil {
			t.Fatalf("deletion run failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(e.repoDir, ".config", "nvim", "init.lua")); !os.IsNotExist(err) {
			t.Error("deleted source still present in repository")
		}
	})
}

func TestEndToEndDivergedRemoteRecovers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(e.home, ".vimrc"), "set nocompatible\n")
	o := e.orchestrator()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("initial run failed: %v", err)
	}
	before := commitCount(t, e.remoteDir, "main")

	// Another machine pushes to the remote behind our back.
	other := filepath.Join(t.TempDir(), "other")
	runGit(t, "", "clone", "-b", "main", e.remoteDir, other)
	writeFile(t, filepath.Join(other, "from-other-host"), "hello\n")
	runGit(t, other, "add", ".")
	runGit(t, other, "commit", "-m", "change from another host")
	runGit(t, other, "push", "origin", "main")

	// Our next change must rebase over the foreign commit and push.
	writeFile(t, filepath.Join(e.home, ".vimrc"), "set nocompatible\nset ruler\n")
	if err := o.Run(ctx); err != nil {
		t.Fatalf("diverged run failed: %v", err)
	}

	if got := commitCount(t, e.remoteDir, "main"); got != before+2 {
		t.Errorf("expected %d commits on remote after recovery, got %d", before+2, got)
	}
	// The foreign commit survives the rebase.
	if _, err := os.Stat(filepath.Join(e.repoDir, "from-other-host")); err != nil {
		t.Errorf("foreign commit content missing after rebase: %v", err)
	}
}
