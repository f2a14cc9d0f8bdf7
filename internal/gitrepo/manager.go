package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
)

// markerDir is the subdirectory whose presence marks a git repository
// root. Also used by the mirror engine to detect nested repositories.
const markerDir = ".git"

// bootstrapFile is the placeholder committed when the repository has no
// history yet. Git refuses to push a tracking reference for a branch
// without commits, so the first cycle seeds one.
const bootstrapFile = ".dotsyncd"

// Options configures a Manager.
type Options struct {
	// Dir is the repository root path.
	Dir string
	// RemoteURL is the origin URL; may be empty until configured.
	RemoteURL string
	// Branch is the primary branch name.
	Branch string
	// Signatures classify git diagnostics; zero value means defaults.
	Signatures Signatures
	// ListChangedFiles switches the commit message to an enumeration
	// of changed paths instead of host/user/timestamp.
	ListChangedFiles bool
}

// Manager drives the repository lifecycle state machine and the
// publish pipeline. State is never cached between cycles; every call
// re-derives it from the filesystem and git metadata, since the
// repository may be modified out-of-band between runs.
type Manager struct {
	opts   Options
	runner Runner
	logger *slog.Logger
}

// NewManager creates a repository manager.
func NewManager(opts Options, runner Runner, logger *slog.Logger) *Manager {
	if opts.Signatures == (Signatures{}) {
		opts.Signatures = DefaultSignatures()
	}
	return &Manager{opts: opts, runner: runner, logger: logger}
}

// Dir returns the repository root path.
func (m *Manager) Dir() string {
	return m.opts.Dir
}

// IsRepository reports whether path contains a repository marker.
func IsRepository(path string) bool {
	info, err := os.Stat(filepath.Join(path, markerDir))
	return err == nil && info.IsDir()
}

// Ensure brings the repository into a publishable state: root
// directory present, repository initialized, remote registered, at
// least one commit, remote reachable, primary branch checked out and
// tracking its remote counterpart. Each step is a precondition for the
// next; the first failure aborts the rest.
func (m *Manager) Ensure(ctx context.Context) error {
	if err := m.ensureRootDir(); err != nil {
		return err
	}
	if err := m.ensureInitialized(ctx); err != nil {
		return err
	}
	if err := m.ensureRemote(ctx); err != nil {
		return err
	}
	if err := m.ensureBootstrapCommit(ctx); err != nil {
		return err
	}
	if err := m.checkRemoteReachable(ctx); err != nil {
		return err
	}
	if err := m.ensureBranch(ctx); err != nil {
		return err
	}
	return m.ensureTracking(ctx)
}

func (m *Manager) ensureRootDir() error {
	info, err := os.Stat(m.opts.Dir)
	if os.IsNotExist(err) {
		m.logger.Info("creating repository directory", "dir", m.opts.Dir)
		if err := os.MkdirAll(m.opts.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create repository directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat repository directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, m.opts.Dir)
	}
	return nil
}

func (m *Manager) ensureInitialized(ctx context.Context) error {
	if IsRepository(m.opts.Dir) {
		return nil
	}
	m.logger.Info("initializing repository", "dir", m.opts.Dir)
	if _, err := m.runner.Run(ctx, m.opts.Dir, "init"); err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	return nil
}

func (m *Manager) ensureRemote(ctx context.Context) error {
	if m.opts.RemoteURL == "" {
		return ErrRemoteNotConfigured
	}

	_, err := m.runner.Run(ctx, m.opts.Dir, "remote", "get-url", "origin")
	if err == nil {
		return nil
	}
	if m.opts.Signatures.classifyErr(err) != CategoryNoRemote {
		return fmt.Errorf("failed to query remote: %w", err)
	}

	m.logger.Info("registering remote", "url", m.opts.RemoteURL)
	if _, err := m.runner.Run(ctx, m.opts.Dir, "remote", "add", "origin", m.opts.RemoteURL); err != nil {
		return fmt.Errorf("failed to register remote: %w", err)
	}
	return nil
}

func (m *Manager) ensureBootstrapCommit(ctx context.Context) error {
	_, err := m.runner.Run(ctx, m.opts.Dir, "rev-parse", "HEAD")
	if err == nil {
		return nil
	}
	if m.opts.Signatures.classifyErr(err) != CategoryNoCommits {
		return fmt.Errorf("failed to probe commit history: %w", err)
	}

	id := currentIdentity()
	m.logger.Info("creating bootstrap commit", "host", id.Host, "user", id.User)

	content := fmt.Sprintf("dotfiles mirror for %s@%s\n", id.User, id.Host)
	path := filepath.Join(m.opts.Dir, bootstrapFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write bootstrap file: %w", err)
	}

	if _, err := m.runner.Run(ctx, m.opts.Dir, "add", "."); err != nil {
		return fmt.Errorf("failed to stage bootstrap file: %w", err)
	}
	if _, err := m.runner.Run(ctx, m.opts.Dir, "commit", "-m", commitPrefix+" bootstrap"); err != nil {
		return fmt.Errorf("failed to create bootstrap commit: %w", err)
	}
	return nil
}

func (m *Manager) checkRemoteReachable(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, m.opts.Dir, "ls-remote", m.opts.RemoteURL); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	return nil
}

func (m *Manager) ensureBranch(ctx context.Context) error {
	out, err := m.runner.Run(ctx, m.opts.Dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("failed to query current branch: %w", err)
	}
	current := trimOutput(out)
	if current == m.opts.Branch {
		return nil
	}

	m.logger.Info("switching to primary branch", "from", current, "to", m.opts.Branch)
	if _, err := m.runner.Run(ctx, m.opts.Dir, "checkout", "-b", m.opts.Branch); err != nil {
		// The branch may already exist; a plain checkout is the
		// fallback before giving up.
		if _, err2 := m.runner.Run(ctx, m.opts.Dir, "checkout", m.opts.Branch); err2 != nil {
			return fmt.Errorf("failed to switch to branch %s: %w", m.opts.Branch, err)
		}
	}
	return nil
}

func (m *Manager) ensureTracking(ctx context.Context) error {
	// An existing upstream means tracking was already established.
	if _, err := m.runner.Run(ctx, m.opts.Dir, "rev-parse", "--abbrev-ref", m.opts.Branch+"@{upstream}"); err == nil {
		return nil
	}

	m.logger.Info("establishing tracking branch", "branch", m.opts.Branch)
	_, err := m.runner.Run(ctx, m.opts.Dir, "push", "--set-upstream", "origin", m.opts.Branch)
	if err == nil {
		return nil
	}
	if m.opts.Signatures.classifyErr(err) == CategoryFetchFirst {
		// Recovery here would race the publish pipeline's own
		// conflict handling. Tell the operator what to do instead.
		return fmt.Errorf("remote %s already has commits; run 'git fetch' and 'git rebase origin/%s' in %s, then sync again: %w",
			m.opts.RemoteURL, m.opts.Branch, m.opts.Dir, err)
	}
	return fmt.Errorf("failed to establish tracking branch: %w", err)
}

// identity names the host and operator for bootstrap content and
// commit messages.
type identity struct {
	Host string
	User string
}

func currentIdentity() identity {
	id := identity{Host: "unknown", User: "unknown"}
	if host, err := os.Hostname(); err == nil && host != "" {
		id.Host = host
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		id.User = u.Username
	} else if name := os.Getenv("USER"); name != "" {
		id.User = name
	}
	return id
}
