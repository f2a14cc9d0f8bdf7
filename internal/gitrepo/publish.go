package gitrepo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// commitPrefix starts every commit message dotsyncd writes.
const commitPrefix = "dotsyncd:"

// maxMessageFiles caps the number of paths enumerated in a
// list-of-files commit message.
const maxMessageFiles = 10

// Publish commits and pushes pending working-tree changes. It returns
// published=false when the working tree is clean (a no-op, not an
// error). A push rejected because the remote is ahead is recovered
// exactly once via fetch-rebase-retry; any other failure, or a second
// push failure, is terminal for this cycle.
func (m *Manager) Publish(ctx context.Context) (bool, error) {
	out, err := m.runner.Run(ctx, m.opts.Dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to query working tree status: %w", err)
	}

	changed := parseStatus(out)
	if len(changed) == 0 {
		m.logger.Debug("working tree clean, nothing to publish")
		return false, nil
	}

	if _, err := m.runner.Run(ctx, m.opts.Dir, "add", "."); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}

	msg := m.commitMessage(changed)
	if _, err := m.runner.Run(ctx, m.opts.Dir, "commit", "-m", msg); err != nil {
		// Staging can leave nothing behind when every change was
		// ignored; that is a clean tree, not a failure.
		if m.opts.Signatures.classifyErr(err) == CategoryNothingToCommit {
			m.logger.Debug("nothing to commit after staging")
			return false, nil
		}
		return false, fmt.Errorf("failed to commit: %w", err)
	}

	if err := m.push(ctx); err != nil {
		return false, err
	}

	m.logger.Info("published changes", "files", len(changed))
	return true, nil
}

// push pushes the current branch, recovering from a remote-ahead
// rejection with exactly one fetch-rebase-retry.
func (m *Manager) push(ctx context.Context) error {
	_, err := m.runner.Run(ctx, m.opts.Dir, "push")
	if err == nil {
		return nil
	}
	if m.opts.Signatures.classifyErr(err) != CategoryFetchFirst {
		return fmt.Errorf("failed to push: %w", err)
	}

	m.logger.Info("push rejected, remote is ahead; rebasing and retrying once")
	if _, err := m.runner.Run(ctx, m.opts.Dir, "pull", "--rebase"); err != nil {
		return fmt.Errorf("%w: rebase failed, resolve conflicts manually in %s: %v", ErrRemoteAhead, m.opts.Dir, err)
	}
	if _, err := m.runner.Run(ctx, m.opts.Dir, "push"); err != nil {
		return fmt.Errorf("%w: push failed again after rebase: %v", ErrRemoteAhead, err)
	}
	return nil
}

// commitMessage composes a deterministic message from either the
// changed path list or host/user identity plus a timestamp.
func (m *Manager) commitMessage(changed []string) string {
	if m.opts.ListChangedFiles {
		shown := changed
		extra := 0
		if len(shown) > maxMessageFiles {
			extra = len(shown) - maxMessageFiles
			shown = shown[:maxMessageFiles]
		}
		msg := fmt.Sprintf("%s update %s", commitPrefix, strings.Join(shown, ", "))
		if extra > 0 {
			msg = fmt.Sprintf("%s (+%d more)", msg, extra)
		}
		return sanitizeMessage(msg)
	}

	id := currentIdentity()
	return sanitizeMessage(fmt.Sprintf("%s sync from %s@%s at %s",
		commitPrefix, id.User, id.Host, time.Now().UTC().Format(time.RFC3339)))
}

// parseStatus extracts the changed paths from porcelain status output.
func parseStatus(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames are listed as "old -> new"; keep the new path.
		if i := strings.LastIndex(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// sanitizeMessage strips control characters that would garble the
// commit subject line.
func sanitizeMessage(msg string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, msg)
}

func trimOutput(out string) string {
	return strings.TrimSpace(out)
}
