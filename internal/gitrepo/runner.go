// Package gitrepo owns the lifecycle of the local mirror repository
// and its remote: initialization, bootstrap, tracking setup, and the
// commit/push pipeline. All git interaction goes through the Runner
// interface so the state machine can be exercised without a git binary.
package gitrepo

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a git subcommand rooted at a repository directory and
// returns its combined output/diagnostic stream.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner implements Runner by shelling out to the git command
type ExecRunner struct{}

// NewExecRunner creates a runner backed by the git binary.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes git with the given arguments in dir. On failure the
// returned error carries the combined output for classification.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	output := string(out)
	if err != nil {
		return output, &CommandError{Args: args, Output: output, Err: err}
	}
	return output, nil
}

// CommandError records a failed git invocation together with its
// captured output.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s: %s", msg, out)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}
