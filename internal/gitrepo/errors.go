package gitrepo

import (
	"errors"
	"strings"
)

// Sentinel errors for the failure categories the reconciliation cycle
// distinguishes. Usable with errors.Is.
var (
	// ErrRemoteNotConfigured indicates no remote URL has been set; the
	// operator must configure one before syncing can proceed.
	ErrRemoteNotConfigured = errors.New("no remote URL configured; set repo.remote_url before syncing")

	// ErrRemoteUnreachable indicates the configured remote endpoint
	// could not be reached or does not exist.
	ErrRemoteUnreachable = errors.New("remote is unreachable")

	// ErrRemoteAhead indicates a push was rejected because the remote
	// has commits not present locally.
	ErrRemoteAhead = errors.New("remote has commits not present locally")

	// ErrNotADirectory indicates the repository root path exists but is
	// not a directory.
	ErrNotADirectory = errors.New("repository path exists but is not a directory")
)

// Category classifies a git diagnostic stream by known signatures.
type Category int

const (
	// CategoryUnknown means the output matched no known signature.
	CategoryUnknown Category = iota
	// CategoryFetchFirst means the remote rejected a push because it
	// has commits the local branch does not.
	CategoryFetchFirst
	// CategoryNoCommits means the repository has no commit history yet.
	CategoryNoCommits
	// CategoryNoRemote means the origin remote is not registered.
	CategoryNoRemote
	// CategoryNothingToCommit means the working tree was clean at
	// commit time.
	CategoryNothingToCommit
)

// Signatures holds the substrings used to classify git output. Git's
// human-readable diagnostics change across versions, so these are
// configuration values with defaults matching current git, not
// guarantees.
type Signatures struct {
	FetchFirst      string
	NoCommits       string
	NoRemote        string
	NothingToCommit string
}

// DefaultSignatures returns signatures matching current git output.
func DefaultSignatures() Signatures {
	return Signatures{
		FetchFirst:      "fetch first",
		NoCommits:       "ambiguous argument 'HEAD'",
		NoRemote:        "No such remote 'origin'",
		NothingToCommit: "nothing to commit",
	}
}

// Classify maps a combined output stream to a category by substring
// match. The first matching signature wins.
func (s Signatures) Classify(output string) Category {
	switch {
	case s.FetchFirst != "" && strings.Contains(output, s.FetchFirst):
		return CategoryFetchFirst
	case s.NoCommits != "" && strings.Contains(output, s.NoCommits):
		return CategoryNoCommits
	case s.NoRemote != "" && strings.Contains(output, s.NoRemote):
		return CategoryNoRemote
	case s.NothingToCommit != "" && strings.Contains(output, s.NothingToCommit):
		return CategoryNothingToCommit
	default:
		return CategoryUnknown
	}
}

// classifyErr extracts the output of a failed invocation and
// classifies it. Non-command errors are always unknown.
func (s Signatures) classifyErr(err error) Category {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return CategoryUnknown
	}
	return s.Classify(cmdErr.Output)
}
