package gitrepo

import (
	"context"
	"strings"
	"testing"
)

func TestPublishNoChanges(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(args []string) (string, error) {
		if args[0] == "status" {
			return "", nil
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	published, err := m.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if published {
		t.Error("expected published=false for a clean tree")
	}
	// A clean tree performs no staging, commit, or push.
	for _, sub := range []string{"add", "commit", "push"} {
		if runner.countCalls(sub) != 0 {
			t.Errorf("unexpected %s call on clean tree: %v", sub, runner.calls)
		}
	}
}

func TestPublishCommitsAndPushes(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(args []string) (string, error) {
		if args[0] == "status" {
			return " M .vimrc\n?? .config/nvim/init.lua\n", nil
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	published, err := m.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if !published {
		t.Error("expected published=true")
	}
	for _, step := range [][]string{{"add", "."}, {"commit"}, {"push"}} {
		if runner.countCalls(step...) != 1 {
			t.Errorf("expected exactly one %v call, calls: %v", step, runner.calls)
		}
	}
}

func TestPublishCommitMessageIdentity(t *testing.T) {
	runner := &fakeRunner{}
	var message string
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return " M .vimrc\n", nil
		case "commit":
			message = args[2]
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	if _, err := m.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(message, "dotsyncd:") {
		t.Errorf("commit message missing prefix: %q", message)
	}
	if !strings.Contains(message, "@") {
		t.Errorf("commit message missing identity: %q", message)
	}
	if strings.ContainsAny(message, "\n\r") {
		t.Errorf("commit message contains control characters: %q", message)
	}
}

func TestPublishCommitMessageFileList(t *testing.T) {
	runner := &fakeRunner{}
	var message string
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return " M .vimrc\nR  old -> .zshrc\n", nil
		case "commit":
			message = args[2]
		}
		return "", nil
	}
	m := newTestManager(t, runner, func(o *Options) { o.ListChangedFiles = true })

	if _, err := m.Publish(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(message, ".vimrc") {
		t.Errorf("file list message missing .vimrc: %q", message)
	}
	// Renames contribute their new name.
	if !strings.Contains(message, ".zshrc") || strings.Contains(message, "old") {
		t.Errorf("rename not resolved to new path: %q", message)
	}
}

func TestPublishFetchFirstRecoversOnce(t *testing.T) {
	runner := &fakeRunner{}
	pushes := 0
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return " M .vimrc\n", nil
		case "push":
			pushes++
			if pushes == 1 {
				return cmdFail(args, "! [rejected] main -> main (fetch first)")
			}
			return "", nil
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	published, err := m.Publish(context.Background())
	if err != nil {
		t.Fatalf("Publish failed after recovery: %v", err)
	}
	if !published {
		t.Error("expected published=true after recovery")
	}
	if runner.countCalls("pull", "--rebase") != 1 {
		t.Errorf("expected exactly one rebase, calls: %v", runner.calls)
	}
	if pushes != 2 {
		t.Errorf("expected exactly two pushes, got %d", pushes)
	}
}

func TestPublishSecondRejectionIsTerminal(t *testing.T) {
	runner := &fakeRunner{}
	pushes := 0
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return " M .vimrc\n", nil
		case "push":
			pushes++
			return cmdFail(args, "! [rejected] main -> main (fetch first)")
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	_, err := m.Publish(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	// Exactly one recovery attempt, no retry loop.
	if pushes != 2 {
		t.Errorf("expected exactly two pushes, got %d", pushes)
	}
	if runner.countCalls("pull", "--rebase") != 1 {
		t.Errorf("expected exactly one rebase, calls: %v", runner.calls)
	}
}

func TestPublishRebaseConflictIsTerminal(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return " M .vimrc\n", nil
		case "push":
			return cmdFail(args, "! [rejected] main -> main (fetch first)")
		case "pull":
			return cmdFail(args, "CONFLICT (content): Merge conflict in .vimrc")
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	_, err := m.Publish(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(err.Error(), "resolve conflicts manually") {
		t.Errorf("expected manual resolution guidance, got: %v", err)
	}
	if runner.countCalls("push") != 1 {
		t.Errorf("no push retry expected after failed rebase: %v", runner.calls)
	}
}

func TestPublishNothingToCommitAfterStaging(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(args []string) (string, error) {
		switch args[0] {
		case "status":
			return "?? ignored.log\n", nil
		case "commit":
			return cmdFail(args, "nothing to commit, working tree clean")
		}
		return "", nil
	}
	m := newTestManager(t, runner, nil)

	published, err := m.Publish(context.Background())
	if err != nil {
		t.Fatalf("expected clean-tree no-op, got error: %v", err)
	}
	if published {
		t.Error("expected published=false")
	}
	if runner.countCalls("push") != 0 {
		t.Errorf("push must not run without a commit: %v", runner.calls)
	}
}

func TestParseStatus(t *testing.T) {
	out := " M .vimrc\n?? .config/nvim/init.lua\nD  .bashrc\nR  old-name -> new-name\n\n"
	got := parseStatus(out)
	want := []string{".vimrc", ".config/nvim/init.lua", ".bashrc", "new-name"}

	if len(got) != len(want) {
		t.Fatalf("parseStatus = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseStatus[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
