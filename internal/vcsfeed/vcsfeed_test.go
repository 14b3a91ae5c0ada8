package vcsfeed

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/tugtool/tugcast/internal/watch"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "README.md")
	run("commit", "-q", "-m", "initial commit")
	return dir
}

func TestSampleReadsBranchAndHeadOnCleanTree(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	status, err := sample(context.Background(), dir)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if status.Branch != "main" {
		t.Fatalf("branch = %q, want main", status.Branch)
	}
	if status.HeadMessage != "initial commit" {
		t.Fatalf("head message = %q", status.HeadMessage)
	}
	if len(status.Staged) != 0 || len(status.Unstaged) != 0 || len(status.Untracked) != 0 {
		t.Fatalf("expected clean tree, got %+v", status)
	}
}

func TestSampleDetectsUntracked(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	status, err := sample(context.Background(), dir)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if len(status.Untracked) != 1 || status.Untracked[0] != "scratch.txt" {
		t.Fatalf("untracked = %+v", status.Untracked)
	}
}

func TestRunPublishesOnChangeOnly(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	cell := watch.NewCell()
	ctx, cancel := context.WithTimeout(context.Background(), 3*PollInterval+time.Second)
	defer cancel()

	f := New(dir)
	go f.Run(ctx, cell)

	recv := cell.Subscribe()
	frame, err := recv.Changed(ctx)
	if err != nil {
		t.Fatalf("expected an initial status frame: %v", err)
	}
	if frame.FeedID.String() != "Git" {
		t.Fatalf("feed id = %v, want Git", frame.FeedID)
	}

	// The tree is unchanged, so the next two polls must not republish.
	quiet, quietCancel := context.WithTimeout(ctx, 2*PollInterval+500*time.Millisecond)
	defer quietCancel()
	if _, err := recv.Changed(quiet); err == nil {
		t.Fatal("unchanged status was published again")
	}
}
