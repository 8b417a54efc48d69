package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newUpstream creates a local repository with one commit to clone from.
func newUpstream(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cmds := [][]string{
		{"init", "--initial-branch", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	}
	for _, args := range cmds {
		cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "initial"}} {
		cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	return dir
}

func TestPrepareCommitPush(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	upstream := newUpstream(t)

	w, err := Prepare(ctx, Config{RepoURL: upstream}, "story-x7k2m9q")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer w.Cleanup()

	if w.Branch != "greenlight/story-x7k2m9q" {
		t.Errorf("branch = %s", w.Branch)
	}

	changed, err := w.HasChanges(ctx)
	if err != nil {
		t.Fatalf("HasChanges failed: %v", err)
	}
	if changed {
		t.Error("fresh clone should have no changes")
	}

	if err := os.WriteFile(filepath.Join(w.Dir, "fix.go"), []byte("package fix\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	changed, err = w.HasChanges(ctx)
	if err != nil || !changed {
		t.Fatalf("expected pending changes, changed=%v err=%v", changed, err)
	}

	for _, args := range [][]string{
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	} {
		if _, err := w.run(ctx, args...); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.CommitAll(ctx, "fix: add fix.go"); err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if err := w.Push(ctx); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// The branch must now exist on the upstream.
	out, err := exec.CommandContext(ctx, "git", "-C", upstream, "branch", "--list", w.Branch).Output()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), w.Branch) {
		t.Errorf("branch %s not pushed to upstream: %q", w.Branch, out)
	}
}

func TestCommitAllRequiresMessage(t *testing.T) {
	w := &Workspace{Dir: t.TempDir()}
	if err := w.CommitAll(context.Background(), "  "); err == nil {
		t.Error("expected error for empty commit message")
	}
}

func TestPrepareRequiresRepoURL(t *testing.T) {
	if _, err := Prepare(context.Background(), Config{}, "story-x"); err == nil {
		t.Error("expected error without repo URL")
	}
}

func TestPrepareCleansUpOnFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	_, err := Prepare(context.Background(), Config{RepoURL: filepath.Join(t.TempDir(), "missing")}, "story-x")
	if err == nil {
		t.Fatal("expected clone failure")
	}
}

func TestCleanupIdempotent(t *testing.T) {
	w := &Workspace{Root: t.TempDir()}
	w.Cleanup()
	w.Cleanup()
	var nilW *Workspace
	nilW.Cleanup()
}

func TestBranchName(t *testing.T) {
	if got := BranchName("", "story-abc"); got != "greenlight/story-abc" {
		t.Errorf("BranchName = %s", got)
	}
	if got := BranchName("bots", "story-abc"); got != "bots/story-abc" {
		t.Errorf("BranchName = %s", got)
	}
}
