package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/steveyegge/greenlight/internal/agent"
	"github.com/steveyegge/greenlight/internal/git"
	"github.com/steveyegge/greenlight/internal/github"
	"github.com/steveyegge/greenlight/internal/lifecycle"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/storage/memory"
	"github.com/steveyegge/greenlight/internal/types"
)

// fakeRunner scripts agent behavior per test. When touchFile is set, the
// runner writes it into the workspace to simulate a real change.
type fakeRunner struct {
	report    *agent.Report
	err       error
	touchFile string
	calls     int
}

func (f *fakeRunner) RunAgent(ctx context.Context, req agent.Request) (*agent.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.touchFile != "" && req.WorkDir != "" {
		if err := os.WriteFile(filepath.Join(req.WorkDir, f.touchFile), []byte("patched\n"), 0o644); err != nil {
			return nil, err
		}
	}
	return &agent.Result{Report: f.report, InputTokens: 100, OutputTokens: 40}, nil
}

// fakePRs records the PR request and returns a canned URL.
type fakePRs struct {
	prs []string
	err error
}

func (f *fakePRs) CreatePullRequest(ctx context.Context, title, body, head, base string) (*github.PullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.prs = append(f.prs, head)
	return &github.PullRequest{Number: len(f.prs), HTMLURL: "https://github.com/acme/web/pull/1"}, nil
}

type harness struct {
	store  *memory.Store
	queue  *queue.Manager
	pool   *Pool
	runner *fakeRunner
	prs    *fakePRs
}

func newHarness(t *testing.T, repoURL string) *harness {
	t.Helper()
	store := memory.New()
	broker := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })
	mgr := queue.NewManager(store, broker)
	machine := lifecycle.New(store, mgr, nil)

	runner := &fakeRunner{
		report: &agent.Report{
			Completed:     true,
			Summary:       "patched the redirect check",
			CommitMessage: "fix: validate login redirect target",
		},
		touchFile: "patched.go",
	}
	prs := &fakePRs{}

	pool := NewPool(Config{
		Actor: "test-worker",
		Git:   git.Config{RepoURL: repoURL},
	}, Deps{
		Store:     store,
		Queue:     mgr,
		Lifecycle: machine,
		Runner:    runner,
		PRs:       prs,
	})

	return &harness{store: store, queue: mgr, pool: pool, runner: runner, prs: prs}
}

func newStory(t *testing.T, h *harness, policy types.Policy, approved bool) *types.Story {
	t.Helper()
	story := &types.Story{
		ProjectID:    "web",
		Title:        "Fix login redirect",
		Policy:       policy,
		UserApproved: approved,
	}
	if err := h.store.CreateStory(context.Background(), story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	return story
}

// dequeueJob enqueues the story and pulls its job.
func dequeueJob(t *testing.T, h *harness, storyID string) *types.QueueJob {
	t.Helper()
	ctx := context.Background()
	if _, err := h.queue.Enqueue(ctx, storyID, types.LevelP1, "test", "tester"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	job, err := h.queue.Dequeue(pullCtx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	return job
}

// newUpstream creates a git repository with one commit for clone targets.
func newUpstream(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	// CommitAll inside the workspace inherits the test environment.
	t.Setenv("GIT_AUTHOR_NAME", "t")
	t.Setenv("GIT_AUTHOR_EMAIL", "t@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "t")
	t.Setenv("GIT_COMMITTER_EMAIL", "t@example.com")
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "--initial-branch", "main")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("-c", "user.name=t", "-c", "user.email=t@example.com", "commit", "-m", "initial")
	// Pushing to a checked-out branch needs this on a non-bare upstream.
	run("config", "receive.denyCurrentBranch", "ignore")
	return dir
}

func TestProcessExecutesApprovedStory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newUpstream(t))
	story := newStory(t, h, types.PolicyAutoSafe, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)

	got, err := h.store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", got.Status, got.ErrorText)
	}
	if got.PRURL == nil || *got.PRURL != "https://github.com/acme/web/pull/1" {
		t.Errorf("pr_url = %v", got.PRURL)
	}
	if got.ExecutedAt == nil {
		t.Error("executed_at not set")
	}
	if len(h.prs.prs) != 1 || h.prs.prs[0] != "greenlight/"+story.ID {
		t.Errorf("PR head = %v", h.prs.prs)
	}
}

func TestProcessSkipsUnapprovedStory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	story := newStory(t, h, types.PolicyApprovalRequired, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)

	got, _ := h.store.GetStory(ctx, story.ID)
	// Enqueue moved it pending->approved; execution must not have run.
	if got.Status != types.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if h.runner.calls != 0 {
		t.Errorf("agent ran %d times for an unapproved story", h.runner.calls)
	}
	if got.ExecutedAt != nil || got.PRURL != nil {
		t.Error("unapproved story must have zero execution side effects")
	}
}

func TestProcessCompletesSuggestOnlyWithoutExecution(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	story := newStory(t, h, types.PolicySuggestOnly, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)

	got, _ := h.store.GetStory(ctx, story.ID)
	if got.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if h.runner.calls != 0 {
		t.Error("agent must not run for suggest_only")
	}
	if got.PRURL != nil {
		t.Error("suggest_only completion carries no artifacts")
	}
}

func TestProcessFailureMarksStoryFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newUpstream(t))
	h.prs.err = errors.New("422 validation failed")
	story := newStory(t, h, types.PolicyAutoSafe, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)

	got, _ := h.store.GetStory(ctx, story.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorText == "" || got.ExecutedAt == nil {
		t.Errorf("failure must capture error text and timestamp, got %+v", got)
	}
	if got.PRURL != nil {
		t.Error("failed story must not carry a PR URL")
	}
}

func TestProcessAgentDeclinedFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newUpstream(t))
	h.runner.report = &agent.Report{Completed: false, Summary: "needs a schema migration"}
	h.runner.touchFile = ""
	story := newStory(t, h, types.PolicyAutoSafe, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)

	got, _ := h.store.GetStory(ctx, story.ID)
	if got.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorText == "" {
		t.Error("expected error text from declined run")
	}
}

func TestProcessMissingStoryIsNoOp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")

	h.pool.process(ctx, &types.QueueJob{
		ID: "job-zzzzzzz", StoryID: "story-gone", PriorityNumber: 2,
		State: types.JobWaiting, MaxAttempts: 3,
	})

	if h.runner.calls != 0 {
		t.Error("missing story must not execute")
	}
}

func TestProcessDoubleDispatchOneWinner(t *testing.T) {
	// Simulates two workers holding jobs for the same story: the second
	// process call sees in_progress/terminal and skips.
	ctx := context.Background()
	h := newHarness(t, newUpstream(t))
	story := newStory(t, h, types.PolicyAutoSafe, false)
	job := dequeueJob(t, h, story.ID)

	h.pool.process(ctx, job)
	h.pool.process(ctx, &types.QueueJob{
		ID: "job-dup0001", StoryID: story.ID, PriorityNumber: 2,
		State: types.JobWaiting, MaxAttempts: 3,
	})

	if h.runner.calls != 1 {
		t.Errorf("agent ran %d times, want 1", h.runner.calls)
	}
	if len(h.prs.prs) != 1 {
		t.Errorf("opened %d PRs, want 1", len(h.prs.prs))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.pool.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestExecuteCleansWorkspace(t *testing.T) {
	ctx := context.Background()
	upstream := newUpstream(t)
	h := newHarness(t, upstream)
	h.runner.err = fmt.Errorf("model overloaded")
	story := newStory(t, h, types.PolicyAutoSafe, false)
	job := dequeueJob(t, h, story.ID)

	before := countTempWorkspaces(t)
	h.pool.process(ctx, job)
	after := countTempWorkspaces(t)

	if after > before {
		t.Errorf("workspace leaked: %d -> %d", before, after)
	}
}

func countTempWorkspaces(t *testing.T) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "gl-ws-*"))
	if err != nil {
		t.Fatal(err)
	}
	return len(matches)
}
