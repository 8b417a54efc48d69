// Package worker executes queued stories. A pool of slots pulls jobs in
// priority order; each job is policy-gated, claimed via the story state
// machine, executed through an agent run in a scoped working copy, and
// finished with a pull request. Every failure mode is isolated to its
// job so the loop survives anything an execution throws at it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/greenlight/internal/agent"
	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/git"
	"github.com/steveyegge/greenlight/internal/github"
	"github.com/steveyegge/greenlight/internal/lifecycle"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/telemetry"
	"github.com/steveyegge/greenlight/internal/tracker"
	"github.com/steveyegge/greenlight/internal/types"
)

const workerScope = "github.com/steveyegge/greenlight/worker"

// PullRequester opens a pull request for a pushed branch. Satisfied by
// *github.Client.
type PullRequester interface {
	CreatePullRequest(ctx context.Context, title, body, head, base string) (*github.PullRequest, error)
}

// Config tunes the pool. Everything is injected; the worker reads no
// environment.
type Config struct {
	// Slots is the number of concurrent executions. Zero means 1.
	Slots int

	// Actor is recorded on transitions and events. Zero means "worker".
	Actor string

	// Git describes where to clone for executions.
	Git git.Config

	// MaxTokens bounds each agent turn. Zero means the agent default.
	MaxTokens int64
}

// Deps are the collaborators the pool drives. Store, Queue, Lifecycle
// and Runner are required; Sync and PRs are optional and skipped when
// nil.
type Deps struct {
	Store     storage.Store
	Queue     *queue.Manager
	Lifecycle *lifecycle.Machine
	Runner    agent.Runner
	Sync      *tracker.Adapter
	PRs       PullRequester
}

// Pool runs executions until its context is cancelled.
type Pool struct {
	cfg  Config
	deps Deps
}

// NewPool creates a worker pool.
func NewPool(cfg Config, deps Deps) *Pool {
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if cfg.Actor == "" {
		cfg.Actor = "worker"
	}
	workerMetricsOnce.Do(initWorkerMetrics)
	return &Pool{cfg: cfg, deps: deps}
}

// Run blocks until ctx is cancelled, executing jobs on all slots. The
// returned error is nil on clean shutdown.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Slots; i++ {
		slot := i
		g.Go(func() error {
			return p.runSlot(ctx, slot)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSlot is one dequeue-execute loop. Per-job errors never escape; only
// context cancellation ends the loop.
func (p *Pool) runSlot(ctx context.Context, slot int) error {
	debug.Logf("worker: slot %d started", slot)
	for {
		job, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				debug.Logf("worker: slot %d stopping: %v", slot, err)
				return nil
			}
			log.Printf("Warning: worker slot %d: dequeue failed: %v", slot, err)
			continue
		}
		p.process(ctx, job)
	}
}

// workerMetrics holds lazily-initialized OTel instruments.
var workerMetrics struct {
	completed metric.Int64Counter
	failed    metric.Int64Counter
	skipped   metric.Int64Counter
}

var workerMetricsOnce sync.Once

func initWorkerMetrics() {
	m := telemetry.Meter(workerScope)
	workerMetrics.completed, _ = m.Int64Counter("gl.worker.stories_completed",
		metric.WithDescription("Stories completed by the worker"),
	)
	workerMetrics.failed, _ = m.Int64Counter("gl.worker.stories_failed",
		metric.WithDescription("Stories failed by the worker"),
	)
	workerMetrics.skipped, _ = m.Int64Counter("gl.worker.jobs_skipped",
		metric.WithDescription("Jobs acked without execution (missing, terminal, gated, lost claim)"),
	)
}

// process handles one dequeued job end to end. The job is always acked
// or failed before returning.
func (p *Pool) process(ctx context.Context, job *types.QueueJob) {
	tracer := telemetry.Tracer(workerScope)
	ctx, span := tracer.Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("gl.job.id", job.ID),
		attribute.String("gl.story.id", job.StoryID),
		attribute.Int("gl.job.priority", job.PriorityNumber),
	)

	story, err := p.deps.Store.GetStory(ctx, job.StoryID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Job for a story that no longer exists is a no-op.
			debug.Logf("worker: story %s gone, acking job %s", job.StoryID, job.ID)
			p.ack(ctx, job, "story missing")
			return
		}
		// Store trouble is queue infra, not story failure: let the
		// broker's retry budget absorb it.
		p.failJob(ctx, job, fmt.Sprintf("loading story: %v", err))
		return
	}

	if story.Status == types.StatusInProgress || story.Terminal() {
		debug.Logf("worker: story %s is %s, acking job %s", story.ID, story.Status, job.ID)
		p.ack(ctx, job, "story not runnable")
		return
	}

	switch story.Policy {
	case types.PolicySuggestOnly:
		p.completeSuggestion(ctx, story)
		p.ack(ctx, job, "suggest_only")
		return
	case types.PolicyApprovalRequired:
		if !story.UserApproved {
			// Policy skip, not a failure: the story stays untouched and
			// the job retires.
			log.Printf("worker: story %s requires approval, skipping", story.ID)
			p.ack(ctx, job, "awaiting approval")
			return
		}
	}

	// Claim. The conditional transition arbitrates racing workers.
	story, err = p.deps.Lifecycle.Start(ctx, story.ID, p.cfg.Actor)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			debug.Logf("worker: lost claim on %s, acking job %s", story.ID, job.ID)
		case errors.Is(err, lifecycle.ErrNotApproved), errors.Is(err, lifecycle.ErrPolicyForbids):
			log.Printf("worker: story %s gated: %v", job.StoryID, err)
		default:
			log.Printf("Warning: worker: claiming %s: %v", job.StoryID, err)
		}
		p.ack(ctx, job, "claim not won")
		return
	}

	if p.deps.Sync != nil {
		p.deps.Sync.SyncStatus(ctx, story, types.StatusInProgress)
	}

	prURL, execErr := p.execute(ctx, story)
	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		p.finishFailed(ctx, story, execErr)
		p.ack(ctx, job, "execution failed")
		return
	}

	p.finishCompleted(ctx, story, prURL)
	p.ack(ctx, job, "completed")
}

// completeSuggestion surfaces a suggest_only story as completed advice.
func (p *Pool) completeSuggestion(ctx context.Context, story *types.Story) {
	done, err := p.deps.Lifecycle.CompleteSuggestion(ctx, story.ID, p.cfg.Actor)
	if err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Printf("Warning: worker: completing suggestion %s: %v", story.ID, err)
		}
		return
	}
	if p.deps.Sync != nil {
		p.deps.Sync.SyncStatus(ctx, done, types.StatusCompleted)
	}
	workerMetrics.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("gl.policy", "suggest_only")))
}

// execute runs the agent in a scoped working copy and returns the pull
// request URL. The workspace is removed on every exit path.
func (p *Pool) execute(ctx context.Context, story *types.Story) (prURL string, err error) {
	ws, err := git.Prepare(ctx, p.cfg.Git, story.ID)
	if err != nil {
		return "", fmt.Errorf("preparing workspace: %w", err)
	}
	defer ws.Cleanup()

	res, err := p.deps.Runner.RunAgent(ctx, agent.Request{
		Story:     story,
		WorkDir:   ws.Dir,
		Role:      agent.RoleExecutor,
		MaxTokens: p.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("agent run: %w", err)
	}
	if !res.Report.Completed {
		return "", fmt.Errorf("agent declined: %s", res.Report.Summary)
	}

	changed, err := ws.HasChanges(ctx)
	if err != nil {
		return "", fmt.Errorf("checking workspace: %w", err)
	}
	if !changed {
		return "", fmt.Errorf("agent reported completion but made no changes")
	}

	if err := ws.CommitAll(ctx, res.Report.CommitMessage); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	if err := ws.Push(ctx); err != nil {
		return "", fmt.Errorf("pushing %s: %w", ws.Branch, err)
	}

	if p.deps.PRs == nil {
		// Branch-only mode: the pushed branch is the artifact.
		return "", nil
	}
	body := fmt.Sprintf("%s\n\nStory: %s", res.Report.Summary, story.ID)
	pr, err := p.deps.PRs.CreatePullRequest(ctx, res.Report.CommitMessage, body, ws.Branch, p.cfg.Git.BaseBranch)
	if err != nil {
		return "", fmt.Errorf("opening pull request: %w", err)
	}
	return pr.HTMLURL, nil
}

// finishCompleted persists the outcome and runs the best-effort tail:
// tracker sync plus a PR comment.
func (p *Pool) finishCompleted(ctx context.Context, story *types.Story, prURL string) {
	done, err := p.deps.Lifecycle.Complete(ctx, story.ID, p.cfg.Actor, prURL)
	if err != nil {
		log.Printf("Warning: worker: completing %s: %v", story.ID, err)
		return
	}
	if p.deps.Sync != nil {
		p.deps.Sync.SyncStatus(ctx, done, types.StatusCompleted)
		if prURL != "" {
			p.deps.Sync.PostComment(ctx, done, "Completed: "+prURL)
		}
	}
	workerMetrics.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("gl.policy", string(done.Policy))))
}

// finishFailed marks the story failed and leaves an error comment on the
// tracker. Story-level failure is terminal until a human re-triggers.
func (p *Pool) finishFailed(ctx context.Context, story *types.Story, execErr error) {
	failed, err := p.deps.Lifecycle.Fail(ctx, story.ID, p.cfg.Actor, execErr.Error())
	if err != nil {
		log.Printf("Warning: worker: failing %s: %v", story.ID, err)
		return
	}
	if p.deps.Sync != nil {
		p.deps.Sync.SyncStatus(ctx, failed, types.StatusFailed)
		p.deps.Sync.PostComment(ctx, failed, "Execution failed: "+execErr.Error())
	}
	workerMetrics.failed.Add(ctx, 1)
}

// ack retires the job. Ack failures are logged; the broker's dedup slot
// eventually frees either way.
func (p *Pool) ack(ctx context.Context, job *types.QueueJob, reason string) {
	if reason != "completed" {
		workerMetrics.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("gl.skip.reason", reason)))
	}
	if err := p.deps.Queue.Ack(ctx, job); err != nil {
		log.Printf("Warning: worker: acking job %s: %v", job.ID, err)
	}
}

// failJob hands the job back to the broker's retry budget.
func (p *Pool) failJob(ctx context.Context, job *types.QueueJob, cause string) {
	if err := p.deps.Queue.Fail(ctx, job, cause); err != nil {
		log.Printf("Warning: worker: failing job %s: %v", job.ID, err)
	}
}
