// Package queue implements the priority-ordered, retryable execution queue
// that carries approved stories to workers.
//
// The Manager owns queue semantics: fail-closed enqueue checks against the
// story store, per-story dedup, the pending->approved transition, and audit
// events. Job transport is delegated to a Broker; the in-process broker in
// this package is the reference semantics and the redisq sub-package is the
// distributed backend.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/idgen"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// ErrAlreadyQueued is returned by Broker.Push when a live job already exists
// for the story. The Manager translates it into a silent no-op.
var ErrAlreadyQueued = errors.New("story already queued")

// ErrClosed is returned by broker operations after Close.
var ErrClosed = errors.New("queue closed")

// Retry policy for failed jobs. Three attempts with exponential backoff
// starting at five seconds absorbs transient infra faults; anything that
// survives all three is a real failure and needs a human re-enqueue.
const (
	MaxAttempts    = 3
	InitialBackoff = 5 * time.Second
)

// RetryDelay returns the delay before the next attempt. attempt is the
// 1-based attempt number that just failed: 5s, 10s, 20s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return InitialBackoff * (1 << (attempt - 1))
}

// Broker is the job transport under the Manager. Push must enforce at most
// one live job per story and return ErrAlreadyQueued on violation; Pull
// blocks until a job is eligible or ctx is done.
type Broker interface {
	Push(ctx context.Context, job *types.QueueJob) error
	Pull(ctx context.Context) (*types.QueueJob, error)

	// Ack marks the job completed and releases its dedup slot.
	Ack(ctx context.Context, jobID string) error

	// Fail re-delays the job with backoff, or marks it failed once its
	// attempt budget is exhausted.
	Fail(ctx context.Context, jobID, cause string) error

	// Remove cancels a waiting or delayed job for the story. Active and
	// finished jobs are untouched; removed reports whether a job was
	// actually cancelled.
	Remove(ctx context.Context, storyID string) (removed bool, err error)

	Snapshot(ctx context.Context) (*Status, error)
	Close() error
}

// Status is the queue snapshot exposed to the dashboard. Jobs holds the
// live (waiting/delayed/active) jobs sorted by priority number then enqueue
// time; Completed and Failed are lifetime counters.
type Status struct {
	Waiting   int               `json:"waiting"`
	Active    int               `json:"active"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Jobs      []*types.QueueJob `json:"jobs"`
}

// SortJobs orders a job list the way Status.Jobs is presented: priority
// number ascending, then enqueue time, then ID for determinism.
func SortJobs(jobs []*types.QueueJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].PriorityNumber != jobs[j].PriorityNumber {
			return jobs[i].PriorityNumber < jobs[j].PriorityNumber
		}
		if !jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}

// Manager binds a Broker to the story store and implements the queue
// operations the rest of the system calls.
type Manager struct {
	store  storage.Store
	broker Broker
}

// NewManager creates a queue manager over the given store and broker.
func NewManager(store storage.Store, broker Broker) *Manager {
	return &Manager{store: store, broker: broker}
}

// Enqueue creates an execution job for a story. It fails closed, returning
// an empty job ID and nil error, when the story is missing, already
// terminal or in progress, or already has a live job. On success the story
// moves pending->approved (an already-approved story is left alone) and the
// job carries the level's priority number with the standard retry budget.
func (m *Manager) Enqueue(ctx context.Context, storyID string, level types.Level, source, actor string) (string, error) {
	story, err := m.store.GetStory(ctx, storyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			debug.Logf("enqueue: story %s not found, skipping", storyID)
			return "", nil
		}
		return "", fmt.Errorf("loading story %s: %w", storyID, err)
	}
	if story.Status == types.StatusInProgress || story.Terminal() {
		debug.Logf("enqueue: story %s is %s, skipping", storyID, story.Status)
		return "", nil
	}

	now := time.Now()
	job := &types.QueueJob{
		ID:             idgen.JobID(storyID, now, 0),
		StoryID:        storyID,
		PriorityNumber: level.Number(),
		Source:         source,
		State:          types.JobWaiting,
		MaxAttempts:    MaxAttempts,
		EnqueuedAt:     now,
		NextRunAt:      now,
	}
	if err := job.Validate(); err != nil {
		return "", fmt.Errorf("building job for %s: %w", storyID, err)
	}

	if err := m.broker.Push(ctx, job); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			debug.Logf("enqueue: story %s already has a live job, skipping", storyID)
			return "", nil
		}
		return "", fmt.Errorf("pushing job for %s: %w", storyID, err)
	}

	// pending -> approved. Losing the conditional update means the story
	// was already approved (or raced into in_progress), both fine: the job
	// is queued and the worker re-checks status at dispatch.
	if _, err := m.store.TransitionStory(ctx, storyID,
		[]types.StoryStatus{types.StatusPending}, types.StatusApproved, actor, storage.StoryUpdates{}); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			log.Printf("Warning: enqueue %s: approve transition failed: %v", storyID, err)
		}
	}

	if err := m.store.AddEvent(ctx, storyID, "enqueued", actor,
		fmt.Sprintf("job %s priority %d source %s", job.ID, job.PriorityNumber, source)); err != nil {
		debug.Logf("enqueue: audit event for %s failed: %v", storyID, err)
	}
	return job.ID, nil
}

// Dequeue blocks until a job is eligible, honoring priority order and
// delayed-job backoff. The returned job is active and counts against the
// caller's concurrency slot until Ack or Fail.
func (m *Manager) Dequeue(ctx context.Context) (*types.QueueJob, error) {
	return m.broker.Pull(ctx)
}

// Ack marks a dequeued job completed.
func (m *Manager) Ack(ctx context.Context, job *types.QueueJob) error {
	return m.broker.Ack(ctx, job.ID)
}

// Fail records a job attempt failure. The broker re-delays the job with
// exponential backoff until its attempt budget runs out.
func (m *Manager) Fail(ctx context.Context, job *types.QueueJob, cause string) error {
	return m.broker.Fail(ctx, job.ID, cause)
}

// Remove cancels the story's job if it has not been dispatched yet.
// Cancellation is pre-dispatch only: an active job runs to completion.
func (m *Manager) Remove(ctx context.Context, storyID, actor string) bool {
	removed, err := m.broker.Remove(ctx, storyID)
	if err != nil {
		log.Printf("Warning: removing job for %s: %v", storyID, err)
		return false
	}
	if removed {
		if err := m.store.AddEvent(ctx, storyID, "dequeued", actor, "job cancelled before dispatch"); err != nil {
			debug.Logf("remove: audit event for %s failed: %v", storyID, err)
		}
	}
	return removed
}

// Snapshot returns the current queue status for dashboards.
func (m *Manager) Snapshot(ctx context.Context) (*Status, error) {
	return m.broker.Snapshot(ctx)
}

// Close shuts down the underlying broker.
func (m *Manager) Close() error {
	return m.broker.Close()
}
