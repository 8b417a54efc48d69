package queue

import (
	"context"
	"sync"
	"time"

	"github.com/steveyegge/greenlight/internal/types"
)

// MemoryBroker is the in-process Broker. One mutex guards all state, so the
// check-then-insert dedup in Push is atomic, and Pull blocks on a wake
// channel until a job becomes eligible. It backs tests and local single-node
// runs; redisq provides the same semantics across processes.
type MemoryBroker struct {
	mu        sync.Mutex
	jobs      map[string]*types.QueueJob // job ID -> job, live jobs only
	byStory   map[string]string          // story ID -> live job ID
	completed int
	failed    int
	closed    bool

	// wake is signalled (non-blocking) whenever a job may have become
	// eligible: push, retry re-delay, or removal freeing the dedup slot.
	wake chan struct{}
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		jobs:    make(map[string]*types.QueueJob),
		byStory: make(map[string]string),
		wake:    make(chan struct{}, 1),
	}
}

// Push inserts a job, enforcing the one-live-job-per-story invariant under
// the broker mutex.
func (b *MemoryBroker) Push(ctx context.Context, job *types.QueueJob) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.byStory[job.StoryID]; exists {
		return ErrAlreadyQueued
	}

	cp := *job
	b.jobs[cp.ID] = &cp
	b.byStory[cp.StoryID] = cp.ID
	b.signal()
	return nil
}

// Pull blocks until a job is eligible and returns it marked active. Among
// eligible jobs the lowest priority number wins, FIFO within a tier.
func (b *MemoryBroker) Pull(ctx context.Context) (*types.QueueJob, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		now := time.Now()
		job := b.nextEligibleLocked(now)
		if job != nil {
			job.State = types.JobActive
			job.Attempts++
			cp := *job
			b.mu.Unlock()
			return &cp, nil
		}
		wait := b.nextWakeLocked(now)
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-b.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// nextEligibleLocked picks the best dispatchable job: waiting, or delayed
// with its backoff elapsed.
func (b *MemoryBroker) nextEligibleLocked(now time.Time) *types.QueueJob {
	var best *types.QueueJob
	for _, job := range b.jobs {
		if job.State == types.JobActive {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		if best == nil || jobBefore(job, best) {
			best = job
		}
	}
	return best
}

// nextWakeLocked returns how long Pull may sleep before a delayed job could
// become eligible. Capped so a missed signal never wedges the consumer.
func (b *MemoryBroker) nextWakeLocked(now time.Time) time.Duration {
	wait := time.Second
	for _, job := range b.jobs {
		if job.State == types.JobActive || !job.NextRunAt.After(now) {
			continue
		}
		if d := job.NextRunAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

func jobBefore(a, bj *types.QueueJob) bool {
	if a.PriorityNumber != bj.PriorityNumber {
		return a.PriorityNumber < bj.PriorityNumber
	}
	if !a.EnqueuedAt.Equal(bj.EnqueuedAt) {
		return a.EnqueuedAt.Before(bj.EnqueuedAt)
	}
	return a.ID < bj.ID
}

// Ack completes a job and frees its story's dedup slot.
func (b *MemoryBroker) Ack(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	delete(b.jobs, jobID)
	delete(b.byStory, job.StoryID)
	b.completed++
	b.signal()
	return nil
}

// Fail re-delays the job with exponential backoff, or retires it as failed
// once its attempt budget is spent. A failed job frees the dedup slot so a
// human can re-enqueue the story.
func (b *MemoryBroker) Fail(ctx context.Context, jobID, cause string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil
	}
	job.LastError = cause
	if job.Attempts >= job.MaxAttempts {
		delete(b.jobs, jobID)
		delete(b.byStory, job.StoryID)
		b.failed++
		b.signal()
		return nil
	}
	job.State = types.JobDelayed
	job.NextRunAt = time.Now().Add(RetryDelay(job.Attempts))
	b.signal()
	return nil
}

// Remove cancels the story's job when it is still waiting or delayed.
func (b *MemoryBroker) Remove(ctx context.Context, storyID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobID, ok := b.byStory[storyID]
	if !ok {
		return false, nil
	}
	job := b.jobs[jobID]
	if job.State == types.JobActive {
		return false, nil
	}
	delete(b.jobs, jobID)
	delete(b.byStory, storyID)
	b.signal()
	return true, nil
}

// Snapshot reports live jobs and lifetime counters.
func (b *MemoryBroker) Snapshot(ctx context.Context) (*Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := &Status{Completed: b.completed, Failed: b.failed}
	for _, job := range b.jobs {
		cp := *job
		status.Jobs = append(status.Jobs, &cp)
		if job.State == types.JobActive {
			status.Active++
		} else {
			status.Waiting++
		}
	}
	SortJobs(status.Jobs)
	return status, nil
}

// Close rejects further operations and wakes any blocked Pull.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	close(b.wake)
	return nil
}

func (b *MemoryBroker) signal() {
	if b.closed {
		return
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
