// Package redisq implements the queue broker on Redis, so a pool of worker
// processes on different hosts can share one priority queue.
//
// Layout (all keys under a configurable namespace, default "gl"):
//
//	<ns>:job:<id>    JSON-serialized types.QueueJob
//	<ns>:story:<id>  dedup slot, value is the live job ID (SET NX)
//	<ns>:ready       ZSET of dispatchable job IDs, scored by priority+time
//	<ns>:delayed     ZSET of backed-off job IDs, scored by next-run time
//	<ns>:active      SET of dispatched job IDs
//	<ns>:completed   lifetime completed counter
//	<ns>:failed      lifetime failed counter
//
// The dedup slot is claimed with an atomic SET NX, which closes the
// check-then-act race a plain live-job scan would leave open between
// concurrent enqueuers. ZPOPMIN hands each ready job to exactly one worker.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/types"
)

const (
	defaultNamespace = "gl"

	// pollInterval paces the Pull loop when the ready set is empty.
	pollInterval = 250 * time.Millisecond

	// opRetryMaxElapsed bounds transparent retries of a single Redis op.
	opRetryMaxElapsed = 15 * time.Second
)

// Option is a functional option for configuring the broker.
type Option func(*Broker)

// WithNamespace sets the key namespace prefix for Redis keys.
func WithNamespace(ns string) Option {
	return func(b *Broker) {
		if ns != "" {
			b.namespace = ns
		}
	}
}

// Broker implements queue.Broker on Redis.
type Broker struct {
	client    *redis.Client
	namespace string
	closed    atomic.Bool
}

var _ queue.Broker = (*Broker)(nil)

// New connects to Redis and verifies connectivity. redisURL is a standard
// Redis URL ("redis://localhost:6379/0").
func New(redisURL string, opts ...Option) (*Broker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	b := &Broker{
		client:    redis.NewClient(redisOpts),
		namespace: defaultNamespace,
	}
	for _, opt := range opts {
		opt(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return b, nil
}

func (b *Broker) jobKey(jobID string) string   { return b.namespace + ":job:" + jobID }
func (b *Broker) dedupKey(story string) string { return b.namespace + ":story:" + story }
func (b *Broker) readyKey() string             { return b.namespace + ":ready" }
func (b *Broker) delayedKey() string           { return b.namespace + ":delayed" }
func (b *Broker) activeKey() string            { return b.namespace + ":active" }
func (b *Broker) completedKey() string         { return b.namespace + ":completed" }
func (b *Broker) failedKey() string            { return b.namespace + ":failed" }

// readyScore orders the ready ZSET: priority tier dominates, enqueue time
// breaks ties FIFO. Millisecond resolution fits float64 exactly alongside
// the tier component.
func readyScore(job *types.QueueJob) float64 {
	return float64(job.PriorityNumber)*1e13 + float64(job.EnqueuedAt.UnixMilli())
}

// newOpBackoff returns a fresh backoff for one broker operation. BackOff
// implementations are stateful; never share one across operations.
func newOpBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = opRetryMaxElapsed
	return bo
}

// isRetryable reports whether a Redis error is a transient infra fault
// worth retrying. Context cancellation and redis.Nil are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "loading the dataset", "readonly"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// withRetry executes one Redis operation with retry for transient errors.
func (b *Broker) withRetry(ctx context.Context, op func() error) error {
	bo := newOpBackoff()
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// Push claims the story's dedup slot and publishes the job to the ready
// set. A held slot means a live job exists and the push is rejected.
func (b *Broker) Push(ctx context.Context, job *types.QueueJob) error {
	if b.closed.Load() {
		return queue.ErrClosed
	}

	var claimed bool
	err := b.withRetry(ctx, func() error {
		var opErr error
		claimed, opErr = b.client.SetNX(ctx, b.dedupKey(job.StoryID), job.ID, 0).Result()
		return opErr
	})
	if err != nil {
		return fmt.Errorf("claiming dedup slot for %s: %w", job.StoryID, err)
	}
	if !claimed {
		return queue.ErrAlreadyQueued
	}

	if err := b.saveJob(ctx, job); err != nil {
		b.client.Del(ctx, b.dedupKey(job.StoryID)) // best-effort rollback
		return err
	}
	err = b.withRetry(ctx, func() error {
		return b.client.ZAdd(ctx, b.readyKey(), redis.Z{Score: readyScore(job), Member: job.ID}).Err()
	})
	if err != nil {
		b.client.Del(ctx, b.jobKey(job.ID), b.dedupKey(job.StoryID))
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return nil
}

// Pull blocks until a job is ready, promoting due delayed jobs on each
// cycle. ZPOPMIN guarantees each job goes to exactly one worker.
func (b *Broker) Pull(ctx context.Context) (*types.QueueJob, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if b.closed.Load() {
			return nil, queue.ErrClosed
		}
		if err := b.promoteDelayed(ctx); err != nil {
			debug.Logf("redisq: promoting delayed jobs: %v", err)
		}

		var popped []redis.Z
		err := b.withRetry(ctx, func() error {
			var opErr error
			popped, opErr = b.client.ZPopMin(ctx, b.readyKey(), 1).Result()
			return opErr
		})
		if err != nil {
			return nil, fmt.Errorf("popping ready job: %w", err)
		}
		if len(popped) > 0 {
			jobID, _ := popped[0].Member.(string)
			job, err := b.dispatch(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if job != nil {
				return job, nil
			}
			// Orphaned ready entry (job hash expired or removed); keep
			// pulling without sleeping.
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// dispatch loads a popped job and marks it active.
func (b *Broker) dispatch(ctx context.Context, jobID string) (*types.QueueJob, error) {
	job, err := b.loadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			debug.Logf("redisq: ready entry %s has no job record, dropping", jobID)
			return nil, nil
		}
		return nil, err
	}

	job.State = types.JobActive
	job.Attempts++
	if err := b.saveJob(ctx, job); err != nil {
		return nil, err
	}
	err = b.withRetry(ctx, func() error {
		return b.client.SAdd(ctx, b.activeKey(), job.ID).Err()
	})
	if err != nil {
		return nil, fmt.Errorf("marking job %s active: %w", job.ID, err)
	}
	return job, nil
}

// promoteDelayed moves due delayed jobs back into the ready set. The ZRem
// result arbitrates between concurrent promoters: only the worker that
// actually removed the member re-publishes it.
func (b *Broker) promoteDelayed(ctx context.Context) error {
	now := time.Now().UnixMilli()
	var due []string
	err := b.withRetry(ctx, func() error {
		var opErr error
		due, opErr = b.client.ZRangeByScore(ctx, b.delayedKey(), &redis.ZRangeBy{
			Min: "-inf", Max: fmt.Sprintf("%d", now),
		}).Result()
		return opErr
	})
	if err != nil {
		return err
	}

	for _, jobID := range due {
		removed, err := b.client.ZRem(ctx, b.delayedKey(), jobID).Result()
		if err != nil || removed == 0 {
			continue
		}
		job, err := b.loadJob(ctx, jobID)
		if err != nil {
			continue
		}
		job.State = types.JobWaiting
		if err := b.saveJob(ctx, job); err != nil {
			continue
		}
		if err := b.client.ZAdd(ctx, b.readyKey(), redis.Z{Score: readyScore(job), Member: jobID}).Err(); err != nil {
			debug.Logf("redisq: re-publishing promoted job %s: %v", jobID, err)
		}
	}
	return nil
}

// Ack completes a job: drops its record and frees the dedup slot.
func (b *Broker) Ack(ctx context.Context, jobID string) error {
	job, err := b.loadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return b.withRetry(ctx, func() error {
		pipe := b.client.Pipeline()
		pipe.SRem(ctx, b.activeKey(), jobID)
		pipe.Del(ctx, b.jobKey(jobID), b.dedupKey(job.StoryID))
		pipe.Incr(ctx, b.completedKey())
		_, opErr := pipe.Exec(ctx)
		return opErr
	})
}

// Fail re-delays the job with exponential backoff, or retires it as failed
// once its attempt budget is spent.
func (b *Broker) Fail(ctx context.Context, jobID, cause string) error {
	job, err := b.loadJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	job.LastError = cause

	if job.Attempts >= job.MaxAttempts {
		return b.withRetry(ctx, func() error {
			pipe := b.client.Pipeline()
			pipe.SRem(ctx, b.activeKey(), jobID)
			pipe.Del(ctx, b.jobKey(jobID), b.dedupKey(job.StoryID))
			pipe.Incr(ctx, b.failedKey())
			_, opErr := pipe.Exec(ctx)
			return opErr
		})
	}

	job.State = types.JobDelayed
	job.NextRunAt = time.Now().Add(queue.RetryDelay(job.Attempts))
	if err := b.saveJob(ctx, job); err != nil {
		return err
	}
	return b.withRetry(ctx, func() error {
		pipe := b.client.Pipeline()
		pipe.SRem(ctx, b.activeKey(), jobID)
		pipe.ZAdd(ctx, b.delayedKey(), redis.Z{Score: float64(job.NextRunAt.UnixMilli()), Member: jobID})
		_, opErr := pipe.Exec(ctx)
		return opErr
	})
}

// Remove cancels a waiting or delayed job for the story. Active jobs are
// untouched: a ZRem that misses both pre-dispatch sets means the job is
// already running or finished.
func (b *Broker) Remove(ctx context.Context, storyID string) (bool, error) {
	jobID, err := b.client.Get(ctx, b.dedupKey(storyID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("resolving job for %s: %w", storyID, err)
	}

	removed, err := b.client.ZRem(ctx, b.readyKey(), jobID).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		removed, err = b.client.ZRem(ctx, b.delayedKey(), jobID).Result()
		if err != nil {
			return false, err
		}
	}
	if removed == 0 {
		return false, nil
	}

	err = b.withRetry(ctx, func() error {
		return b.client.Del(ctx, b.jobKey(jobID), b.dedupKey(storyID)).Err()
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot reports live jobs and lifetime counters.
func (b *Broker) Snapshot(ctx context.Context) (*queue.Status, error) {
	ready, err := b.client.ZRange(ctx, b.readyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading ready set: %w", err)
	}
	delayed, err := b.client.ZRange(ctx, b.delayedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading delayed set: %w", err)
	}
	active, err := b.client.SMembers(ctx, b.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("reading active set: %w", err)
	}

	status := &queue.Status{
		Waiting: len(ready) + len(delayed),
		Active:  len(active),
	}
	status.Completed, _ = b.client.Get(ctx, b.completedKey()).Int()
	status.Failed, _ = b.client.Get(ctx, b.failedKey()).Int()

	ids := make([]string, 0, len(ready)+len(delayed)+len(active))
	ids = append(ids, ready...)
	ids = append(ids, delayed...)
	ids = append(ids, active...)
	for _, jobID := range ids {
		job, err := b.loadJob(ctx, jobID)
		if err != nil {
			continue // job finished between the set read and here
		}
		status.Jobs = append(status.Jobs, job)
	}
	queue.SortJobs(status.Jobs)
	return status, nil
}

// Close releases the Redis connection. Queue state stays in Redis for the
// next process.
func (b *Broker) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.client.Close()
}

func (b *Broker) saveJob(ctx context.Context, job *types.QueueJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	err = b.withRetry(ctx, func() error {
		return b.client.Set(ctx, b.jobKey(job.ID), data, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

func (b *Broker) loadJob(ctx context.Context, jobID string) (*types.QueueJob, error) {
	data, err := b.client.Get(ctx, b.jobKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}
	var job types.QueueJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job %s: %w", jobID, err)
	}
	return &job, nil
}
