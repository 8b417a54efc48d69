//go:build integration

package redisq

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/types"
)

// testRedisURL returns a Redis URL for integration tests: GL_TEST_REDIS_URL
// when set, otherwise a throwaway container.
func testRedisURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("GL_TEST_REDIS_URL"); url != "" {
		return url
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("cannot start redis container (set GL_TEST_REDIS_URL to use an existing server): %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	// Unique namespace per test so runs never interfere.
	ns := fmt.Sprintf("gl-test-%d", time.Now().UnixNano())
	b, err := New(testRedisURL(t), WithNamespace(ns))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func testJob(storyID string, priority int) *types.QueueJob {
	now := time.Now()
	return &types.QueueJob{
		ID:             "job-" + storyID,
		StoryID:        storyID,
		PriorityNumber: priority,
		State:          types.JobWaiting,
		MaxAttempts:    queue.MaxAttempts,
		EnqueuedAt:     now,
		NextRunAt:      now,
	}
}

func TestPushDedup(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Push(ctx, testJob("story-1", 2)); err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	err := b.Push(ctx, testJob("story-1", 1))
	if err != queue.ErrAlreadyQueued {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestPushConcurrentDedup(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	const triggers = 10
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job := testJob("story-raced", 1)
			job.ID = fmt.Sprintf("job-raced-%d", n)
			if err := b.Push(ctx, job); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 push to win the dedup slot, got %d", wins.Load())
	}
}

func TestPullPriorityOrder(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	for _, tc := range []struct {
		story    string
		priority int
	}{
		{"story-p3", 4},
		{"story-p0", 1},
		{"story-p2", 3},
	} {
		if err := b.Push(ctx, testJob(tc.story, tc.priority)); err != nil {
			t.Fatalf("push %s failed: %v", tc.story, err)
		}
	}

	want := []string{"story-p0", "story-p2", "story-p3"}
	for i, expected := range want {
		pullCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		job, err := b.Pull(pullCtx)
		cancel()
		if err != nil {
			t.Fatalf("pull %d failed: %v", i, err)
		}
		if job.StoryID != expected {
			t.Errorf("pull %d: expected %s, got %s", i, expected, job.StoryID)
		}
		if err := b.Ack(ctx, job.ID); err != nil {
			t.Fatalf("ack failed: %v", err)
		}
	}
}

func TestPullHandsJobToExactlyOneWorker(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Push(ctx, testJob("story-contended", 1)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	const workers = 5
	var wg sync.WaitGroup
	var got atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pullCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			if job, err := b.Pull(pullCtx); err == nil && job != nil {
				got.Add(1)
			}
		}()
	}
	wg.Wait()

	if got.Load() != 1 {
		t.Errorf("expected exactly 1 worker to receive the job, got %d", got.Load())
	}
}

func TestFailDelaysThenRetires(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	job := testJob("story-flaky", 1)
	job.MaxAttempts = 1 // retire on first failure so the test stays fast
	if err := b.Push(ctx, job); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pulled, err := b.Pull(pullCtx)
	cancel()
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if err := b.Fail(ctx, pulled.ID, "agent crashed"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	status, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if status.Failed != 1 || len(status.Jobs) != 0 {
		t.Errorf("expected retired job (failed=1, no live jobs), got %+v", status)
	}

	// Dedup slot released: the story can be re-enqueued.
	if err := b.Push(ctx, testJob("story-flaky", 1)); err != nil {
		t.Errorf("re-push after failure should succeed, got %v", err)
	}
}

func TestRemovePreDispatchOnly(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Push(ctx, testJob("story-waiting", 2)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := b.Push(ctx, testJob("story-running", 1)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	running, err := b.Pull(pullCtx)
	cancel()
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if running.StoryID != "story-running" {
		t.Fatalf("expected to pull story-running, got %s", running.StoryID)
	}

	if removed, _ := b.Remove(ctx, "story-running"); removed {
		t.Error("active job should not be removable")
	}
	if removed, err := b.Remove(ctx, "story-waiting"); err != nil || !removed {
		t.Errorf("waiting job should be removable, got removed=%v err=%v", removed, err)
	}
}

func TestSnapshotCounts(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()

	if err := b.Push(ctx, testJob("story-a", 1)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := b.Push(ctx, testJob("story-b", 3)); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	job, err := b.Pull(pullCtx)
	cancel()
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if err := b.Ack(ctx, job.ID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	status, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if status.Waiting != 1 || status.Active != 0 || status.Completed != 1 {
		t.Errorf("unexpected snapshot: %+v", status)
	}
	if len(status.Jobs) != 1 || status.Jobs[0].StoryID != "story-b" {
		t.Errorf("expected only story-b live, got %+v", status.Jobs)
	}
}
