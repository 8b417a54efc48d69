package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

func TestCreateStoryDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := New()

	story := &types.Story{ProjectID: "proj-a", Title: "Fix flaky test", PriorityScore: 40}
	if err := store.CreateStory(ctx, story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}

	dup := &types.Story{ProjectID: "proj-a", Title: "Fix flaky test", PriorityScore: 40}
	err := store.CreateStory(ctx, dup, "triage")
	if !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := store.GetStoryByContentHash(ctx, story.ContentHash)
	if err != nil {
		t.Fatalf("GetStoryByContentHash failed: %v", err)
	}
	if got.ID != story.ID {
		t.Errorf("expected original story %s, got %s", story.ID, got.ID)
	}
}

func TestGetStoryReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New()

	story := &types.Story{ProjectID: "proj-a", Title: "Isolated story"}
	if err := store.CreateStory(ctx, story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}

	first, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	first.Title = "mutated by caller"

	second, err := store.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	if second.Title != "Isolated story" {
		t.Errorf("caller mutation leaked into the store: %q", second.Title)
	}
}

func TestTransitionStoryConflict(t *testing.T) {
	ctx := context.Background()
	store := New()

	story := &types.Story{ProjectID: "proj-a", Title: "Terminal story"}
	if err := store.CreateStory(ctx, story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	if _, err := store.TransitionStory(ctx, story.ID,
		[]types.StoryStatus{types.StatusPending}, types.StatusRejected,
		"reviewer", storage.StoryUpdates{}); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	_, err := store.TransitionStory(ctx, story.ID,
		[]types.StoryStatus{types.StatusPending}, types.StatusApproved,
		"reviewer", storage.StoryUpdates{})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionStoryConcurrent(t *testing.T) {
	ctx := context.Background()
	store := New()

	story := &types.Story{ProjectID: "proj-a", Title: "Contended story"}
	if err := store.CreateStory(ctx, story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	approved := true
	if _, err := store.TransitionStory(ctx, story.ID,
		[]types.StoryStatus{types.StatusPending}, types.StatusApproved,
		"approver", storage.StoryUpdates{SetUserApproved: &approved}); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	const numWorkers = 10
	var wg sync.WaitGroup
	var wins atomic.Int32

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TransitionStory(ctx, story.ID,
				[]types.StoryStatus{types.StatusApproved}, types.StatusInProgress,
				"worker", storage.StoryUpdates{})
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, storage.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins.Load())
	}
}

func TestEventsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := New()

	story := &types.Story{ProjectID: "proj-a", Title: "Evented story"}
	if err := store.CreateStory(ctx, story, "triage"); err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	if err := store.AddEvent(ctx, story.ID, "sync_failed", "worker", "tracker timeout"); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	events, err := store.GetEvents(ctx, story.ID, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != "sync_failed" || events[1].Kind != "created" {
		t.Errorf("expected newest-first order, got %s then %s", events[0].Kind, events[1].Kind)
	}

	limited, err := store.GetEvents(ctx, story.ID, 1)
	if err != nil {
		t.Fatalf("GetEvents with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Kind != "sync_failed" {
		t.Errorf("expected only the newest event, got %d", len(limited))
	}
}

func TestStatsCounts(t *testing.T) {
	ctx := context.Background()
	store := New()

	statuses := []types.StoryStatus{types.StatusPending, types.StatusApproved, types.StatusApproved}
	for i, status := range statuses {
		story := &types.Story{
			ProjectID:     "proj-a",
			Title:         "Story " + string(rune('A'+i)),
			Status:        status,
			PriorityScore: i,
		}
		if err := store.CreateStory(ctx, story, "triage"); err != nil {
			t.Fatalf("CreateStory failed: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Approved != 2 || stats.Total != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
