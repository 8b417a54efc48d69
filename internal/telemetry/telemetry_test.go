package telemetry

import (
	"context"
	"testing"

	"github.com/steveyegge/greenlight/internal/storage/memory"
	"github.com/steveyegge/greenlight/internal/types"
)

func TestInitDisabledIsNoop(t *testing.T) {
	t.Setenv("GL_OTEL_ENABLED", "")

	if Enabled() {
		t.Fatal("Enabled() = true with GL_OTEL_ENABLED unset")
	}
	if err := Init(context.Background(), "gl-test", "0.0.0"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown(context.Background())

	// Noop providers must still hand out working instruments.
	_, span := Tracer("test").Start(context.Background(), "op")
	span.End()
	ctr, err := Meter("test").Int64Counter("test.count")
	if err != nil {
		t.Fatalf("Int64Counter() error = %v", err)
	}
	ctr.Add(context.Background(), 1)
}

func TestWrapStorePassesThrough(t *testing.T) {
	t.Setenv("GL_OTEL_ENABLED", "")
	if err := Init(context.Background(), "gl-test", "0.0.0"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Shutdown(context.Background())

	ctx := context.Background()
	store := WrapStore(memory.New())

	s := &types.Story{
		ProjectID:     "web",
		Title:         "fix flaky login test",
		Policy:        types.PolicyAutoSafe,
		PriorityLevel: types.LevelP1,
		PriorityScore: 70,
	}
	if err := store.CreateStory(ctx, s, "tester"); err != nil {
		t.Fatalf("CreateStory() through wrapper: %v", err)
	}
	got, err := store.GetStory(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStory() through wrapper: %v", err)
	}
	if got.Title != s.Title {
		t.Errorf("GetStory() title = %q, want %q", got.Title, s.Title)
	}
}
