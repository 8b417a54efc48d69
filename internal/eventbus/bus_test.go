package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// recordingHandler records the events it sees, optionally failing.
type recordingHandler struct {
	id       string
	handles  []EventType
	priority int
	fail     bool
	seen     []EventType
}

func (h *recordingHandler) ID() string           { return h.id }
func (h *recordingHandler) Handles() []EventType { return h.handles }
func (h *recordingHandler) Priority() int        { return h.priority }

func (h *recordingHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	h.seen = append(h.seen, event.Type)
	if h.fail {
		return fmt.Errorf("handler %s always fails", h.id)
	}
	result.Notified = append(result.Notified, h.id)
	return nil
}

func storyEvent(t EventType) *Event {
	return &Event{Type: t, StoryID: "story-abc", Actor: "test", Occurred: time.Now()}
}

func TestDispatchMatchesByType(t *testing.T) {
	bus := New()
	completed := &recordingHandler{id: "on-complete", handles: []EventType{EventStoryCompleted}}
	failed := &recordingHandler{id: "on-fail", handles: []EventType{EventStoryFailed}}
	bus.Register(completed)
	bus.Register(failed)

	if _, err := bus.Dispatch(context.Background(), storyEvent(EventStoryCompleted)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(completed.seen) != 1 {
		t.Errorf("matching handler saw %d events, want 1", len(completed.seen))
	}
	if len(failed.seen) != 0 {
		t.Errorf("non-matching handler saw %d events, want 0", len(failed.seen))
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string
	mk := func(id string, prio int) Handler {
		return &funcHandler{id: id, handles: []EventType{EventStoryStarted}, priority: prio, fn: func() {
			order = append(order, id)
		}}
	}
	bus.Register(mk("late", 100))
	bus.Register(mk("early", 1))
	bus.Register(mk("middle", 50))

	if _, err := bus.Dispatch(context.Background(), storyEvent(EventStoryStarted)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	want := []string{"early", "middle", "late"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("call order %v, want %v", order, want)
		}
	}
}

func TestHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	failing := &recordingHandler{id: "broken", handles: []EventType{EventStoryFailed}, priority: 1, fail: true}
	after := &recordingHandler{id: "survivor", handles: []EventType{EventStoryFailed}, priority: 2}
	bus.Register(failing)
	bus.Register(after)

	result, err := bus.Dispatch(context.Background(), storyEvent(EventStoryFailed))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(after.seen) != 1 {
		t.Error("handler after a failing one was not called")
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(result.Warnings))
	}
	if len(result.Notified) != 1 || result.Notified[0] != "survivor" {
		t.Errorf("unexpected notified list: %v", result.Notified)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New()
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestEventTypeCategories(t *testing.T) {
	if !EventStoryCompleted.IsStoryEvent() {
		t.Error("StoryCompleted should be a story event")
	}
	if EventJobEnqueued.IsStoryEvent() {
		t.Error("JobEnqueued should not be a story event")
	}
	if !EventJobRetried.IsQueueEvent() {
		t.Error("JobRetried should be a queue event")
	}
}

// funcHandler adapts a closure to the Handler interface.
type funcHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func()
}

func (h *funcHandler) ID() string           { return h.id }
func (h *funcHandler) Handles() []EventType { return h.handles }
func (h *funcHandler) Priority() int        { return h.priority }
func (h *funcHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	h.fn()
	return nil
}
