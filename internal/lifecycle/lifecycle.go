// Package lifecycle implements the story state machine.
//
// Every transition rides the storage layer's atomic conditional update, so
// concurrent actors (two workers, a worker and a dashboard click) resolve
// to exactly one winner and the rest see storage.ErrConflict. The machine
// also enforces the policy gates: an approval_required story cannot start
// without user approval, and a suggest_only story completes without ever
// executing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/eventbus"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// ErrNotApproved is returned when a start is attempted on an
// approval_required story without user approval. Callers treat it as a
// policy skip, not a failure.
var ErrNotApproved = errors.New("story requires user approval")

// ErrPolicyForbids is returned when an operation contradicts the story's
// policy, e.g. starting execution of a suggest_only story.
var ErrPolicyForbids = errors.New("story policy forbids execution")

// JobRemover cancels a story's queued job if one is still pre-dispatch.
// Satisfied by queue.Manager.
type JobRemover interface {
	Remove(ctx context.Context, storyID, actor string) bool
}

// Machine governs story status transitions and their event side effects.
type Machine struct {
	store storage.Store
	queue JobRemover    // optional; Reject cancels the queued job through it
	bus   *eventbus.Bus // optional; transitions dispatch lifecycle events
}

// New creates a state machine over the given store. queue and bus may be
// nil for callers that only need bare transitions.
func New(store storage.Store, queue JobRemover, bus *eventbus.Bus) *Machine {
	return &Machine{store: store, queue: queue, bus: bus}
}

// Approve records user sign-off and moves a pending story to approved. An
// already-approved story just gains the approval flag.
func (m *Machine) Approve(ctx context.Context, id, actor string) (*types.Story, error) {
	approved := true
	story, err := m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusPending, types.StatusApproved},
		types.StatusApproved, actor, storage.StoryUpdates{SetUserApproved: &approved})
	if err != nil {
		return nil, err
	}
	m.dispatch(ctx, eventbus.EventStoryApproved, story, actor, "")
	return story, nil
}

// Reject terminally rejects a story that has not started executing, and
// cancels its queued job if one is still waiting.
func (m *Machine) Reject(ctx context.Context, id, actor, reason string) (*types.Story, error) {
	story, err := m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusPending, types.StatusApproved},
		types.StatusRejected, actor, storage.StoryUpdates{})
	if err != nil {
		return nil, err
	}
	if m.queue != nil {
		if m.queue.Remove(ctx, id, actor) {
			m.dispatch(ctx, eventbus.EventJobRemoved, story, actor, "rejected before dispatch")
		}
	}
	m.dispatch(ctx, eventbus.EventStoryRejected, story, actor, reason)
	return story, nil
}

// Start claims a story for execution. The policy gate runs first: a
// suggest_only story is never started, and an approval_required story
// without sign-off returns ErrNotApproved. The conditional transition to
// in_progress is what arbitrates between racing workers — the loser gets
// storage.ErrConflict and moves on.
func (m *Machine) Start(ctx context.Context, id, actor string) (*types.Story, error) {
	story, err := m.store.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	if story.Policy == types.PolicySuggestOnly {
		return nil, fmt.Errorf("story %s is suggest_only: %w", id, ErrPolicyForbids)
	}
	if story.Policy == types.PolicyApprovalRequired && !story.UserApproved {
		return nil, fmt.Errorf("story %s: %w", id, ErrNotApproved)
	}

	story, err = m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusPending, types.StatusApproved},
		types.StatusInProgress, actor, storage.StoryUpdates{})
	if err != nil {
		return nil, err
	}
	m.dispatch(ctx, eventbus.EventStoryStarted, story, actor, "")
	return story, nil
}

// CompleteSuggestion closes a suggest_only story directly from pending.
// No agent runs and no "started" event is emitted; the story simply
// surfaces as completed advice.
func (m *Machine) CompleteSuggestion(ctx context.Context, id, actor string) (*types.Story, error) {
	story, err := m.store.GetStory(ctx, id)
	if err != nil {
		return nil, err
	}
	if story.Policy != types.PolicySuggestOnly {
		return nil, fmt.Errorf("story %s has policy %s: %w", id, story.Policy, ErrPolicyForbids)
	}

	story, err = m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusPending, types.StatusApproved},
		types.StatusCompleted, actor, storage.StoryUpdates{})
	if err != nil {
		return nil, err
	}
	m.dispatch(ctx, eventbus.EventStoryCompleted, story, actor, "suggestion surfaced, no execution")
	return story, nil
}

// Complete finishes an executing story, persisting its pull request URL
// and execution timestamp in the same write as the transition.
func (m *Machine) Complete(ctx context.Context, id, actor, prURL string) (*types.Story, error) {
	now := time.Now()
	updates := storage.StoryUpdates{ExecutedAt: &now}
	if prURL != "" {
		updates.PRURL = &prURL
	}
	story, err := m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusInProgress},
		types.StatusCompleted, actor, updates)
	if err != nil {
		return nil, err
	}
	m.dispatch(ctx, eventbus.EventStoryCompleted, story, actor, prURL)
	return story, nil
}

// Fail terminally fails an executing story. Queue-level retries absorb
// transient infra faults before this point; a story-level failure requires
// a human re-trigger.
func (m *Machine) Fail(ctx context.Context, id, actor, errText string) (*types.Story, error) {
	now := time.Now()
	story, err := m.store.TransitionStory(ctx, id,
		[]types.StoryStatus{types.StatusInProgress},
		types.StatusFailed, actor, storage.StoryUpdates{ErrorText: &errText, ExecutedAt: &now})
	if err != nil {
		return nil, err
	}
	m.dispatch(ctx, eventbus.EventStoryFailed, story, actor, errText)
	return story, nil
}

// dispatch publishes a lifecycle event. Bus failures never affect the
// transition that already happened.
func (m *Machine) dispatch(ctx context.Context, typ eventbus.EventType, story *types.Story, actor, detail string) {
	if m.bus == nil {
		return
	}
	ev := &eventbus.Event{
		Type:      typ,
		StoryID:   story.ID,
		ProjectID: story.ProjectID,
		Title:     story.Title,
		Actor:     actor,
		Detail:    detail,
		Occurred:  time.Now(),
	}
	if story.PRURL != nil {
		ev.URL = *story.PRURL
	}
	if _, err := m.bus.Dispatch(ctx, ev); err != nil {
		debug.Logf("lifecycle: dispatching %s for %s: %v", typ, story.ID, err)
	}
}
