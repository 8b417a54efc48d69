package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/eventbus"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// syncRetryMaxElapsed bounds transparent retries of one tracker call.
// Sync is best-effort; a tracker that stays down for longer just misses
// this update.
const syncRetryMaxElapsed = 10 * time.Second

// Adapter mirrors story lifecycle to an external tracker. Every method is
// best-effort: failures are logged, recorded as audit events, and
// swallowed. The state machine never sees a tracker error.
type Adapter struct {
	tracker Tracker
	store   storage.Store
	bus     *eventbus.Bus // optional
}

// NewAdapter wraps a tracker backend with the best-effort sync contract.
func NewAdapter(t Tracker, store storage.Store, bus *eventbus.Bus) *Adapter {
	return &Adapter{tracker: t, store: store, bus: bus}
}

// CreateTrackerIssue creates the external issue for a story and records
// the mapping on the story. Returns empty strings when creation failed;
// the story proceeds without a tracker mirror.
func (a *Adapter) CreateTrackerIssue(ctx context.Context, story *types.Story) (taskID, url string) {
	issue := NewIssue{
		Title:       story.Title,
		Description: story.Rationale,
		Priority:    PriorityFor(story.Priority),
	}

	var ref *IssueRef
	err := a.withRetry(ctx, func() error {
		var callErr error
		ref, callErr = a.tracker.CreateIssue(ctx, issue)
		return callErr
	})
	if err != nil {
		a.recordFailure(ctx, story.ID, fmt.Sprintf("creating %s issue: %v", a.tracker.Name(), err))
		return "", ""
	}

	if err := a.store.SetExternalRef(ctx, story.ID, ref.ID, ref.URL, "sync"); err != nil {
		log.Printf("Warning: storing tracker ref for %s: %v", story.ID, err)
	}
	if a.bus != nil {
		a.bus.Dispatch(ctx, &eventbus.Event{
			Type:     eventbus.EventTrackerLinked,
			StoryID:  story.ID,
			Detail:   ref.Identifier,
			URL:      ref.URL,
			Occurred: time.Now(),
		})
	}
	return ref.ID, ref.URL
}

// SyncStatus moves the story's tracker issue to the workflow state
// matching the given status. A story without a tracker issue is a silent
// no-op.
func (a *Adapter) SyncStatus(ctx context.Context, story *types.Story, status types.StoryStatus) {
	if story.ExternalTaskID == nil || *story.ExternalTaskID == "" {
		debug.Logf("sync: story %s has no tracker issue, skipping status sync", story.ID)
		return
	}

	var states []WorkflowState
	err := a.withRetry(ctx, func() error {
		var callErr error
		states, callErr = a.tracker.WorkflowStates(ctx)
		return callErr
	})
	if err != nil {
		a.recordFailure(ctx, story.ID, fmt.Sprintf("fetching %s workflow states: %v", a.tracker.Name(), err))
		return
	}

	state, err := ResolveState(states, status)
	if err != nil {
		a.recordFailure(ctx, story.ID, fmt.Sprintf("resolving state for %s: %v", status, err))
		return
	}

	err = a.withRetry(ctx, func() error {
		return a.tracker.UpdateIssueState(ctx, *story.ExternalTaskID, state.ID)
	})
	if err != nil {
		a.recordFailure(ctx, story.ID, fmt.Sprintf("moving issue to %s: %v", state.Name, err))
		return
	}
	debug.Logf("sync: story %s -> %s state %q", story.ID, status, state.Name)
}

// PostComment posts a comment on the story's tracker issue, if any.
func (a *Adapter) PostComment(ctx context.Context, story *types.Story, text string) {
	if story.ExternalTaskID == nil || *story.ExternalTaskID == "" {
		return
	}
	err := a.withRetry(ctx, func() error {
		return a.tracker.AddComment(ctx, *story.ExternalTaskID, text)
	})
	if err != nil {
		a.recordFailure(ctx, story.ID, fmt.Sprintf("posting comment: %v", err))
	}
}

// recordFailure logs a sync failure and leaves an audit trail. Sync
// failures never affect the story's own transition.
func (a *Adapter) recordFailure(ctx context.Context, storyID, detail string) {
	log.Printf("Warning: tracker sync for %s: %s", storyID, detail)
	if err := a.store.AddEvent(ctx, storyID, "sync_failed", "sync", detail); err != nil {
		debug.Logf("sync: recording failure event for %s: %v", storyID, err)
	}
	if a.bus != nil {
		a.bus.Dispatch(ctx, &eventbus.Event{
			Type:     eventbus.EventTrackerSyncFailed,
			StoryID:  storyID,
			Detail:   detail,
			Occurred: time.Now(),
		})
	}
}

// withRetry retries one tracker call on transient failures, bounded by
// syncRetryMaxElapsed. BackOff values are stateful so each call gets a
// fresh one.
func (a *Adapter) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = syncRetryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isTransient(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// isTransient reports whether a tracker error is worth retrying: network
// faults and server-side errors, not auth or validation failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"status 500", "status 502", "status 503", "status 504", "connection refused", "connection reset", "i/o timeout", "rate limited"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
