// Package dashboard exposes read-only views over stories, queue state,
// and audit events, both to the CLI and over a small JSON HTTP API.
package dashboard

import (
	"context"
	"fmt"

	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// Queries bundles the read paths. Everything here is side-effect free.
type Queries struct {
	store storage.Store
	queue *queue.Manager // optional; nil yields an empty queue view
}

// NewQueries creates the read-side view.
func NewQueries(store storage.Store, q *queue.Manager) *Queries {
	return &Queries{store: store, queue: q}
}

// Stories lists stories under the given filter.
func (q *Queries) Stories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error) {
	return q.store.ListStories(ctx, filter)
}

// Story loads one story with its recent events.
func (q *Queries) Story(ctx context.Context, id string, eventLimit int) (*types.Story, []*types.Event, error) {
	story, err := q.store.GetStory(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := q.store.GetEvents(ctx, id, eventLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("loading events for %s: %w", id, err)
	}
	return story, events, nil
}

// Events returns the audit trail for a story (or all recent events when
// storyID is empty).
func (q *Queries) Events(ctx context.Context, storyID string, limit int) ([]*types.Event, error) {
	return q.store.GetEvents(ctx, storyID, limit)
}

// Sessions returns the agent session tree for a story.
func (q *Queries) Sessions(ctx context.Context, storyID string) ([]*types.AgentSession, error) {
	return q.store.ListSessions(ctx, storyID)
}

// Overview is the combined backlog + queue snapshot.
type Overview struct {
	Stories *types.StoryStats `json:"stories"`
	Queue   *queue.Status     `json:"queue"`
}

// Overview merges story stats with the live queue snapshot.
func (q *Queries) Overview(ctx context.Context) (*Overview, error) {
	stats, err := q.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading story stats: %w", err)
	}
	out := &Overview{Stories: stats, Queue: &queue.Status{}}
	if q.queue != nil {
		status, err := q.queue.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading queue snapshot: %w", err)
		}
		out.Queue = status
	}
	return out, nil
}

// QueueStatus returns the queue snapshot alone.
func (q *Queries) QueueStatus(ctx context.Context) (*queue.Status, error) {
	if q.queue == nil {
		return &queue.Status{}, nil
	}
	return q.queue.Snapshot(ctx)
}
