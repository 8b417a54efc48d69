package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/steveyegge/greenlight/internal/debug"
	"github.com/steveyegge/greenlight/internal/eventbus"
	"github.com/steveyegge/greenlight/internal/queue"
	"github.com/steveyegge/greenlight/internal/stories"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/tracker"
	"github.com/steveyegge/greenlight/internal/types"
)

// Pipeline runs the triage path: findings are scored, ranked into
// stories, persisted, mirrored to the tracker, and auto_safe stories go
// straight to the execution queue. Re-running over the same findings is
// idempotent: content-hash duplicates are skipped.
type Pipeline struct {
	store storage.Store
	queue *queue.Manager   // optional; nil disables auto-enqueue
	sync  *tracker.Adapter // optional; nil disables tracker mirroring
	bus   *eventbus.Bus    // optional
}

// NewPipeline wires the triage pipeline. Only store is required.
func NewPipeline(store storage.Store, q *queue.Manager, sync *tracker.Adapter, bus *eventbus.Bus) *Pipeline {
	return &Pipeline{store: store, queue: q, sync: sync, bus: bus}
}

// Summary reports one triage run.
type Summary struct {
	Scored     int `json:"scored"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Enqueued   int `json:"enqueued"`
}

// Run triages a batch. Per-story persistence failures are logged and
// counted, never fatal to the batch; only a nil batch is an error.
func (p *Pipeline) Run(ctx context.Context, batch *Batch, actor string) (*Summary, error) {
	if batch == nil {
		return nil, fmt.Errorf("nil batch")
	}

	scored := stories.ScoreAll(batch.Findings, batch.Signal)
	built := stories.Build(scored)

	sum := &Summary{Scored: len(scored)}
	for _, story := range built {
		if err := p.store.CreateStory(ctx, story, actor); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				debug.Logf("triage: story %s already exists, skipping", story.ID)
				sum.Duplicates++
				continue
			}
			log.Printf("Warning: triage: creating story %s: %v", story.ID, err)
			continue
		}
		sum.Created++
		p.dispatchCreated(ctx, story, actor)

		if p.sync != nil {
			p.sync.CreateTrackerIssue(ctx, story)
		}

		if story.Policy == types.PolicyAutoSafe && p.queue != nil {
			jobID, err := p.queue.Enqueue(ctx, story.ID, story.PriorityLevel, "triage", actor)
			if err != nil {
				log.Printf("Warning: triage: enqueueing %s: %v", story.ID, err)
				continue
			}
			if jobID != "" {
				sum.Enqueued++
			}
		}
	}
	return sum, nil
}

// RunFile loads one drop file and triages it.
func (p *Pipeline) RunFile(ctx context.Context, path, actor string) (*Summary, error) {
	batch, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, batch, actor)
}

func (p *Pipeline) dispatchCreated(ctx context.Context, story *types.Story, actor string) {
	if p.bus == nil {
		return
	}
	if _, err := p.bus.Dispatch(ctx, &eventbus.Event{
		Type:      eventbus.EventStoryCreated,
		StoryID:   story.ID,
		ProjectID: story.ProjectID,
		Title:     story.Title,
		Actor:     actor,
		Detail:    fmt.Sprintf("score %d (%s), policy %s", story.PriorityScore, story.PriorityLevel, story.Policy),
		Occurred:  time.Now(),
	}); err != nil {
		debug.Logf("triage: dispatching created event for %s: %v", story.ID, err)
	}
}
