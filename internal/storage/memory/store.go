// Package memory implements the storage interface with in-process maps.
// Nothing survives process exit; it backs tests and one-shot pipeline runs
// that never touch disk.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/greenlight/internal/idgen"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// Store implements storage.Store with maps guarded by a single mutex.
type Store struct {
	mu          sync.RWMutex
	stories     map[string]*types.Story
	byHash      map[string]string // content hash -> story ID
	events      map[string][]*types.Event
	sessions    map[string][]*types.AgentSession
	nextEventID int64
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		stories:  make(map[string]*types.Story),
		byHash:   make(map[string]string),
		events:   make(map[string][]*types.Event),
		sessions: make(map[string][]*types.AgentSession),
	}
}

// CreateStory inserts a story, filling defaults, content hash, and ID when
// absent. A content hash that already exists returns storage.ErrDuplicate.
func (m *Store) CreateStory(ctx context.Context, story *types.Story, actor string) error {
	story.SetDefaults()
	if story.ContentHash == "" {
		story.ContentHash = story.ComputeContentHash()
	}
	if story.ID == "" {
		story.ID = idgen.StoryID(story.ContentHash, idgen.DefaultLength, 0)
	}
	if err := story.Validate(); err != nil {
		return fmt.Errorf("invalid story: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[story.ContentHash]; exists {
		return fmt.Errorf("content hash %s: %w", story.ContentHash, storage.ErrDuplicate)
	}
	if _, exists := m.stories[story.ID]; exists {
		return fmt.Errorf("story id %s: %w", story.ID, storage.ErrDuplicate)
	}

	m.stories[story.ID] = copyStory(story)
	m.byHash[story.ContentHash] = story.ID
	m.addEventLocked(story.ID, "created", actor, story.Title)
	return nil
}

// GetStory retrieves a story by ID.
func (m *Store) GetStory(ctx context.Context, id string) (*types.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	story, ok := m.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
	}
	return copyStory(story), nil
}

// GetStoryByContentHash retrieves a story by its scoring identity hash.
func (m *Store) GetStoryByContentHash(ctx context.Context, hash string) (*types.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("content hash %s: %w", hash, storage.ErrNotFound)
	}
	return copyStory(m.stories[id]), nil
}

// ListStories returns stories matching the filter, highest score first.
func (m *Store) ListStories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Story
	for _, story := range m.stories {
		if filter.Status != "" && story.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && story.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Priority != "" && story.Priority != filter.Priority {
			continue
		}
		if filter.Policy != "" && story.Policy != filter.Policy {
			continue
		}
		if filter.Since != nil && story.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, copyStory(story))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// TransitionStory atomically moves a story to a new status, but only when
// its current status matches one of the expected from-statuses. Concurrent
// callers serialize on the store mutex, so exactly one wins and the rest
// fail with storage.ErrConflict.
func (m *Store) TransitionStory(ctx context.Context, id string, from []types.StoryStatus, to types.StoryStatus, actor string, updates storage.StoryUpdates) (*types.Story, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("at least one expected status is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	story, ok := m.stories[id]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
	}

	matched := false
	for _, st := range from {
		if story.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("story %s is %s, wanted one of %v: %w", id, story.Status, from, storage.ErrConflict)
	}

	story.Status = to
	story.UpdatedAt = time.Now()
	if updates.SetUserApproved != nil {
		story.UserApproved = *updates.SetUserApproved
	}
	if updates.PRURL != nil {
		url := *updates.PRURL
		story.PRURL = &url
	}
	if updates.ErrorText != nil {
		story.ErrorText = *updates.ErrorText
	}
	if updates.ExecutedAt != nil {
		at := *updates.ExecutedAt
		story.ExecutedAt = &at
	}

	m.addEventLocked(id, transitionEventKind(to), actor, transitionDetail(updates))
	return copyStory(story), nil
}

func transitionEventKind(to types.StoryStatus) string {
	switch to {
	case types.StatusApproved:
		return "approved"
	case types.StatusInProgress:
		return "claimed"
	case types.StatusCompleted:
		return "completed"
	case types.StatusFailed:
		return "failed"
	case types.StatusRejected:
		return "rejected"
	}
	return "status_changed"
}

func transitionDetail(u storage.StoryUpdates) string {
	switch {
	case u.ErrorText != nil && *u.ErrorText != "":
		return *u.ErrorText
	case u.PRURL != nil && *u.PRURL != "":
		return *u.PRURL
	}
	return ""
}

// SetExternalRef records the external tracker issue linked to a story.
func (m *Store) SetExternalRef(ctx context.Context, id, taskID, url, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	story, ok := m.stories[id]
	if !ok {
		return fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
	}
	tid, u := taskID, url
	story.ExternalTaskID = &tid
	story.ExternalIssueURL = &u
	story.UpdatedAt = time.Now()
	m.addEventLocked(id, "tracker_linked", actor, taskID)
	return nil
}

// AddEvent records a standalone audit event for a story.
func (m *Store) AddEvent(ctx context.Context, storyID, kind, actor, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addEventLocked(storyID, kind, actor, detail)
	return nil
}

func (m *Store) addEventLocked(storyID, kind, actor, detail string) {
	m.nextEventID++
	m.events[storyID] = append(m.events[storyID], &types.Event{
		ID:        m.nextEventID,
		StoryID:   storyID,
		Kind:      kind,
		Actor:     actor,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

// GetEvents returns audit events for a story, newest first. A limit of 0
// returns all events.
func (m *Store) GetEvents(ctx context.Context, storyID string, limit int) ([]*types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recorded := m.events[storyID]
	out := make([]*types.Event, 0, len(recorded))
	for i := len(recorded) - 1; i >= 0; i-- {
		ev := *recorded[i]
		out = append(out, &ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// RecordSession upserts an agent session by ID.
func (m *Store) RecordSession(ctx context.Context, sess *types.AgentSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if sess.StoryID == "" {
		return fmt.Errorf("session story_id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sess
	if sess.EndedAt != nil {
		at := *sess.EndedAt
		cp.EndedAt = &at
	}
	existing := m.sessions[sess.StoryID]
	for i, prior := range existing {
		if prior.ID == sess.ID {
			existing[i] = &cp
			return nil
		}
	}
	m.sessions[sess.StoryID] = append(existing, &cp)
	return nil
}

// ListSessions returns the agent sessions recorded for a story in start
// order.
func (m *Store) ListSessions(ctx context.Context, storyID string) ([]*types.AgentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recorded := m.sessions[storyID]
	out := make([]*types.AgentSession, 0, len(recorded))
	for _, sess := range recorded {
		cp := *sess
		if sess.EndedAt != nil {
			at := *sess.EndedAt
			cp.EndedAt = &at
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stats summarizes story counts by status.
func (m *Store) Stats(ctx context.Context) (*types.StoryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.StoryStats{}
	for _, story := range m.stories {
		switch story.Status {
		case types.StatusPending:
			stats.Pending++
		case types.StatusApproved:
			stats.Approved++
		case types.StatusInProgress:
			stats.InProgress++
		case types.StatusCompleted:
			stats.Completed++
		case types.StatusFailed:
			stats.Failed++
		case types.StatusRejected:
			stats.Rejected++
		}
		stats.Total++
	}
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (m *Store) Close() error {
	return nil
}

// copyStory returns a deep copy so callers never alias store-owned memory.
func copyStory(s *types.Story) *types.Story {
	cp := *s
	if s.ExternalTaskID != nil {
		v := *s.ExternalTaskID
		cp.ExternalTaskID = &v
	}
	if s.ExternalIssueURL != nil {
		v := *s.ExternalIssueURL
		cp.ExternalIssueURL = &v
	}
	if s.PRURL != nil {
		v := *s.PRURL
		cp.PRURL = &v
	}
	if s.ExecutedAt != nil {
		v := *s.ExecutedAt
		cp.ExecutedAt = &v
	}
	return &cp
}
