package agent

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/greenlight/internal/idgen"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

// Arena owns agent session records. Sessions form a tree via ParentID so
// nested spawns (executor delegating to a reviewer, say) stay
// reconstructable after the process exits. The arena keeps a live index
// by ID and persists every finished session through the store.
type Arena struct {
	store storage.Store

	mu       sync.Mutex
	sessions map[string]*types.AgentSession
}

// NewArena creates an arena backed by store. store may be nil for
// in-memory-only use (tests).
func NewArena(store storage.Store) *Arena {
	return &Arena{
		store:    store,
		sessions: make(map[string]*types.AgentSession),
	}
}

// Session is a handle to one in-flight agent run.
type Session struct {
	arena *Arena
	rec   *types.AgentSession
}

// Begin opens a session. parentID is empty for top-level runs.
func (a *Arena) Begin(storyID, parentID, role string) *Session {
	now := time.Now().UTC()
	rec := &types.AgentSession{
		ID:        idgen.SessionID(storyID, parentID, now),
		StoryID:   storyID,
		ParentID:  parentID,
		Role:      role,
		StartedAt: now,
	}

	a.mu.Lock()
	a.sessions[rec.ID] = rec
	a.mu.Unlock()

	return &Session{arena: a, rec: rec}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.rec.ID
}

// Finish closes the session with final token counts and persists it.
// Safe on a nil receiver so callers without an arena need no guard.
// Persistence is best-effort: a store failure is logged, never returned,
// because session bookkeeping must not fail an agent run.
func (s *Session) Finish(ctx context.Context, inputTokens, outputTokens int64, runErr error) {
	if s == nil {
		return
	}
	now := time.Now().UTC()

	s.arena.mu.Lock()
	s.rec.InputTokens = inputTokens
	s.rec.OutputTokens = outputTokens
	s.rec.EndedAt = &now
	if runErr != nil {
		s.rec.Error = runErr.Error()
	}
	snapshot := *s.rec
	s.arena.mu.Unlock()

	if s.arena.store != nil {
		if err := s.arena.store.RecordSession(ctx, &snapshot); err != nil {
			log.Printf("Warning: failed to record agent session %s: %v", snapshot.ID, err)
		}
	}
}

// Get returns a copy of the session with the given ID, or nil.
func (a *Arena) Get(id string) *types.AgentSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.sessions[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Children returns copies of the sessions whose ParentID is id, ordered
// by start time.
func (a *Arena) Children(id string) []*types.AgentSession {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []*types.AgentSession
	for _, rec := range a.sessions {
		if rec.ParentID == id {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Tree reconstructs the session tree for a story from the store,
// independent of what this process has in memory. Roots (empty ParentID)
// come first, each followed by its descendants depth-first.
func Tree(ctx context.Context, store storage.Store, storyID string) ([]*types.AgentSession, error) {
	sessions, err := store.ListSessions(ctx, storyID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*types.AgentSession)
	for _, s := range sessions {
		children[s.ParentID] = append(children[s.ParentID], s)
	}
	for _, kids := range children {
		sort.Slice(kids, func(i, j int) bool { return kids[i].StartedAt.Before(kids[j].StartedAt) })
	}

	var out []*types.AgentSession
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, s := range children[parentID] {
			out = append(out, s)
			walk(s.ID)
		}
	}
	walk("")
	return out, nil
}
