// Package storage provides shared types for story persistence.
//
// Concrete backends live in the sqlite and memory sub-packages. This
// package holds the interface and value types referenced by both the
// backends and their consumers (lifecycle, queue, worker, cmd/gl).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/greenlight/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional transition loses: the story's
// current status did not match any expected from-status. The wrapping
// message carries the current status.
var ErrConflict = errors.New("status conflict")

// ErrDuplicate is returned when creating a story whose content hash already
// exists. Triage treats this as "already created" and moves on.
var ErrDuplicate = errors.New("story already exists")

// StoryUpdates carries the optional field writes applied atomically with a
// transition. Nil fields are left untouched.
type StoryUpdates struct {
	SetUserApproved *bool
	PRURL           *string
	ErrorText       *string
	ExecutedAt      *time.Time
}

// Store is the persistence interface satisfied by the sqlite and memory
// backends. Consumers depend on this interface so tests can substitute the
// memory backend.
type Store interface {
	// Story CRUD. CreateStory enforces content-hash uniqueness and
	// returns ErrDuplicate for a story triage already produced.
	CreateStory(ctx context.Context, story *types.Story, actor string) error
	GetStory(ctx context.Context, id string) (*types.Story, error)
	GetStoryByContentHash(ctx context.Context, hash string) (*types.Story, error)
	ListStories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error)

	// TransitionStory atomically moves a story from one of the expected
	// statuses to the target status, applying updates in the same write.
	// It fails with ErrConflict when the current status matches none of
	// from, and ErrNotFound for unknown IDs. This conditional update is
	// what keeps two workers from double-claiming one story.
	TransitionStory(ctx context.Context, id string, from []types.StoryStatus, to types.StoryStatus, actor string, updates StoryUpdates) (*types.Story, error)

	// SetExternalRef records the tracker issue created for a story.
	SetExternalRef(ctx context.Context, id, taskID, url, actor string) error

	// Audit events.
	AddEvent(ctx context.Context, storyID, kind, actor, detail string) error
	GetEvents(ctx context.Context, storyID string, limit int) ([]*types.Event, error)

	// Agent sessions. RecordSession upserts by session ID so a session
	// can be written at start and finalized at end.
	RecordSession(ctx context.Context, sess *types.AgentSession) error
	ListSessions(ctx context.Context, storyID string) ([]*types.AgentSession, error)

	// Stats summarizes story counts by status.
	Stats(ctx context.Context) (*types.StoryStats, error)

	Close() error
}
