// Package greenlight provides a minimal public API for extending gl with
// custom orchestration.
//
// Most extensions should use the dashboard HTTP endpoints or direct SQL
// against gl's database. This package exports only the essential types and
// functions needed for Go-based extensions that want to use gl's storage
// and scoring layers programmatically.
package greenlight

import (
	"context"

	"github.com/steveyegge/greenlight/internal/scoring"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/storage/sqlite"
	"github.com/steveyegge/greenlight/internal/types"
)

// Core types for working with stories and findings.
type (
	Story       = types.Story
	Finding     = types.Finding
	Status      = types.StoryStatus
	Policy      = types.Policy
	Level       = types.Level
	StoryFilter = types.StoryFilter
)

// Status constants.
const (
	StatusPending    = types.StatusPending
	StatusApproved   = types.StatusApproved
	StatusInProgress = types.StatusInProgress
	StatusCompleted  = types.StatusCompleted
	StatusFailed     = types.StatusFailed
	StatusRejected   = types.StatusRejected
)

// Policy constants.
const (
	PolicyAutoSafe         = types.PolicyAutoSafe
	PolicyApprovalRequired = types.PolicyApprovalRequired
	PolicySuggestOnly      = types.PolicySuggestOnly
)

// Storage provides the minimal interface for extension orchestration.
type Storage = storage.Store

// NewSQLiteStorage opens a gl SQLite database for programmatic access.
// Most extensions should use this to list stories and read audit trails.
func NewSQLiteStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}

// ScoreResult carries a computed priority score and its bucketed level.
type ScoreResult = scoring.Result

// Score computes the priority score for a finding, honoring an unexpired
// priority signal when one is attached.
func Score(f Finding, sig *types.PrioritySignal) ScoreResult {
	return scoring.Score(f, sig)
}
