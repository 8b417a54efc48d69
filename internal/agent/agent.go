// Package agent runs LLM-backed story execution. A Runner takes an
// approved story plus a prepared working copy and produces a validated
// Report; the anthropic-backed implementation lives in anthropic.go and
// every invocation is recorded in the session arena (arena.go).
package agent

import (
	"context"

	"github.com/steveyegge/greenlight/internal/types"
)

// Role names for session records.
const (
	RoleExecutor = "executor"
	RoleReviewer = "reviewer"
)

// DefaultMaxTokens bounds a single agent turn.
const DefaultMaxTokens = 8192

// Request describes one agent run.
type Request struct {
	Story   *types.Story
	WorkDir string

	// ParentSessionID links nested spawns into the session tree. Empty
	// for top-level runs.
	ParentSessionID string

	// Role labels the session (executor, reviewer). Defaults to executor.
	Role string

	// MaxTokens caps the response size per turn. Zero means
	// DefaultMaxTokens.
	MaxTokens int64
}

// Result is the outcome of a run. Report is always non-nil; a run that
// produced unusable output returns an empty report and an error.
type Result struct {
	Report       *Report
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	RawOutput    string
}

// Runner executes a story against a working copy. Implementations must
// honor ctx cancellation and must not mutate the story.
type Runner interface {
	RunAgent(ctx context.Context, req Request) (*Result, error)
}
