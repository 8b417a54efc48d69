// Package tracker defines the external issue tracker plugin interface and
// the best-effort sync adapter that mirrors story lifecycle to it.
//
// Tracker backends (linear, mock) register themselves in the factory
// registry at init time. The Adapter wraps a backend with the sync
// contract the state machine relies on: every call is best-effort, errors
// are logged and recorded as audit events, and nothing ever propagates
// back into a story transition.
package tracker

import "context"

// StateType is the tracker-agnostic workflow state category. Concrete
// trackers expose team-specific states; the adapter maps story statuses to
// a type and resolves the team's live states dynamically rather than
// hardcoding state IDs.
const (
	StateBacklog   = "backlog"
	StateUnstarted = "unstarted"
	StateStarted   = "started"
	StateCompleted = "completed"
	StateCanceled  = "canceled"
)

// WorkflowState is one live workflow state on the tracker side.
type WorkflowState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // one of the StateType constants
}

// NewIssue is the payload for creating a tracker issue from a story.
type NewIssue struct {
	Title       string
	Description string
	Priority    int // tracker-native priority: 1=urgent .. 4=low, 0=unset
	StateID     string
}

// IssueRef identifies a created tracker issue.
type IssueRef struct {
	ID         string // API identifier used for subsequent calls
	Identifier string // human-readable key, e.g. "ENG-123"
	URL        string
}

// Tracker is the plugin interface implemented by each external tracker
// backend.
type Tracker interface {
	// Name returns the lowercase identifier for this tracker ("linear").
	Name() string

	// DisplayName returns the human-readable name ("Linear").
	DisplayName() string

	// Validate checks that the tracker is configured and can connect.
	Validate() error

	// CreateIssue creates a new issue in the external tracker.
	CreateIssue(ctx context.Context, issue NewIssue) (*IssueRef, error)

	// WorkflowStates returns the team's current workflow states.
	WorkflowStates(ctx context.Context) ([]WorkflowState, error)

	// UpdateIssueState moves an issue to the given workflow state.
	UpdateIssueState(ctx context.Context, issueID, stateID string) error

	// AddComment posts a comment on an issue.
	AddComment(ctx context.Context, issueID, text string) error

	// Close releases any resources held by the tracker.
	Close() error
}
