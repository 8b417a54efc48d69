// Package mock provides an in-memory tracker backend for tests and dry
// runs. It records every call and can be told to fail on demand.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/greenlight/internal/tracker"
)

func init() {
	tracker.Register("mock", func() tracker.Tracker { return New() })
}

// Comment is one recorded AddComment call.
type Comment struct {
	IssueID string
	Text    string
}

// StateChange is one recorded UpdateIssueState call.
type StateChange struct {
	IssueID string
	StateID string
}

// Tracker implements tracker.Tracker in memory.
type Tracker struct {
	mu sync.Mutex

	// States is the workflow the mock reports. Defaults to one state per
	// standard state type.
	States []tracker.WorkflowState

	// FailCreate / FailStates / FailUpdate / FailComment force the
	// corresponding call to error, for exercising best-effort paths.
	FailCreate  bool
	FailStates  bool
	FailUpdate  bool
	FailComment bool

	Created      []tracker.NewIssue
	StateChanges []StateChange
	Comments     []Comment

	nextID int
}

var _ tracker.Tracker = (*Tracker)(nil)

// New creates a mock tracker with a default five-state workflow.
func New() *Tracker {
	return &Tracker{
		States: []tracker.WorkflowState{
			{ID: "st-backlog", Name: "Backlog", Type: tracker.StateBacklog},
			{ID: "st-todo", Name: "Todo", Type: tracker.StateUnstarted},
			{ID: "st-doing", Name: "In Progress", Type: tracker.StateStarted},
			{ID: "st-done", Name: "Done", Type: tracker.StateCompleted},
			{ID: "st-nope", Name: "Canceled", Type: tracker.StateCanceled},
		},
	}
}

func (t *Tracker) Name() string        { return "mock" }
func (t *Tracker) DisplayName() string { return "Mock" }
func (t *Tracker) Validate() error     { return nil }
func (t *Tracker) Close() error        { return nil }

// CreateIssue records the issue and returns a synthetic reference.
func (t *Tracker) CreateIssue(ctx context.Context, issue tracker.NewIssue) (*tracker.IssueRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailCreate {
		return nil, fmt.Errorf("mock tracker: create forced to fail")
	}
	t.nextID++
	t.Created = append(t.Created, issue)
	id := fmt.Sprintf("mock-%d", t.nextID)
	return &tracker.IssueRef{
		ID:         id,
		Identifier: fmt.Sprintf("MOCK-%d", t.nextID),
		URL:        "https://tracker.invalid/" + id,
	}, nil
}

// WorkflowStates returns the configured workflow.
func (t *Tracker) WorkflowStates(ctx context.Context) ([]tracker.WorkflowState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailStates {
		return nil, fmt.Errorf("mock tracker: states forced to fail")
	}
	return append([]tracker.WorkflowState(nil), t.States...), nil
}

// UpdateIssueState records the state change.
func (t *Tracker) UpdateIssueState(ctx context.Context, issueID, stateID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailUpdate {
		return fmt.Errorf("mock tracker: update forced to fail")
	}
	t.StateChanges = append(t.StateChanges, StateChange{IssueID: issueID, StateID: stateID})
	return nil
}

// AddComment records the comment.
func (t *Tracker) AddComment(ctx context.Context, issueID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailComment {
		return fmt.Errorf("mock tracker: comment forced to fail")
	}
	t.Comments = append(t.Comments, Comment{IssueID: issueID, Text: text})
	return nil
}
