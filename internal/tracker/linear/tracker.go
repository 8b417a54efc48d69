// Package linear implements the tracker interface against the Linear
// GraphQL API.
package linear

import (
	"context"
	"fmt"
	"os"

	"github.com/steveyegge/greenlight/internal/tracker"
)

func init() {
	tracker.Register("linear", func() tracker.Tracker {
		return New(ConfigFromEnv())
	})
}

// Config holds the Linear connection settings.
type Config struct {
	APIKey string
	TeamID string
}

// ConfigFromEnv reads the Linear settings from GL_LINEAR_API_KEY and
// GL_LINEAR_TEAM_ID. Used by the registry factory; callers with a config
// file pass an explicit Config to New instead.
func ConfigFromEnv() Config {
	return Config{
		APIKey: os.Getenv("GL_LINEAR_API_KEY"),
		TeamID: os.Getenv("GL_LINEAR_TEAM_ID"),
	}
}

// Tracker implements tracker.Tracker for Linear.
type Tracker struct {
	config Config
	client *Client
}

var _ tracker.Tracker = (*Tracker)(nil)

// New creates a Linear tracker with the given configuration.
func New(cfg Config) *Tracker {
	return &Tracker{
		config: cfg,
		client: NewClient(cfg.APIKey, cfg.TeamID),
	}
}

func (t *Tracker) Name() string        { return "linear" }
func (t *Tracker) DisplayName() string { return "Linear" }

// Validate checks the tracker configuration.
func (t *Tracker) Validate() error {
	if t.config.APIKey == "" {
		return fmt.Errorf("linear: API key not configured (set GL_LINEAR_API_KEY or tracker.linear.api_key)")
	}
	if t.config.TeamID == "" {
		return fmt.Errorf("linear: team ID not configured (set GL_LINEAR_TEAM_ID or tracker.linear.team_id)")
	}
	return nil
}

// CreateIssue creates a Linear issue for a story.
func (t *Tracker) CreateIssue(ctx context.Context, issue tracker.NewIssue) (*tracker.IssueRef, error) {
	created, err := t.client.CreateIssue(ctx, issue.Title, issue.Description, issue.Priority, issue.StateID)
	if err != nil {
		return nil, err
	}
	return &tracker.IssueRef{
		ID:         created.ID,
		Identifier: created.Identifier,
		URL:        created.URL,
	}, nil
}

// WorkflowStates returns the team's current workflow states.
func (t *Tracker) WorkflowStates(ctx context.Context) ([]tracker.WorkflowState, error) {
	states, err := t.client.GetTeamStates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.WorkflowState, len(states))
	for i, s := range states {
		out[i] = tracker.WorkflowState{ID: s.ID, Name: s.Name, Type: s.Type}
	}
	return out, nil
}

// UpdateIssueState moves an issue to the given workflow state.
func (t *Tracker) UpdateIssueState(ctx context.Context, issueID, stateID string) error {
	return t.client.UpdateIssueState(ctx, issueID, stateID)
}

// AddComment posts a comment on an issue.
func (t *Tracker) AddComment(ctx context.Context, issueID, text string) error {
	return t.client.AddComment(ctx, issueID, text)
}

// Close releases resources. The HTTP client has nothing to release.
func (t *Tracker) Close() error {
	return nil
}
