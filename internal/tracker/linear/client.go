package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// apiEndpoint is the Linear GraphQL API endpoint.
	apiEndpoint = "https://api.linear.app/graphql"

	// defaultTimeout is the default HTTP request timeout.
	defaultTimeout = 30 * time.Second

	// maxRetries is the maximum number of retries for rate-limited
	// requests.
	maxRetries = 3

	// retryDelay is the base delay between retries (exponential backoff).
	retryDelay = time.Second
)

// Client provides methods to interact with the Linear GraphQL API.
type Client struct {
	apiKey     string
	teamID     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Linear client with the given API key and team ID.
func NewClient(apiKey, teamID string) *Client {
	return &Client{
		apiKey:   apiKey,
		teamID:   teamID,
		endpoint: apiEndpoint,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// graphQLRequest represents a GraphQL request payload.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphQLResponse represents a generic GraphQL response.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
}

// State represents a workflow state in Linear.
type State struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "backlog", "unstarted", "started", "completed", "canceled"
}

// Issue represents an issue from the Linear API.
type Issue struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"` // e.g., "TEAM-123"
	Title      string `json:"title"`
	URL        string `json:"url"`
	State      *State `json:"state"`
}

type teamStatesResponse struct {
	Team struct {
		States *struct {
			Nodes []State `json:"nodes"`
		} `json:"states"`
	} `json:"team"`
}

type issueCreateResponse struct {
	IssueCreate struct {
		Success bool  `json:"success"`
		Issue   Issue `json:"issue"`
	} `json:"issueCreate"`
}

type issueUpdateResponse struct {
	IssueUpdate struct {
		Success bool `json:"success"`
	} `json:"issueUpdate"`
}

type commentCreateResponse struct {
	CommentCreate struct {
		Success bool `json:"success"`
	} `json:"commentCreate"`
}

// execute sends a GraphQL request, retrying rate-limited calls with
// exponential backoff.
func (c *Client) execute(ctx context.Context, req *graphQLRequest) (*graphQLResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := retryDelay * time.Duration(1<<attempt)
			lastErr = fmt.Errorf("rate limited, retrying after %v", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode)
		}

		var gqlResp graphQLResponse
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(respBody))
		}

		if len(gqlResp.Errors) > 0 {
			msgs := make([]string, len(gqlResp.Errors))
			for i, e := range gqlResp.Errors {
				msgs[i] = e.Message
			}
			return nil, fmt.Errorf("GraphQL errors: %s", strings.Join(msgs, "; "))
		}

		return &gqlResp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetTeamStates fetches the team's current workflow states.
func (c *Client) GetTeamStates(ctx context.Context) ([]State, error) {
	query := `
		query TeamStates($teamId: String!) {
			team(id: $teamId) {
				id
				states {
					nodes {
						id
						name
						type
					}
				}
			}
		}
	`

	resp, err := c.execute(ctx, &graphQLRequest{
		Query:     query,
		Variables: map[string]interface{}{"teamId": c.teamID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch team states: %w", err)
	}

	var teamResp teamStatesResponse
	if err := json.Unmarshal(resp.Data, &teamResp); err != nil {
		return nil, fmt.Errorf("failed to parse team states response: %w", err)
	}
	if teamResp.Team.States == nil {
		return nil, fmt.Errorf("no states found for team")
	}
	return teamResp.Team.States.Nodes, nil
}

// CreateIssue creates a new issue in Linear.
func (c *Client) CreateIssue(ctx context.Context, title, description string, priority int, stateID string) (*Issue, error) {
	query := `
		mutation CreateIssue($input: IssueCreateInput!) {
			issueCreate(input: $input) {
				success
				issue {
					id
					identifier
					title
					url
					state {
						id
						name
						type
					}
				}
			}
		}
	`

	input := map[string]interface{}{
		"teamId":      c.teamID,
		"title":       title,
		"description": description,
	}
	if priority > 0 {
		input["priority"] = priority
	}
	if stateID != "" {
		input["stateId"] = stateID
	}

	resp, err := c.execute(ctx, &graphQLRequest{
		Query:     query,
		Variables: map[string]interface{}{"input": input},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	var createResp issueCreateResponse
	if err := json.Unmarshal(resp.Data, &createResp); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	if !createResp.IssueCreate.Success {
		return nil, fmt.Errorf("issue creation reported as unsuccessful")
	}
	return &createResp.IssueCreate.Issue, nil
}

// UpdateIssueState moves an issue to the given workflow state.
func (c *Client) UpdateIssueState(ctx context.Context, issueID, stateID string) error {
	query := `
		mutation UpdateIssue($id: String!, $input: IssueUpdateInput!) {
			issueUpdate(id: $id, input: $input) {
				success
			}
		}
	`

	resp, err := c.execute(ctx, &graphQLRequest{
		Query: query,
		Variables: map[string]interface{}{
			"id":    issueID,
			"input": map[string]interface{}{"stateId": stateID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}

	var updateResp issueUpdateResponse
	if err := json.Unmarshal(resp.Data, &updateResp); err != nil {
		return fmt.Errorf("failed to parse update response: %w", err)
	}
	if !updateResp.IssueUpdate.Success {
		return fmt.Errorf("issue update reported as unsuccessful")
	}
	return nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, issueID, body string) error {
	query := `
		mutation CreateComment($input: CommentCreateInput!) {
			commentCreate(input: $input) {
				success
			}
		}
	`

	resp, err := c.execute(ctx, &graphQLRequest{
		Query: query,
		Variables: map[string]interface{}{
			"input": map[string]interface{}{
				"issueId": issueID,
				"body":    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}

	var commentResp commentCreateResponse
	if err := json.Unmarshal(resp.Data, &commentResp); err != nil {
		return fmt.Errorf("failed to parse comment response: %w", err)
	}
	if !commentResp.CommentCreate.Success {
		return fmt.Errorf("comment creation reported as unsuccessful")
	}
	return nil
}
