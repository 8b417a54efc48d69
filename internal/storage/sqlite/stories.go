package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/greenlight/internal/idgen"
	"github.com/steveyegge/greenlight/internal/storage"
	"github.com/steveyegge/greenlight/internal/types"
)

const storyColumns = `id, content_hash, project_id, title, rationale, source_agent,
       priority, policy, priority_level, priority_score, advances_launch_stage,
       status, user_approved, external_task_id, external_issue_url, pr_url,
       error_text, executed_at, created_at, updated_at`

// CreateStory inserts a story, filling defaults, content hash, and ID when
// absent. A content hash that already exists returns storage.ErrDuplicate.
func (s *Store) CreateStory(ctx context.Context, story *types.Story, actor string) error {
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

	return s.withTx(ctx, func(tx *sql.Tx) error {
		err := insertStory(ctx, tx, story)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("content hash %s: %w", story.ContentHash, storage.ErrDuplicate)
			}
			return fmt.Errorf("failed to insert story: %w", err)
		}
		return addEventTx(ctx, tx, story.ID, "created", actor, story.Title)
	})
}

func insertStory(ctx context.Context, tx *sql.Tx, story *types.Story) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stories (
			id, content_hash, project_id, title, rationale, source_agent,
			priority, policy, priority_level, priority_score, advances_launch_stage,
			status, user_approved, external_task_id, external_issue_url, pr_url,
			error_text, executed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		story.ID, story.ContentHash, story.ProjectID, story.Title, story.Rationale,
		story.SourceAgent, story.Priority, story.Policy, story.PriorityLevel,
		story.PriorityScore, story.AdvancesLaunchStage, story.Status,
		story.UserApproved, story.ExternalTaskID, story.ExternalIssueURL,
		story.PRURL, story.ErrorText, story.ExecutedAt, story.CreatedAt,
		story.UpdatedAt,
	)
	return err
}

// GetStory retrieves a story by ID.
func (s *Store) GetStory(ctx context.Context, id string) (*types.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return story, nil
}

// GetStoryByContentHash retrieves a story by its scoring identity hash.
func (s *Store) GetStoryByContentHash(ctx context.Context, hash string) (*types.Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE content_hash = ?`, hash)
	story, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content hash %s: %w", hash, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story by content hash: %w", err)
	}
	return story, nil
}

// ListStories returns stories matching the filter, highest score first.
func (s *Store) ListStories(ctx context.Context, filter types.StoryFilter) ([]*types.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories`
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, filter.Priority)
	}
	if filter.Policy != "" {
		conds = append(conds, "policy = ?")
		args = append(args, filter.Policy)
	}
	if filter.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *filter.Since)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority_score DESC, created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stories []*types.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// TransitionStory atomically moves a story to a new status, but only when
// its current status matches one of the expected from-statuses. The
// conditional UPDATE is the single point of mutual exclusion: when several
// workers race for the same story, exactly one UPDATE matches a row and the
// rest fail with storage.ErrConflict.
func (s *Store) TransitionStory(ctx context.Context, id string, from []types.StoryStatus, to types.StoryStatus, actor string, updates storage.StoryUpdates) (*types.Story, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("at least one expected status is required")
	}

	var story *types.Story
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		set := []string{"status = ?", "updated_at = ?"}
		args := []interface{}{to, time.Now()}
		if updates.SetUserApproved != nil {
			set = append(set, "user_approved = ?")
			args = append(args, *updates.SetUserApproved)
		}
		if updates.PRURL != nil {
			set = append(set, "pr_url = ?")
			args = append(args, *updates.PRURL)
		}
		if updates.ErrorText != nil {
			set = append(set, "error_text = ?")
			args = append(args, *updates.ErrorText)
		}
		if updates.ExecutedAt != nil {
			set = append(set, "executed_at = ?")
			args = append(args, *updates.ExecutedAt)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
		args = append(args, id)
		for _, st := range from {
			args = append(args, st)
		}

		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			"UPDATE stories SET %s WHERE id = ? AND status IN (%s)",
			strings.Join(set, ", "), placeholders,
		), args...)
		if err != nil {
			return fmt.Errorf("failed to transition story: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check transition result: %w", err)
		}
		if affected == 0 {
			// Lost the race or unknown ID. Read the row to say which.
			var current string
			err := tx.QueryRowContext(ctx, `SELECT status FROM stories WHERE id = ?`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("failed to check story status: %w", err)
			}
			return fmt.Errorf("story %s is %s, wanted one of %v: %w", id, current, from, storage.ErrConflict)
		}

		if err := addEventTx(ctx, tx, id, transitionEventKind(to), actor, transitionDetail(updates)); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
		story, err = scanStory(row)
		if err != nil {
			return fmt.Errorf("failed to read story after transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return story, nil
}

// transitionEventKind names the audit event recorded for a transition.
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

// transitionDetail surfaces the most useful artifact from the updates in the
// audit trail: the failure text when present, otherwise the PR link.
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
func (s *Store) SetExternalRef(ctx context.Context, id, taskID, url, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE stories SET external_task_id = ?, external_issue_url = ?, updated_at = ?
			WHERE id = ?
		`, taskID, url, time.Now(), id)
		if err != nil {
			return fmt.Errorf("failed to set external ref: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check external ref result: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("story %s: %w", id, storage.ErrNotFound)
		}
		return addEventTx(ctx, tx, id, "tracker_linked", actor, taskID)
	})
}

// Stats summarizes story counts by status.
func (s *Store) Stats(ctx context.Context) (*types.StoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM stories GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &types.StoryStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		switch types.StoryStatus(status) {
		case types.StatusPending:
			stats.Pending = n
		case types.StatusApproved:
			stats.Approved = n
		case types.StatusInProgress:
			stats.InProgress = n
		case types.StatusCompleted:
			stats.Completed = n
		case types.StatusFailed:
			stats.Failed = n
		case types.StatusRejected:
			stats.Rejected = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStory(row rowScanner) (*types.Story, error) {
	var story types.Story
	var externalTaskID sql.NullString
	var externalIssueURL sql.NullString
	var prURL sql.NullString
	var executedAt sql.NullTime

	err := row.Scan(
		&story.ID, &story.ContentHash, &story.ProjectID, &story.Title,
		&story.Rationale, &story.SourceAgent, &story.Priority, &story.Policy,
		&story.PriorityLevel, &story.PriorityScore, &story.AdvancesLaunchStage,
		&story.Status, &story.UserApproved, &externalTaskID, &externalIssueURL,
		&prURL, &story.ErrorText, &executedAt, &story.CreatedAt,
		&story.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if externalTaskID.Valid {
		story.ExternalTaskID = &externalTaskID.String
	}
	if externalIssueURL.Valid {
		story.ExternalIssueURL = &externalIssueURL.String
	}
	if prURL.Valid {
		story.PRURL = &prURL.String
	}
	if executedAt.Valid {
		story.ExecutedAt = &executedAt.Time
	}
	return &story, nil
}
