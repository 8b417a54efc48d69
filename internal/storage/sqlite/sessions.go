package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/greenlight/internal/types"
)

// RecordSession upserts an agent session by ID. The worker writes a session
// row when an agent starts and again when it ends, so the second write must
// update token counts, end time, and error in place.
func (s *Store) RecordSession(ctx context.Context, sess *types.AgentSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if sess.StoryID == "" {
		return fmt.Errorf("session story_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, story_id, parent_id, role, input_tokens, output_tokens, started_at, ended_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			ended_at = excluded.ended_at,
			error = excluded.error
	`, sess.ID, sess.StoryID, sess.ParentID, sess.Role, sess.InputTokens,
		sess.OutputTokens, sess.StartedAt, sess.EndedAt, sess.Error)
	if err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}
	return nil
}

// ListSessions returns the agent sessions recorded for a story in start
// order.
func (s *Store) ListSessions(ctx context.Context, storyID string) ([]*types.AgentSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, story_id, parent_id, role, input_tokens, output_tokens, started_at, ended_at, error
		FROM sessions WHERE story_id = ? ORDER BY started_at ASC, id ASC
	`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.AgentSession
	for rows.Next() {
		var sess types.AgentSession
		var endedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.StoryID, &sess.ParentID, &sess.Role,
			&sess.InputTokens, &sess.OutputTokens, &sess.StartedAt, &endedAt, &sess.Error); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
