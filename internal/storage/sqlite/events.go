package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/greenlight/internal/types"
)

// addEventTx records an audit event inside an existing transaction so the
// event commits or rolls back with the mutation it describes.
func addEventTx(ctx context.Context, tx *sql.Tx, storyID, kind, actor, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (story_id, kind, actor, detail) VALUES (?, ?, ?, ?)
	`, storyID, kind, actor, detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// AddEvent records a standalone audit event for a story.
func (s *Store) AddEvent(ctx context.Context, storyID, kind, actor, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (story_id, kind, actor, detail) VALUES (?, ?, ?, ?)
	`, storyID, kind, actor, detail)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetEvents returns audit events for a story, newest first. A limit of 0
// returns all events.
func (s *Store) GetEvents(ctx context.Context, storyID string, limit int) ([]*types.Event, error) {
	query := `SELECT id, story_id, kind, actor, detail, created_at FROM events WHERE story_id = ? ORDER BY id DESC`
	args := []interface{}{storyID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(&ev.ID, &ev.StoryID, &ev.Kind, &ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
