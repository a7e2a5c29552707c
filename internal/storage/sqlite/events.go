package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/promptline/promptline/internal/types"
)

// GetPromptEvents returns the audit trail for a prompt, newest first
func (s *SQLiteStorage) GetPromptEvents(ctx context.Context, promptID string, limit int) ([]*types.PromptEvent, error) {
	query := `
		SELECT id, prompt_id, event_type, actor, old_value, new_value, created_at
		FROM prompt_events
		WHERE prompt_id = ?
		ORDER BY id DESC
	`
	args := []interface{}{promptID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*types.PromptEvent
	for rows.Next() {
		var event types.PromptEvent
		var eventType, createdAt string
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&event.ID, &event.PromptID, &eventType, &event.Actor, &oldValue, &newValue, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.EventType = types.EventType(eventType)
		event.OldValue = fromNullString(oldValue)
		event.NewValue = fromNullString(newValue)
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}
