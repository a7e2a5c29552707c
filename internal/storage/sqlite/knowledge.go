package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/promptline/promptline/internal/types"
)

// ListKnowledgeItems returns the workspace's knowledge items with the given
// ids, in insertion order. Unknown ids are skipped; an empty id list returns nothing.
func (s *SQLiteStorage) ListKnowledgeItems(ctx context.Context, workspaceID string, ids []string) ([]*types.KnowledgeItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := []interface{}{workspaceID}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, workspace_id, title, content, category, tags, created_at
		FROM knowledge_items
		WHERE workspace_id = ? AND id IN (%s)
		ORDER BY created_at ASC, id ASC
	`, strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge items: %w", err)
	}
	defer rows.Close()

	var items []*types.KnowledgeItem
	for rows.Next() {
		var item types.KnowledgeItem
		var tags, createdAt string
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &item.Title, &item.Content, &item.Category, &tags, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge item: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode knowledge tags: %w", err)
		}
		if item.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// AddKnowledgeItem stores a knowledge item, assigning an id when empty
func (s *SQLiteStorage) AddKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error {
	if strings.TrimSpace(item.WorkspaceID) == "" {
		return &types.ValidationError{Field: "workspace_id", Message: "workspace is required"}
	}
	if strings.TrimSpace(item.Title) == "" {
		return &types.ValidationError{Field: "title", Message: "title is required"}
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}

	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	tagData, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode knowledge tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_items (id, workspace_id, title, content, category, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.WorkspaceID, item.Title, item.Content, item.Category, string(tagData), formatTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert knowledge item: %w", err)
	}
	return nil
}
