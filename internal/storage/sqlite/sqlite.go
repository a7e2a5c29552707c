package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
	feed   *feed
	now    func() time.Time
}

// Option configures a SQLiteStorage
type Option func(*SQLiteStorage)

// WithLogger sets the logger used for feed and housekeeping messages
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLiteStorage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used to stamp created_at/updated_at
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new SQLite storage backend
func New(ctx context.Context, path string, opts ...Option) (*SQLiteStorage, error) {
	dsn := path
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStorage{
		db:     db,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.feed = newFeed(s.logger)
	return s, nil
}

const promptColumns = `id, workspace_id, product_id, epic_id, title, description, original_description,
	status, priority, generated_prompt, generated_at, agent_id, agent_status, agent_branch_name,
	agent_url, pull_request_number, pull_request_url, pull_request_status, workflow_metadata,
	created_at, updated_at`

// CreatePrompt persists a new prompt and returns the stored row. Temporary
// ids are replaced with a UUID; the caller's value is never mutated.
func (s *SQLiteStorage) CreatePrompt(ctx context.Context, prompt *types.Prompt, actor string) (*types.Prompt, error) {
	p := prompt.Clone()
	p.Title = strings.TrimSpace(p.Title)
	if p.Status == "" {
		p.Status = types.StatusTodo
	}
	if p.Priority == 0 {
		p.Priority = types.DefaultPriority
	}
	if p.ID == "" || p.IsTemporary() {
		p.ID = uuid.NewString()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	// Match what a later read returns
	p.CreatedAt = p.CreatedAt.UTC().Round(0)
	p.UpdatedAt = p.UpdatedAt.UTC().Round(0)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	meta, err := json.Marshal(p.WorkflowMetadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompts (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.WorkspaceID, nullString(p.ProductID), nullString(p.EpicID), p.Title,
		nullString(p.Description), nullString(p.OriginalDescription), string(p.Status), p.Priority,
		nullString(p.GeneratedPrompt), nullTime(p.GeneratedAt), nullString(p.AgentID),
		nullString(p.AgentStatus), nullString(p.AgentBranchName), nullString(p.AgentURL),
		nullInt(p.PullRequestNumber), nullString(p.PullRequestURL), nullString(p.PullRequestStatus),
		string(meta), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert prompt: %w", err)
	}

	snapshot, _ := json.Marshal(p)
	if err := s.recordEvent(ctx, tx, p.ID, types.EventCreated, actor, nil, stringPtr(string(snapshot))); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.feed.publish(types.ChangeEvent{
		Kind:        types.ChangeInsert,
		WorkspaceID: p.WorkspaceID,
		PromptID:    p.ID,
		Prompt:      p.Clone(),
	})
	return p, nil
}

// GetPrompt retrieves a prompt by ID. Missing rows wrap types.ErrNotFound.
func (s *SQLiteStorage) GetPrompt(ctx context.Context, id string) (*types.Prompt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return p, nil
}

// GetPromptByAgentID finds the prompt currently bound to an agent run
func (s *SQLiteStorage) GetPromptByAgentID(ctx context.Context, agentID string) (*types.Prompt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+` FROM prompts
		WHERE agent_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, agentID)
	p, err := scanPrompt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prompt for agent %s: %w", agentID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt by agent: %w", err)
	}
	return p, nil
}

// ListPrompts returns prompts matching the filter, most urgent first
func (s *SQLiteStorage) ListPrompts(ctx context.Context, filter types.PromptFilter) ([]*types.Prompt, error) {
	var where []string
	var args []interface{}

	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	if filter.ProductID != nil {
		where = append(where, "product_id = ?")
		args = append(args, *filter.ProductID)
	}
	if filter.EpicID != nil {
		where = append(where, "epic_id = ?")
		args = append(args, *filter.EpicID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if filter.HasAgent {
		where = append(where, "agent_id IS NOT NULL AND agent_id != ''")
	}

	query := `SELECT ` + promptColumns + ` FROM prompts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*types.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prompts: %w", err)
	}
	return prompts, nil
}

// UpdatePrompt applies a partial update. updated_at is stamped when the
// caller did not supply one. The audit event is written in the same transaction.
func (s *SQLiteStorage) UpdatePrompt(ctx context.Context, id string, updates types.Updates, actor string) error {
	if types.IsTempID(id) {
		return &types.ValidationError{Field: "id", Message: "temporary ids cannot be persisted"}
	}
	updates = updates.Clone()
	if _, ok := updates.UpdatedAt(); !ok {
		updates[types.FieldUpdatedAt] = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := scanPrompt(tx.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get prompt: %w", err)
	}

	// Validate against the resulting row so title/priority rules hold
	next := old.Clone()
	if err := types.ApplyUpdates(next, updates); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	setClauses := make([]string, 0, len(updates))
	args := make([]interface{}, 0, len(updates)+1)
	for key, value := range updates {
		// Field names come from the allowlist checked by ApplyUpdates
		v, err := columnValue(value)
		if err != nil {
			return &types.ValidationError{Field: key, Message: err.Error()}
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", key))
		args = append(args, v)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE prompts SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update prompt: %w", err)
	}

	eventType := types.EventUpdated
	oldValue, newValue := encodeUpdateEvent(old, updates)
	if status, ok := updates.Status(); ok && status != old.Status {
		eventType = types.EventStatusChanged
		oldValue = stringPtr(string(old.Status))
		newValue = stringPtr(string(status))
	}
	if err := s.recordEvent(ctx, tx, id, eventType, actor, oldValue, newValue); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.feed.publish(types.ChangeEvent{
		Kind:        types.ChangeUpdate,
		WorkspaceID: next.WorkspaceID,
		PromptID:    id,
		Prompt:      next,
		Updates:     updates,
	})
	return nil
}

// DeletePrompt removes a prompt. Its audit events are kept.
func (s *SQLiteStorage) DeletePrompt(ctx context.Context, id string, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var workspaceID, title string
	err = tx.QueryRowContext(ctx, `SELECT workspace_id, title FROM prompts WHERE id = ?`, id).Scan(&workspaceID, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get prompt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete prompt: %w", err)
	}
	if err := s.recordEvent(ctx, tx, id, types.EventDeleted, actor, stringPtr(title), nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.feed.publish(types.ChangeEvent{
		Kind:        types.ChangeDelete,
		WorkspaceID: workspaceID,
		PromptID:    id,
	})
	return nil
}

// Subscribe returns the change feed for one workspace
func (s *SQLiteStorage) Subscribe(workspaceID string) (<-chan types.ChangeEvent, func()) {
	return s.feed.subscribe(workspaceID)
}

// Close closes the database connection and every feed subscription
func (s *SQLiteStorage) Close() error {
	s.feed.close()
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrompt(row rowScanner) (*types.Prompt, error) {
	var p types.Prompt
	var productID, epicID, description, originalDescription sql.NullString
	var generatedPrompt, generatedAt, agentID, agentStatus, agentBranch, agentURL sql.NullString
	var prURL, prStatus sql.NullString
	var prNumber sql.NullInt64
	var status, meta, createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.WorkspaceID, &productID, &epicID, &p.Title, &description, &originalDescription,
		&status, &p.Priority, &generatedPrompt, &generatedAt, &agentID, &agentStatus, &agentBranch,
		&agentURL, &prNumber, &prURL, &prStatus, &meta, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.Status(status)
	p.ProductID = fromNullString(productID)
	p.EpicID = fromNullString(epicID)
	p.Description = fromNullString(description)
	p.OriginalDescription = fromNullString(originalDescription)
	p.GeneratedPrompt = fromNullString(generatedPrompt)
	p.AgentID = fromNullString(agentID)
	p.AgentStatus = fromNullString(agentStatus)
	p.AgentBranchName = fromNullString(agentBranch)
	p.AgentURL = fromNullString(agentURL)
	p.PullRequestURL = fromNullString(prURL)
	p.PullRequestStatus = fromNullString(prStatus)
	if prNumber.Valid {
		n := int(prNumber.Int64)
		p.PullRequestNumber = &n
	}
	if generatedAt.Valid {
		t, err := parseTime(generatedAt.String)
		if err != nil {
			return nil, err
		}
		p.GeneratedAt = &t
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &p.WorkflowMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode workflow metadata: %w", err)
		}
	}
	return &p, nil
}

// columnValue converts a typed update value into its SQL representation
func columnValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case types.Status:
		return string(v), nil
	case string, int:
		return v, nil
	case *string:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case *int:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case time.Time:
		return formatTime(v), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return formatTime(*v), nil
	case types.WorkflowMetadata:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode workflow metadata: %w", err)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", value)
}

// encodeUpdateEvent captures the touched fields before and after the update
func encodeUpdateEvent(old *types.Prompt, updates types.Updates) (*string, *string) {
	oldFields := make(map[string]interface{}, len(updates))
	oldJSON, _ := json.Marshal(old)
	var oldMap map[string]interface{}
	_ = json.Unmarshal(oldJSON, &oldMap)
	for key := range updates {
		oldFields[key] = oldMap[key]
	}
	oldData, _ := json.Marshal(oldFields)
	newData, _ := json.Marshal(updates)
	return stringPtr(string(oldData)), stringPtr(string(newData))
}

func (s *SQLiteStorage) recordEvent(ctx context.Context, tx *sql.Tx, promptID string, eventType types.EventType, actor string, oldValue, newValue *string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO prompt_events (prompt_id, event_type, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, promptID, string(eventType), actor, nullString(oldValue), nullString(newValue), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func stringPtr(s string) *string {
	return &s
}
