package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/promptline/promptline/internal/batcher"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/optimistic"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// CopySuffix is appended to the title of a duplicated prompt
const CopySuffix = " (copy)"

// pipelineFields may only be written by the generation and dispatch
// pipelines through Patch, never by a user edit.
var pipelineFields = map[string]bool{
	types.FieldGeneratedPrompt:   true,
	types.FieldGeneratedAt:       true,
	types.FieldAgentID:           true,
	types.FieldAgentStatus:       true,
	types.FieldAgentBranchName:   true,
	types.FieldAgentURL:          true,
	types.FieldPullRequestNumber: true,
	types.FieldPullRequestURL:    true,
	types.FieldPullRequestStatus: true,
	types.FieldWorkflowMetadata:  true,
	types.FieldUpdatedAt:         true,
}

// userStatuses are the statuses a user may move a prompt to directly
var userStatuses = map[types.Status]bool{
	types.StatusTodo:       true,
	types.StatusInProgress: true,
	types.StatusDone:       true,
}

// CreateInput holds the user-supplied fields of a new prompt
type CreateInput struct {
	Title       string
	Description string
	ProductID   *string
	EpicID      *string
	// Priority defaults to types.DefaultPriority
	Priority int
	// Status defaults to todo; only todo, in_progress and done are accepted
	Status types.Status
}

// Create adds a prompt optimistically under a temporary id, persists it and
// swaps in the persisted record. On failure the temporary prompt is removed.
func (s *Store) Create(ctx context.Context, in CreateInput) (*types.Prompt, error) {
	now := s.now()
	p := &types.Prompt{
		ID:          types.NewTempID(now),
		WorkspaceID: s.filter.WorkspaceID,
		ProductID:   in.ProductID,
		EpicID:      in.EpicID,
		Title:       strings.TrimSpace(in.Title),
		Status:      in.Status,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		p.Description = types.StringPtr(desc)
		p.OriginalDescription = types.StringPtr(desc)
	}
	if p.ProductID == nil && s.filter.ProductID != nil {
		p.ProductID = types.StringPtr(*s.filter.ProductID)
	}
	if p.EpicID == nil && s.filter.EpicID != nil {
		p.EpicID = types.StringPtr(*s.filter.EpicID)
	}
	if p.Status == "" {
		p.Status = types.StatusTodo
	}
	if p.Priority == 0 {
		p.Priority = types.DefaultPriority
	}
	if !userStatuses[p.Status] {
		return nil, &types.ValidationError{Field: types.FieldStatus, Message: fmt.Sprintf("prompts cannot be created as %s", p.Status)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	tempID := p.ID
	created, err := optimistic.Run(ctx, optimistic.Mutation[*types.Prompt]{
		Op: "create prompt",
		Apply: func() {
			s.put(p.Clone())
			s.emit(Event{Kind: EventCreated, PromptID: tempID, Prompt: p.Clone()})
		},
		Commit: func(ctx context.Context) (*types.Prompt, error) {
			return s.storage.CreatePrompt(ctx, p, s.actor)
		},
		Reconcile: func(created *types.Prompt) {
			s.mu.Lock()
			delete(s.prompts, tempID)
			// The change feed may already have delivered the insert
			if _, exists := s.prompts[created.ID]; !exists {
				s.prompts[created.ID] = created.Clone()
			}
			s.mu.Unlock()
			s.emit(Event{Kind: EventReplaced, PromptID: created.ID, PreviousID: tempID, Prompt: created.Clone()})
		},
		Rollback: func() {
			s.remove(tempID)
			s.emit(Event{Kind: EventDeleted, PromptID: tempID})
		},
	})
	if err != nil {
		s.notifyFailure(ctx, "Failed to create prompt", tempID, err)
		return nil, err
	}

	s.logger.Info("prompt created", zap.String("prompt_id", created.ID))
	return created.Clone(), nil
}

// Duplicate creates a copy of a prompt with " (copy)" appended to its title
func (s *Store) Duplicate(ctx context.Context, id string) (*types.Prompt, error) {
	src, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	if src.IsTemporary() {
		return nil, errStillSaving(id)
	}

	in := CreateInput{
		Title:     src.Title + CopySuffix,
		ProductID: src.ProductID,
		EpicID:    src.EpicID,
		Priority:  src.Priority,
	}
	if src.Description != nil {
		in.Description = *src.Description
	}
	return s.Create(ctx, in)
}

// UpdateStatus moves a prompt to a user-selectable status. The change is
// visible immediately and persisted by the batcher after the quiet period;
// a failed write is reverted by reloading the prompt from storage.
func (s *Store) UpdateStatus(ctx context.Context, id string, status types.Status) error {
	if types.IsTempID(id) {
		return errStillSaving(id)
	}
	if !userStatuses[status] {
		return &types.ValidationError{Field: types.FieldStatus, Message: fmt.Sprintf("status %s is managed by the pipeline", status)}
	}

	s.mu.Lock()
	cur, ok := s.prompts[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	if err := types.CheckTransition(cur.Status, status); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now()
	next := cur.Clone()
	next.Status = status
	next.UpdatedAt = now
	s.prompts[id] = next
	s.mu.Unlock()

	s.emit(Event{Kind: EventUpdated, PromptID: id, Prompt: next.Clone()})

	err := s.batcher.Schedule(id, types.Updates{
		types.FieldStatus:    status,
		types.FieldUpdatedAt: now,
	})
	if err != nil {
		s.put(cur)
		s.emit(Event{Kind: EventUpdated, PromptID: id, Prompt: cur.Clone()})
		return types.Transient("update status", err)
	}
	return nil
}

// UpdateFields applies a user edit immediately and optimistically. Fields
// owned by the pipelines are rejected.
func (s *Store) UpdateFields(ctx context.Context, id string, updates types.Updates) error {
	for key := range updates {
		if pipelineFields[key] {
			return &types.ValidationError{Field: key, Message: "field cannot be edited directly"}
		}
	}
	if status, ok := updates.Status(); ok && !userStatuses[status] {
		return &types.ValidationError{Field: types.FieldStatus, Message: fmt.Sprintf("status %s is managed by the pipeline", status)}
	}
	if title, ok := updates[types.FieldTitle].(string); ok {
		updates = updates.Clone()
		updates[types.FieldTitle] = strings.TrimSpace(title)
	}

	_, err := s.write(ctx, id, updates, "update prompt")
	if err != nil && !types.IsValidation(err) {
		s.notifyFailure(ctx, "Failed to save changes", id, err)
	}
	return err
}

// Patch is the single write path used by the generation and dispatch
// pipelines. It persists immediately, stamps updated_at and returns the
// resulting prompt. Pending batched writes for the prompt are flushed first
// so an older batched status can never overwrite the patch.
func (s *Store) Patch(ctx context.Context, id string, updates types.Updates) (*types.Prompt, error) {
	s.flushPendingFor(ctx, id)
	return s.write(ctx, id, updates, "patch prompt")
}

// Delete removes a prompt optimistically; it is restored if the delete fails
func (s *Store) Delete(ctx context.Context, id string) error {
	if types.IsTempID(id) {
		return errStillSaving(id)
	}
	snapshot, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("prompt %s: %w", id, types.ErrNotFound)
	}
	s.flushPendingFor(ctx, id)

	_, err := optimistic.Run(ctx, optimistic.Mutation[struct{}]{
		Op: "delete prompt",
		Apply: func() {
			s.remove(id)
			s.emit(Event{Kind: EventDeleted, PromptID: id})
		},
		Commit: func(ctx context.Context) (struct{}, error) {
			err := s.storage.DeletePrompt(ctx, id, s.actor)
			if errors.Is(err, types.ErrNotFound) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		},
		Rollback: func() {
			s.put(snapshot.Clone())
			s.emit(Event{Kind: EventCreated, PromptID: id, Prompt: snapshot.Clone()})
		},
	})
	if err != nil {
		s.notifyFailure(ctx, "Failed to delete prompt", id, err)
	}
	return err
}

// write validates and applies an immediate update through the optimistic
// controller. Prompts outside memory (another filter scope of the same
// workspace) are written straight to storage.
func (s *Store) write(ctx context.Context, id string, updates types.Updates, op string) (*types.Prompt, error) {
	if types.IsTempID(id) {
		return nil, errStillSaving(id)
	}
	if err := updates.Validate(); err != nil {
		return nil, err
	}

	cur, inMemory := s.Get(id)
	if !inMemory {
		p, err := s.storage.GetPrompt(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.WorkspaceID != s.filter.WorkspaceID {
			return nil, &types.ValidationError{Field: types.FieldWorkspaceID, Message: "prompt belongs to another workspace"}
		}
		cur = p
	}

	if status, ok := updates.Status(); ok {
		if err := types.CheckTransition(cur.Status, status); err != nil {
			return nil, err
		}
	}

	updates = updates.Clone()
	updates[types.FieldUpdatedAt] = s.now()
	next := cur.Clone()
	if err := types.ApplyUpdates(next, updates); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	kind := EventUpdated
	if v, ok := updates[types.FieldGeneratedPrompt]; ok && v != nil {
		kind = EventGenerated
	}

	if !inMemory {
		if err := s.storage.UpdatePrompt(ctx, id, updates, s.actor); err != nil {
			return nil, types.Transient(op, err)
		}
		return next, nil
	}

	return optimistic.Run(ctx, optimistic.Mutation[*types.Prompt]{
		Op: op,
		Apply: func() {
			s.put(next.Clone())
			s.emit(Event{Kind: kind, PromptID: id, Prompt: next.Clone()})
		},
		Commit: func(ctx context.Context) (*types.Prompt, error) {
			return next.Clone(), s.storage.UpdatePrompt(ctx, id, updates, s.actor)
		},
		Rollback: func() {
			s.put(cur.Clone())
			s.emit(Event{Kind: EventUpdated, PromptID: id, Prompt: cur.Clone()})
		},
	})
}

func (s *Store) flushPendingFor(ctx context.Context, id string) {
	if _, ok := s.batcher.Pending(id); ok {
		// Failures are handled per entity by onFlushResult
		_ = s.batcher.Flush(ctx)
	}
}

func (s *Store) flushStatus(ctx context.Context, id string, updates types.Updates) error {
	return s.storage.UpdatePrompt(ctx, id, updates, s.actor)
}

// onFlushResult converges memory to the persisted truth after a failed
// batched write
func (s *Store) onFlushResult(r batcher.Result) {
	if r.Err == nil {
		return
	}
	ctx := context.Background()
	if err := s.Reload(ctx, r.ID); err != nil {
		s.logger.Error("failed to reload prompt after failed write",
			zap.String("prompt_id", r.ID), zap.Error(err))
	}
	s.notifyFailure(ctx, "Failed to save changes", r.ID, r.Err)
}

func (s *Store) notifyFailure(ctx context.Context, title, id string, err error) {
	s.logger.Warn(title, zap.String("prompt_id", id), zap.Error(err))
	s.notifier.Notify(ctx, notify.Notification{
		Title:       title,
		Description: err.Error(),
		Severity:    notify.SeverityError,
		PromptID:    id,
	})
}

func errStillSaving(id string) error {
	return &types.ValidationError{Field: "id", Message: fmt.Sprintf("prompt %s is still being saved", id)}
}
