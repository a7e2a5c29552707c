package store

import (
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// ApplyRemote folds a persisted change from the change feed into memory.
//
// Inserts add unknown prompts in scope, updates replace the local copy only
// when strictly newer by updated_at (the echo of our own write is ignored),
// and deletes remove. Temporary prompts never receive remote changes.
func (s *Store) ApplyRemote(ev types.ChangeEvent) {
	if ev.WorkspaceID != s.filter.WorkspaceID || types.IsTempID(ev.PromptID) {
		return
	}

	var out *Event
	switch ev.Kind {
	case types.ChangeInsert:
		out = s.applyRemoteInsert(ev)
	case types.ChangeUpdate:
		out = s.applyRemoteUpdate(ev)
	case types.ChangeDelete:
		if s.remove(ev.PromptID) {
			out = &Event{Kind: EventDeleted, PromptID: ev.PromptID}
		}
	default:
		s.logger.Warn("unknown change kind", zap.String("kind", string(ev.Kind)))
	}

	if out != nil {
		s.logger.Debug("remote change applied",
			zap.String("prompt_id", ev.PromptID),
			zap.String("kind", string(out.Kind)))
		s.emit(*out)
	}
}

func (s *Store) applyRemoteInsert(ev types.ChangeEvent) *Event {
	if ev.Prompt == nil || !s.filter.Matches(ev.Prompt) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.prompts[ev.PromptID]; exists {
		return nil
	}
	s.prompts[ev.PromptID] = ev.Prompt.Clone()
	return &Event{Kind: EventCreated, PromptID: ev.PromptID, Prompt: ev.Prompt.Clone()}
}

func (s *Store) applyRemoteUpdate(ev types.ChangeEvent) *Event {
	if ev.Prompt == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local, exists := s.prompts[ev.PromptID]
	if exists && !ev.Prompt.UpdatedAt.After(local.UpdatedAt) {
		return nil
	}

	if !s.filter.Matches(ev.Prompt) {
		// Moved out of scope
		if exists {
			delete(s.prompts, ev.PromptID)
			return &Event{Kind: EventDeleted, PromptID: ev.PromptID}
		}
		return nil
	}

	s.prompts[ev.PromptID] = ev.Prompt.Clone()
	kind := EventUpdated
	if !exists {
		kind = EventCreated
	}
	return &Event{Kind: kind, PromptID: ev.PromptID, Prompt: ev.Prompt.Clone()}
}
