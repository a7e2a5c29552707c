package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/promptline/promptline/internal/storage"
	"github.com/promptline/promptline/internal/types"
)

// Registry lazily opens one workspace-wide Store per workspace. The daemon
// uses it to route pipeline writes and remote pushes to the right Store.
type Registry struct {
	storage storage.Storage
	base    Config
	ctx     context.Context

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry creates a registry. ctx bounds the change-feed goroutines of
// every store it opens; base.Filter is ignored apart from WorkspaceID.
func NewRegistry(ctx context.Context, st storage.Storage, base Config) *Registry {
	return &Registry{
		storage: st,
		base:    base,
		ctx:     ctx,
		stores:  make(map[string]*Store),
	}
}

// Get returns the loaded, feed-following Store for a workspace
func (r *Registry) Get(ctx context.Context, workspaceID string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[workspaceID]; ok {
		return s, nil
	}

	cfg := r.base
	cfg.Filter = types.PromptFilter{WorkspaceID: workspaceID}
	s, err := New(r.storage, cfg)
	if err != nil {
		return nil, err
	}
	// Subscribe before loading so no change between the two is missed
	s.Start(r.ctx)
	if err := s.Load(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	r.stores[workspaceID] = s
	return s, nil
}

// ForPrompt returns the Store holding a persisted prompt
func (r *Registry) ForPrompt(ctx context.Context, promptID string) (*Store, error) {
	r.mu.Lock()
	for _, s := range r.stores {
		if _, ok := s.Get(promptID); ok {
			r.mu.Unlock()
			return s, nil
		}
	}
	r.mu.Unlock()

	p, err := r.storage.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, p.WorkspaceID)
}

// ForAgent returns the Store and prompt bound to an agent run, checking
// open stores before storage
func (r *Registry) ForAgent(ctx context.Context, agentID string) (*Store, *types.Prompt, error) {
	r.mu.Lock()
	for _, s := range r.stores {
		if p, ok := s.FindByAgentID(agentID); ok {
			r.mu.Unlock()
			return s, p, nil
		}
	}
	r.mu.Unlock()

	p, err := r.storage.GetPromptByAgentID(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	s, err := r.Get(ctx, p.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	if local, ok := s.Get(p.ID); ok {
		p = local
	}
	return s, p, nil
}

// Close closes every store, flushing pending writes
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for ws, s := range r.stores {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("workspace %s: %w", ws, err))
		}
		delete(r.stores, ws)
	}
	return errors.Join(errs...)
}
