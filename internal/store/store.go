// Package store holds the authoritative in-memory prompt collection for one
// workspace scope. Every local, pipeline and remote change flows through it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptline/promptline/internal/batcher"
	"github.com/promptline/promptline/internal/notify"
	"github.com/promptline/promptline/internal/storage"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// EventKind identifies what changed in the store
type EventKind string

const (
	EventCreated EventKind = "created"
	// EventReplaced: a temporary prompt received its persisted id (PreviousID)
	EventReplaced  EventKind = "replaced"
	EventUpdated   EventKind = "updated"
	EventGenerated EventKind = "generated"
	EventDeleted   EventKind = "deleted"
	// EventReloaded: local state was discarded in favor of storage after a failed write
	EventReloaded EventKind = "reloaded"
	// EventLoaded: the whole collection was (re)loaded
	EventLoaded EventKind = "loaded"
)

// Event is delivered to observers after the store's state has changed
type Event struct {
	Kind       EventKind
	PromptID   string
	PreviousID string
	// Prompt is a copy of the prompt after the change (nil for deletes and loads)
	Prompt *types.Prompt
}

// Observer receives store events synchronously on the goroutine that made
// the change. It must not call back into the store's mutating methods.
type Observer func(Event)

// Config configures a Store
type Config struct {
	// Filter scopes the store; Filter.WorkspaceID is required
	Filter      types.PromptFilter
	QuietPeriod time.Duration
	MaxParallel int
	Actor       string
	Logger      *zap.Logger
	Notifier    notify.Notifier
	// Now stamps updated_at on every write (time.Now when nil)
	Now func() time.Time
}

// Store is the in-memory prompt collection for one workspace/filter scope
type Store struct {
	storage  storage.Storage
	filter   types.PromptFilter
	actor    string
	logger   *zap.Logger
	notifier notify.Notifier
	now      func() time.Time
	batcher  *batcher.Batcher

	mu      sync.RWMutex
	prompts map[string]*types.Prompt

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	feedOnce    sync.Once
	unsubscribe func()
	feedDone    chan struct{}
}

// New creates a Store. Call Load to populate it and Start to follow the
// storage change feed.
func New(st storage.Storage, cfg Config) (*Store, error) {
	if cfg.Filter.WorkspaceID == "" {
		return nil, &types.ValidationError{Field: types.FieldWorkspaceID, Message: "workspace is required"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Actor == "" {
		cfg.Actor = "promptline"
	}

	s := &Store{
		storage:   st,
		filter:    cfg.Filter,
		actor:     cfg.Actor,
		logger:    cfg.Logger.With(zap.String("workspace_id", cfg.Filter.WorkspaceID)),
		notifier:  cfg.Notifier,
		now:       cfg.Now,
		prompts:   make(map[string]*types.Prompt),
		observers: make(map[int]Observer),
	}
	s.batcher = batcher.New(cfg.QuietPeriod, s.flushStatus, batcher.Options{
		Logger:      s.logger,
		MaxParallel: cfg.MaxParallel,
		OnResult:    s.onFlushResult,
	})
	return s, nil
}

// WorkspaceID returns the workspace this store is scoped to
func (s *Store) WorkspaceID() string {
	return s.filter.WorkspaceID
}

// Load replaces the in-memory collection with the persisted prompts in scope
func (s *Store) Load(ctx context.Context) error {
	filter := s.filter
	filter.Limit = 0
	prompts, err := s.storage.ListPrompts(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	s.mu.Lock()
	s.prompts = make(map[string]*types.Prompt, len(prompts))
	for _, p := range prompts {
		s.prompts[p.ID] = p
	}
	s.mu.Unlock()

	s.logger.Debug("prompts loaded", zap.Int("count", len(prompts)))
	s.emit(Event{Kind: EventLoaded})
	return nil
}

// Start follows the storage change feed until ctx is done or Close is called
func (s *Store) Start(ctx context.Context) {
	s.feedOnce.Do(func() {
		ch, unsubscribe := s.storage.Subscribe(s.filter.WorkspaceID)
		s.unsubscribe = unsubscribe
		s.feedDone = make(chan struct{})
		go func() {
			defer close(s.feedDone)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					s.ApplyRemote(ev)
				}
			}
		}()
	})
}

// Close flushes pending batched writes and stops following the feed
func (s *Store) Close(ctx context.Context) error {
	err := s.batcher.Close(ctx)
	if s.unsubscribe != nil {
		s.unsubscribe()
		<-s.feedDone
	}
	return err
}

// Flush writes pending batched status changes immediately
func (s *Store) Flush(ctx context.Context) error {
	return s.batcher.Flush(ctx)
}

// Get returns a copy of a prompt held by the store
func (s *Store) Get(id string) (*types.Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// FindByAgentID returns a copy of the prompt bound to agentID
func (s *Store) FindByAgentID(agentID string) (*types.Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.prompts {
		if p.AgentID != nil && *p.AgentID == agentID {
			return p.Clone(), true
		}
	}
	return nil, false
}

// List returns copies of every prompt, most urgent first then oldest first
func (s *Store) List() []*types.Prompt {
	s.mu.RLock()
	out := make([]*types.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListByStatus returns the prompts with the given status in List order
func (s *Store) ListByStatus(status types.Status) []*types.Prompt {
	var out []*types.Prompt
	for _, p := range s.List() {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// Subscribe registers an observer. The returned func removes it.
func (s *Store) Subscribe(obs Observer) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = obs
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) emit(ev Event) {
	s.obsMu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.Unlock()

	for _, obs := range observers {
		obs(ev)
	}
}

// Reload replaces one prompt with its persisted version. A prompt that no
// longer exists (or left the scope) is removed.
func (s *Store) Reload(ctx context.Context, id string) error {
	p, err := s.storage.GetPrompt(ctx, id)
	if errors.Is(err, types.ErrNotFound) || (err == nil && !s.filter.Matches(p)) {
		if s.remove(id) {
			s.emit(Event{Kind: EventDeleted, PromptID: id})
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to reload prompt %s: %w", id, err)
	}

	s.mu.Lock()
	s.prompts[id] = p
	s.mu.Unlock()

	s.emit(Event{Kind: EventReloaded, PromptID: id, Prompt: p.Clone()})
	return nil
}

func (s *Store) put(p *types.Prompt) {
	s.mu.Lock()
	s.prompts[p.ID] = p
	s.mu.Unlock()
}

func (s *Store) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[id]; !ok {
		return false
	}
	delete(s.prompts, id)
	return true
}

// Resolver finds the Store responsible for a prompt. Both *Store and
// *Registry implement it.
type Resolver interface {
	ForPrompt(ctx context.Context, promptID string) (*Store, error)
	ForAgent(ctx context.Context, agentID string) (*Store, *types.Prompt, error)
}

var (
	_ Resolver = (*Store)(nil)
	_ Resolver = (*Registry)(nil)
)

// ForPrompt returns s when the prompt belongs to this store's workspace
func (s *Store) ForPrompt(ctx context.Context, promptID string) (*Store, error) {
	if _, ok := s.Get(promptID); ok {
		return s, nil
	}
	p, err := s.storage.GetPrompt(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if p.WorkspaceID != s.filter.WorkspaceID {
		return nil, fmt.Errorf("prompt %s: %w", promptID, types.ErrNotFound)
	}
	return s, nil
}

// ForAgent returns s and the prompt bound to agentID within this workspace
func (s *Store) ForAgent(ctx context.Context, agentID string) (*Store, *types.Prompt, error) {
	if p, ok := s.FindByAgentID(agentID); ok {
		return s, p, nil
	}
	p, err := s.storage.GetPromptByAgentID(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	if p.WorkspaceID != s.filter.WorkspaceID {
		return nil, nil, fmt.Errorf("prompt for agent %s: %w", agentID, types.ErrNotFound)
	}
	return s, p, nil
}

// Current returns the in-memory prompt, falling back to storage for
// prompts outside the filter scope
func (s *Store) Current(ctx context.Context, id string) (*types.Prompt, error) {
	if p, ok := s.Get(id); ok {
		return p, nil
	}
	return s.storage.GetPrompt(ctx, id)
}
