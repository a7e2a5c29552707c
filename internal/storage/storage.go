package storage

import (
	"context"

	"github.com/promptline/promptline/internal/storage/sqlite"
	"github.com/promptline/promptline/internal/types"
	"go.uber.org/zap"
)

// Storage defines the persistence collaborator used by the prompt core
type Storage interface {
	// Prompts
	CreatePrompt(ctx context.Context, prompt *types.Prompt, actor string) (*types.Prompt, error)
	GetPrompt(ctx context.Context, id string) (*types.Prompt, error)
	GetPromptByAgentID(ctx context.Context, agentID string) (*types.Prompt, error)
	ListPrompts(ctx context.Context, filter types.PromptFilter) ([]*types.Prompt, error)
	UpdatePrompt(ctx context.Context, id string, updates types.Updates, actor string) error
	DeletePrompt(ctx context.Context, id string, actor string) error

	// Change feed - persisted inserts/updates/deletes for one workspace.
	// The returned func unsubscribes and closes the channel.
	Subscribe(workspaceID string) (<-chan types.ChangeEvent, func())

	// Audit trail
	GetPromptEvents(ctx context.Context, promptID string, limit int) ([]*types.PromptEvent, error)

	// Integration credentials
	GetCredential(ctx context.Context, provider types.Provider) (string, error)
	SetCredential(ctx context.Context, provider types.Provider, secret string) error
	DeleteCredential(ctx context.Context, provider types.Provider) error

	// Webhook delivery ledger (exactly-once reconciliation)
	RecordWebhookDelivery(ctx context.Context, key, agentID, status string) (bool, error)
	ForgetWebhookDelivery(ctx context.Context, key string) error

	// Knowledge base (read side; CRUD lives elsewhere)
	ListKnowledgeItems(ctx context.Context, workspaceID string, ids []string) ([]*types.KnowledgeItem, error)
	AddKnowledgeItem(ctx context.Context, item *types.KnowledgeItem) error

	// Lifecycle
	Close() error
}

// Compile-time check that the SQLite backend satisfies Storage
var _ Storage = (*sqlite.SQLiteStorage)(nil)

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".promptline/promptline.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	Logger *zap.Logger
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: DefaultPath,
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return sqlite.New(ctx, cfg.Path, sqlite.WithLogger(cfg.Logger))
}
