package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/promptline/promptline/internal/types"
)

// GetCredential returns the stored secret for a provider.
// A missing credential wraps types.ErrNotFound.
func (s *SQLiteStorage) GetCredential(ctx context.Context, provider types.Provider) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM integration_credentials WHERE provider = ?`, string(provider)).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("credential for %s: %w", provider, types.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential: %w", err)
	}
	return secret, nil
}

// SetCredential stores or replaces the secret for a provider
func (s *SQLiteStorage) SetCredential(ctx context.Context, provider types.Provider, secret string) error {
	if secret == "" {
		return &types.ValidationError{Field: "secret", Message: "credential cannot be empty"}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO integration_credentials (provider, secret, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at
	`, string(provider), secret, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	return nil
}

// DeleteCredential removes a provider's secret; deleting a missing one is a no-op
func (s *SQLiteStorage) DeleteCredential(ctx context.Context, provider types.Provider) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM integration_credentials WHERE provider = ?`, string(provider)); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
