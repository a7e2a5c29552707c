package sqlite

import (
	"context"
	"fmt"
)

// RecordWebhookDelivery claims a delivery key. It returns false when the key
// was already recorded, meaning the delivery is a duplicate.
func (s *SQLiteStorage) RecordWebhookDelivery(ctx context.Context, key, agentID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_key, agent_id, status, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(delivery_key) DO NOTHING
	`, key, agentID, status, formatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("failed to record webhook delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check webhook delivery: %w", err)
	}
	return n == 1, nil
}

// ForgetWebhookDelivery releases a key so a redelivery is processed again
func (s *SQLiteStorage) ForgetWebhookDelivery(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE delivery_key = ?`, key); err != nil {
		return fmt.Errorf("failed to forget webhook delivery: %w", err)
	}
	return nil
}
