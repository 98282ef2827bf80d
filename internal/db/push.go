package db

import (
	"context"
	"fmt"

	"github.com/memoforge/pipeline/internal/domain"
)

// ListSubscriptions lists every registered push subscription.
func (s *Store) ListSubscriptions(ctx context.Context) ([]domain.PushSubscription, error) {
	var subs []domain.PushSubscription
	err := s.db.SelectContext(ctx, &subs, `
		SELECT id, endpoint, p256dh, auth, user_agent, created_at FROM push_subscriptions
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription, called after the push
// transport reports 410 Gone (spec §4.I).
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// AddSubscription registers a new push subscription.
func (s *Store) AddSubscription(ctx context.Context, sub *domain.PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, endpoint, p256dh, auth, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth, user_agent = excluded.user_agent
	`, sub.ID, sub.Endpoint, sub.PublicKey, sub.AuthKey, sub.UserAgent, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add push subscription: %w", err)
	}
	return nil
}

// WasSent reports whether a notification for this action was already
// delivered, gating reprocess-triggered re-notification (spec §9).
func (s *Store) WasSent(ctx context.Context, actionID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM push_sent_ledger WHERE action_id = ?", actionID)
	if err != nil {
		return false, fmt.Errorf("failed to check push sent ledger: %w", err)
	}
	return count > 0, nil
}

// RecordSent appends to the sent ledger.
func (s *Store) RecordSent(ctx context.Context, sent *domain.PushSent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO push_sent_ledger (action_id, event_id, notification_type, sent_at)
		VALUES (?, ?, ?, ?)
	`, sent.ActionID, sent.EventID, sent.NotificationType, sent.SentAt)
	if err != nil {
		return fmt.Errorf("failed to record push sent: %w", err)
	}
	return nil
}
