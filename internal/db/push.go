package db

import (
	"context"
	"time"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// SaveSubscription upserts a push subscription row.
func (s *Store) SaveSubscription(ctx context.Context, sub models.PushSubscription) error {
	return s.conn.Exec(ctx, `
		INSERT INTO push_subscriptions (id, endpoint, p256dh, auth, addresses, events, threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Endpoint, sub.P256dh, sub.Auth, sub.Addresses, sub.Events, sub.Threshold, sub.CreatedAt)
}

// DeleteSubscription removes a subscription, e.g. after the push endpoint
// reported 404/410.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	return s.conn.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
}

// ListSubscriptions returns every active push subscription.
func (s *Store) ListSubscriptions(ctx context.Context) ([]models.PushSubscription, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, endpoint, p256dh, auth, addresses, events, threshold, created_at
		FROM push_subscriptions FINAL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
			&sub.Addresses, &sub.Events, &sub.Threshold, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// HasNotification reports whether a (subscription, address, tick) push was
// already recorded. This is the pre-send dedup check.
func (s *Store) HasNotification(ctx context.Context, subscriptionID, address string, tick uint64) (bool, error) {
	var count uint64
	row := s.conn.QueryRow(ctx, `
		SELECT count() FROM notification_log
		WHERE subscription_id = ? AND address = ? AND tick_number = ?`,
		subscriptionID, address, tick)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordNotification writes the dedup row after a successful push.
func (s *Store) RecordNotification(ctx context.Context, subscriptionID, address string, tick uint64) error {
	return s.conn.Exec(ctx, `
		INSERT INTO notification_log (subscription_id, address, tick_number, sent_at)
		VALUES (?, ?, ?, ?)`,
		subscriptionID, address, tick, time.Now().UTC())
}
