package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vowsuite/notify/internal/domain"
)

type pgDeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewPgDeliveryRepository returns a DeliveryRepository backed by PostgreSQL.
func NewPgDeliveryRepository(pool *pgxpool.Pool) DeliveryRepository {
	return &pgDeliveryRepository{pool: pool}
}

func (r *pgDeliveryRepository) Append(ctx context.Context, e *domain.DeliveryEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO delivery_log
			(id, notification_id, recipient, type, channel, outcome, detail, retry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.NotificationID, e.Recipient, e.Type, e.Channel, e.Outcome, e.Detail, e.RetryCount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append delivery entry: %w", err)
	}
	return nil
}

func (r *pgDeliveryRepository) ListByNotification(ctx context.Context, notificationID string) ([]*domain.DeliveryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, notification_id, recipient, type, channel, outcome, detail, retry_count, created_at
		FROM delivery_log
		WHERE notification_id = $1
		ORDER BY created_at ASC`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list delivery entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.DeliveryEntry
	for rows.Next() {
		var e domain.DeliveryEntry
		if err := rows.Scan(&e.ID, &e.NotificationID, &e.Recipient, &e.Type, &e.Channel,
			&e.Outcome, &e.Detail, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *pgDeliveryRepository) CountSince(ctx context.Context, recipient, notificationType string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM delivery_log
		WHERE recipient = $1 AND type = $2 AND outcome = 'sent' AND created_at >= $3`,
		recipient, notificationType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deliveries: %w", err)
	}
	return count, nil
}

func (r *pgDeliveryRepository) HasOutcome(ctx context.Context, notificationID, recipient string, ch domain.Channel, outcome domain.Outcome) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_log
			WHERE notification_id = $1 AND recipient = $2 AND channel = $3 AND outcome = $4
		)`, notificationID, recipient, ch, outcome).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivery outcome: %w", err)
	}
	return exists, nil
}
