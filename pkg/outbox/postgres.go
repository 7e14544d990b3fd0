package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists outbox events in the outbox_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrStoreNil
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements Appender.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_events (
			id, topic, tenant_id, subscription_id, payload, created_at, published_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.ID, event.Topic, event.TenantID, event.SubscriptionID,
		[]byte(event.Payload), event.CreatedAt, event.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox event %s: %w", event.ID, err)
	}
	return nil
}

// Unpublished implements Store.
func (s *PostgresStore) Unpublished(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, tenant_id, subscription_id, payload, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpublished events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.Topic, &event.TenantID, &event.SubscriptionID,
			&payload, &event.CreatedAt, &event.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkPublished implements Store.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL`,
		ids, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark outbox events published: %w", err)
	}
	return nil
}
