package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a durable domain event awaiting publication. Emitting an event
// anywhere in the billing core means appending a row here; a separate
// Publisher drains unpublished rows, so delivery survives process
// restarts and can be audited.
type Event struct {
	ID             uuid.UUID       `json:"id"`
	Topic          string          `json:"topic"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	PublishedAt    *time.Time      `json:"published_at,omitempty"`
}

// New builds an event with the payload marshaled to JSON.
func New(topic string, tenantID, subscriptionID uuid.UUID, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}

	return Event{
		ID:             uuid.New(),
		Topic:          topic,
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		Payload:        raw,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Appender is the narrow write side used by event producers.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store defines the persistence required by the Publisher.
type Store interface {
	Appender

	// Unpublished returns up to limit events not yet marked published,
	// oldest first.
	Unpublished(ctx context.Context, limit int) ([]Event, error)

	// MarkPublished stamps events as delivered. Events not marked remain
	// eligible for the next drain pass (at-least-once delivery).
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
