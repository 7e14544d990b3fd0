package billing

import (
	"time"

	"github.com/google/uuid"
)

// StateChange is one append-only audit row recording a subscription
// status transition. Rows are never mutated or deleted by this module.
type StateChange struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID

	FromStatus SubscriptionStatus
	ToStatus   SubscriptionStatus
	Reason     string
	Actor      string
	Metadata   map[string]any

	CreatedAt time.Time
}
