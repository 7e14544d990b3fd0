package billing

import (
	"time"

	"github.com/google/uuid"
)

// DunningAttempt is one scheduled step of a payment-recovery campaign.
// A full campaign is the ordered set of attempts created at campaign
// start; each attempt executes and retries independently.
type DunningAttempt struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	SubscriptionID uuid.UUID

	Step     DunningAction
	Strategy string
	Status   DunningAttemptStatus

	ScheduledAt  time.Time
	ExecutedAt   *time.Time
	ErrorMessage string

	// Metadata carries step-specific settings such as the reminder
	// template name or the grace period length in days.
	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the attempt should execute at `now`.
func (a *DunningAttempt) Due(now time.Time) bool {
	return a.Status == DunningAttemptPending && !a.ScheduledAt.After(now)
}
