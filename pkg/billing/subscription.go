package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription is the aggregate root of the billing automation. Invoices,
// payments, dunning attempts, and state changes all reference it but are
// independently persisted.
//
// Invariant: CurrentPeriodStart < CurrentPeriodEnd. FailedPaymentAttempts
// resets to zero only on a successful renewal.
type Subscription struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	ClientID uuid.UUID
	PlanID   string
	Status   SubscriptionStatus

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	NextBillingDate    time.Time

	FailedPaymentAttempts int
	NextRetryAt           *time.Time // set by a failed renewal, cleared on success
	PastDueDate           *time.Time
	GracePeriodEndsAt     *time.Time // recorded by the dunning grace_period step

	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	TrialEndsAt       *time.Time

	UnitPrice       decimal.Decimal
	Currency        string
	PaymentMethodID string // empty means no stored payment method

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *Subscription) IsPastDue() bool {
	return s.Status == StatusPastDue
}

func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// Renewable reports whether the automated renewal flow may process this
// subscription at all. PAST_DUE is renewable: a successful payment retry
// is the only path back to ACTIVE.
func (s *Subscription) Renewable() bool {
	return s.Status == StatusActive || s.Status == StatusPastDue || s.Status == StatusPendingCancellation
}

// PeriodEnded reports whether the current billing period is over at `now`.
// A renewal for a subscription whose period has not ended is a no-op;
// this guard is what makes duplicate renewal triggers idempotent.
func (s *Subscription) PeriodEnded(now time.Time) bool {
	return !s.CurrentPeriodEnd.After(now)
}

// HasPaymentMethod reports whether a payment method reference is stored.
func (s *Subscription) HasPaymentMethod() bool {
	return s.PaymentMethodID != ""
}
