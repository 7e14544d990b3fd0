package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore defines subscription persistence. All reads are
// tenant-scoped; a subscription ID from the wrong tenant behaves as
// not found.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns ErrSubscriptionNotFound when no row matches.
	GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)

	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// ListRenewalsDue returns subscriptions in a renewable status whose
	// nextBillingDate falls at or before `due`, oldest first.
	ListRenewalsDue(ctx context.Context, due time.Time, limit int) ([]*Subscription, error)

	// ListRetriesDue returns subscriptions with failed payment attempts
	// whose retry hint has elapsed.
	ListRetriesDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)

	// ListTrialsEnded returns TRIALING subscriptions whose trial has run
	// out, oldest trial end first.
	ListTrialsEnded(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// InvoiceStore defines invoice persistence.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// UpdateInvoice returns ErrInvoiceImmutable when the stored invoice
	// is already paid.
	UpdateInvoice(ctx context.Context, inv *Invoice) error
}

// PaymentStore defines payment-attempt persistence.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
}

// DunningStore defines campaign-attempt persistence.
type DunningStore interface {
	// CreateDunningAttempts stores a full campaign atomically.
	CreateDunningAttempts(ctx context.Context, attempts []*DunningAttempt) error

	// HasPendingCampaign reports whether any pending attempt exists for
	// the subscription. Used for idempotent campaign starts.
	HasPendingCampaign(ctx context.Context, tenantID, subscriptionID uuid.UUID) (bool, error)

	GetDunningAttempt(ctx context.Context, tenantID, id uuid.UUID) (*DunningAttempt, error)
	UpdateDunningAttempt(ctx context.Context, attempt *DunningAttempt) error

	// ListDueDunningAttempts returns pending attempts scheduled at or
	// before `due`, oldest first.
	ListDueDunningAttempts(ctx context.Context, due time.Time, limit int) ([]*DunningAttempt, error)
}

// StateChangeStore is the append-only audit trail.
type StateChangeStore interface {
	AppendStateChange(ctx context.Context, change *StateChange) error
	ListStateChanges(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*StateChange, error)
}

// InvoiceNumberAllocator persists a new invoice together with its
// gapless sequential number, scoped to tenant and year of issue. The
// allocation and the insert happen in one transaction: a failed insert
// never consumes a number, so the sequence keeps no holes. On success
// inv.Number carries the assigned number.
type InvoiceNumberAllocator interface {
	CreateNumberedInvoice(ctx context.Context, inv *Invoice) error
}

// Store bundles every billing repository. The in-memory and Postgres
// implementations both satisfy it; consumers should depend on the narrow
// interfaces above instead.
type Store interface {
	SubscriptionStore
	InvoiceStore
	PaymentStore
	DunningStore
	StateChangeStore
	InvoiceNumberAllocator
}
