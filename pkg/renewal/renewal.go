// Package renewal implements the subscription renewal workflow: guard
// checks, invoice creation, the payment attempt, and the success and
// failure paths with their status transitions.
//
// Process is safe to deliver more than once. A replay after a
// successful renewal hits the period guard (the period has already
// advanced) and becomes a no-op, which is what makes the at-least-once
// job queue safe to use here.
package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/outbox"
	"github.com/dmitrymomot/billingkit/pkg/period"
)

// maxFailedAttempts is how many consecutive failed payments a
// subscription survives before it goes past due and dunning takes over.
const maxFailedAttempts = 3

// retryDelay is the hint attached to a failed payment that still has
// attempts left. The hourly retry trigger picks the subscription up
// once the hint expires.
const retryDelay = 24 * time.Hour

// Outcome classifies what a Process call did.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRenewed   Outcome = "renewed"
	OutcomeFailed    Outcome = "failed"
	OutcomePastDue   Outcome = "past_due"
	OutcomeCancelled Outcome = "cancelled"
)

// Result reports what happened during one renewal pass.
type Result struct {
	Outcome        Outcome
	SubscriptionID uuid.UUID
	InvoiceID      *uuid.UUID
	InvoiceNumber  string
	AmountCharged  decimal.Decimal
	FailedAttempts int
	NextRetryAt    *time.Time
	SkipReason     string
}

// TaxCalculator computes the tax portion of a renewal invoice.
type TaxCalculator interface {
	Calculate(ctx context.Context, sub *billing.Subscription, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// ZeroTax is the default TaxCalculator: no tax.
type ZeroTax struct{}

func (ZeroTax) Calculate(ctx context.Context, sub *billing.Subscription, subtotal decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Store is the persistence surface the workflow needs.
type Store interface {
	billing.SubscriptionStore
	billing.InvoiceStore
	billing.PaymentStore
	billing.InvoiceNumberAllocator
}

// Workflow renews subscriptions. All collaborators are injected; the
// workflow holds no global state.
type Workflow struct {
	store     Store
	plans     billing.PlanSource
	gw        gateway.Gateway
	tax       TaxCalculator
	lifecycle *billing.Lifecycle
	events    outbox.Appender
	logger    *slog.Logger
	now       func() time.Time
}

// Option is a functional option for configuring a Workflow.
type Option func(*Workflow)

// WithTaxCalculator overrides the default zero-tax calculator.
func WithTaxCalculator(tax TaxCalculator) Option {
	return func(w *Workflow) {
		if tax != nil {
			w.tax = tax
		}
	}
}

// WithLogger sets the logger for the workflow.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorkflow creates a renewal workflow.
func NewWorkflow(store Store, plans billing.PlanSource, gw gateway.Gateway, lifecycle *billing.Lifecycle, events outbox.Appender, opts ...Option) (*Workflow, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if plans == nil {
		return nil, ErrPlanSourceNil
	}
	if gw == nil {
		return nil, ErrGatewayNil
	}
	if lifecycle == nil {
		return nil, ErrLifecycleNil
	}
	if events == nil {
		return nil, ErrEventsNil
	}

	w := &Workflow{
		store:     store,
		plans:     plans,
		gw:        gw,
		tax:       ZeroTax{},
		lifecycle: lifecycle,
		events:    events,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Process runs one renewal pass for a subscription.
func (w *Workflow) Process(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*Result, error) {
	sub, err := w.store.GetSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}

	now := w.now()

	// Guard 1: only renewable statuses proceed. Everything else is a
	// quiet no-op so stale jobs cannot resurrect a cancelled account.
	if !sub.Renewable() {
		return &Result{
			Outcome:        OutcomeSkipped,
			SubscriptionID: sub.ID,
			SkipReason:     fmt.Sprintf("status %s is not renewable", sub.Status),
		}, nil
	}

	// Guard 2: nothing to do until the paid period has actually ended.
	// This is also the replay guard: a successful renewal advances the
	// period, so a duplicate delivery lands here.
	if !sub.PeriodEnded(now) {
		return &Result{
			Outcome:        OutcomeSkipped,
			SubscriptionID: sub.ID,
			SkipReason:     fmt.Sprintf("current period runs until %s", sub.CurrentPeriodEnd.Format(time.RFC3339)),
		}, nil
	}

	// A subscription scheduled for cancellation ends here instead of
	// being charged again.
	if sub.Status == billing.StatusPendingCancellation || sub.CancelAtPeriodEnd {
		return w.finalizeCancellation(ctx, sub)
	}

	if err := w.emit(ctx, billing.TopicSubscriptionRenewalStarted, sub, nil); err != nil {
		return nil, err
	}

	invoice, err := w.createInvoice(ctx, sub, now)
	if err != nil {
		return nil, err
	}

	// Missing payment method: the attempt fails without touching the
	// gateway, then flows through regular failure handling.
	if !sub.HasPaymentMethod() {
		return w.handleFailure(ctx, sub, invoice, nil, "no payment method on file", now)
	}

	payment, result, err := w.charge(ctx, sub, invoice, now)
	if err != nil {
		// A provider-side failure counts as a failed attempt. Anything
		// else (store errors) aborts so the job can retry.
		if gateway.IsGatewayError(err) {
			return w.handleFailure(ctx, sub, invoice, payment, err.Error(), now)
		}
		return nil, err
	}

	if result.Succeeded() {
		payment.GatewayTransactionID = result.TransactionID
		return w.handleSuccess(ctx, sub, invoice, payment, now)
	}
	return w.handleFailure(ctx, sub, invoice, payment, result.ErrorMessage, now)
}

// createInvoice builds and persists the PENDING renewal invoice with a
// gapless per-tenant number.
func (w *Workflow) createInvoice(ctx context.Context, sub *billing.Subscription, now time.Time) (*billing.Invoice, error) {
	subtotal := sub.UnitPrice
	tax, err := w.tax.Calculate(ctx, sub, subtotal)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate tax for subscription %s: %w", sub.ID, err)
	}

	subID := sub.ID
	invoice := &billing.Invoice{
		ID:             uuid.New(),
		TenantID:       sub.TenantID,
		SubscriptionID: &subID,
		Status:         billing.InvoiceStatusPending,
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal.Add(tax),
		Currency:       sub.Currency,
		DueDate:        now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The gapless number is assigned inside the same transaction that
	// inserts the invoice.
	if err := w.store.CreateNumberedInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to create renewal invoice: %w", err)
	}

	return invoice, nil
}

// charge runs the gateway payment for an invoice and records the
// payment row. Gateway rejection is not an error return: it comes back
// in the PaymentResult and flows through failure handling.
func (w *Workflow) charge(ctx context.Context, sub *billing.Subscription, invoice *billing.Invoice, now time.Time) (*billing.Payment, *gateway.PaymentResult, error) {
	payment := &billing.Payment{
		ID:        uuid.New(),
		TenantID:  sub.TenantID,
		InvoiceID: invoice.ID,
		Amount:    invoice.Total,
		Currency:  invoice.Currency,
		Status:    billing.PaymentRecordPending,
		Gateway:   w.gw.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.store.CreatePayment(ctx, payment); err != nil {
		return nil, nil, fmt.Errorf("failed to record payment attempt: %w", err)
	}

	intent, err := w.gw.CreatePaymentIntent(ctx, gateway.IntentParams{
		Amount:          invoice.Total,
		Currency:        invoice.Currency,
		CustomerID:      sub.ClientID.String(),
		PaymentMethodID: sub.PaymentMethodID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	result, err := w.gw.ConfirmPayment(ctx, gateway.ConfirmParams{
		IntentID:        intent.ID,
		PaymentMethodID: sub.PaymentMethodID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	return payment, result, nil
}

// handleSuccess advances the billing period, resets the failure counter,
// marks the invoice paid, and recovers past-due subscriptions to active.
func (w *Workflow) handleSuccess(ctx context.Context, sub *billing.Subscription, invoice *billing.Invoice, payment *billing.Payment, now time.Time) (*Result, error) {
	plan, err := w.plans.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
	}

	next, err := period.Advance(period.Period{
		Start: sub.CurrentPeriodStart,
		End:   sub.CurrentPeriodEnd,
	}, plan.Interval, plan.IntervalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to advance billing period: %w", err)
	}

	payment.Status = billing.PaymentRecordCompleted
	payment.UpdatedAt = now
	if err := w.store.UpdatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to complete payment record: %w", err)
	}

	invoice.Status = billing.InvoiceStatusPaid
	invoice.PaidAt = &now
	invoice.UpdatedAt = now
	if err := w.store.UpdateInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}

	// A paying past-due subscription earns its way back to active.
	if sub.Status == billing.StatusPastDue {
		if err := w.lifecycle.Transition(ctx, sub, billing.StatusActive, "payment recovered past-due subscription"); err != nil {
			return nil, fmt.Errorf("failed to recover subscription to active: %w", err)
		}
	}

	sub.CurrentPeriodStart = next.Start
	sub.CurrentPeriodEnd = next.End
	sub.NextBillingDate = next.End
	sub.FailedPaymentAttempts = 0
	sub.NextRetryAt = nil
	sub.UpdatedAt = now
	if err := w.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist renewed subscription: %w", err)
	}

	if err := w.emit(ctx, billing.TopicSubscriptionRenewalSucceeded, sub, map[string]any{
		"invoiceId":     invoice.ID.String(),
		"invoiceNumber": invoice.Number,
		"amount":        invoice.Total.String(),
		"periodStart":   next.Start.Format(time.RFC3339),
		"periodEnd":     next.End.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	w.logger.Info("subscription renewed",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("invoice", invoice.Number),
		slog.String("amount", invoice.Total.String()))

	invoiceID := invoice.ID
	return &Result{
		Outcome:        OutcomeRenewed,
		SubscriptionID: sub.ID,
		InvoiceID:      &invoiceID,
		InvoiceNumber:  invoice.Number,
		AmountCharged:  invoice.Total,
	}, nil
}

// handleFailure records the failed attempt, then either schedules a
// retry or, on the third consecutive failure, moves the subscription to
// past due where the dunning engine takes over.
func (w *Workflow) handleFailure(ctx context.Context, sub *billing.Subscription, invoice *billing.Invoice, payment *billing.Payment, reason string, now time.Time) (*Result, error) {
	if payment != nil {
		payment.Status = billing.PaymentRecordFailed
		payment.ErrorMessage = reason
		payment.UpdatedAt = now
		if err := w.store.UpdatePayment(ctx, payment); err != nil {
			return nil, fmt.Errorf("failed to record payment failure: %w", err)
		}
	}

	sub.FailedPaymentAttempts++
	sub.UpdatedAt = now

	if err := w.emit(ctx, billing.TopicSubscriptionRenewalFailed, sub, map[string]any{
		"invoiceId": invoice.ID.String(),
		"reason":    reason,
		"attempt":   sub.FailedPaymentAttempts,
	}); err != nil {
		return nil, err
	}

	if sub.FailedPaymentAttempts >= maxFailedAttempts {
		sub.NextRetryAt = nil
		if sub.Status != billing.StatusPastDue {
			if err := w.lifecycle.Transition(ctx, sub, billing.StatusPastDue,
				fmt.Sprintf("%d consecutive failed payment attempts", sub.FailedPaymentAttempts)); err != nil {
				return nil, fmt.Errorf("failed to move subscription to past due: %w", err)
			}
		}
		if err := w.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to persist past-due subscription: %w", err)
		}

		w.logger.Warn("subscription went past due",
			slog.String("subscription_id", sub.ID.String()),
			slog.Int("failed_attempts", sub.FailedPaymentAttempts),
			slog.String("reason", reason))

		invoiceID := invoice.ID
		return &Result{
			Outcome:        OutcomePastDue,
			SubscriptionID: sub.ID,
			InvoiceID:      &invoiceID,
			InvoiceNumber:  invoice.Number,
			FailedAttempts: sub.FailedPaymentAttempts,
		}, nil
	}

	retryAt := now.Add(retryDelay)
	sub.NextRetryAt = &retryAt
	if err := w.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist failed renewal state: %w", err)
	}

	if err := w.emit(ctx, billing.TopicPaymentRetryNeeded, sub, map[string]any{
		"invoiceId": invoice.ID.String(),
		"attempt":   sub.FailedPaymentAttempts,
		"retryAt":   retryAt.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}

	w.logger.Warn("renewal payment failed, retry scheduled",
		slog.String("subscription_id", sub.ID.String()),
		slog.Int("failed_attempts", sub.FailedPaymentAttempts),
		slog.Time("retry_at", retryAt),
		slog.String("reason", reason))

	invoiceID := invoice.ID
	return &Result{
		Outcome:        OutcomeFailed,
		SubscriptionID: sub.ID,
		InvoiceID:      &invoiceID,
		InvoiceNumber:  invoice.Number,
		FailedAttempts: sub.FailedPaymentAttempts,
		NextRetryAt:    &retryAt,
	}, nil
}

// finalizeCancellation ends a subscription whose period ran out while a
// cancellation was scheduled.
func (w *Workflow) finalizeCancellation(ctx context.Context, sub *billing.Subscription) (*Result, error) {
	if err := w.lifecycle.Transition(ctx, sub, billing.StatusCancelled, "billing period ended with cancellation scheduled"); err != nil {
		return nil, fmt.Errorf("failed to finalize cancellation: %w", err)
	}
	if err := w.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist cancelled subscription: %w", err)
	}

	w.logger.Info("subscription cancelled at period end",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()))

	return &Result{
		Outcome:        OutcomeCancelled,
		SubscriptionID: sub.ID,
	}, nil
}

func (w *Workflow) emit(ctx context.Context, topic string, sub *billing.Subscription, extra map[string]any) error {
	payload := map[string]any{
		"subscriptionId": sub.ID.String(),
		"tenantId":       sub.TenantID.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}

	event, err := outbox.New(topic, sub.TenantID, sub.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", topic, err)
	}
	if err := w.events.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", topic, err)
	}
	return nil
}
