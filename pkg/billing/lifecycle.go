package billing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/outbox"
)

// automatedTransitions is the closed set of status changes the automation
// layer may perform. Everything else requires explicit operator action
// through administrative tooling outside this module.
//
// PAST_DUE -> ACTIVE is deliberately present: it is the recovery path a
// successful payment retry takes inside the renewal workflow. There is no
// other automated way out of PAST_DUE except the dunning steps.
var automatedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusTrialing:            {StatusActive},
	StatusActive:              {StatusPastDue, StatusPendingCancellation, StatusCancelled},
	StatusPastDue:             {StatusActive, StatusPaused, StatusCancelled},
	StatusPaused:              {StatusCancelled},
	StatusPendingCancellation: {StatusCancelled},
}

// transitionTopics maps each reachable status to the single domain event
// emitted when a subscription enters it.
var transitionTopics = map[SubscriptionStatus]string{
	StatusActive:              TopicSubscriptionActivated,
	StatusPastDue:             TopicSubscriptionPastDue,
	StatusPaused:              TopicSubscriptionSuspended,
	StatusCancelled:           TopicSubscriptionTerminated,
	StatusPendingCancellation: TopicSubscriptionPendingCancellation,
}

// CanTransition reports whether the automated flow may move a
// subscription from one status to another.
func CanTransition(from, to SubscriptionStatus) bool {
	return slices.Contains(automatedTransitions[from], to)
}

// Lifecycle owns subscription status transitions and the side effects
// tied to them: one append-only StateChange row and exactly one outbox
// event per transition. It mutates the subscription in memory; persisting
// the new status is the caller's job, keeping the status write inside
// whatever transaction the caller runs.
type Lifecycle struct {
	changes StateChangeStore
	events  outbox.Appender
	logger  *slog.Logger
	now     func() time.Time
}

// LifecycleOption is a functional option for configuring a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLifecycleLogger sets the logger for the lifecycle.
func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLifecycleClock overrides the time source, useful in tests.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLifecycle creates a Lifecycle writing audit rows to changes and
// events to the outbox.
func NewLifecycle(changes StateChangeStore, events outbox.Appender, opts ...LifecycleOption) (*Lifecycle, error) {
	if changes == nil {
		return nil, ErrStateChangeStoreNil
	}
	if events == nil {
		return nil, ErrEventAppenderNil
	}

	l := &Lifecycle{
		changes: changes,
		events:  events,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// TransitionOption annotates a transition with audit context.
type TransitionOption func(*StateChange)

// WithActor records who or what drove the transition.
func WithActor(actor string) TransitionOption {
	return func(c *StateChange) {
		c.Actor = actor
	}
}

// WithChangeMetadata attaches a metadata key to the audit row.
func WithChangeMetadata(key string, value any) TransitionOption {
	return func(c *StateChange) {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any)
		}
		c.Metadata[key] = value
	}
}

// Transition moves sub to the target status. On an illegal change it
// returns *TransitionError without touching the subscription, the audit
// trail, or the outbox.
//
// On a legal change the order is: outbox append first (the event must not
// be lost once the status is applied), then the audit row (best-effort: a
// failed write is logged and does not abort the transition), then the
// in-memory status mutation with its derived timestamps.
func (l *Lifecycle) Transition(ctx context.Context, sub *Subscription, to SubscriptionStatus, reason string, opts ...TransitionOption) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}

	from := sub.Status
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}

	now := l.now()

	event, err := outbox.New(transitionTopics[to], sub.TenantID, sub.ID, map[string]any{
		"subscriptionId": sub.ID.String(),
		"tenantId":       sub.TenantID.String(),
		"fromStatus":     string(from),
		"toStatus":       string(to),
		"reason":         reason,
	})
	if err != nil {
		return fmt.Errorf("failed to build transition event: %w", err)
	}
	if err := l.events.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append transition event: %w", err)
	}

	change := &StateChange{
		ID:             uuid.New(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         reason,
		Actor:          "system",
		CreatedAt:      now,
	}
	for _, opt := range opts {
		opt(change)
	}

	// Audit is best-effort: losing a row must not roll back the
	// transition itself.
	if err := l.changes.AppendStateChange(ctx, change); err != nil {
		l.logger.Error("failed to write subscription state change",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("error", err.Error()))
	}

	sub.Status = to
	sub.UpdatedAt = now

	switch to {
	case StatusPastDue:
		if sub.PastDueDate == nil {
			sub.PastDueDate = &now
		}
	case StatusCancelled:
		sub.CanceledAt = &now
	case StatusActive:
		sub.PastDueDate = nil
	}

	l.logger.Info("subscription status changed",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason))

	return nil
}
