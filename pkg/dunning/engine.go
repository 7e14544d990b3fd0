// Package dunning runs payment-recovery campaigns for past-due
// subscriptions: a schedule of reminder emails escalating to grace
// period, suspension, and finally cancellation.
package dunning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// Notifier delivers dunning emails. Implementations wrap whatever mail
// provider the host application uses.
type Notifier interface {
	SendPaymentReminder(ctx context.Context, sub *billing.Subscription, template string) error
}

// NopNotifier drops all reminders. Useful in tests and for deployments
// that handle customer messaging elsewhere, driven by outbox events.
type NopNotifier struct{}

func (NopNotifier) SendPaymentReminder(ctx context.Context, sub *billing.Subscription, template string) error {
	return nil
}

// Store is the persistence surface the engine needs.
type Store interface {
	billing.SubscriptionStore
	billing.DunningStore
}

// Engine creates and executes dunning campaigns.
type Engine struct {
	store     Store
	notifier  Notifier
	lifecycle *billing.Lifecycle
	logger    *slog.Logger
	now       func() time.Time
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithNotifier sets the reminder delivery channel.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a dunning engine.
func NewEngine(store Store, lifecycle *billing.Lifecycle, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if lifecycle == nil {
		return nil, ErrLifecycleNil
	}

	e := &Engine{
		store:     store,
		notifier:  NopNotifier{},
		lifecycle: lifecycle,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// StartCampaign schedules the full set of attempts for a past-due
// subscription. If pending attempts already exist it returns
// billing.ErrCampaignAlreadyStarted without scheduling anything, so
// duplicate job deliveries never double a campaign; callers treat that
// sentinel as a successful no-op.
func (e *Engine) StartCampaign(ctx context.Context, tenantID, subscriptionID uuid.UUID, strategyName string) ([]*billing.DunningAttempt, error) {
	sub, err := e.store.GetSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", subscriptionID, err)
	}

	if sub.Status != billing.StatusPastDue {
		return nil, fmt.Errorf("%w: subscription %s is %s", ErrNotPastDue, subscriptionID, sub.Status)
	}
	if sub.PastDueDate == nil {
		return nil, fmt.Errorf("%w: subscription %s has no past-due date", ErrNotPastDue, subscriptionID)
	}

	pending, err := e.store.HasPendingCampaign(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for running campaign: %w", err)
	}
	if pending {
		e.logger.Info("dunning campaign already running, skipping start",
			slog.String("subscription_id", subscriptionID.String()))
		return nil, fmt.Errorf("%w: subscription %s", billing.ErrCampaignAlreadyStarted, subscriptionID)
	}

	strategy := StrategyByName(strategyName)
	now := e.now()
	anchor := *sub.PastDueDate

	attempts := make([]*billing.DunningAttempt, 0, len(strategy.Steps))
	for _, step := range strategy.Steps {
		meta := map[string]any{}
		if step.Template != "" {
			meta["template"] = step.Template
		}
		if step.GraceDays > 0 {
			meta["graceDays"] = step.GraceDays
		}

		attempts = append(attempts, &billing.DunningAttempt{
			ID:             uuid.New(),
			TenantID:       tenantID,
			SubscriptionID: subscriptionID,
			Step:           step.Action,
			Strategy:       strategy.Name,
			Status:         billing.DunningAttemptPending,
			ScheduledAt:    anchor.AddDate(0, 0, step.DayOffset),
			Metadata:       meta,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := e.store.CreateDunningAttempts(ctx, attempts); err != nil {
		return nil, fmt.Errorf("failed to schedule dunning campaign: %w", err)
	}

	e.logger.Info("dunning campaign started",
		slog.String("subscription_id", subscriptionID.String()),
		slog.String("strategy", strategy.Name),
		slog.Int("steps", len(attempts)))

	return attempts, nil
}

// ExecuteAttempt runs one due campaign step. Attempts complete and fail
// independently: an earlier failed step never blocks a later one.
func (e *Engine) ExecuteAttempt(ctx context.Context, tenantID, attemptID uuid.UUID) error {
	attempt, err := e.store.GetDunningAttempt(ctx, tenantID, attemptID)
	if err != nil {
		return fmt.Errorf("failed to load dunning attempt %s: %w", attemptID, err)
	}

	if attempt.Status != billing.DunningAttemptPending {
		// Already handled: replayed job delivery.
		return nil
	}

	sub, err := e.store.GetSubscription(ctx, tenantID, attempt.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", attempt.SubscriptionID, err)
	}

	// A subscription that recovered or left past-due collection renders
	// the rest of the campaign moot.
	if sub.Status != billing.StatusPastDue && sub.Status != billing.StatusPaused {
		return e.cancelAttempt(ctx, attempt, fmt.Sprintf("subscription is %s", sub.Status))
	}

	now := e.now()
	var execErr error

	switch attempt.Step {
	case billing.DunningEmailReminder:
		// Email delivery is best-effort: a bounced reminder is logged
		// and the attempt still completes, the schedule moves on.
		template, _ := attempt.Metadata["template"].(string)
		if err := e.notifier.SendPaymentReminder(ctx, sub, template); err != nil {
			e.logger.Error("failed to send payment reminder",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("template", template),
				slog.String("error", err.Error()))
		}

	case billing.DunningGracePeriod:
		graceDays := 7
		if v, ok := attempt.Metadata["graceDays"]; ok {
			switch n := v.(type) {
			case int:
				graceDays = n
			case float64:
				graceDays = int(n)
			}
		}
		endsAt := now.AddDate(0, 0, graceDays)
		sub.GracePeriodEndsAt = &endsAt
		sub.UpdatedAt = now
		execErr = e.store.UpdateSubscription(ctx, sub)

	case billing.DunningSuspension:
		if sub.Status == billing.StatusPastDue {
			if execErr = e.lifecycle.Transition(ctx, sub, billing.StatusPaused, "dunning suspension step"); execErr == nil {
				execErr = e.store.UpdateSubscription(ctx, sub)
			}
		}

	case billing.DunningCancellation:
		if execErr = e.lifecycle.Transition(ctx, sub, billing.StatusCancelled, "dunning campaign exhausted"); execErr == nil {
			execErr = e.store.UpdateSubscription(ctx, sub)
		}

	default:
		execErr = fmt.Errorf("%w: %q", ErrUnknownAction, attempt.Step)
	}

	attempt.UpdatedAt = now
	executed := now
	attempt.ExecutedAt = &executed

	if execErr != nil {
		attempt.Status = billing.DunningAttemptFailed
		attempt.ErrorMessage = execErr.Error()
		if err := e.store.UpdateDunningAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("failed to record failed dunning attempt: %w", err)
		}
		e.logger.Error("dunning attempt failed",
			slog.String("subscription_id", sub.ID.String()),
			slog.String("action", string(attempt.Step)),
			slog.String("error", execErr.Error()))
		return execErr
	}

	attempt.Status = billing.DunningAttemptCompleted
	if err := e.store.UpdateDunningAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record completed dunning attempt: %w", err)
	}

	e.logger.Info("dunning attempt executed",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("action", string(attempt.Step)),
		slog.String("strategy", attempt.Strategy))

	return nil
}

func (e *Engine) cancelAttempt(ctx context.Context, attempt *billing.DunningAttempt, reason string) error {
	now := e.now()
	attempt.Status = billing.DunningAttemptCancelled
	attempt.ErrorMessage = reason
	attempt.UpdatedAt = now
	if err := e.store.UpdateDunningAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to cancel dunning attempt: %w", err)
	}

	e.logger.Info("dunning attempt cancelled",
		slog.String("subscription_id", attempt.SubscriptionID.String()),
		slog.String("action", string(attempt.Step)),
		slog.String("reason", reason))

	return nil
}
