package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/outbox"
	"github.com/dmitrymomot/billingkit/pkg/period"
	"github.com/dmitrymomot/billingkit/pkg/proration"
	"github.com/dmitrymomot/billingkit/pkg/renewal"
)

// Service is the administrative surface of the billing automation. It
// composes the renewal workflow, the dunning engine, and the lifecycle
// state machine behind operations an operator or API layer calls
// directly. Background processing lives in Jobs.
type Service struct {
	store           billing.SubscriptionStore
	plans           billing.PlanSource
	lifecycle       *billing.Lifecycle
	workflow        *renewal.Workflow
	engine          *dunning.Engine
	events          outbox.Appender
	defaultStrategy string
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultDunningStrategy sets the strategy used when a campaign
// start does not name one.
func WithDefaultDunningStrategy(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.defaultStrategy = name
		}
	}
}

// NewService wires the billing components together. All collaborators
// are required.
func NewService(
	store billing.SubscriptionStore,
	plans billing.PlanSource,
	lifecycle *billing.Lifecycle,
	workflow *renewal.Workflow,
	engine *dunning.Engine,
	events outbox.Appender,
	opts ...Option,
) (*Service, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if plans == nil {
		return nil, ErrPlanSourceNil
	}
	if lifecycle == nil {
		return nil, ErrLifecycleNil
	}
	if workflow == nil {
		return nil, ErrWorkflowNil
	}
	if engine == nil {
		return nil, ErrEngineNil
	}
	if events == nil {
		return nil, ErrEventsNil
	}

	s := &Service{
		store:           store,
		plans:           plans,
		lifecycle:       lifecycle,
		workflow:        workflow,
		engine:          engine,
		events:          events,
		defaultStrategy: dunning.StrategyDefault,
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// CreateParams describes a new subscription.
type CreateParams struct {
	TenantID        uuid.UUID
	ClientID        uuid.UUID
	PlanID          string
	PaymentMethodID string
}

// CreateSubscription creates a subscription on the given plan. Plans
// with trial days start TRIALING with the first paid period deferred to
// the trial end; everything else starts ACTIVE with the first billing
// period opened immediately and a subscription.activated event emitted.
func (s *Service) CreateSubscription(ctx context.Context, params CreateParams) (*billing.Subscription, error) {
	if params.TenantID == uuid.Nil || params.ClientID == uuid.Nil {
		return nil, ErrTenantRequired
	}

	plan, err := s.plans.Plan(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	sub := &billing.Subscription{
		ID:              uuid.New(),
		TenantID:        params.TenantID,
		ClientID:        params.ClientID,
		PlanID:          plan.ID,
		UnitPrice:       plan.UnitPrice,
		Currency:        plan.Currency,
		PaymentMethodID: params.PaymentMethodID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if plan.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = billing.StatusTrialing
		sub.TrialEndsAt = &trialEnd
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = trialEnd
		sub.NextBillingDate = trialEnd
	} else {
		first, err := period.Advance(period.Period{End: now}, plan.Interval, plan.IntervalCount)
		if err != nil {
			return nil, billing.NewSubscriptionError(billing.CodeCreationFailed,
				fmt.Errorf("failed to open first billing period: %w", err))
		}
		sub.Status = billing.StatusActive
		sub.CurrentPeriodStart = first.Start
		sub.CurrentPeriodEnd = first.End
		sub.NextBillingDate = first.End
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, billing.NewSubscriptionError(billing.CodeCreationFailed, err)
	}

	if sub.Status == billing.StatusActive {
		event, err := outbox.New(billing.TopicSubscriptionActivated, sub.TenantID, sub.ID, map[string]any{
			"subscriptionId": sub.ID.String(),
			"tenantId":       sub.TenantID.String(),
			"planId":         sub.PlanID,
		})
		if err != nil {
			return nil, billing.NewSubscriptionError(billing.CodeCreationFailed,
				fmt.Errorf("failed to build activation event: %w", err))
		}
		if err := s.events.Append(ctx, event); err != nil {
			return nil, billing.NewSubscriptionError(billing.CodeCreationFailed,
				fmt.Errorf("failed to append activation event: %w", err))
		}
	}

	s.logger.InfoContext(ctx, "subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("plan_id", sub.PlanID),
		slog.String("status", string(sub.Status)))

	return sub, nil
}

// ActivateTrialEnded moves a TRIALING subscription whose trial has run
// out to ACTIVE and opens its first paid billing period anchored at the
// trial end.
func (s *Service) ActivateTrialEnded(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*billing.Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status != billing.StatusTrialing {
		return nil, ErrNotTrialing
	}

	now := s.now()
	anchor := now
	if sub.TrialEndsAt != nil {
		if sub.TrialEndsAt.After(now) {
			return nil, ErrTrialNotEnded
		}
		anchor = *sub.TrialEndsAt
	}

	plan, err := s.plans.Plan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	first, err := period.Advance(period.Period{End: anchor}, plan.Interval, plan.IntervalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to open first paid period: %w", err)
	}

	if err := s.lifecycle.Transition(ctx, sub, billing.StatusActive, "trial ended"); err != nil {
		return nil, err
	}

	sub.CurrentPeriodStart = first.Start
	sub.CurrentPeriodEnd = first.End
	sub.NextBillingDate = first.End

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	return sub, nil
}

// CancelParams controls how a cancellation takes effect.
type CancelParams struct {
	// AtPeriodEnd defers the cancellation to the end of the current
	// billing period instead of terminating immediately.
	AtPeriodEnd bool
	Reason      string
}

// CancellationResult reports when a cancellation takes effect.
type CancellationResult struct {
	SubscriptionID uuid.UUID
	Status         billing.SubscriptionStatus
	EffectiveAt    time.Time
}

// CancelSubscription cancels a subscription, either immediately or at
// the end of the current period via the PENDING_CANCELLATION status.
// Requesting at-period-end cancellation twice is a no-op.
func (s *Service) CancelSubscription(ctx context.Context, tenantID, subscriptionID uuid.UUID, params CancelParams) (*CancellationResult, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status == billing.StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	reason := params.Reason
	if reason == "" {
		reason = "cancellation requested"
	}

	if params.AtPeriodEnd {
		if sub.Status == billing.StatusPendingCancellation {
			return &CancellationResult{
				SubscriptionID: sub.ID,
				Status:         sub.Status,
				EffectiveAt:    sub.CurrentPeriodEnd,
			}, nil
		}

		if err := s.lifecycle.Transition(ctx, sub, billing.StatusPendingCancellation, reason); err != nil {
			return nil, classifyCancelError(err)
		}
		sub.CancelAtPeriodEnd = true

		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, billing.NewSubscriptionError(billing.CodeCancellationFailed, err)
		}

		return &CancellationResult{
			SubscriptionID: sub.ID,
			Status:         sub.Status,
			EffectiveAt:    sub.CurrentPeriodEnd,
		}, nil
	}

	if err := s.lifecycle.Transition(ctx, sub, billing.StatusCancelled, reason); err != nil {
		return nil, classifyCancelError(err)
	}

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, billing.NewSubscriptionError(billing.CodeCancellationFailed, err)
	}

	return &CancellationResult{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		EffectiveAt:    s.now(),
	}, nil
}

// ProcessRenewal runs the renewal workflow for one subscription.
func (s *Service) ProcessRenewal(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*renewal.Result, error) {
	result, err := s.workflow.Process(ctx, tenantID, subscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, err
		}
		return nil, billing.NewSubscriptionError(billing.CodeRenewalFailed, err)
	}
	return result, nil
}

// CalculateProration previews the credit and charge of switching the
// subscription to a new plan at the current moment. It does not change
// anything.
func (s *Service) CalculateProration(ctx context.Context, tenantID, subscriptionID uuid.UUID, newPlanID string) (*proration.Result, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Plan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}

	result, err := proration.Calculate(sub.UnitPrice, plan.UnitPrice, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, s.now())
	if err != nil {
		return nil, billing.NewSubscriptionError(billing.CodeProrationFailed, err)
	}
	return &result, nil
}

// StartDunningCampaign schedules a dunning campaign for a past-due
// subscription. An empty strategy name selects the configured default.
// Starting a campaign that already has pending attempts is a no-op.
func (s *Service) StartDunningCampaign(ctx context.Context, tenantID, subscriptionID uuid.UUID, strategy string) error {
	if strategy == "" {
		strategy = s.defaultStrategy
	}
	_, err := s.engine.StartCampaign(ctx, tenantID, subscriptionID, strategy)
	if errors.Is(err, billing.ErrCampaignAlreadyStarted) {
		return nil
	}
	return err
}

// classifyCancelError keeps rejected status transitions visible as the
// conflict they are; everything else becomes a coded workflow failure.
func classifyCancelError(err error) error {
	if billing.IsTransitionError(err) {
		return err
	}
	return billing.NewSubscriptionError(billing.CodeCancellationFailed, err)
}
