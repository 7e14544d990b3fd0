package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	"github.com/dmitrymomot/billingkit/pkg/renewal"
	"github.com/dmitrymomot/billingkit/pkg/scheduler"
)

// Trigger and handler names used for job wiring and logs.
const (
	TriggerRenewalsDue  = "renewals-due"
	TriggerRetriesDue   = "payment-retries-due"
	TriggerDunningDue   = "dunning-steps-due"
	TriggerTrialsEnded  = "trials-ended"
	TriggerDrainOverdue = "drain-overdue-jobs"
)

// JobsStore lists the due work the periodic triggers scan for.
type JobsStore interface {
	ListRenewalsDue(ctx context.Context, due time.Time, limit int) ([]*billing.Subscription, error)
	ListRetriesDue(ctx context.Context, now time.Time, limit int) ([]*billing.Subscription, error)
	ListTrialsEnded(ctx context.Context, now time.Time, limit int) ([]*billing.Subscription, error)
	ListDueDunningAttempts(ctx context.Context, due time.Time, limit int) ([]*billing.DunningAttempt, error)
}

// Enqueuer is the durable-queue write side Jobs dispatches through.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.Payload, opts ...queue.EnqueueOption) (uuid.UUID, error)
}

// Reclaimer releases jobs whose worker lock expired.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
}

// Jobs wires the billing automation into the queue and scheduler. Each
// trigger scans for due work and either enqueues a durable job (when a
// queue backend is deployed) or runs the same handler synchronously.
// Handlers are idempotent, so a scan that overlaps with in-flight work
// is harmless.
type Jobs struct {
	service   *Service
	engine    *dunning.Engine
	store     JobsStore
	enqueuer  Enqueuer
	reclaimer Reclaimer
	waker     queue.Waker
	durable   bool
	batch     int
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// JobsOption configures Jobs.
type JobsOption func(*Jobs)

// WithEnqueuer sets the durable queue enqueuer. Required when the config
// enables the durable queue.
func WithEnqueuer(e Enqueuer) JobsOption {
	return func(j *Jobs) {
		j.enqueuer = e
	}
}

// WithQueueMaintenance wires the overdue-job drain trigger: reclaim
// expired locks on the store, then wake the worker.
func WithQueueMaintenance(r Reclaimer, w queue.Waker) JobsOption {
	return func(j *Jobs) {
		j.reclaimer = r
		j.waker = w
	}
}

// WithJobsLogger sets the logger.
func WithJobsLogger(logger *slog.Logger) JobsOption {
	return func(j *Jobs) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithJobsClock overrides the time source, useful in tests.
func WithJobsClock(now func() time.Time) JobsOption {
	return func(j *Jobs) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJobs builds the background wiring for the billing service.
func NewJobs(cfg Config, service *Service, engine *dunning.Engine, store JobsStore, opts ...JobsOption) (*Jobs, error) {
	if service == nil {
		return nil, ErrServiceNil
	}
	if engine == nil {
		return nil, ErrEngineNil
	}
	if store == nil {
		return nil, ErrJobsStoreNil
	}

	batch := cfg.ScanBatchSize
	if batch < 1 {
		batch = 100
	}

	j := &Jobs{
		service: service,
		engine:  engine,
		store:   store,
		durable: cfg.HasDurableQueue,
		batch:   batch,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(j)
	}

	if j.durable && j.enqueuer == nil {
		return nil, ErrEnqueuerNil
	}

	return j, nil
}

// Handlers returns the queue handlers for every billing job type.
// Register them on the worker whether or not the durable queue is
// enabled; the degraded mode simply never enqueues.
func (j *Jobs) Handlers() []queue.Handler {
	return []queue.Handler{
		queue.NewJobHandler(j.handleRenewal),
		queue.NewJobHandler(j.handlePaymentRetry),
		queue.NewJobHandler(j.handleDunningStep),
		queue.NewJobHandler(j.handleDunningCampaign),
		queue.NewJobHandler(j.handleTrialActivation),
	}
}

// Triggers returns the periodic trigger set for the scheduler. The
// drain trigger is included only when queue maintenance is wired and the
// durable queue is enabled.
func (j *Jobs) Triggers() []scheduler.Trigger {
	triggers := []scheduler.Trigger{
		{Name: TriggerRenewalsDue, Schedule: j.cfg.RenewalsSchedule, Run: j.ScanRenewalsDue},
		{Name: TriggerRetriesDue, Schedule: j.cfg.RetriesSchedule, Run: j.ScanRetriesDue},
		{Name: TriggerDunningDue, Schedule: j.cfg.DunningSchedule, Run: j.ScanDunningDue},
		{Name: TriggerTrialsEnded, Schedule: j.cfg.TrialsSchedule, Run: j.ScanTrialsEnded},
	}

	if j.durable && j.reclaimer != nil {
		triggers = append(triggers, scheduler.Trigger{
			Name:     TriggerDrainOverdue,
			Schedule: j.cfg.DrainSchedule,
			Run:      j.DrainOverdueJobs,
		})
	}

	return triggers
}

// ScanRenewalsDue finds subscriptions whose billing date has arrived and
// dispatches a renewal for each. Failures are collected so one bad
// subscription does not stop the rest of the batch.
func (j *Jobs) ScanRenewalsDue(ctx context.Context) error {
	subs, err := j.store.ListRenewalsDue(ctx, j.now(), j.batch)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		payload := queue.RenewalPayload{TenantID: sub.TenantID, SubscriptionID: sub.ID}
		if err := j.dispatch(ctx, payload, func(ctx context.Context) error {
			return j.handleRenewal(ctx, payload)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanRetriesDue finds subscriptions whose payment retry hint has
// elapsed and dispatches a retry for each.
func (j *Jobs) ScanRetriesDue(ctx context.Context) error {
	subs, err := j.store.ListRetriesDue(ctx, j.now(), j.batch)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		payload := queue.PaymentRetryPayload{TenantID: sub.TenantID, SubscriptionID: sub.ID}
		if err := j.dispatch(ctx, payload, func(ctx context.Context) error {
			return j.handlePaymentRetry(ctx, payload)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanDunningDue finds pending campaign attempts whose scheduled date
// has arrived and dispatches each one.
func (j *Jobs) ScanDunningDue(ctx context.Context) error {
	attempts, err := j.store.ListDueDunningAttempts(ctx, j.now(), j.batch)
	if err != nil {
		return err
	}

	var errs []error
	for _, attempt := range attempts {
		payload := queue.DunningStepPayload{
			TenantID:       attempt.TenantID,
			SubscriptionID: attempt.SubscriptionID,
			AttemptID:      attempt.ID,
		}
		if err := j.dispatch(ctx, payload, func(ctx context.Context) error {
			return j.handleDunningStep(ctx, payload)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ScanTrialsEnded finds trials that have run out and dispatches the
// conversion to a paying subscription for each.
func (j *Jobs) ScanTrialsEnded(ctx context.Context) error {
	subs, err := j.store.ListTrialsEnded(ctx, j.now(), j.batch)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		payload := queue.TrialActivationPayload{TenantID: sub.TenantID, SubscriptionID: sub.ID}
		if err := j.dispatch(ctx, payload, func(ctx context.Context) error {
			return j.handleTrialActivation(ctx, payload)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DrainOverdueJobs releases jobs whose worker lock expired and wakes the
// worker so they get picked up without waiting for the next poll.
func (j *Jobs) DrainOverdueJobs(ctx context.Context) error {
	if j.reclaimer == nil {
		return nil
	}

	reclaimed, err := j.reclaimer.ReclaimExpired(ctx, j.now())
	if err != nil {
		return err
	}

	if reclaimed > 0 {
		j.logger.InfoContext(ctx, "reclaimed overdue jobs", slog.Int("count", reclaimed))
		if j.waker != nil {
			j.waker.Wake()
		}
	}
	return nil
}

// dispatch routes one unit of due work: durable enqueue when a queue is
// deployed, synchronous handler call otherwise.
func (j *Jobs) dispatch(ctx context.Context, payload queue.Payload, run func(context.Context) error) error {
	if j.durable {
		_, err := j.enqueuer.Enqueue(ctx, payload)
		return err
	}
	return run(ctx)
}

func (j *Jobs) handleRenewal(ctx context.Context, p queue.RenewalPayload) error {
	result, err := j.service.ProcessRenewal(ctx, p.TenantID, p.SubscriptionID)
	if err != nil {
		return err
	}

	j.logger.InfoContext(ctx, "renewal processed",
		slog.String("subscription_id", p.SubscriptionID.String()),
		slog.String("tenant_id", p.TenantID.String()),
		slog.String("outcome", string(result.Outcome)))

	return j.startCampaignIfPastDue(ctx, p.TenantID, p.SubscriptionID, result.Outcome)
}

func (j *Jobs) handlePaymentRetry(ctx context.Context, p queue.PaymentRetryPayload) error {
	result, err := j.service.ProcessRenewal(ctx, p.TenantID, p.SubscriptionID)
	if err != nil {
		return err
	}

	j.logger.InfoContext(ctx, "payment retry processed",
		slog.String("subscription_id", p.SubscriptionID.String()),
		slog.String("tenant_id", p.TenantID.String()),
		slog.String("outcome", string(result.Outcome)))

	return j.startCampaignIfPastDue(ctx, p.TenantID, p.SubscriptionID, result.Outcome)
}

// startCampaignIfPastDue hands a subscription the renewal pushed past due
// off to the dunning engine. StartCampaign is idempotent, so a retried
// job dispatching it twice is harmless.
func (j *Jobs) startCampaignIfPastDue(ctx context.Context, tenantID, subscriptionID uuid.UUID, outcome renewal.Outcome) error {
	if outcome != renewal.OutcomePastDue {
		return nil
	}

	payload := queue.DunningCampaignPayload{
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		Strategy:       j.cfg.DefaultDunningStrategy,
	}
	if err := j.dispatch(ctx, payload, func(ctx context.Context) error {
		return j.handleDunningCampaign(ctx, payload)
	}); err != nil {
		return err
	}

	j.logger.InfoContext(ctx, "dunning campaign dispatched",
		slog.String("subscription_id", subscriptionID.String()),
		slog.String("tenant_id", tenantID.String()))
	return nil
}

func (j *Jobs) handleTrialActivation(ctx context.Context, p queue.TrialActivationPayload) error {
	sub, err := j.service.ActivateTrialEnded(ctx, p.TenantID, p.SubscriptionID)
	if err != nil {
		// A replayed delivery finds the subscription already converted.
		if errors.Is(err, ErrNotTrialing) {
			return nil
		}
		return err
	}

	j.logger.InfoContext(ctx, "trial converted",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.Time("next_billing_date", sub.NextBillingDate))
	return nil
}

func (j *Jobs) handleDunningStep(ctx context.Context, p queue.DunningStepPayload) error {
	return j.engine.ExecuteAttempt(ctx, p.TenantID, p.AttemptID)
}

func (j *Jobs) handleDunningCampaign(ctx context.Context, p queue.DunningCampaignPayload) error {
	return j.service.StartDunningCampaign(ctx, p.TenantID, p.SubscriptionID, p.Strategy)
}
