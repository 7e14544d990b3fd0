package billing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/queue"
	svc "github.com/dmitrymomot/billingkit/svc/billing"
)

type recordingEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.Payload
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, payload queue.Payload, opts ...queue.EnqueueOption) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return uuid.New(), nil
}

func (r *recordingEnqueuer) enqueued() []queue.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Payload(nil), r.payloads...)
}

type recordingWaker struct {
	mu    sync.Mutex
	wakes int
}

func (r *recordingWaker) Wake() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes++
}

func (r *recordingWaker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wakes
}

func durableConfig() svc.Config {
	return svc.Config{
		HasDurableQueue:        true,
		ScanBatchSize:          100,
		RenewalsSchedule:       "0 2 * * *",
		RetriesSchedule:        "@hourly",
		DunningSchedule:        "0 */6 * * *",
		TrialsSchedule:         "@hourly",
		DrainSchedule:          "*/30 * * * *",
		DefaultDunningStrategy: "default",
	}
}

func degradedConfig() svc.Config {
	cfg := durableConfig()
	cfg.HasDurableQueue = false
	return cfg
}

func TestNewJobs(t *testing.T) {
	t.Parallel()

	t.Run("durable queue requires an enqueuer", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store)
		assert.ErrorIs(t, err, svc.ErrEnqueuerNil)
	})

	t.Run("nil service", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := svc.NewJobs(degradedConfig(), nil, f.engine, f.store)
		assert.ErrorIs(t, err, svc.ErrServiceNil)
	})

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := svc.NewJobs(degradedConfig(), f.service, f.engine, nil)
		assert.ErrorIs(t, err, svc.ErrJobsStoreNil)
	})
}

func TestHandlers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
		svc.WithJobsClock(clock))
	require.NoError(t, err)

	handlers := jobs.Handlers()
	require.Len(t, handlers, 5)

	types := make(map[queue.JobType]bool, len(handlers))
	for _, h := range handlers {
		types[h.Type()] = true
	}
	assert.True(t, types[queue.JobTypeRenewal])
	assert.True(t, types[queue.JobTypePaymentRetry])
	assert.True(t, types[queue.JobTypeDunningStep])
	assert.True(t, types[queue.JobTypeDunningCampaign])
	assert.True(t, types[queue.JobTypeTrialActivation])
}

func TestTriggers(t *testing.T) {
	t.Parallel()

	t.Run("durable with maintenance includes drain", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(&recordingEnqueuer{}),
			svc.WithQueueMaintenance(queue.NewMemoryStore(), &recordingWaker{}))
		require.NoError(t, err)

		names := triggerNames(jobs)
		assert.Equal(t, []string{
			svc.TriggerRenewalsDue,
			svc.TriggerRetriesDue,
			svc.TriggerDunningDue,
			svc.TriggerTrialsEnded,
			svc.TriggerDrainOverdue,
		}, names)
	})

	t.Run("degraded mode has no drain trigger", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store)
		require.NoError(t, err)

		names := triggerNames(jobs)
		assert.Equal(t, []string{
			svc.TriggerRenewalsDue,
			svc.TriggerRetriesDue,
			svc.TriggerDunningDue,
			svc.TriggerTrialsEnded,
		}, names)
	})
}

func TestScanRenewalsDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("durable mode enqueues one job per due subscription", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		first := newDueSubscription(t, f, ctx)
		second := newDueSubscription(t, f, ctx)

		require.NoError(t, jobs.ScanRenewalsDue(ctx))

		payloads := enq.enqueued()
		require.Len(t, payloads, 2)

		seen := make(map[uuid.UUID]bool)
		for _, p := range payloads {
			rp, ok := p.(queue.RenewalPayload)
			require.True(t, ok, "expected renewal payload, got %T", p)
			seen[rp.SubscriptionID] = true
		}
		assert.True(t, seen[first.ID])
		assert.True(t, seen[second.ID])
	})

	t.Run("degraded mode renews synchronously", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
			svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newDueSubscription(t, f, ctx)

		require.NoError(t, jobs.ScanRenewalsDue(ctx))

		renewed, err := f.store.GetSubscription(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.True(t, renewed.CurrentPeriodEnd.After(frozen), "period should have advanced")
		assert.Equal(t, 0, renewed.FailedPaymentAttempts)
	})

	t.Run("nothing due is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		newActiveSubscription(t, f, ctx) // due next month

		require.NoError(t, jobs.ScanRenewalsDue(ctx))
		assert.Empty(t, enq.enqueued())
	})
}

func TestScanRetriesDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	f := newFixture(t)
	enq := &recordingEnqueuer{}
	jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
		svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
	require.NoError(t, err)

	sub := newActiveSubscription(t, f, ctx)
	retryAt := frozen.Add(-time.Hour)
	sub.FailedPaymentAttempts = 1
	sub.NextRetryAt = &retryAt
	require.NoError(t, f.store.UpdateSubscription(ctx, sub))

	require.NoError(t, jobs.ScanRetriesDue(ctx))

	payloads := enq.enqueued()
	require.Len(t, payloads, 1)
	rp, ok := payloads[0].(queue.PaymentRetryPayload)
	require.True(t, ok)
	assert.Equal(t, sub.ID, rp.SubscriptionID)
	assert.Equal(t, sub.TenantID, rp.TenantID)
}

func TestScanDunningDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("durable mode enqueues step jobs", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		attempt := newDueDunningAttempt(t, f, ctx)

		require.NoError(t, jobs.ScanDunningDue(ctx))

		payloads := enq.enqueued()
		require.Len(t, payloads, 1)
		dp, ok := payloads[0].(queue.DunningStepPayload)
		require.True(t, ok)
		assert.Equal(t, attempt.ID, dp.AttemptID)
	})

	t.Run("degraded mode executes the attempt", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
			svc.WithJobsClock(clock))
		require.NoError(t, err)

		attempt := newDueDunningAttempt(t, f, ctx)

		require.NoError(t, jobs.ScanDunningDue(ctx))

		executed, err := f.store.GetDunningAttempt(ctx, attempt.TenantID, attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, core.DunningAttemptCompleted, executed.Status)
	})
}

func TestScanTrialsEnded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("durable mode enqueues one job per ended trial", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newEndedTrialSubscription(t, f, ctx)
		newActiveSubscription(t, f, ctx) // not trialing, must be ignored

		require.NoError(t, jobs.ScanTrialsEnded(ctx))

		payloads := enq.enqueued()
		require.Len(t, payloads, 1)
		tp, ok := payloads[0].(queue.TrialActivationPayload)
		require.True(t, ok, "expected trial activation payload, got %T", payloads[0])
		assert.Equal(t, sub.ID, tp.SubscriptionID)
	})

	t.Run("degraded mode converts synchronously", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
			svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newEndedTrialSubscription(t, f, ctx)

		require.NoError(t, jobs.ScanTrialsEnded(ctx))

		converted, err := f.store.GetSubscription(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusActive, converted.Status)
		assert.True(t, converted.CurrentPeriodEnd.After(frozen), "paid period should be open")
	})

	t.Run("running trial is left alone", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub, err := f.service.CreateSubscription(ctx, svc.CreateParams{
			TenantID:        uuid.New(),
			ClientID:        uuid.New(),
			PlanID:          "pro-trial",
			PaymentMethodID: "pm_" + uuid.NewString(),
		})
		require.NoError(t, err)
		require.Equal(t, core.StatusTrialing, sub.Status)

		require.NoError(t, jobs.ScanTrialsEnded(ctx))
		assert.Empty(t, enq.enqueued())
	})
}

func TestRenewalFailureStartsDunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("degraded mode starts the campaign synchronously", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
			svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newDueSubscription(t, f, ctx)
		sub.FailedPaymentAttempts = 2
		require.NoError(t, f.store.UpdateSubscription(ctx, sub))
		f.sandbox.Decline(sub.PaymentMethodID, "insufficient funds")

		require.NoError(t, jobs.ScanRenewalsDue(ctx))

		failed, err := f.store.GetSubscription(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		require.Equal(t, core.StatusPastDue, failed.Status)

		pending, err := f.store.HasPendingCampaign(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.True(t, pending, "past-due subscription should have a running campaign")
	})

	t.Run("durable mode enqueues a campaign job", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		enq := &recordingEnqueuer{}
		jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
			svc.WithEnqueuer(enq), svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newDueSubscription(t, f, ctx)
		sub.FailedPaymentAttempts = 2
		require.NoError(t, f.store.UpdateSubscription(ctx, sub))
		f.sandbox.Decline(sub.PaymentMethodID, "card expired")

		handler := handlerFor(t, jobs, queue.JobTypeRenewal)
		body, err := json.Marshal(queue.RenewalPayload{TenantID: sub.TenantID, SubscriptionID: sub.ID})
		require.NoError(t, err)
		require.NoError(t, handler.Handle(ctx, queue.Message{
			JobID:    uuid.New(),
			Type:     queue.JobTypeRenewal,
			TenantID: sub.TenantID,
			Payload:  body,
		}))

		payloads := enq.enqueued()
		require.Len(t, payloads, 1)
		cp, ok := payloads[0].(queue.DunningCampaignPayload)
		require.True(t, ok, "expected campaign payload, got %T", payloads[0])
		assert.Equal(t, sub.ID, cp.SubscriptionID)
		assert.Equal(t, "default", cp.Strategy)
	})

	t.Run("successful renewal starts nothing", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		jobs, err := svc.NewJobs(degradedConfig(), f.service, f.engine, f.store,
			svc.WithJobsClock(clock))
		require.NoError(t, err)

		sub := newDueSubscription(t, f, ctx)

		require.NoError(t, jobs.ScanRenewalsDue(ctx))

		pending, err := f.store.HasPendingCampaign(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.False(t, pending)
	})
}

func TestDrainOverdueJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	f := newFixture(t)
	queueStore := queue.NewMemoryStore()
	waker := &recordingWaker{}

	jobs, err := svc.NewJobs(durableConfig(), f.service, f.engine, f.store,
		svc.WithEnqueuer(&recordingEnqueuer{}),
		svc.WithQueueMaintenance(queueStore, waker))
	require.NoError(t, err)

	// A claimed job whose lock already expired.
	job := &queue.Job{
		ID:          uuid.New(),
		Type:        queue.JobTypeRenewal,
		Queue:       queue.QueueRenewals,
		TenantID:    uuid.New(),
		Payload:     []byte(`{}`),
		Status:      queue.JobStatusPending,
		MaxAttempts: 3,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, queueStore.CreateJob(ctx, job))
	_, err = queueStore.ClaimJob(ctx, uuid.New(), queue.QueueRenewals, -time.Minute)
	require.NoError(t, err)

	require.NoError(t, jobs.DrainOverdueJobs(ctx))

	assert.Equal(t, 1, waker.count())
	reclaimed, err := queueStore.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusPending, reclaimed.Status)
}

func handlerFor(t *testing.T, jobs *svc.Jobs, jobType queue.JobType) queue.Handler {
	t.Helper()

	for _, h := range jobs.Handlers() {
		if h.Type() == jobType {
			return h
		}
	}
	t.Fatalf("no handler registered for %s", jobType)
	return nil
}

func triggerNames(jobs *svc.Jobs) []string {
	triggers := jobs.Triggers()
	names := make([]string, len(triggers))
	for i, tr := range triggers {
		names[i] = tr.Name
	}
	return names
}

func newDueSubscription(t *testing.T, f *fixture, ctx context.Context) *core.Subscription {
	t.Helper()

	sub := newActiveSubscription(t, f, ctx)
	sub.CurrentPeriodStart = frozen.AddDate(0, -1, 0)
	sub.CurrentPeriodEnd = frozen.Add(-time.Hour)
	sub.NextBillingDate = sub.CurrentPeriodEnd
	require.NoError(t, f.store.UpdateSubscription(ctx, sub))
	return sub
}

func newEndedTrialSubscription(t *testing.T, f *fixture, ctx context.Context) *core.Subscription {
	t.Helper()

	sub, err := f.service.CreateSubscription(ctx, svc.CreateParams{
		TenantID:        uuid.New(),
		ClientID:        uuid.New(),
		PlanID:          "pro-trial",
		PaymentMethodID: "pm_" + uuid.NewString(),
	})
	require.NoError(t, err)

	trialEnd := frozen.Add(-2 * time.Hour)
	sub.TrialEndsAt = &trialEnd
	sub.CurrentPeriodStart = trialEnd.AddDate(0, 0, -14)
	sub.CurrentPeriodEnd = trialEnd
	sub.NextBillingDate = trialEnd
	require.NoError(t, f.store.UpdateSubscription(ctx, sub))
	return sub
}

func newDueDunningAttempt(t *testing.T, f *fixture, ctx context.Context) *core.DunningAttempt {
	t.Helper()

	sub := newPastDueSubscription(t, f, ctx)
	attempt := &core.DunningAttempt{
		ID:             uuid.New(),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		Step:           core.DunningEmailReminder,
		Status:         core.DunningAttemptPending,
		ScheduledAt:    frozen.Add(-time.Hour),
		Metadata:       map[string]any{"template": "payment_failed_first"},
	}
	require.NoError(t, f.store.CreateDunningAttempts(ctx, []*core.DunningAttempt{attempt}))
	return attempt
}
