package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/queue"
)

type recordingWaker struct{ calls int }

func (w *recordingWaker) Wake() { w.calls++ }

type failingEnqueuerStore struct{}

func (failingEnqueuerStore) CreateJob(context.Context, *queue.Job) error {
	return errors.New("storage unavailable")
}

func TestNewEnqueuer(t *testing.T) {
	t.Parallel()

	t.Run("requires store", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewEnqueuer(nil)
		require.ErrorIs(t, err, queue.ErrStoreNil)
	})
}

func TestEnqueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	frozen := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	t.Run("records a pending job before any dispatch", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		waker := &recordingWaker{}
		enq, err := queue.NewEnqueuer(store,
			queue.WithWaker(waker),
			queue.WithEnqueuerClock(func() time.Time { return frozen }))
		require.NoError(t, err)

		payload := queue.RenewalPayload{TenantID: uuid.New(), SubscriptionID: uuid.New()}
		jobID, err := enq.Enqueue(ctx, payload)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, jobID)

		job, err := store.GetJob(ctx, jobID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobTypeRenewal, job.Type)
		assert.Equal(t, queue.QueueRenewals, job.Queue)
		assert.Equal(t, queue.JobStatusPending, job.Status)
		assert.Equal(t, payload.TenantID, job.TenantID)
		assert.Equal(t, 0, job.AttemptNumber)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.Equal(t, frozen, job.ScheduledAt)

		var decoded queue.RenewalPayload
		require.NoError(t, json.Unmarshal(job.Payload, &decoded))
		assert.Equal(t, payload, decoded)

		assert.Equal(t, 1, waker.calls)
	})

	t.Run("routes job types to their default queues", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		enq, err := queue.NewEnqueuer(store)
		require.NoError(t, err)

		tenantID, subID := uuid.New(), uuid.New()
		cases := []struct {
			payload queue.Payload
			queue   string
		}{
			{queue.RenewalPayload{TenantID: tenantID, SubscriptionID: subID}, queue.QueueRenewals},
			{queue.PaymentRetryPayload{TenantID: tenantID, SubscriptionID: subID}, queue.QueueRetries},
			{queue.DunningCampaignPayload{TenantID: tenantID, SubscriptionID: subID, Strategy: "default"}, queue.QueueDunning},
			{queue.DunningStepPayload{TenantID: tenantID, SubscriptionID: subID, AttemptID: uuid.New()}, queue.QueueDunning},
		}
		for _, tc := range cases {
			jobID, err := enq.Enqueue(ctx, tc.payload)
			require.NoError(t, err)

			job, err := store.GetJob(ctx, jobID)
			require.NoError(t, err)
			assert.Equal(t, tc.queue, job.Queue, "payload %T", tc.payload)
		}
	})

	t.Run("delay and scheduled time options", func(t *testing.T) {
		t.Parallel()

		store := queue.NewMemoryStore()
		enq, err := queue.NewEnqueuer(store,
			queue.WithEnqueuerClock(func() time.Time { return frozen }))
		require.NoError(t, err)

		payload := queue.RenewalPayload{TenantID: uuid.New(), SubscriptionID: uuid.New()}

		delayedID, err := enq.Enqueue(ctx, payload, queue.WithDelay(time.Hour))
		require.NoError(t, err)
		delayed, err := store.GetJob(ctx, delayedID)
		require.NoError(t, err)
		assert.Equal(t, frozen.Add(time.Hour), delayed.ScheduledAt)

		at := frozen.AddDate(0, 0, 1)
		fixedID, err := enq.Enqueue(ctx, payload, queue.WithScheduledAt(at))
		require.NoError(t, err)
		fixed, err := store.GetJob(ctx, fixedID)
		require.NoError(t, err)
		assert.Equal(t, at, fixed.ScheduledAt)
	})

	t.Run("nil payload", func(t *testing.T) {
		t.Parallel()

		enq, err := queue.NewEnqueuer(queue.NewMemoryStore())
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, nil)
		require.ErrorIs(t, err, queue.ErrPayloadNil)
	})

	t.Run("storage failure surfaces and nothing is dispatched", func(t *testing.T) {
		t.Parallel()

		waker := &recordingWaker{}
		enq, err := queue.NewEnqueuer(failingEnqueuerStore{}, queue.WithWaker(waker))
		require.NoError(t, err)

		_, err = enq.Enqueue(ctx, queue.RenewalPayload{TenantID: uuid.New(), SubscriptionID: uuid.New()})
		require.Error(t, err)
		assert.Equal(t, 0, waker.calls)
	})
}
