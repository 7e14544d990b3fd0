package billing_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

func TestMemoryStoreSubscriptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("create and get returns a copy", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		sub := newTestSubscription(billing.StatusActive)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		got, err := store.GetSubscription(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)

		got.Status = billing.StatusCancelled
		again, err := store.GetSubscription(ctx, sub.TenantID, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, again.Status)
	})

	t.Run("get scopes by tenant", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		sub := newTestSubscription(billing.StatusActive)
		require.NoError(t, store.CreateSubscription(ctx, sub))

		_, err := store.GetSubscription(ctx, uuid.New(), sub.ID)
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("update unknown subscription", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		err := store.UpdateSubscription(ctx, newTestSubscription(billing.StatusActive))
		require.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("list renewals due filters and orders", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

		due1 := newTestSubscription(billing.StatusActive)
		due1.NextBillingDate = now.Add(-2 * time.Hour)
		due2 := newTestSubscription(billing.StatusPastDue)
		due2.NextBillingDate = now.Add(-30 * time.Minute)
		notYet := newTestSubscription(billing.StatusActive)
		notYet.NextBillingDate = now.Add(48 * time.Hour)
		cancelled := newTestSubscription(billing.StatusCancelled)
		cancelled.NextBillingDate = now.Add(-time.Hour)

		for _, s := range []*billing.Subscription{due1, due2, notYet, cancelled} {
			require.NoError(t, store.CreateSubscription(ctx, s))
		}

		got, err := store.ListRenewalsDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, due1.ID, got[0].ID)
		assert.Equal(t, due2.ID, got[1].ID)

		limited, err := store.ListRenewalsDue(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, due1.ID, limited[0].ID)
	})

	t.Run("list retries due requires failed attempts and a retry time", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

		retryable := newTestSubscription(billing.StatusPastDue)
		retryable.FailedPaymentAttempts = 2
		retryAt := now.Add(-time.Hour)
		retryable.NextRetryAt = &retryAt

		noRetryTime := newTestSubscription(billing.StatusPastDue)
		noRetryTime.FailedPaymentAttempts = 1

		future := newTestSubscription(billing.StatusActive)
		future.FailedPaymentAttempts = 1
		futureAt := now.Add(6 * time.Hour)
		future.NextRetryAt = &futureAt

		for _, s := range []*billing.Subscription{retryable, noRetryTime, future} {
			require.NoError(t, store.CreateSubscription(ctx, s))
		}

		got, err := store.ListRetriesDue(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, retryable.ID, got[0].ID)
	})
}

func TestMemoryStoreInvoices(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	newInvoice := func(status billing.InvoiceStatus) *billing.Invoice {
		subID := uuid.New()
		return &billing.Invoice{
			ID:             uuid.New(),
			TenantID:       uuid.New(),
			SubscriptionID: &subID,
			Number:         "INV-2026-000001",
			Status:         status,
			Subtotal:       decimal.NewFromInt(30),
			Tax:            decimal.NewFromInt(3),
			Total:          decimal.NewFromInt(33),
			Currency:       "USD",
			DueDate:        time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
			CreatedAt:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:      time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		}
	}

	t.Run("paid invoices are immutable", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		inv := newInvoice(billing.InvoiceStatusPaid)
		require.NoError(t, store.CreateInvoice(ctx, inv))

		inv.Total = decimal.NewFromInt(99)
		err := store.UpdateInvoice(ctx, inv)
		require.ErrorIs(t, err, billing.ErrInvoiceImmutable)
	})

	t.Run("pending invoices can be updated", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		inv := newInvoice(billing.InvoiceStatusPending)
		require.NoError(t, store.CreateInvoice(ctx, inv))

		paidAt := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
		inv.Status = billing.InvoiceStatusPaid
		inv.PaidAt = &paidAt
		require.NoError(t, store.UpdateInvoice(ctx, inv))

		got, err := store.GetInvoice(ctx, inv.TenantID, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.InvoiceStatusPaid, got.Status)
		require.NotNil(t, got.PaidAt)
	})

	t.Run("get unknown invoice", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		_, err := store.GetInvoice(ctx, uuid.New(), uuid.New())
		require.ErrorIs(t, err, billing.ErrInvoiceNotFound)
	})
}

func TestMemoryStoreDunning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	newAttempt := func(tenantID, subID uuid.UUID, step billing.DunningAction, scheduledAt time.Time) *billing.DunningAttempt {
		return &billing.DunningAttempt{
			ID:             uuid.New(),
			TenantID:       tenantID,
			SubscriptionID: subID,
			Step:           step,
			Strategy:       "default",
			Status:         billing.DunningAttemptPending,
			ScheduledAt:    scheduledAt,
			CreatedAt:      scheduledAt.AddDate(0, 0, -1),
			UpdatedAt:      scheduledAt.AddDate(0, 0, -1),
		}
	}

	t.Run("batch create is all or nothing", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantID, subID := uuid.New(), uuid.New()
		base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

		first := newAttempt(tenantID, subID, billing.DunningEmailReminder, base.AddDate(0, 0, 1))
		require.NoError(t, store.CreateDunningAttempts(ctx, []*billing.DunningAttempt{first}))

		dup := newAttempt(tenantID, subID, billing.DunningGracePeriod, base.AddDate(0, 0, 3))
		dup.ID = first.ID
		fresh := newAttempt(tenantID, subID, billing.DunningSuspension, base.AddDate(0, 0, 7))

		err := store.CreateDunningAttempts(ctx, []*billing.DunningAttempt{fresh, dup})
		require.Error(t, err)

		_, err = store.GetDunningAttempt(ctx, tenantID, fresh.ID)
		require.ErrorIs(t, err, billing.ErrDunningAttemptNotFound)
	})

	t.Run("pending campaign detection", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantID, subID := uuid.New(), uuid.New()
		base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

		has, err := store.HasPendingCampaign(ctx, tenantID, subID)
		require.NoError(t, err)
		assert.False(t, has)

		attempt := newAttempt(tenantID, subID, billing.DunningEmailReminder, base.AddDate(0, 0, 1))
		require.NoError(t, store.CreateDunningAttempts(ctx, []*billing.DunningAttempt{attempt}))

		has, err = store.HasPendingCampaign(ctx, tenantID, subID)
		require.NoError(t, err)
		assert.True(t, has)

		executed := base.AddDate(0, 0, 1)
		attempt.Status = billing.DunningAttemptCompleted
		attempt.ExecutedAt = &executed
		require.NoError(t, store.UpdateDunningAttempt(ctx, attempt))

		has, err = store.HasPendingCampaign(ctx, tenantID, subID)
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("due listing orders by schedule", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantID, subID := uuid.New(), uuid.New()
		base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

		later := newAttempt(tenantID, subID, billing.DunningGracePeriod, base.AddDate(0, 0, 3))
		sooner := newAttempt(tenantID, subID, billing.DunningEmailReminder, base.AddDate(0, 0, 1))
		farOut := newAttempt(tenantID, subID, billing.DunningSuspension, base.AddDate(0, 0, 30))
		require.NoError(t, store.CreateDunningAttempts(ctx, []*billing.DunningAttempt{later, sooner, farOut}))

		got, err := store.ListDueDunningAttempts(ctx, base.AddDate(0, 0, 5), 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, sooner.ID, got[0].ID)
		assert.Equal(t, later.ID, got[1].ID)
	})
}

func TestMemoryStoreInvoiceNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	numberedInvoice := func(tenantID uuid.UUID, year int) *billing.Invoice {
		subID := uuid.New()
		issued := time.Date(year, 4, 1, 0, 0, 0, 0, time.UTC)
		return &billing.Invoice{
			ID:             uuid.New(),
			TenantID:       tenantID,
			SubscriptionID: &subID,
			Status:         billing.InvoiceStatusPending,
			Subtotal:       decimal.NewFromInt(30),
			Tax:            decimal.Zero,
			Total:          decimal.NewFromInt(30),
			Currency:       "USD",
			DueDate:        issued,
			CreatedAt:      issued,
			UpdatedAt:      issued,
		}
	}

	t.Run("gapless per tenant and year", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantA, tenantB := uuid.New(), uuid.New()

		first := numberedInvoice(tenantA, 2026)
		require.NoError(t, store.CreateNumberedInvoice(ctx, first))
		second := numberedInvoice(tenantA, 2026)
		require.NoError(t, store.CreateNumberedInvoice(ctx, second))
		assert.Equal(t, "INV-2026-000001", first.Number)
		assert.Equal(t, "INV-2026-000002", second.Number)

		other := numberedInvoice(tenantB, 2026)
		require.NoError(t, store.CreateNumberedInvoice(ctx, other))
		assert.Equal(t, "INV-2026-000001", other.Number)

		nextYear := numberedInvoice(tenantA, 2027)
		require.NoError(t, store.CreateNumberedInvoice(ctx, nextYear))
		assert.Equal(t, "INV-2027-000001", nextYear.Number)
	})

	t.Run("rejected insert consumes no number", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantID := uuid.New()

		first := numberedInvoice(tenantID, 2026)
		require.NoError(t, store.CreateNumberedInvoice(ctx, first))

		dup := numberedInvoice(tenantID, 2026)
		dup.ID = first.ID
		require.Error(t, store.CreateNumberedInvoice(ctx, dup))

		next := numberedInvoice(tenantID, 2026)
		require.NoError(t, store.CreateNumberedInvoice(ctx, next))
		assert.Equal(t, "INV-2026-000002", next.Number)
	})

	t.Run("concurrent creations never duplicate a number", func(t *testing.T) {
		t.Parallel()

		store := billing.NewMemoryStore()
		tenantID := uuid.New()

		const n = 50
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			numbers = make(map[string]struct{}, n)
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inv := numberedInvoice(tenantID, 2026)
				assert.NoError(t, store.CreateNumberedInvoice(ctx, inv))
				mu.Lock()
				numbers[inv.Number] = struct{}{}
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, numbers, n)
		_, ok := numbers[fmt.Sprintf("INV-2026-%06d", n)]
		assert.True(t, ok, "highest assigned number must equal total invoices")
	})
}
