package outbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/outbox"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("append and drain order", func(t *testing.T) {
		t.Parallel()

		store := outbox.NewMemoryStore()

		first, err := outbox.New("subscription.activated", uuid.New(), uuid.New(), nil)
		require.NoError(t, err)
		second, err := outbox.New("subscription.past_due", uuid.New(), uuid.New(), map[string]any{"attempts": 3})
		require.NoError(t, err)

		require.NoError(t, store.Append(ctx, first))
		require.NoError(t, store.Append(ctx, second))

		events, err := store.Unpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].ID, "oldest first")
	})

	t.Run("duplicate append rejected", func(t *testing.T) {
		t.Parallel()

		store := outbox.NewMemoryStore()
		event, err := outbox.New("payment.retry_needed", uuid.New(), uuid.New(), nil)
		require.NoError(t, err)

		require.NoError(t, store.Append(ctx, event))
		require.ErrorIs(t, store.Append(ctx, event), outbox.ErrDuplicateEvent)
	})

	t.Run("mark published removes from drain set", func(t *testing.T) {
		t.Parallel()

		store := outbox.NewMemoryStore()
		event, err := outbox.New("subscription.terminated", uuid.New(), uuid.New(), nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, event))

		require.NoError(t, store.MarkPublished(ctx, []uuid.UUID{event.ID}))

		events, err := store.Unpublished(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)

		all := store.Events()
		require.Len(t, all, 1)
		assert.NotNil(t, all[0].PublishedAt)
	})
}

func TestPublisherDrain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("delivers then marks published", func(t *testing.T) {
		t.Parallel()

		store := outbox.NewMemoryStore()
		event, err := outbox.New("subscription.suspended", uuid.New(), uuid.New(), nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, event))

		var delivered []outbox.Event
		pub, err := outbox.NewPublisher(store, outbox.SinkFunc(func(ctx context.Context, events []outbox.Event) error {
			delivered = append(delivered, events...)
			return nil
		}))
		require.NoError(t, err)

		require.NoError(t, pub.Drain(ctx))
		require.Len(t, delivered, 1)
		assert.Equal(t, event.ID, delivered[0].ID)

		remaining, err := store.Unpublished(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})

	t.Run("failed delivery keeps events unpublished", func(t *testing.T) {
		t.Parallel()

		store := outbox.NewMemoryStore()
		event, err := outbox.New("subscription.renewal_failed", uuid.New(), uuid.New(), nil)
		require.NoError(t, err)
		require.NoError(t, store.Append(ctx, event))

		sinkErr := errors.New("sink down")
		pub, err := outbox.NewPublisher(store, outbox.SinkFunc(func(ctx context.Context, events []outbox.Event) error {
			return sinkErr
		}))
		require.NoError(t, err)

		require.ErrorIs(t, pub.Drain(ctx), sinkErr)

		remaining, err := store.Unpublished(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, remaining, 1, "event must survive until a sink accepts it")
	})

	t.Run("nil dependencies rejected", func(t *testing.T) {
		t.Parallel()

		_, err := outbox.NewPublisher(nil, outbox.SinkFunc(func(context.Context, []outbox.Event) error { return nil }))
		require.ErrorIs(t, err, outbox.ErrStoreNil)

		_, err = outbox.NewPublisher(outbox.NewMemoryStore(), nil)
		require.ErrorIs(t, err, outbox.ErrSinkNil)
	})
}

func TestHub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	hub := outbox.NewHub(4)
	t.Cleanup(func() { _ = hub.Close() })

	suspended := hub.Subscribe("subscription.suspended")
	terminated := hub.Subscribe("subscription.terminated")

	event, err := outbox.New("subscription.suspended", uuid.New(), uuid.New(), nil)
	require.NoError(t, err)
	require.NoError(t, hub.Deliver(ctx, []outbox.Event{event}))

	select {
	case got := <-suspended:
		assert.Equal(t, event.ID, got.ID)
	default:
		t.Fatal("expected event on suspended channel")
	}

	select {
	case <-terminated:
		t.Fatal("terminated subscriber must not receive suspended events")
	default:
	}
}
