package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink receives drained events. Implementations must tolerate duplicate
// delivery: an event is only marked published after Deliver returns nil,
// so a crash in between replays the batch.
type Sink interface {
	Deliver(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, events []Event) error

func (f SinkFunc) Deliver(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// Publisher periodically drains unpublished events into a Sink.
type Publisher struct {
	store     Store
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// PublisherOption is a functional option for configuring a Publisher.
type PublisherOption func(*Publisher)

// WithDrainInterval sets how often the publisher polls for events.
func WithDrainInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithBatchSize limits how many events one drain pass delivers.
func WithBatchSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithLogger sets the logger for the publisher.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher draining store into sink.
func NewPublisher(store Store, sink Sink, opts ...PublisherOption) (*Publisher, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if sink == nil {
		return nil, ErrSinkNil
	}

	p := &Publisher{
		store:     store,
		sink:      sink,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Run drains the outbox until ctx is cancelled. Returns a function
// suitable for errgroup.
func (p *Publisher) Run(ctx context.Context) func() error {
	return func() error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// Final pass so events emitted during shutdown are not
				// stranded until the next process start.
				drainCtx, cancel := context.WithTimeout(context.Background(), p.interval)
				_ = p.Drain(drainCtx)
				cancel()
				return ctx.Err()
			case <-ticker.C:
				if err := p.Drain(ctx); err != nil {
					p.logger.Error("outbox drain failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// Drain delivers one batch of unpublished events. Exposed for synchronous
// use in tests and in degraded mode.
func (p *Publisher) Drain(ctx context.Context) error {
	events, err := p.store.Unpublished(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to load unpublished events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	if err := p.sink.Deliver(ctx, events); err != nil {
		return fmt.Errorf("failed to deliver %d events: %w", len(events), err)
	}

	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}

	if err := p.store.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}

	p.logger.Debug("outbox batch published",
		slog.Int("count", len(events)))

	return nil
}
