package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler processes all jobs of a single type. Handlers must be
	// idempotent: delivery is at-least-once and a retried job replays
	// the same payload.
	Handler interface {
		Type() JobType
		Handle(ctx context.Context, msg Message) error
	}

	JobHandlerFunc[T Payload] func(ctx context.Context, payload T) error
)

// NewJobHandler wraps a typed function into a Handler. The job type is
// taken from the payload type itself.
func NewJobHandler[T Payload](handler JobHandlerFunc[T]) Handler {
	var zero T
	return &jobHandler[T]{
		jobType: zero.JobType(),
		handler: handler,
	}
}

type jobHandler[T Payload] struct {
	jobType JobType
	handler JobHandlerFunc[T]
}

func (h *jobHandler[T]) Type() JobType {
	return h.jobType
}

func (h *jobHandler[T]) Handle(ctx context.Context, msg Message) error {
	var payload T
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", h.jobType, err)
	}
	return h.handler(ctx, payload)
}
