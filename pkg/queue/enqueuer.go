package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueuerStore defines the interface for job creation
type EnqueuerStore interface {
	CreateJob(ctx context.Context, job *Job) error
}

// Waker is notified after a job row has been durably recorded so a
// worker can pick it up without waiting for the next poll tick. The
// notification is best-effort: a missed wake only delays the job until
// the poller finds it.
type Waker interface {
	Wake()
}

// Enqueuer records jobs. The order is strict: the row is created with
// status pending first, the dispatch signal fires second. A crash in
// between leaves a durable pending job, never a dispatched phantom.
type Enqueuer struct {
	store       EnqueuerStore
	waker       Waker
	maxAttempts int
	now         func() time.Time
}

// NewEnqueuer creates a new Enqueuer
func NewEnqueuer(store EnqueuerStore, opts ...EnqueuerOption) (*Enqueuer, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	options := &enqueuerOptions{
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		store:       store,
		waker:       options.waker,
		maxAttempts: options.maxAttempts,
		now:         options.now,
	}, nil
}

// Enqueue records a new job and returns its id.
func (e *Enqueuer) Enqueue(ctx context.Context, payload Payload, opts ...EnqueueOption) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}
	if !payload.JobType().Valid() {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidJobType, payload.JobType())
	}

	options := &enqueueOptions{
		maxAttempts: e.maxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	job, err := e.buildJob(payload, options)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create %s job in queue %q: %w", job.Type, job.Queue, err)
	}

	if e.waker != nil {
		e.waker.Wake()
	}

	return job.ID, nil
}

// buildJob constructs a Job from payload and options
func (e *Enqueuer) buildJob(payload Payload, options *enqueueOptions) (*Job, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	jobType := payload.JobType()
	queue := options.queue
	if queue == "" {
		queue = defaultQueues[jobType]
	}

	now := e.now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Job{
		ID:            uuid.New(),
		Type:          jobType,
		Queue:         queue,
		TenantID:      payload.Tenant(),
		Payload:       payloadBytes,
		Status:        JobStatusPending,
		AttemptNumber: 0,
		MaxAttempts:   options.maxAttempts,
		ScheduledAt:   scheduledAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
