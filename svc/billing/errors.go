package billing

import "errors"

var (
	ErrStoreNil      = errors.New("billing service: store is nil")
	ErrPlanSourceNil = errors.New("billing service: plan source is nil")
	ErrLifecycleNil  = errors.New("billing service: lifecycle is nil")
	ErrWorkflowNil   = errors.New("billing service: renewal workflow is nil")
	ErrEngineNil     = errors.New("billing service: dunning engine is nil")
	ErrEventsNil     = errors.New("billing service: event appender is nil")
	ErrEnqueuerNil   = errors.New("billing service: durable queue enabled but enqueuer is nil")

	// ErrTenantRequired is returned when a tenant or client identifier
	// is missing from a request.
	ErrTenantRequired = errors.New("billing service: tenant and client IDs are required")

	ErrServiceNil   = errors.New("billing jobs: service is nil")
	ErrJobsStoreNil = errors.New("billing jobs: store is nil")

	// ErrNotTrialing is returned when trial activation targets a
	// subscription that is not in the trialing status.
	ErrNotTrialing = errors.New("billing service: subscription is not trialing")

	// ErrTrialNotEnded is returned when trial activation runs before the
	// recorded trial end.
	ErrTrialNotEnded = errors.New("billing service: trial period has not ended")

	// ErrAlreadyCancelled is returned when cancelling a subscription that
	// is already cancelled.
	ErrAlreadyCancelled = errors.New("billing service: subscription already cancelled")
)
