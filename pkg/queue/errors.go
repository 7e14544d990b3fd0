package queue

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil job store is provided
	ErrStoreNil = errors.New("job store cannot be nil")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrInvalidJobType is returned when a payload reports an unknown job type
	ErrInvalidJobType = errors.New("unknown job type")

	// ErrJobCreate is returned when job creation in storage fails
	ErrJobCreate = errors.New("failed to create job in storage")

	// ErrJobNotFound is returned when a job id does not exist in storage
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRunning is returned when a lifecycle update targets a job
	// that is not currently claimed
	ErrJobNotRunning = errors.New("job is not in running state")

	// ErrNoJobToClaim signals an empty queue; workers treat it as a
	// normal idle tick
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrHandlerNotFound is returned when no handler is registered for a job type
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrEmptyErrorMessage is returned when a job is failed without a reason
	ErrEmptyErrorMessage = errors.New("failure reason cannot be empty")
)
