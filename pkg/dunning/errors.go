package dunning

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrLifecycleNil is returned when a nil lifecycle is provided
	ErrLifecycleNil = errors.New("lifecycle cannot be nil")

	// ErrNotPastDue is returned when starting a campaign for a
	// subscription that is not past due
	ErrNotPastDue = errors.New("subscription is not past due")

	// ErrUnknownAction is returned when an attempt carries an action the
	// engine cannot execute
	ErrUnknownAction = errors.New("unknown dunning action")
)
