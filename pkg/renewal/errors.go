package renewal

import "errors"

// Common errors
var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrPlanSourceNil is returned when a nil plan source is provided
	ErrPlanSourceNil = errors.New("plan source cannot be nil")

	// ErrGatewayNil is returned when a nil payment gateway is provided
	ErrGatewayNil = errors.New("payment gateway cannot be nil")

	// ErrLifecycleNil is returned when a nil lifecycle is provided
	ErrLifecycleNil = errors.New("lifecycle cannot be nil")

	// ErrEventsNil is returned when a nil event appender is provided
	ErrEventsNil = errors.New("event appender cannot be nil")
)
