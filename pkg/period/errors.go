package period

import "errors"

var (
	// ErrInvalidInterval is returned for an unknown billing interval.
	ErrInvalidInterval = errors.New("invalid billing interval")

	// ErrInvalidIntervalCount is returned when the interval count is below 1.
	ErrInvalidIntervalCount = errors.New("interval count must be at least 1")
)
