package proration

import "errors"

var (
	// ErrInvalidPeriod is returned when periodStart is not before periodEnd.
	ErrInvalidPeriod = errors.New("period start must be before period end")

	// ErrNegativePrice is returned when either unit price is negative.
	ErrNegativePrice = errors.New("unit price cannot be negative")
)
