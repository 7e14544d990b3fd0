package scheduler

import "errors"

// Common errors
var (
	// ErrTriggerNameEmpty is returned when registering a trigger without a name
	ErrTriggerNameEmpty = errors.New("trigger name cannot be empty")

	// ErrTriggerFuncNil is returned when registering a trigger without a function
	ErrTriggerFuncNil = errors.New("trigger function cannot be nil")

	// ErrTriggerRegistered is returned when a trigger name is already taken
	ErrTriggerRegistered = errors.New("trigger already registered")

	// ErrInvalidSchedule is returned when a cron spec does not parse
	ErrInvalidSchedule = errors.New("invalid cron schedule")

	// ErrNoTriggers is returned when starting a scheduler with no triggers
	ErrNoTriggers = errors.New("scheduler has no registered triggers")

	// ErrAlreadyStarted is returned when the scheduler is already running
	ErrAlreadyStarted = errors.New("scheduler already started")
)
