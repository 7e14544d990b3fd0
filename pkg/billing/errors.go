package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionNotFound is returned when a subscription does not
	// exist for the given tenant. Never retried.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvoiceNotFound is returned when an invoice does not exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrPlanNotFound is returned when a plan ID cannot be resolved.
	ErrPlanNotFound = errors.New("subscription plan not found")

	// ErrDunningAttemptNotFound is returned when a campaign attempt does
	// not exist.
	ErrDunningAttemptNotFound = errors.New("dunning attempt not found")

	// ErrCampaignAlreadyStarted signals a duplicate campaign start.
	// Callers treat it as a successful no-op.
	ErrCampaignAlreadyStarted = errors.New("dunning campaign already started")

	// ErrInvoiceImmutable is returned on attempts to modify a paid invoice.
	ErrInvoiceImmutable = errors.New("paid invoice is immutable")

	// ErrStateChangeStoreNil is returned when a nil audit store is provided.
	ErrStateChangeStoreNil = errors.New("state change store cannot be nil")

	// ErrEventAppenderNil is returned when a nil outbox appender is provided.
	ErrEventAppenderNil = errors.New("event appender cannot be nil")
)

// Machine-readable codes carried by SubscriptionError.
const (
	CodeCreationFailed     = "CREATION_FAILED"
	CodeRenewalFailed      = "RENEWAL_FAILED"
	CodeCancellationFailed = "CANCELLATION_FAILED"
	CodeProrationFailed    = "PRORATION_FAILED"
)

// SubscriptionError wraps a workflow failure with a machine-readable code
// so operators and collaborators can classify without parsing messages.
type SubscriptionError struct {
	Code string
	Err  error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// NewSubscriptionError wraps err with a code.
func NewSubscriptionError(code string, err error) *SubscriptionError {
	return &SubscriptionError{Code: code, Err: err}
}

// TransitionError indicates an attempted status change outside the legal
// automated set. It is a conflict: no audit row is written and no event
// is emitted.
type TransitionError struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal subscription transition %s -> %s", e.From, e.To)
}

// IsTransitionError reports whether err is a rejected status transition.
func IsTransitionError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e)
}
