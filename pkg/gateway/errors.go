package gateway

import (
	"errors"
	"fmt"
)

// ErrNoPaymentMethod is returned when a charge is attempted without a
// stored payment method. Not retryable at the gateway level.
var ErrNoPaymentMethod = errors.New("no stored payment method")

// Error wraps a provider failure with the gateway name and the provider's
// own code, so callers can log and classify without inspecting raw data.
type Error struct {
	Gateway string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Gateway, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway %s: %s", e.Gateway, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err originated from a payment provider.
func IsGatewayError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
