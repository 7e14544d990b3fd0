package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway defines the minimal interface for payment provider integrations.
// This abstraction keeps the billing core vendor-neutral: concrete drivers
// (Stripe, Paddle, and friends) live outside this module and handle
// provider-specific quirks internally. The core never inspects gateway
// data beyond PaymentResult.Status.
type Gateway interface {
	// Name identifies the driver in payment records and logs.
	Name() string

	// Initialize configures the gateway driver. Called once at startup.
	Initialize(cfg Config) error

	// CreatePaymentIntent registers a pending charge with the provider.
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error)

	// ConfirmPayment executes the charge against a stored payment method.
	ConfirmPayment(ctx context.Context, params ConfirmParams) (*PaymentResult, error)
}

// Config carries driver credentials and environment selection.
type Config struct {
	APIKey      string `env:"GATEWAY_API_KEY"`
	Environment string `env:"GATEWAY_ENVIRONMENT" envDefault:"sandbox"`
}

// IntentParams describes the charge to create.
type IntentParams struct {
	Amount          decimal.Decimal
	Currency        string
	CustomerID      string
	PaymentMethodID string
}

// Intent is the provider's pending-charge handle.
type Intent struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
}

// ConfirmParams identifies the intent and payment method to charge.
type ConfirmParams struct {
	IntentID        string
	PaymentMethodID string
}

// PaymentStatus is the normalized outcome of a confirmation attempt.
type PaymentStatus string

const (
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
)

// PaymentResult is the normalized confirmation response.
// GatewayData carries raw provider fields for audit purposes only.
type PaymentResult struct {
	Status        PaymentStatus
	TransactionID string
	ErrorMessage  string
	GatewayData   map[string]any
}

// Succeeded reports whether the charge went through.
func (r *PaymentResult) Succeeded() bool {
	return r.Status == PaymentStatusSucceeded
}
