package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-memory gateway driver for tests and local
// development. Charges succeed unless the payment method has been
// flagged with Decline.
type Sandbox struct {
	mu       sync.Mutex
	declined map[string]string // payment method id -> decline reason
	intents  map[string]IntentParams
	charges  []ConfirmParams
}

// NewSandbox creates a sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{
		declined: make(map[string]string),
		intents:  make(map[string]IntentParams),
	}
}

// Name implements Gateway.
func (s *Sandbox) Name() string { return "sandbox" }

// Initialize implements Gateway. The sandbox needs no credentials.
func (s *Sandbox) Initialize(cfg Config) error { return nil }

// Decline makes future charges against a payment method fail with the
// given reason.
func (s *Sandbox) Decline(paymentMethodID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined[paymentMethodID] = reason
}

// Approve clears a previous Decline.
func (s *Sandbox) Approve(paymentMethodID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.declined, paymentMethodID)
}

// CreatePaymentIntent implements Gateway.
func (s *Sandbox) CreatePaymentIntent(ctx context.Context, params IntentParams) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "pi_" + uuid.NewString()
	s.intents[id] = params
	return &Intent{
		ID:       id,
		Amount:   params.Amount,
		Currency: params.Currency,
	}, nil
}

// ConfirmPayment implements Gateway.
func (s *Sandbox) ConfirmPayment(ctx context.Context, params ConfirmParams) (*PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[params.IntentID]; !ok {
		return nil, &Error{
			Gateway: s.Name(),
			Code:    "intent_not_found",
			Message: fmt.Sprintf("unknown payment intent %q", params.IntentID),
		}
	}

	s.charges = append(s.charges, params)

	if reason, declined := s.declined[params.PaymentMethodID]; declined {
		return &PaymentResult{
			Status:       PaymentStatusFailed,
			ErrorMessage: reason,
		}, nil
	}

	return &PaymentResult{
		Status:        PaymentStatusSucceeded,
		TransactionID: "txn_" + uuid.NewString(),
	}, nil
}

// Charges returns every confirmation attempt seen so far, useful in tests.
func (s *Sandbox) Charges() []ConfirmParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConfirmParams, len(s.charges))
	copy(out, s.charges)
	return out
}
