package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice is created once per renewal attempt. Number is unique,
// sequential, and gapless per tenant and year; it is assigned under a
// transaction by the InvoiceNumberAllocator.
type Invoice struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	SubscriptionID *uuid.UUID // nil for non-recurring invoices
	Number         string
	Status         InvoiceStatus

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Currency string

	DueDate   time.Time
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payment is one gateway charge attempt against an invoice.
type Payment struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	InvoiceID uuid.UUID

	Amount   decimal.Decimal
	Currency string
	Status   PaymentRecordStatus

	Gateway              string
	GatewayTransactionID string
	ErrorMessage         string

	CreatedAt time.Time
	UpdatedAt time.Time
}
