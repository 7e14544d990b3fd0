package billing

// SubscriptionStatus represents the current state of a subscription.
type SubscriptionStatus string

const (
	StatusTrialing            SubscriptionStatus = "trialing"
	StatusActive              SubscriptionStatus = "active"
	StatusPastDue             SubscriptionStatus = "past_due"
	StatusPaused              SubscriptionStatus = "paused"
	StatusPendingCancellation SubscriptionStatus = "pending_cancellation"
	StatusCancelled           SubscriptionStatus = "cancelled"

	// Administrative states reachable only through explicit operator
	// action, never by the automated flow.
	StatusInactive SubscriptionStatus = "inactive"
	StatusUnpaid   SubscriptionStatus = "unpaid"
)

// InvoiceStatus represents the lifecycle of an invoice.
// An invoice is immutable once paid except for audit fields.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusVoid    InvoiceStatus = "void"
)

// PaymentRecordStatus represents the state of one payment attempt.
// One invoice may accumulate several attempts; only one may complete.
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "pending"
	PaymentRecordCompleted PaymentRecordStatus = "completed"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
)

// DunningAction is one of the four campaign step types.
type DunningAction string

const (
	DunningEmailReminder DunningAction = "email_reminder"
	DunningGracePeriod   DunningAction = "grace_period"
	DunningSuspension    DunningAction = "suspension"
	DunningCancellation  DunningAction = "cancellation"
)

// DunningAttemptStatus represents the state of a single campaign attempt.
type DunningAttemptStatus string

const (
	DunningAttemptPending   DunningAttemptStatus = "pending"
	DunningAttemptCompleted DunningAttemptStatus = "completed"
	DunningAttemptFailed    DunningAttemptStatus = "failed"
	DunningAttemptCancelled DunningAttemptStatus = "cancelled"
)

// Outbox topics for the domain events the automation emits.
const (
	TopicSubscriptionActivated            = "subscription.activated"
	TopicSubscriptionRenewalStarted       = "subscription.renewal_started"
	TopicSubscriptionRenewalSucceeded     = "subscription.renewal_succeeded"
	TopicSubscriptionRenewalFailed        = "subscription.renewal_failed"
	TopicSubscriptionPastDue              = "subscription.past_due"
	TopicSubscriptionSuspended            = "subscription.suspended"
	TopicSubscriptionTerminated           = "subscription.terminated"
	TopicSubscriptionPendingCancellation  = "subscription.pending_cancellation"
	TopicPaymentRetryNeeded               = "payment.retry_needed"
)
