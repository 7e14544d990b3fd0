package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue names used by the billing automation. Each queue gets its own
// concurrency limit in the worker.
const (
	QueueRenewals = "renewals"
	QueueRetries  = "retries"
	QueueDunning  = "dunning"
)

// JobType identifies what a job does. The set is closed: dispatch is a
// lookup over these constants only, so an unknown type is rejected at
// enqueue time instead of failing at execution time.
type JobType string

const (
	JobTypeRenewal         JobType = "renewal"
	JobTypePaymentRetry    JobType = "payment_retry"
	JobTypeDunningStep     JobType = "dunning_step"
	JobTypeDunningCampaign JobType = "dunning_campaign"
	JobTypeTrialActivation JobType = "trial_activation"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeRenewal, JobTypePaymentRetry, JobTypeDunningStep, JobTypeDunningCampaign, JobTypeTrialActivation:
		return true
	}
	return false
}

// defaultQueues routes each job type to its queue unless the enqueue
// call overrides it.
var defaultQueues = map[JobType]string{
	JobTypeRenewal:         QueueRenewals,
	JobTypePaymentRetry:    QueueRetries,
	JobTypeDunningStep:     QueueDunning,
	JobTypeDunningCampaign: QueueDunning,
	JobTypeTrialActivation: QueueRenewals,
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is a durable unit of work. It is created with status pending
// before any dispatch happens, so a crash between enqueue and execution
// loses nothing: the poller picks the row up later. Delivery is
// at-least-once, which is why every handler must be idempotent.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	Type          JobType         `json:"type"`
	Queue         string          `json:"queue"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        JobStatus       `json:"status"`
	AttemptNumber int             `json:"attempt_number"`
	MaxAttempts   int             `json:"max_attempts"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	LockedUntil   *time.Time      `json:"locked_until,omitempty"`
	LockedBy      *uuid.UUID      `json:"locked_by,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Message is the envelope a handler receives. AttemptNumber starts at 1
// on the first delivery.
type Message struct {
	JobID         uuid.UUID       `json:"jobId"`
	Type          JobType         `json:"type"`
	TenantID      uuid.UUID       `json:"tenantId"`
	Payload       json.RawMessage `json:"payload"`
	AttemptNumber int             `json:"attemptNumber"`
	MaxAttempts   int             `json:"maxAttempts"`
}

// Payload is implemented by the typed payload structs below. The job
// type comes from the payload itself, keeping the type/payload pairing
// impossible to get wrong at call sites.
type Payload interface {
	JobType() JobType
	Tenant() uuid.UUID
}

// RenewalPayload triggers the renewal workflow for one subscription.
type RenewalPayload struct {
	TenantID       uuid.UUID `json:"tenantId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
}

func (p RenewalPayload) JobType() JobType  { return JobTypeRenewal }
func (p RenewalPayload) Tenant() uuid.UUID { return p.TenantID }

// PaymentRetryPayload re-runs the charge for a subscription whose
// previous renewal payment failed.
type PaymentRetryPayload struct {
	TenantID       uuid.UUID `json:"tenantId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
}

func (p PaymentRetryPayload) JobType() JobType  { return JobTypePaymentRetry }
func (p PaymentRetryPayload) Tenant() uuid.UUID { return p.TenantID }

// DunningCampaignPayload starts a dunning campaign for a past-due
// subscription.
type DunningCampaignPayload struct {
	TenantID       uuid.UUID `json:"tenantId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	Strategy       string    `json:"strategy"`
}

func (p DunningCampaignPayload) JobType() JobType  { return JobTypeDunningCampaign }
func (p DunningCampaignPayload) Tenant() uuid.UUID { return p.TenantID }

// DunningStepPayload executes one scheduled step of a running campaign.
type DunningStepPayload struct {
	TenantID       uuid.UUID `json:"tenantId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	AttemptID      uuid.UUID `json:"attemptId"`
}

func (p DunningStepPayload) JobType() JobType  { return JobTypeDunningStep }
func (p DunningStepPayload) Tenant() uuid.UUID { return p.TenantID }

// TrialActivationPayload converts a subscription whose trial has run out
// into a paying one.
type TrialActivationPayload struct {
	TenantID       uuid.UUID `json:"tenantId"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
}

func (p TrialActivationPayload) JobType() JobType  { return JobTypeTrialActivation }
func (p TrialActivationPayload) Tenant() uuid.UUID { return p.TenantID }
