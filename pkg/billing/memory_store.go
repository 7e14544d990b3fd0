package billing

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements all billing repository interfaces for testing
// and local development. All methods are safe for concurrent use and
// return copies to prevent external modification of stored state.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[uuid.UUID]*Subscription
	invoices      map[uuid.UUID]*Invoice
	payments      map[uuid.UUID]*Payment
	attempts      map[uuid.UUID]*DunningAttempt
	changes       []*StateChange
	sequences     map[string]int // tenantID:year -> last allocated number
}

// NewMemoryStore creates an empty in-memory billing store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[uuid.UUID]*Subscription),
		invoices:      make(map[uuid.UUID]*Invoice),
		payments:      make(map[uuid.UUID]*Payment),
		attempts:      make(map[uuid.UUID]*DunningAttempt),
		sequences:     make(map[string]int),
	}
}

// CreateSubscription implements SubscriptionStore.
func (ms *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.subscriptions[sub.ID]; exists {
		return fmt.Errorf("subscription %s already exists", sub.ID)
	}

	cp := cloneSubscription(sub)
	ms.subscriptions[sub.ID] = cp
	return nil
}

// GetSubscription implements SubscriptionStore.
func (ms *MemoryStore) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	sub, ok := ms.subscriptions[id]
	if !ok || sub.TenantID != tenantID {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

// UpdateSubscription implements SubscriptionStore.
func (ms *MemoryStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored, ok := ms.subscriptions[sub.ID]
	if !ok || stored.TenantID != sub.TenantID {
		return ErrSubscriptionNotFound
	}

	ms.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

// ListRenewalsDue implements SubscriptionStore.
func (ms *MemoryStore) ListRenewalsDue(ctx context.Context, due time.Time, limit int) ([]*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Subscription
	for _, sub := range ms.subscriptions {
		if !sub.Renewable() {
			continue
		}
		if sub.NextBillingDate.After(due) {
			continue
		}
		out = append(out, cloneSubscription(sub))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextBillingDate.Before(out[j].NextBillingDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTrialsEnded implements SubscriptionStore.
func (ms *MemoryStore) ListTrialsEnded(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Subscription
	for _, sub := range ms.subscriptions {
		if sub.Status != StatusTrialing {
			continue
		}
		if sub.TrialEndsAt == nil || sub.TrialEndsAt.After(now) {
			continue
		}
		out = append(out, cloneSubscription(sub))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TrialEndsAt.Before(*out[j].TrialEndsAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRetriesDue implements SubscriptionStore.
func (ms *MemoryStore) ListRetriesDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Subscription
	for _, sub := range ms.subscriptions {
		if sub.Status != StatusActive && sub.Status != StatusPastDue {
			continue
		}
		if sub.FailedPaymentAttempts == 0 || sub.NextRetryAt == nil {
			continue
		}
		if sub.NextRetryAt.After(now) {
			continue
		}
		out = append(out, cloneSubscription(sub))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(*out[j].NextRetryAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateInvoice implements InvoiceStore.
func (ms *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}

	ms.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// GetInvoice implements InvoiceStore.
func (ms *MemoryStore) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	inv, ok := ms.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return nil, ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

// UpdateInvoice implements InvoiceStore.
func (ms *MemoryStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored, ok := ms.invoices[inv.ID]
	if !ok || stored.TenantID != inv.TenantID {
		return ErrInvoiceNotFound
	}
	if stored.Status == InvoiceStatusPaid {
		return ErrInvoiceImmutable
	}

	ms.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// CreatePayment implements PaymentStore.
func (ms *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.payments[p.ID]; exists {
		return fmt.Errorf("payment %s already exists", p.ID)
	}

	cp := *p
	ms.payments[p.ID] = &cp
	return nil
}

// UpdatePayment implements PaymentStore.
func (ms *MemoryStore) UpdatePayment(ctx context.Context, p *Payment) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.payments[p.ID]; !ok {
		return fmt.Errorf("payment %s not found", p.ID)
	}

	cp := *p
	ms.payments[p.ID] = &cp
	return nil
}

// CreateDunningAttempts implements DunningStore.
func (ms *MemoryStore) CreateDunningAttempts(ctx context.Context, attempts []*DunningAttempt) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for _, a := range attempts {
		if _, exists := ms.attempts[a.ID]; exists {
			return fmt.Errorf("dunning attempt %s already exists", a.ID)
		}
	}
	for _, a := range attempts {
		ms.attempts[a.ID] = cloneAttempt(a)
	}
	return nil
}

// HasPendingCampaign implements DunningStore.
func (ms *MemoryStore) HasPendingCampaign(ctx context.Context, tenantID, subscriptionID uuid.UUID) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, a := range ms.attempts {
		if a.TenantID == tenantID && a.SubscriptionID == subscriptionID && a.Status == DunningAttemptPending {
			return true, nil
		}
	}
	return false, nil
}

// GetDunningAttempt implements DunningStore.
func (ms *MemoryStore) GetDunningAttempt(ctx context.Context, tenantID, id uuid.UUID) (*DunningAttempt, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	a, ok := ms.attempts[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrDunningAttemptNotFound
	}
	return cloneAttempt(a), nil
}

// UpdateDunningAttempt implements DunningStore.
func (ms *MemoryStore) UpdateDunningAttempt(ctx context.Context, attempt *DunningAttempt) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	stored, ok := ms.attempts[attempt.ID]
	if !ok || stored.TenantID != attempt.TenantID {
		return ErrDunningAttemptNotFound
	}

	ms.attempts[attempt.ID] = cloneAttempt(attempt)
	return nil
}

// ListDueDunningAttempts implements DunningStore.
func (ms *MemoryStore) ListDueDunningAttempts(ctx context.Context, due time.Time, limit int) ([]*DunningAttempt, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*DunningAttempt
	for _, a := range ms.attempts {
		if !a.Due(due) {
			continue
		}
		out = append(out, cloneAttempt(a))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendStateChange implements StateChangeStore.
func (ms *MemoryStore) AppendStateChange(ctx context.Context, change *StateChange) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cp := *change
	cp.Metadata = maps.Clone(change.Metadata)
	ms.changes = append(ms.changes, &cp)
	return nil
}

// ListStateChanges implements StateChangeStore.
func (ms *MemoryStore) ListStateChanges(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*StateChange, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*StateChange
	for _, c := range ms.changes {
		if c.TenantID == tenantID && c.SubscriptionID == subscriptionID {
			cp := *c
			cp.Metadata = maps.Clone(c.Metadata)
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateNumberedInvoice implements InvoiceNumberAllocator. Sequences are
// gapless per tenant and year; the allocation and the insert happen
// under one hold of the store mutex, mirroring the single transaction
// the Postgres implementation uses, so a rejected insert never consumes
// a number.
func (ms *MemoryStore) CreateNumberedInvoice(ctx context.Context, inv *Invoice) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s already exists", inv.ID)
	}

	year := inv.CreatedAt.Year()
	key := fmt.Sprintf("%s:%d", inv.TenantID, year)
	ms.sequences[key]++
	inv.Number = fmt.Sprintf("INV-%d-%06d", year, ms.sequences[key])

	ms.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

// Invoices returns a snapshot of all invoices for a subscription, useful
// in tests.
func (ms *MemoryStore) Invoices(subscriptionID uuid.UUID) []*Invoice {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Invoice
	for _, inv := range ms.invoices {
		if inv.SubscriptionID != nil && *inv.SubscriptionID == subscriptionID {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Payments returns a snapshot of all payments for an invoice, useful in
// tests.
func (ms *MemoryStore) Payments(invoiceID uuid.UUID) []*Payment {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*Payment
	for _, p := range ms.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Attempts returns a snapshot of all dunning attempts for a
// subscription, ordered by schedule, useful in tests.
func (ms *MemoryStore) Attempts(subscriptionID uuid.UUID) []*DunningAttempt {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []*DunningAttempt
	for _, a := range ms.attempts {
		if a.SubscriptionID == subscriptionID {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledAt.Before(out[j].ScheduledAt)
	})
	return out
}

func cloneSubscription(s *Subscription) *Subscription {
	cp := *s
	cp.NextRetryAt = cloneTime(s.NextRetryAt)
	cp.PastDueDate = cloneTime(s.PastDueDate)
	cp.GracePeriodEndsAt = cloneTime(s.GracePeriodEndsAt)
	cp.CanceledAt = cloneTime(s.CanceledAt)
	cp.TrialEndsAt = cloneTime(s.TrialEndsAt)
	return &cp
}

func cloneInvoice(i *Invoice) *Invoice {
	cp := *i
	if i.SubscriptionID != nil {
		id := *i.SubscriptionID
		cp.SubscriptionID = &id
	}
	cp.PaidAt = cloneTime(i.PaidAt)
	return &cp
}

func cloneAttempt(a *DunningAttempt) *DunningAttempt {
	cp := *a
	cp.ExecutedAt = cloneTime(a.ExecutedAt)
	cp.Metadata = maps.Clone(a.Metadata)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
