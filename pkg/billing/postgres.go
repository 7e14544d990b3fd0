package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements all billing repository interfaces over a pgx
// connection pool. Monetary amounts are stored as NUMERIC and travel as
// strings at the driver boundary; metadata maps are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pgx pool cannot be nil")
	}
	return &PostgresStore{pool: pool}, nil
}

const subscriptionColumns = `id, tenant_id, client_id, plan_id, status,
	current_period_start, current_period_end, next_billing_date,
	failed_payment_attempts, next_retry_at, past_due_date, grace_period_ends_at,
	cancel_at_period_end, canceled_at, trial_ends_at,
	unit_price::text, currency, payment_method_id, created_at, updated_at`

// CreateSubscription implements SubscriptionStore.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, client_id, plan_id, status,
			current_period_start, current_period_end, next_billing_date,
			failed_payment_attempts, next_retry_at, past_due_date, grace_period_ends_at,
			cancel_at_period_end, canceled_at, trial_ends_at,
			unit_price, currency, payment_method_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		sub.ID, sub.TenantID, sub.ClientID, sub.PlanID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate,
		sub.FailedPaymentAttempts, sub.NextRetryAt, sub.PastDueDate, sub.GracePeriodEndsAt,
		sub.CancelAtPeriodEnd, sub.CanceledAt, sub.TrialEndsAt,
		sub.UnitPrice.String(), sub.Currency, sub.PaymentMethodID, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubscription implements SubscriptionStore.
func (s *PostgresStore) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanSubscription(row)
}

// UpdateSubscription implements SubscriptionStore.
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $3, status = $4,
			current_period_start = $5, current_period_end = $6, next_billing_date = $7,
			failed_payment_attempts = $8, next_retry_at = $9, past_due_date = $10,
			grace_period_ends_at = $11, cancel_at_period_end = $12, canceled_at = $13,
			trial_ends_at = $14, unit_price = $15, currency = $16,
			payment_method_id = $17, updated_at = $18
		WHERE tenant_id = $1 AND id = $2`,
		sub.TenantID, sub.ID, sub.PlanID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingDate,
		sub.FailedPaymentAttempts, sub.NextRetryAt, sub.PastDueDate,
		sub.GracePeriodEndsAt, sub.CancelAtPeriodEnd, sub.CanceledAt,
		sub.TrialEndsAt, sub.UnitPrice.String(), sub.Currency,
		sub.PaymentMethodID, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListRenewalsDue implements SubscriptionStore.
func (s *PostgresStore) ListRenewalsDue(ctx context.Context, due time.Time, limit int) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status IN ('active', 'past_due', 'pending_cancellation')
		   AND next_billing_date <= $1
		 ORDER BY next_billing_date
		 LIMIT $2`,
		due, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due renewals: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListTrialsEnded implements SubscriptionStore.
func (s *PostgresStore) ListTrialsEnded(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status = 'trialing'
		   AND trial_ends_at <= $1
		 ORDER BY trial_ends_at
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ended trials: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListRetriesDue implements SubscriptionStore.
func (s *PostgresStore) ListRetriesDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE status IN ('active', 'past_due')
		   AND failed_payment_attempts > 0
		   AND next_retry_at IS NOT NULL
		   AND next_retry_at <= $1
		 ORDER BY next_retry_at
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due payment retries: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CreateInvoice implements InvoiceStore.
func (s *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invoices (
			id, tenant_id, subscription_id, number, status,
			subtotal, tax, total, currency, due_date, paid_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		inv.ID, inv.TenantID, inv.SubscriptionID, inv.Number, inv.Status,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(),
		inv.Currency, inv.DueDate, inv.PaidAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.ID, err)
	}
	return nil
}

// GetInvoice implements InvoiceStore.
func (s *PostgresStore) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, subscription_id, number, status,
		       subtotal::text, tax::text, total::text, currency,
		       due_date, paid_at, created_at, updated_at
		FROM invoices WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)

	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateInvoice implements InvoiceStore. Paid invoices are immutable:
// the status predicate makes the update a no-op and the affected-row
// check reports it as a conflict.
func (s *PostgresStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET
			status = $3, subtotal = $4, tax = $5, total = $6,
			due_date = $7, paid_at = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2 AND status <> 'paid'`,
		inv.TenantID, inv.ID, inv.Status,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(),
		inv.DueDate, inv.PaidAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from immutable.
		var status InvoiceStatus
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM invoices WHERE tenant_id = $1 AND id = $2`,
			inv.TenantID, inv.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check invoice %s: %w", inv.ID, err)
		}
		return ErrInvoiceImmutable
	}
	return nil
}

// CreatePayment implements PaymentStore.
func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (
			id, tenant_id, invoice_id, amount, currency, status,
			gateway, gateway_transaction_id, error_message, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.TenantID, p.InvoiceID, p.Amount.String(), p.Currency, p.Status,
		p.Gateway, p.GatewayTransactionID, p.ErrorMessage, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePayment implements PaymentStore.
func (s *PostgresStore) UpdatePayment(ctx context.Context, p *Payment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments SET
			status = $3, gateway_transaction_id = $4, error_message = $5, updated_at = $6
		WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, p.Status, p.GatewayTransactionID, p.ErrorMessage, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", p.ID)
	}
	return nil
}

// CreateDunningAttempts implements DunningStore. The whole campaign is
// inserted in one transaction so a partial campaign can never exist.
func (s *PostgresStore) CreateDunningAttempts(ctx context.Context, attempts []*DunningAttempt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, a := range attempts {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO dunning_attempts (
				id, tenant_id, subscription_id, step, strategy, status,
				scheduled_at, executed_at, error_message, metadata, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			a.ID, a.TenantID, a.SubscriptionID, a.Step, a.Strategy, a.Status,
			a.ScheduledAt, a.ExecutedAt, a.ErrorMessage, meta, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert dunning attempt %s: %w", a.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// HasPendingCampaign implements DunningStore.
func (s *PostgresStore) HasPendingCampaign(ctx context.Context, tenantID, subscriptionID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dunning_attempts
			WHERE tenant_id = $1 AND subscription_id = $2 AND status = 'pending'
		)`,
		tenantID, subscriptionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending campaign: %w", err)
	}
	return exists, nil
}

// GetDunningAttempt implements DunningStore.
func (s *PostgresStore) GetDunningAttempt(ctx context.Context, tenantID, id uuid.UUID) (*DunningAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, subscription_id, step, strategy, status,
		       scheduled_at, executed_at, error_message, metadata, created_at, updated_at
		FROM dunning_attempts WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	return scanDunningAttempt(row)
}

// UpdateDunningAttempt implements DunningStore.
func (s *PostgresStore) UpdateDunningAttempt(ctx context.Context, attempt *DunningAttempt) error {
	meta, err := json.Marshal(attempt.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dunning_attempts SET
			status = $3, executed_at = $4, error_message = $5, metadata = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2`,
		attempt.TenantID, attempt.ID, attempt.Status,
		attempt.ExecutedAt, attempt.ErrorMessage, meta, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update dunning attempt %s: %w", attempt.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDunningAttemptNotFound
	}
	return nil
}

// ListDueDunningAttempts implements DunningStore.
func (s *PostgresStore) ListDueDunningAttempts(ctx context.Context, due time.Time, limit int) ([]*DunningAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, subscription_id, step, strategy, status,
		       scheduled_at, executed_at, error_message, metadata, created_at, updated_at
		FROM dunning_attempts
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2`,
		due, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due dunning attempts: %w", err)
	}
	defer rows.Close()

	var out []*DunningAttempt
	for rows.Next() {
		a, err := scanDunningAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendStateChange implements StateChangeStore.
func (s *PostgresStore) AppendStateChange(ctx context.Context, change *StateChange) error {
	meta, err := json.Marshal(change.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal state change metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscription_state_changes (
			id, tenant_id, subscription_id, from_status, to_status,
			reason, actor, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		change.ID, change.TenantID, change.SubscriptionID,
		change.FromStatus, change.ToStatus, change.Reason, change.Actor,
		meta, change.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append state change: %w", err)
	}
	return nil
}

// ListStateChanges implements StateChangeStore.
func (s *PostgresStore) ListStateChanges(ctx context.Context, tenantID, subscriptionID uuid.UUID) ([]*StateChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, subscription_id, from_status, to_status,
		       reason, actor, metadata, created_at
		FROM subscription_state_changes
		WHERE tenant_id = $1 AND subscription_id = $2
		ORDER BY created_at`,
		tenantID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list state changes: %w", err)
	}
	defer rows.Close()

	var out []*StateChange
	for rows.Next() {
		var (
			c    StateChange
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SubscriptionID,
			&c.FromStatus, &c.ToStatus, &c.Reason, &c.Actor, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state change: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal state change metadata: %w", err)
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CreateNumberedInvoice implements InvoiceNumberAllocator. The sequence
// upsert and the invoice insert share one transaction: concurrent
// renewals in a tenant serialize on the sequence row, and a failed
// insert rolls the increment back so the numbering stays gapless.
func (s *PostgresStore) CreateNumberedInvoice(ctx context.Context, inv *Invoice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin invoice transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeds.
	defer tx.Rollback(ctx) //nolint:errcheck

	year := inv.CreatedAt.Year()
	var seq int
	err = tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (tenant_id, year, last_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year)
		DO UPDATE SET last_number = invoice_sequences.last_number + 1
		RETURNING last_number`,
		inv.TenantID, year).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate invoice number: %w", err)
	}
	inv.Number = fmt.Sprintf("INV-%d-%06d", year, seq)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (
			id, tenant_id, subscription_id, number, status,
			subtotal, tax, total, currency, due_date, paid_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		inv.ID, inv.TenantID, inv.SubscriptionID, inv.Number, inv.Status,
		inv.Subtotal.String(), inv.Tax.String(), inv.Total.String(),
		inv.Currency, inv.DueDate, inv.PaidAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.ID, err)
	}

	return tx.Commit(ctx)
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub   Subscription
		price string
	)
	err := row.Scan(
		&sub.ID, &sub.TenantID, &sub.ClientID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingDate,
		&sub.FailedPaymentAttempts, &sub.NextRetryAt, &sub.PastDueDate, &sub.GracePeriodEndsAt,
		&sub.CancelAtPeriodEnd, &sub.CanceledAt, &sub.TrialEndsAt,
		&price, &sub.Currency, &sub.PaymentMethodID, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	sub.UnitPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit price %q: %w", price, err)
	}
	return &sub, nil
}

func scanSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv                  Invoice
		subtotal, tax, total string
	)
	err := row.Scan(
		&inv.ID, &inv.TenantID, &inv.SubscriptionID, &inv.Number, &inv.Status,
		&subtotal, &tax, &total, &inv.Currency,
		&inv.DueDate, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	if inv.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("failed to parse subtotal %q: %w", subtotal, err)
	}
	if inv.Tax, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("failed to parse tax %q: %w", tax, err)
	}
	if inv.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to parse total %q: %w", total, err)
	}
	return &inv, nil
}

func scanDunningAttempt(row pgx.Row) (*DunningAttempt, error) {
	var (
		a    DunningAttempt
		meta []byte
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.SubscriptionID, &a.Step, &a.Strategy, &a.Status,
		&a.ScheduledAt, &a.ExecutedAt, &a.ErrorMessage, &meta, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDunningAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dunning attempt: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt metadata: %w", err)
		}
	}
	return &a, nil
}
