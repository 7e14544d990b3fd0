package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the enqueuer and worker store interfaces on
// top of a jobs table. Claiming uses FOR UPDATE SKIP LOCKED so multiple
// worker processes never contend on the same row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a job store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrStoreNil
	}
	return &PostgresStore{pool: pool}, nil
}

const jobColumns = `id, type, queue, tenant_id, payload, status,
	attempt_number, max_attempts, scheduled_at, locked_until, locked_by,
	error_message, created_at, updated_at`

// CreateJob implements EnqueuerStore
func (s *PostgresStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, type, queue, tenant_id, payload, status,
			attempt_number, max_attempts, scheduled_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		job.ID, job.Type, job.Queue, job.TenantID, []byte(job.Payload), job.Status,
		job.AttemptNumber, job.MaxAttempts, job.ScheduledAt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrJobCreate, err)
	}
	return nil
}

// ClaimJob implements WorkerStore
func (s *PostgresStore) ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lockDuration time.Duration) (*Job, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'running',
			attempt_number = attempt_number + 1,
			locked_until = $3,
			locked_by = $4,
			updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND status = 'pending'
			  AND scheduled_at <= $2
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		queue, now, now.Add(lockDuration), workerID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJobToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job from queue %q: %w", queue, err)
	}
	return job, nil
}

// CompleteJob implements WorkerStore
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'completed', locked_until = NULL, locked_by = NULL, updated_at = $2
		WHERE id = $1 AND status = 'running'`,
		jobID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// FailJob implements WorkerStore
func (s *PostgresStore) FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string, retryAt time.Time) error {
	if errorMsg == "" {
		return ErrEmptyErrorMessage
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = CASE WHEN attempt_number >= max_attempts THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN attempt_number >= max_attempts THEN scheduled_at ELSE $3 END,
			error_message = $2,
			locked_until = NULL,
			locked_by = NULL,
			updated_at = $4
		WHERE id = $1 AND status = 'running'`,
		jobID, errorMsg, retryAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// ExtendLock implements WorkerStore
func (s *PostgresStore) ExtendLock(ctx context.Context, jobID uuid.UUID, duration time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET locked_until = $2
		WHERE id = $1 AND status = 'running'`,
		jobID, time.Now().UTC().Add(duration))
	if err != nil {
		return fmt.Errorf("failed to extend lock for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotRunning
	}
	return nil
}

// ReclaimExpired implements WorkerStore
func (s *PostgresStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'pending', locked_until = NULL, locked_by = NULL, updated_at = $1
		WHERE status = 'running' AND locked_until IS NOT NULL AND locked_until <= $1`,
		now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired job locks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetJob returns a single job by id.
func (s *PostgresStore) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		job     Job
		payload []byte
	)
	err := row.Scan(
		&job.ID, &job.Type, &job.Queue, &job.TenantID, &payload, &job.Status,
		&job.AttemptNumber, &job.MaxAttempts, &job.ScheduledAt, &job.LockedUntil, &job.LockedBy,
		&job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}
