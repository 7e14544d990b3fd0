package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements the enqueuer and worker store interfaces for
// testing and local development. It backs the degraded mode where no
// database is available, at the cost of losing jobs on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job

	// Indexes for efficient queries
	byQueue  map[string][]uuid.UUID
	byStatus map[JobStatus][]uuid.UUID
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[uuid.UUID]*Job),
		byQueue:  make(map[string][]uuid.UUID),
		byStatus: make(map[JobStatus][]uuid.UUID),
	}
}

// CreateJob implements EnqueuerStore
func (ms *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	// Clone to prevent external modifications
	jobCopy := *job
	ms.jobs[job.ID] = &jobCopy

	ms.byQueue[job.Queue] = append(ms.byQueue[job.Queue], job.ID)
	ms.byStatus[job.Status] = append(ms.byStatus[job.Status], job.ID)

	return nil
}

// ClaimJob implements WorkerStore. The oldest runnable job in the queue
// wins; claiming moves it to running and counts the attempt.
func (ms *MemoryStore) ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lockDuration time.Duration) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now().UTC()
	var best *Job

	for _, jobID := range ms.byStatus[JobStatusPending] {
		job := ms.jobs[jobID]

		if job.Queue != queue {
			continue
		}
		// Skip jobs scheduled for future execution (delayed and backoff retries)
		if job.ScheduledAt.After(now) {
			continue
		}
		if job.LockedUntil != nil && job.LockedUntil.After(now) {
			continue
		}

		if best == nil || job.ScheduledAt.Before(best.ScheduledAt) {
			best = job
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = JobStatusRunning
	best.AttemptNumber++
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID
	best.UpdatedAt = now

	ms.removeFromStatusIndex(best.ID, JobStatusPending)
	ms.byStatus[JobStatusRunning] = append(ms.byStatus[JobStatusRunning], best.ID)

	jobCopy := *best
	return &jobCopy, nil
}

// CompleteJob implements WorkerStore
func (ms *MemoryStore) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusRunning {
		return ErrJobNotRunning
	}

	now := time.Now().UTC()
	job.Status = JobStatusCompleted
	job.LockedUntil = nil
	job.LockedBy = nil
	job.UpdatedAt = now

	ms.removeFromStatusIndex(jobID, JobStatusRunning)
	ms.byStatus[JobStatusCompleted] = append(ms.byStatus[JobStatusCompleted], jobID)

	return nil
}

// FailJob implements WorkerStore. A job with attempts left returns to
// pending scheduled at retryAt; an exhausted job becomes terminally
// failed and always carries a non-empty error message.
func (ms *MemoryStore) FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string, retryAt time.Time) error {
	if errorMsg == "" {
		return ErrEmptyErrorMessage
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusRunning {
		return ErrJobNotRunning
	}

	now := time.Now().UTC()
	job.ErrorMessage = &errorMsg
	job.LockedUntil = nil
	job.LockedBy = nil
	job.UpdatedAt = now

	ms.removeFromStatusIndex(jobID, JobStatusRunning)
	if job.AttemptNumber >= job.MaxAttempts {
		job.Status = JobStatusFailed
		ms.byStatus[JobStatusFailed] = append(ms.byStatus[JobStatusFailed], jobID)
	} else {
		job.Status = JobStatusPending
		job.ScheduledAt = retryAt
		ms.byStatus[JobStatusPending] = append(ms.byStatus[JobStatusPending], jobID)
	}

	return nil
}

// ExtendLock implements WorkerStore
func (ms *MemoryStore) ExtendLock(ctx context.Context, jobID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusRunning {
		return ErrJobNotRunning
	}

	lockUntil := time.Now().UTC().Add(duration)
	job.LockedUntil = &lockUntil

	return nil
}

// ReclaimExpired implements WorkerStore. Running jobs whose lock has
// passed go back to pending with their attempt history intact, so work
// claimed by a crashed worker is never lost.
func (ms *MemoryStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var reclaimed int
	for _, jobID := range slices.Clone(ms.byStatus[JobStatusRunning]) {
		job := ms.jobs[jobID]
		if job.LockedUntil == nil || job.LockedUntil.After(now) {
			continue
		}

		job.Status = JobStatusPending
		job.LockedUntil = nil
		job.LockedBy = nil
		job.UpdatedAt = now

		ms.removeFromStatusIndex(jobID, JobStatusRunning)
		ms.byStatus[JobStatusPending] = append(ms.byStatus[JobStatusPending], jobID)
		reclaimed++
	}

	return reclaimed, nil
}

// GetJob returns a snapshot of a job, useful in tests.
func (ms *MemoryStore) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, ErrJobNotFound
	}

	jobCopy := *job
	return &jobCopy, nil
}

// JobsByStatus returns snapshots of all jobs in a status, useful in tests.
func (ms *MemoryStore) JobsByStatus(status JobStatus) []*Job {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*Job, 0, len(ms.byStatus[status]))
	for _, jobID := range ms.byStatus[status] {
		jobCopy := *ms.jobs[jobID]
		out = append(out, &jobCopy)
	}
	return out
}

func (ms *MemoryStore) removeFromStatusIndex(jobID uuid.UUID, status JobStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == jobID
	})
}
