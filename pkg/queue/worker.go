package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerStore defines the interface for worker operations
type WorkerStore interface {
	// ClaimJob atomically claims the next runnable job in a queue and
	// increments its attempt number
	ClaimJob(ctx context.Context, workerID uuid.UUID, queue string, lockDuration time.Duration) (*Job, error)

	// CompleteJob marks a running job as completed
	CompleteJob(ctx context.Context, jobID uuid.UUID) error

	// FailJob records a failed attempt. Jobs with attempts left go back
	// to pending scheduled at retryAt; exhausted jobs become terminally
	// failed with the error message preserved
	FailJob(ctx context.Context, jobID uuid.UUID, errorMsg string, retryAt time.Time) error

	// ExtendLock extends the lock timeout for long-running jobs
	ExtendLock(ctx context.Context, jobID uuid.UUID, duration time.Duration) error

	// ReclaimExpired releases jobs whose worker lock has expired so
	// another worker can pick them up
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
}

// Worker processes jobs from one or more queues, each with its own
// concurrency limit.
type Worker struct {
	store    WorkerStore
	handlers map[JobType]Handler
	sems     map[string]chan struct{}
	workerID uuid.UUID
	wake     chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopMu   sync.Mutex // Protects stopping state and WaitGroup operations

	// Configuration
	pollInterval time.Duration
	lockTimeout  time.Duration
	backoffBase  time.Duration
	logger       *slog.Logger

	// State management
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a new job worker
func NewWorker(store WorkerStore, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	// Default options
	options := &workerOptions{
		queueLimits:  map[string]int{QueueRenewals: 4, QueueRetries: 2, QueueDunning: 2},
		pollInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		backoffBase:  30 * time.Second,
		logger:       slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		opt(options)
	}

	sems := make(map[string]chan struct{}, len(options.queueLimits))
	for queue, limit := range options.queueLimits {
		sems[queue] = make(chan struct{}, limit)
	}

	return &Worker{
		store:        store,
		handlers:     make(map[JobType]Handler),
		sems:         sems,
		workerID:     uuid.New(),
		wake:         make(chan struct{}, 1),
		pollInterval: options.pollInterval,
		lockTimeout:  options.lockTimeout,
		backoffBase:  options.backoffBase,
		logger:       options.logger,
	}, nil
}

// RegisterHandler registers a single job handler
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}
	if !handler.Type().Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidJobType, handler.Type())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Type()] = handler
	return nil
}

// RegisterHandlers registers multiple job handlers
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Wake implements Waker. It nudges the poll loop so a freshly recorded
// job is picked up without waiting for the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start begins processing jobs in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	go w.run()

	queues := make([]any, 0, len(w.sems)*2)
	for queue, sem := range w.sems {
		queues = append(queues, slog.Int(queue, cap(sem)))
	}
	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Group("queue_limits", queues...))

	return nil
}

// Stop gracefully shuts down the worker, waiting for in-flight jobs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.String("worker_id", w.workerID.String()))

	w.wg.Wait()

	w.logger.Info("worker stopped",
		slog.String("worker_id", w.workerID.String()))

	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main processing loop
func (w *Worker) run() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
			w.poll()
		case <-ticker.C:
			if reclaimed, err := w.store.ReclaimExpired(w.ctx, time.Now().UTC()); err != nil {
				w.logger.Error("failed to reclaim expired job locks",
					slog.String("worker_id", w.workerID.String()),
					slog.String("error", err.Error()))
			} else if reclaimed > 0 {
				w.logger.Warn("reclaimed jobs from expired locks",
					slog.Int("count", reclaimed))
			}
			w.poll()
		}
	}
}

// poll tries to claim one job per queue with a free slot. Each queue's
// semaphore caps how many of its jobs run at once.
func (w *Worker) poll() {
	for queue, sem := range w.sems {
		select {
		case sem <- struct{}{}:
			w.stopMu.Lock()
			if w.stopping.Load() {
				w.stopMu.Unlock()
				<-sem
				return
			}
			w.wg.Add(1)
			w.stopMu.Unlock()

			go func(queue string, sem chan struct{}) {
				defer w.wg.Done()
				defer func() { <-sem }()

				if err := w.claimAndProcess(queue); err != nil {
					if !errors.Is(err, ErrHandlerNotFound) {
						w.logger.Error("failed to process job",
							slog.String("worker_id", w.workerID.String()),
							slog.String("queue", queue),
							slog.String("error", err.Error()))
					}
				}
			}(queue, sem)
		default:
			// Queue at its concurrency limit, skip this tick.
		}
	}
}

// claimAndProcess claims the next job in a queue and processes it
func (w *Worker) claimAndProcess(queue string) error {
	job, err := w.store.ClaimJob(w.ctx, w.workerID, queue, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return nil
	}

	w.logger.Debug("claimed job",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.String("queue", job.Queue),
		slog.Int("attempt", job.AttemptNumber))

	return w.processJob(job)
}

// processJob executes a job with its handler
func (w *Worker) processJob(job *Job) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				slog.String("worker_id", w.workerID.String()),
				slog.String("job_id", job.ID.String()),
				slog.String("job_type", string(job.Type)),
				slog.Any("panic", r))
			// Treat panic as job failure
			_ = w.handleJobFailure(job, retErr, time.Since(start))
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(job)
	}

	// The job context has its own timeout, detached from the worker
	// lifecycle so graceful shutdown lets in-flight jobs finish.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	msg := Message{
		JobID:         job.ID,
		Type:          job.Type,
		TenantID:      job.TenantID,
		Payload:       job.Payload,
		AttemptNumber: job.AttemptNumber,
		MaxAttempts:   job.MaxAttempts,
	}

	err := handler.Handle(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		return w.handleJobFailure(job, err, duration)
	}

	return w.handleJobSuccess(job, duration)
}

// handleMissingHandler terminally fails jobs with no registered handler.
// The job type enum is closed, so this only happens when a deployment
// runs with a handler set that does not cover every type it enqueues.
// Retrying cannot help until the missing handler ships.
func (w *Worker) handleMissingHandler(job *Job) error {
	w.logger.Error("no handler registered for job type",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)))

	errorMsg := "no handler registered for job type: " + string(job.Type)
	// Burn the remaining attempts so the job lands in failed immediately.
	job.AttemptNumber = job.MaxAttempts
	if err := w.store.FailJob(w.ctx, job.ID, errorMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark job %s as failed: %w", job.ID, err)
	}

	return ErrHandlerNotFound
}

// handleJobFailure records a failed attempt. The storage layer decides
// between retry and terminal failure based on the attempt budget; the
// worker only supplies the backoff schedule: base doubled per attempt
// already made, so attempt 1 retries after 2x base, attempt 2 after 4x.
func (w *Worker) handleJobFailure(job *Job, execErr error, duration time.Duration) error {
	w.logger.Error("job failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.Int("attempt", job.AttemptNumber),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	retryAt := time.Now().UTC().Add(w.backoffDelay(job.AttemptNumber))
	if err := w.store.FailJob(w.ctx, job.ID, execErr.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", job.ID, err)
	}

	if job.AttemptNumber >= job.MaxAttempts {
		w.logger.Warn("job exhausted its attempts",
			slog.String("worker_id", w.workerID.String()),
			slog.String("job_id", job.ID.String()),
			slog.String("job_type", string(job.Type)))
	}

	return nil
}

func (w *Worker) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 10 {
		attempt = 10
	}
	return w.backoffBase * (1 << attempt)
}

// handleJobSuccess processes successful job completion
func (w *Worker) handleJobSuccess(job *Job, duration time.Duration) error {
	if err := w.store.CompleteJob(w.ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark job %s as completed: %w", job.ID, err)
	}

	w.logger.Info("job completed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("job_id", job.ID.String()),
		slog.String("job_type", string(job.Type)),
		slog.String("queue", job.Queue),
		slog.Duration("duration", duration))

	return nil
}

// ExtendLockForJob extends the lock timeout for a long-running job.
// Call periodically from handlers that run longer than the lock timeout.
func (w *Worker) ExtendLockForJob(ctx context.Context, jobID uuid.UUID, extension time.Duration) error {
	return w.store.ExtendLock(ctx, jobID, extension)
}
