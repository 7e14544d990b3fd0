package queue

import (
	"log/slog"
	"maps"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queueLimits  map[string]int
	pollInterval time.Duration
	lockTimeout  time.Duration
	backoffBase  time.Duration
	logger       *slog.Logger
}

// WithQueueLimits sets which queues the worker pulls from and how many
// jobs of each may run concurrently. Replaces the default queue set.
func WithQueueLimits(limits map[string]int) WorkerOption {
	return func(o *workerOptions) {
		if len(limits) == 0 {
			return
		}
		o.queueLimits = make(map[string]int, len(limits))
		maps.Copy(o.queueLimits, limits)
		for queue, limit := range o.queueLimits {
			if limit < 1 {
				o.queueLimits[queue] = 1
			}
		}
	}
}

// WithPollInterval sets how often the worker checks for new jobs
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLockTimeout sets the lock duration for claimed jobs
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithBackoffBase sets the base delay for the retry backoff schedule
func WithBackoffBase(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.backoffBase = d
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
