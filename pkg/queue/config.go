package queue

import "time"

// Config holds the configuration for the job queue
type Config struct {
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout       time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	BackoffBase       time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RenewalsParallel  int           `env:"QUEUE_RENEWALS_PARALLEL" envDefault:"4"`
	RetriesParallel   int           `env:"QUEUE_RETRIES_PARALLEL" envDefault:"2"`
	DunningParallel   int           `env:"QUEUE_DUNNING_PARALLEL" envDefault:"2"`
	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
}

// QueueLimits builds the worker concurrency map from the config.
func (c Config) QueueLimits() map[string]int {
	return map[string]int{
		QueueRenewals: c.RenewalsParallel,
		QueueRetries:  c.RetriesParallel,
		QueueDunning:  c.DunningParallel,
	}
}
