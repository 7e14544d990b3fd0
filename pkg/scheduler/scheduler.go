// Package scheduler runs named periodic triggers on cron schedules.
//
// A trigger scans for due work and hands each piece to a dispatch
// function. With a durable queue available the dispatch records a job;
// without one it runs the work synchronously inside the trigger run.
// The trigger logic itself is identical in both modes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// TriggerFunc scans for due work and dispatches it. It must tolerate
// being invoked again over the same backlog: a slow previous run only
// skips ticks, it never doubles work.
type TriggerFunc func(ctx context.Context) error

// Trigger pairs a cron spec with the function it fires.
type Trigger struct {
	Name     string
	Schedule string
	Run      TriggerFunc
}

// Scheduler owns a cron runner and a guard per trigger so at most one
// run of each trigger is in flight at any time.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	names   map[string]struct{}
	started atomic.Bool
}

// Option is a functional option for configuring a Scheduler.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for the scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a scheduler. Panics in trigger functions are contained by
// the cron recovery chain and logged instead of crashing the process.
func New(opts ...Option) *Scheduler {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	logger := cronLogger{logger: o.logger}
	return &Scheduler{
		// Recover must be innermost: SkipIfStillRunning only returns its
		// token after the wrapped job returns, so a panic escaping Recover
		// would leave the token unreturned and skip every later tick.
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
		logger: o.logger,
		names:  make(map[string]struct{}),
	}
}

// Register adds a trigger. Registration is rejected after Start and for
// duplicate trigger names.
func (s *Scheduler) Register(t Trigger) error {
	if t.Name == "" {
		return ErrTriggerNameEmpty
	}
	if t.Run == nil {
		return ErrTriggerFuncNil
	}
	if s.started.Load() {
		return ErrAlreadyStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrTriggerRegistered, t.Name)
	}

	// Own guard on top of the cron chain: SkipIfStillRunning serializes
	// per cron entry, the flag additionally covers manual RunNow calls.
	var running atomic.Bool
	job := s.wrap(t, &running)

	if _, err := s.cron.AddFunc(t.Schedule, job); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, t.Schedule, err)
	}

	s.names[t.Name] = struct{}{}
	s.logger.Info("trigger registered",
		slog.String("trigger", t.Name),
		slog.String("schedule", t.Schedule))

	return nil
}

func (s *Scheduler) wrap(t Trigger, running *atomic.Bool) func() {
	return func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.Warn("trigger run still in progress, skipping",
				slog.String("trigger", t.Name))
			return
		}
		defer running.Store(false)

		ctx := context.Background()
		if err := t.Run(ctx); err != nil {
			s.logger.Error("trigger run failed",
				slog.String("trigger", t.Name),
				slog.String("error", err.Error()))
			return
		}

		s.logger.Debug("trigger run finished", slog.String("trigger", t.Name))
	}
}

// Start begins firing triggers on their schedules.
func (s *Scheduler) Start() error {
	if len(s.names) == 0 {
		return ErrNoTriggers
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("triggers", len(s.names)))
	return nil
}

// Stop halts scheduling and waits for running trigger functions.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and returns a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(); err != nil {
			return err
		}

		<-ctx.Done()

		s.Stop()
		return nil
	}
}

// cronLogger adapts slog to the cron logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
