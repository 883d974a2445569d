// Package schedule runs the daily streak check on a cron schedule and on
// demand.
//
// Invocations are not serialized: a manual trigger may overlap a scheduled
// run. Stop waits for every in-flight invocation, scheduled or manual.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
)

type (
	// Job is the work launched by the scheduler. trigger is TriggerSchedule
	// or TriggerManual.
	Job func(ctx context.Context, trigger string)

	// Options configures a Scheduler.
	Options struct {
		// Spec is a standard five-field cron expression. Defaults to
		// DefaultSpec.
		Spec string
		// Location is the time zone Spec is evaluated in. Defaults to UTC.
		Location *time.Location
		// Job is invoked on every tick and manual trigger. Required.
		Job Job
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Context is the base context of every invocation. It carries the
		// logging setup and is never canceled by the scheduler. Defaults to
		// context.Background.
		Context context.Context
	}

	// Scheduler owns the cron loop.
	Scheduler struct {
		cron    *cron.Cron
		entry   cron.EntryID
		job     Job
		ctx     context.Context
		logger  telemetry.Logger
		running atomic.Bool
		manual  sync.WaitGroup
	}

	cronLogger struct {
		ctx    context.Context
		logger telemetry.Logger
	}
)

const (
	// JobID names the daily check in logs.
	JobID = "daily-streak-check"
	// DefaultSpec runs the check every day at 22:00.
	DefaultSpec = "0 22 * * *"

	// TriggerSchedule marks cron-initiated invocations.
	TriggerSchedule = "schedule"
	// TriggerManual marks invocations started through TriggerNow.
	TriggerManual = "manual"
)

// New validates opts and registers the job. The scheduler is not started.
func New(opts Options) (*Scheduler, error) {
	if opts.Job == nil {
		return nil, errors.New("job is required")
	}
	spec := opts.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cl := cronLogger{ctx: ctx, logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	s := &Scheduler{cron: c, job: opts.Job, ctx: ctx, logger: logger}
	id, err := c.AddFunc(spec, func() { s.invoke(TriggerSchedule) })
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing the job on schedule. Start is a no-op when the
// scheduler is already running.
func (s *Scheduler) Start() {
	if s.running.Swap(true) {
		return
	}
	s.cron.Start()
	s.logger.Info(s.ctx, "scheduler started", "job", JobID, "next_run", s.NextRun())
}

// Stop halts the schedule and waits until in-flight invocations return or ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.running.Store(false)
	cronDone := s.cron.Stop()
	manualDone := make(chan struct{})
	go func() {
		s.manual.Wait()
		close(manualDone)
	}()
	for _, done := range []<-chan struct{}{cronDone.Done(), manualDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// TriggerNow launches the job in the background and returns immediately.
func (s *Scheduler) TriggerNow() {
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error(s.ctx, "manual check panicked", "job", JobID, "err", fmt.Errorf("panic: %v", r))
			}
		}()
		s.invoke(TriggerManual)
	}()
}

// NextRun returns the next scheduled fire time, or the zero time when the
// scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	if !s.running.Load() {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) invoke(trigger string) {
	s.logger.Info(s.ctx, "streak check triggered", "job", JobID, "trigger", trigger)
	s.job(s.ctx, trigger)
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(l.ctx, "cron: "+msg, append(keysAndValues, "err", err)...)
}
