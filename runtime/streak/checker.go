package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
	"github.com/royalbadminton/streakbot/runtime/agent/runtime"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
)

// Mode selects how the daily check decides whom to remind.
type Mode string

const (
	// ModeAgent lets the model analyze booking history through tools.
	ModeAgent Mode = "agent"
	// ModeDeterministic uses the Detector and a fixed reminder text.
	ModeDeterministic Mode = "deterministic"

	// DefaultPortalURL is linked from every reminder.
	DefaultPortalURL = "https://www.royalbadmintonclub.com/book-court"
	// DefaultLookbackWeeks is the deterministic lookback window.
	DefaultLookbackWeeks = 4
	// DefaultMinSessions is the deterministic regularity threshold.
	DefaultMinSessions = 3

	noRemindersNeeded = "No reminders needed."
)

type (
	// Loop runs one tool-dispatch invocation. *runtime.Runtime implements it.
	Loop interface {
		Run(ctx context.Context, in runtime.RunInput) (*runtime.Result, error)
	}

	// ReminderSender sends one reminder and describes the outcome.
	// *actions.Executor implements it.
	ReminderSender interface {
		SendReminder(ctx context.Context, to, body string) (string, error)
	}

	// CheckerOptions configures a Checker.
	CheckerOptions struct {
		Mode Mode
		// Loop is required in ModeAgent.
		Loop Loop
		// Detector and Reminders are required in ModeDeterministic.
		Detector  *Detector
		Reminders ReminderSender
		// Runs records run history. Required.
		Runs          runlog.Store
		PortalURL     string
		LookbackWeeks int
		MinSessions   int
		// RunTimeout bounds a deterministic check. Defaults to
		// runtime.DefaultRunTimeout; the loop applies its own in ModeAgent.
		RunTimeout time.Duration
		// Location is the club timezone used to decide what "today" is.
		// Defaults to UTC.
		Location *time.Location
		Now      func() time.Time
		Logger   telemetry.Logger
	}

	// Checker runs the daily streak check.
	Checker struct {
		opts   CheckerOptions
		logger telemetry.Logger
	}
)

// ParseMode validates a mode name. The empty string selects ModeAgent.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAgent:
		return ModeAgent, nil
	case ModeDeterministic:
		return ModeDeterministic, nil
	default:
		return "", fmt.Errorf("%w: unknown check mode %q", ErrInvalidArgument, s)
	}
}

// NewChecker validates opts and returns a Checker.
func NewChecker(opts CheckerOptions) (*Checker, error) {
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	switch {
	case opts.Runs == nil:
		return nil, errors.New("run store is required")
	case mode == ModeAgent && opts.Loop == nil:
		return nil, errors.New("agent mode requires a loop")
	case mode == ModeDeterministic && (opts.Detector == nil || opts.Reminders == nil):
		return nil, errors.New("deterministic mode requires a detector and a reminder sender")
	}
	if opts.PortalURL == "" {
		opts.PortalURL = DefaultPortalURL
	}
	if opts.LookbackWeeks <= 0 {
		opts.LookbackWeeks = DefaultLookbackWeeks
	}
	if opts.MinSessions <= 0 {
		opts.MinSessions = DefaultMinSessions
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = runtime.DefaultRunTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Checker{opts: opts, logger: opts.Logger}, nil
}

// Mode returns the configured mode.
func (c *Checker) Mode() Mode { return c.opts.Mode }

// Run performs one daily check and returns its run record. Failures are
// logged and recorded, never returned.
func (c *Checker) Run(ctx context.Context, trigger string) *runlog.Record {
	now := c.opts.Now().In(c.opts.Location)
	rec := &runlog.Record{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Mode:      string(c.opts.Mode),
		Status:    runlog.StatusRunning,
		StartedAt: now.UTC(),
	}
	c.save(ctx, rec)
	c.logger.Info(ctx, "starting daily streak check",
		"run_id", rec.ID, "trigger", trigger, "mode", string(c.opts.Mode), "date", now.Format("2006-01-02"), "weekday", now.Weekday().String())

	var err error
	switch c.opts.Mode {
	case ModeDeterministic:
		err = c.runDeterministic(ctx, rec, now)
	default:
		err = c.runAgent(ctx, rec, now)
	}

	rec.EndedAt = c.opts.Now().UTC()
	if err != nil {
		rec.Status = runlog.StatusFailed
		rec.Error = err.Error()
		c.logger.Error(ctx, "daily streak check failed", "run_id", rec.ID, "err", err)
	} else {
		rec.Status = runlog.StatusSucceeded
		c.logger.Info(ctx, "daily streak check finished", "run_id", rec.ID, "reminders", len(rec.Reminders), "output", rec.Output)
	}
	c.save(ctx, rec)
	return rec
}

func (c *Checker) runAgent(ctx context.Context, rec *runlog.Record, now time.Time) error {
	res, err := c.opts.Loop.Run(ctx, runtime.RunInput{
		RunID:  rec.ID,
		System: managerSystemPrompt,
		Prompt: managerPrompt(now, c.opts.PortalURL),
	})
	if res != nil {
		rec.Turns = res.Turns
		rec.Output = res.Output
		for _, o := range res.ToolCalls {
			if s, ok := o.Call.(tools.SendReminder); ok {
				rec.Reminders = append(rec.Reminders, runlog.Reminder{ContactAddress: s.ContactAddress, Result: o.Content})
			}
		}
	}
	return err
}

func (c *Checker) runDeterministic(ctx context.Context, rec *runlog.Record, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RunTimeout)
	defer cancel()

	target := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rep, err := c.opts.Detector.FindAbsentees(ctx, target, c.opts.LookbackWeeks, c.opts.MinSessions)
	if err != nil {
		return fmt.Errorf("detect absentees: %w", err)
	}
	for i, a := range rep.Absentees {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reminders interrupted after %d of %d: %w", i, len(rep.Absentees), err)
		}
		result, err := c.opts.Reminders.SendReminder(ctx, a.ContactAddress, reminderText(a, c.opts.PortalURL))
		if err != nil {
			result = "Error: " + err.Error()
		}
		c.logger.Info(ctx, "reminder result", "run_id", rec.ID, "player", a.PlayerName, "result", result)
		rec.Reminders = append(rec.Reminders, runlog.Reminder{ContactAddress: a.ContactAddress, Result: result})
	}
	switch {
	case len(rep.Absentees) == 0 && len(rep.Skipped) == 0:
		rec.Output = noRemindersNeeded
	case len(rep.Skipped) == 0:
		rec.Output = fmt.Sprintf("Sent %d reminder(s).", len(rep.Absentees))
	default:
		rec.Output = fmt.Sprintf("Sent %d reminder(s); %d player(s) skipped after lookup errors.", len(rep.Absentees), len(rep.Skipped))
	}
	return nil
}

func (c *Checker) save(ctx context.Context, rec *runlog.Record) {
	if err := c.opts.Runs.Save(ctx, rec); err != nil {
		c.logger.Warn(ctx, "save run record failed", "run_id", rec.ID, "err", err)
	}
}
