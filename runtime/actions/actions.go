// Package actions implements the two side-effecting tools the model may call:
// fetching recent bookings as CSV and sending a reminder.
//
// Both tools convert operational failures (store unreachable, provider
// rejected the message) into descriptive text so the model can see and adapt
// to them. Only caller contract violations, such as a non-positive lookback
// window, are returned as errors.
package actions

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/agent/toolerrors"
	"github.com/royalbadminton/streakbot/runtime/agent/tools"
	"github.com/royalbadminton/streakbot/runtime/booking"
	"github.com/royalbadminton/streakbot/runtime/notify"
)

const (
	// MaxFetchedBookings caps the rows returned by FetchRecentBookings.
	MaxFetchedBookings = 200

	// NoBookingsMessage is returned when the lookback window is empty.
	NoBookingsMessage = "No bookings found in database."
)

type (
	// Options configures an Executor.
	Options struct {
		// Store is the booking store. Required.
		Store booking.Store
		// Sender delivers reminders. Required; use notify.NewSimulated when no
		// credentials are configured.
		Sender notify.Sender
		// Ledger suppresses duplicate same-day reminders. Optional.
		Ledger notify.Ledger
		// Now returns the current time. Defaults to time.Now.
		Now    func() time.Time
		Logger telemetry.Logger
	}

	// Executor runs decoded tool calls against the store and messaging
	// channel. It is safe for concurrent use.
	Executor struct {
		store  booking.Store
		sender notify.Sender
		ledger notify.Ledger
		now    func() time.Time
		logger telemetry.Logger
	}
)

// New returns an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("booking store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("sender is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	return &Executor{
		store:  opts.Store,
		sender: opts.Sender,
		ledger: opts.Ledger,
		now:    opts.Now,
		logger: opts.Logger,
	}, nil
}

// Execute dispatches call to the matching tool.
func (e *Executor) Execute(ctx context.Context, call tools.Call) (string, error) {
	switch c := call.(type) {
	case tools.FetchRecentBookings:
		return e.FetchRecentBookings(ctx, c.Days())
	case tools.SendReminder:
		return e.SendReminder(ctx, c.ContactAddress, c.MessageBody)
	case nil:
		return "", toolerrors.InvalidArgument("tool call is required")
	default:
		return "", toolerrors.UnknownTool(string(call.Name()), tools.Names())
	}
}

// FetchRecentBookings returns the bookings dated within the last lookbackDays
// days as CSV with columns user,phone,date,day, newest first and capped at
// MaxFetchedBookings rows.
func (e *Executor) FetchRecentBookings(ctx context.Context, lookbackDays int) (string, error) {
	if lookbackDays <= 0 {
		return "", toolerrors.InvalidArgument("lookback_days must be a positive integer, got %d", lookbackDays)
	}
	cutoff := e.now().UTC().Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	rows, err := e.store.Recent(ctx, cutoff, MaxFetchedBookings)
	if err != nil {
		e.logger.Error(ctx, "fetch bookings failed", "lookback_days", lookbackDays, "err", err)
		return fmt.Sprintf("Error fetching data: %v", err), nil
	}
	if len(rows) == 0 {
		return NoBookingsMessage, nil
	}
	out, err := encodeCSV(rows)
	if err != nil {
		return fmt.Sprintf("Error fetching data: %v", err), nil
	}
	e.logger.Debug(ctx, "fetched bookings", "lookback_days", lookbackDays, "rows", len(rows))
	return out, nil
}

// SendReminder delivers body to the contact address. It never returns an
// error for delivery failures; the returned text describes the outcome.
func (e *Executor) SendReminder(ctx context.Context, to, body string) (string, error) {
	msg := notify.Message{To: strings.TrimSpace(to), Body: body}
	if err := msg.Validate(); err != nil {
		return "", toolerrors.InvalidArgument("%v", err)
	}
	e.logger.Info(ctx, "sending reminder", "to", msg.To)

	day := e.now().UTC()
	claimed := false
	if e.ledger != nil {
		ok, err := e.ledger.Claim(ctx, msg.To, day)
		switch {
		case err != nil:
			e.logger.Warn(ctx, "reminder ledger unavailable, sending anyway", "to", msg.To, "err", err)
		case !ok:
			e.logger.Info(ctx, "duplicate reminder suppressed", "to", msg.To)
			return fmt.Sprintf("Reminder already sent to %s today; not sending again.", msg.To), nil
		default:
			claimed = true
		}
	}

	receipt, err := e.sender.Send(ctx, msg)
	if err != nil {
		if claimed {
			if rerr := e.ledger.Release(ctx, msg.To, day); rerr != nil {
				e.logger.Warn(ctx, "release reminder claim failed", "to", msg.To, "err", rerr)
			}
		}
		e.logger.Error(ctx, "send reminder failed", "to", msg.To, "err", err)
		return fmt.Sprintf("Failed to send message: %v", err), nil
	}
	if receipt.Simulated {
		return fmt.Sprintf("SIMULATION: Message '%s' sent to %s", msg.Body, msg.To), nil
	}
	return fmt.Sprintf("Message sent successfully. SID: %s", receipt.ID), nil
}

func encodeCSV(rows []booking.Booking) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"user", "phone", "date", "day"}); err != nil {
		return "", err
	}
	for _, b := range rows {
		rec := []string{
			orUnknown(b.PlayerName),
			orUnknown(b.ContactAddress),
			b.Date.UTC().Format(booking.DayLayout),
			booking.WeekdayName(b.Weekday()),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}
