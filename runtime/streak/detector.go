// Package streak finds regular players who missed their usual weekday slot and
// orchestrates the daily reminder run.
//
// The Detector is the deterministic path: it infers each player's regular
// weekday from booking history (Regulars) and checks who has no booking on the
// target date (Absentees). The Checker runs either that path or the
// model-driven tool loop and records every run.
package streak

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
	"github.com/royalbadminton/streakbot/runtime/booking"
)

// ErrInvalidArgument indicates a caller contract violation such as a
// non-positive lookback window.
var ErrInvalidArgument = errors.New("invalid argument")

type (
	// Detector evaluates booking history against a target date.
	Detector struct {
		store  booking.Store
		logger telemetry.Logger
	}

	// Profile is a player who regularly books on one weekday. Profiles are
	// computed per run and never stored.
	Profile struct {
		PlayerID       string
		PlayerName     string
		ContactAddress string
		CourtName      string
		// Weekday is the ISO weekday (1=Monday … 7=Sunday).
		Weekday int
		// SessionCount is the number of regular bookings on Weekday within the
		// lookback window.
		SessionCount int
	}

	// Absentee is a regular player with no booking on the target date.
	Absentee struct {
		Profile
	}

	// Skipped records a player whose presence could not be determined.
	Skipped struct {
		PlayerID string
		Err      error
	}

	// Report is the outcome of an absence check. It always holds partial
	// results: lookup failures for one player land in Skipped and do not stop
	// the others.
	Report struct {
		Target    time.Time
		Absentees []Absentee
		Skipped   []Skipped
	}
)

// NewDetector returns a Detector reading from store.
func NewDetector(store booking.Store, logger telemetry.Logger) *Detector {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Detector{store: store, logger: logger}
}

// Regulars returns the players with at least minSessions regular-slot bookings
// on the weekday of target during the lookbackWeeks weeks before target. The
// target day itself is excluded from the window. Results are sorted by player
// id.
func (d *Detector) Regulars(ctx context.Context, target time.Time, lookbackWeeks, minSessions int) ([]Profile, error) {
	if lookbackWeeks <= 0 {
		return nil, fmt.Errorf("%w: lookback weeks must be > 0, got %d", ErrInvalidArgument, lookbackWeeks)
	}
	if minSessions <= 0 {
		return nil, fmt.Errorf("%w: min sessions must be > 0, got %d", ErrInvalidArgument, minSessions)
	}
	day := booking.Day(target)
	weekday := booking.ISOWeekday(day)
	start := day.AddDate(0, 0, -7*lookbackWeeks)

	groups := make(map[string]*Profile)
	for b, err := range d.store.QueryRange(ctx, start, day) {
		if err != nil {
			return nil, fmt.Errorf("query bookings: %w", err)
		}
		if !b.IsRegularSlot || b.Weekday() != weekday {
			continue
		}
		p, ok := groups[b.PlayerID]
		if !ok {
			p = &Profile{
				PlayerID:       b.PlayerID,
				PlayerName:     b.PlayerName,
				ContactAddress: b.ContactAddress,
				CourtName:      b.CourtName,
				Weekday:        weekday,
			}
			groups[b.PlayerID] = p
		}
		p.SessionCount++
	}

	out := make([]Profile, 0, len(groups))
	for _, p := range groups {
		if p.SessionCount >= minSessions {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Profile) int { return strings.Compare(a.PlayerID, b.PlayerID) })
	d.logger.Debug(ctx, "regular players detected",
		"target", day.Format(booking.DayLayout), "weekday", weekday, "candidates", len(groups), "regulars", len(out))
	return out, nil
}

// Absentees checks each profile for a booking on target. Players without one
// are absentees; players whose lookup fails are skipped and logged.
func (d *Detector) Absentees(ctx context.Context, target time.Time, profiles []Profile) Report {
	day := booking.Day(target)
	next := day.AddDate(0, 0, 1)
	rep := Report{Target: day}
	for _, p := range profiles {
		_, err := d.store.FindOne(ctx, p.PlayerID, day, next)
		switch {
		case err == nil:
		case errors.Is(err, booking.ErrNotFound):
			rep.Absentees = append(rep.Absentees, Absentee{Profile: p})
		default:
			d.logger.Warn(ctx, "absence lookup failed, skipping player", "player_id", p.PlayerID, "err", err)
			rep.Skipped = append(rep.Skipped, Skipped{PlayerID: p.PlayerID, Err: err})
		}
	}
	return rep
}

// FindAbsentees runs Regulars then Absentees for target.
func (d *Detector) FindAbsentees(ctx context.Context, target time.Time, lookbackWeeks, minSessions int) (Report, error) {
	regs, err := d.Regulars(ctx, target, lookbackWeeks, minSessions)
	if err != nil {
		return Report{Target: booking.Day(target)}, err
	}
	return d.Absentees(ctx, target, regs), nil
}
