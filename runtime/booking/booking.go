// Package booking defines court bookings and the storage contract used by the
// streak checker.
//
// A Booking records that a player holds a court on a calendar date. Dates are
// always normalized to 00:00:00 UTC so that range queries over days are exact;
// the time of day carries no meaning. The pair (PlayerID, Date) is the natural
// key of a booking: stores upsert on that key and never hold duplicates.
package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

type (
	// Booking is a single court reservation for one player on one date.
	Booking struct {
		// PlayerID is the stable, opaque player identifier.
		PlayerID string
		// PlayerName is the display name. It is denormalized and may differ
		// between bookings of the same player.
		PlayerName string
		// ContactAddress is where reminders are delivered (for example
		// "whatsapp:+15550000001").
		ContactAddress string
		// CourtName is the free-text court identifier.
		CourtName string
		// Date is the booking day at 00:00:00 UTC.
		Date time.Time
		// IsRegularSlot reports whether the booking belongs to a recurring
		// weekly reservation rather than an ad hoc one.
		IsRegularSlot bool
	}

	// Store persists bookings keyed by (PlayerID, Date).
	//
	// Implementations must be safe for concurrent use. Each write is
	// independently idempotent so no cross-operation transaction is needed.
	Store interface {
		// Upsert inserts or replaces the booking keyed by (PlayerID, Date). It
		// reports true when a write happened (insert or modification) and false
		// when identical data was already stored.
		Upsert(ctx context.Context, b Booking) (bool, error)
		// QueryRange yields the bookings whose date falls in [start, end).
		// The sequence is lazy and finite; ordering is unspecified but stable
		// for a fixed snapshot. Iteration stops after the first error.
		QueryRange(ctx context.Context, start, end time.Time) iter.Seq2[Booking, error]
		// FindOne returns one booking of the player with a date in [start, end)
		// or ErrNotFound.
		FindOne(ctx context.Context, playerID string, start, end time.Time) (Booking, error)
		// DeleteByPlayer removes every booking of the given players and returns
		// the number of records removed.
		DeleteByPlayer(ctx context.Context, playerIDs []string) (int64, error)
		// Recent returns at most limit bookings dated on or after since, most
		// recent first. A zero since means no lower bound.
		Recent(ctx context.Context, since time.Time, limit int) ([]Booking, error)
	}
)

// DayLayout is the wire format of booking dates.
const DayLayout = "2006-01-02"

var (
	// ErrNotFound indicates no booking matched the lookup.
	ErrNotFound = errors.New("booking not found")
	// ErrInvalidBooking indicates a booking failed validation.
	ErrInvalidBooking = errors.New("invalid booking")
)

// Day normalizes t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date into a normalized booking day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: expected YYYY-MM-DD", ErrInvalidBooking, s)
	}
	return Day(t), nil
}

// ISOWeekday returns the ISO-8601 weekday of t in UTC (1=Monday … 7=Sunday).
func ISOWeekday(t time.Time) int {
	wd := int(t.UTC().Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// WeekdayName returns the English name of an ISO weekday.
func WeekdayName(iso int) string {
	if iso < 1 || iso > 7 {
		return "Unknown"
	}
	return time.Weekday(iso % 7).String()
}

// Validate checks the booking invariants.
func (b Booking) Validate() error {
	switch {
	case strings.TrimSpace(b.PlayerID) == "":
		return fmt.Errorf("%w: player id is required", ErrInvalidBooking)
	case strings.TrimSpace(b.ContactAddress) == "":
		return fmt.Errorf("%w: contact address is required", ErrInvalidBooking)
	case b.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidBooking)
	case !b.Date.Equal(Day(b.Date)):
		return fmt.Errorf("%w: date must be normalized to start of day UTC", ErrInvalidBooking)
	}
	return nil
}

// Key returns the natural key of the booking as "<player>:<YYYY-MM-DD>".
func (b Booking) Key() string {
	return b.PlayerID + ":" + b.Date.UTC().Format(DayLayout)
}

// Weekday returns the ISO weekday of the booking date.
func (b Booking) Weekday() int {
	return ISOWeekday(b.Date)
}
