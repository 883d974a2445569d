// Package inmem provides an in-memory implementation of booking.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example features/booking/mongo).
package inmem

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/royalbadminton/streakbot/runtime/booking"
)

// Store is an in-memory implementation of booking.Store.
// It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]booking.Booking
}

var _ booking.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{docs: make(map[string]booking.Booking)}
}

// Upsert implements booking.Store.
func (s *Store) Upsert(_ context.Context, b booking.Booking) (bool, error) {
	b.Date = booking.Day(b.Date)
	if err := b.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := b.Key()
	if existing, ok := s.docs[key]; ok && same(existing, b) {
		return false, nil
	}
	s.docs[key] = b
	return true, nil
}

// QueryRange implements booking.Store. The sequence iterates over a snapshot
// taken when iteration starts, ordered by date then player.
func (s *Store) QueryRange(ctx context.Context, start, end time.Time) iter.Seq2[booking.Booking, error] {
	return func(yield func(booking.Booking, error) bool) {
		for _, b := range s.snapshot(func(b booking.Booking) bool {
			return inRange(b.Date, start, end)
		}) {
			if err := ctx.Err(); err != nil {
				yield(booking.Booking{}, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// FindOne implements booking.Store.
func (s *Store) FindOne(_ context.Context, playerID string, start, end time.Time) (booking.Booking, error) {
	if playerID == "" {
		return booking.Booking{}, errors.New("player id is required")
	}
	matches := s.snapshot(func(b booking.Booking) bool {
		return b.PlayerID == playerID && inRange(b.Date, start, end)
	})
	if len(matches) == 0 {
		return booking.Booking{}, booking.ErrNotFound
	}
	return matches[0], nil
}

// DeleteByPlayer implements booking.Store.
func (s *Store) DeleteByPlayer(_ context.Context, playerIDs []string) (int64, error) {
	if len(playerIDs) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, b := range s.docs {
		if slices.Contains(playerIDs, b.PlayerID) {
			delete(s.docs, key)
			removed++
		}
	}
	return removed, nil
}

// Recent implements booking.Store.
func (s *Store) Recent(_ context.Context, since time.Time, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	out := s.snapshot(func(b booking.Booking) bool {
		return since.IsZero() || !b.Date.Before(since)
	})
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored bookings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) snapshot(keep func(booking.Booking) bool) []booking.Booking {
	s.mu.RLock()
	out := make([]booking.Booking, 0, len(s.docs))
	for _, b := range s.docs {
		if keep(b) {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b booking.Booking) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
	return out
}

func same(a, b booking.Booking) bool {
	return a.PlayerID == b.PlayerID &&
		a.PlayerName == b.PlayerName &&
		a.ContactAddress == b.ContactAddress &&
		a.CourtName == b.CourtName &&
		a.Date.Equal(b.Date) &&
		a.IsRegularSlot == b.IsRegularSlot
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}
