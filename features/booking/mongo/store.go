package mongo

import (
	"context"
	"errors"
	"iter"
	"time"

	clientsmongo "github.com/royalbadminton/streakbot/features/booking/mongo/clients/mongo"
	"github.com/royalbadminton/streakbot/runtime/booking"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements booking.Store by delegating to the Mongo client. It
// normalizes and validates bookings before they reach the driver.
type Store struct {
	client clientsmongo.Client
}

var _ booking.Store = (*Store)(nil)

// NewStore builds a Mongo-backed booking store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Client returns the underlying client, for health checks.
func (s *Store) Client() clientsmongo.Client { return s.client }

// Upsert implements booking.Store.
func (s *Store) Upsert(ctx context.Context, b booking.Booking) (bool, error) {
	b.Date = booking.Day(b.Date)
	if err := b.Validate(); err != nil {
		return false, err
	}
	return s.client.Upsert(ctx, b)
}

// QueryRange implements booking.Store. Bookings are yielded by date then
// player.
func (s *Store) QueryRange(ctx context.Context, start, end time.Time) iter.Seq2[booking.Booking, error] {
	return s.client.Range(ctx, start.UTC(), end.UTC())
}

// FindOne implements booking.Store.
func (s *Store) FindOne(ctx context.Context, playerID string, start, end time.Time) (booking.Booking, error) {
	if playerID == "" {
		return booking.Booking{}, errors.New("player id is required")
	}
	return s.client.FindOne(ctx, playerID, start.UTC(), end.UTC())
}

// DeleteByPlayer implements booking.Store.
func (s *Store) DeleteByPlayer(ctx context.Context, playerIDs []string) (int64, error) {
	return s.client.DeleteByPlayer(ctx, playerIDs)
}

// Recent implements booking.Store.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]booking.Booking, error) {
	if !since.IsZero() {
		since = since.UTC()
	}
	return s.client.Recent(ctx, since, limit)
}
