package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/royalbadminton/streakbot/features/runlog/mongo/clients/mongo"
	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements runlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ runlog.Store = (*Store)(nil)

// NewStore builds a Mongo-backed run store using the provided client.
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

// Client returns the underlying Mongo client, e.g. to register it with a
// health checker.
func (s *Store) Client() clientsmongo.Client { return s.client }

// Save implements runlog.Store.
func (s *Store) Save(ctx context.Context, r *runlog.Record) error {
	if r == nil {
		return errors.New("record is required")
	}
	if r.ID == "" {
		return errors.New("run id is required")
	}
	return s.client.Save(ctx, r)
}

// Get implements runlog.Store.
func (s *Store) Get(ctx context.Context, id string) (*runlog.Record, error) {
	return s.client.Get(ctx, id)
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, limit int) ([]*runlog.Record, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	return s.client.List(ctx, limit)
}
