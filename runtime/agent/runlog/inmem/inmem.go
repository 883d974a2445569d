// Package inmem provides an in-memory implementation of runlog.Store.
//
// The in-memory store is intended for tests and local development. It is not
// durable.
package inmem

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/royalbadminton/streakbot/runtime/agent/runlog"
)

// Store implements runlog.Store in memory.
type Store struct {
	mu      sync.Mutex
	records map[string]*runlog.Record
}

var _ runlog.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]*runlog.Record)}
}

// Save implements runlog.Store.
func (s *Store) Save(_ context.Context, r *runlog.Record) error {
	if r == nil {
		return fmt.Errorf("record is required")
	}
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = clone(r)
	return nil
}

// Get implements runlog.Store.
func (s *Store) Get(_ context.Context, id string) (*runlog.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, runlog.ErrNotFound
	}
	return clone(r), nil
}

// List implements runlog.Store.
func (s *Store) List(_ context.Context, limit int) ([]*runlog.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	s.mu.Lock()
	out := make([]*runlog.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clone(r))
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *runlog.Record) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(r *runlog.Record) *runlog.Record {
	cp := *r
	cp.Reminders = slices.Clone(r.Reminders)
	return &cp
}
