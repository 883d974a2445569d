// Package runlog records the history of streak-check runs.
//
// Every run, whatever its trigger or mode, writes a Record when it starts and
// updates it when it finishes. The HTTP status surface lists recent records.
package runlog

import (
	"context"
	"errors"
	"time"
)

type (
	// Status is the lifecycle state of a run.
	Status string

	// Record describes one streak-check run.
	Record struct {
		// ID is the unique run identifier.
		ID string
		// Trigger names what started the run ("schedule", "manual").
		Trigger string
		// Mode is the check mode ("agent" or "deterministic").
		Mode string
		// Status is the current run status.
		Status Status
		// StartedAt is when the run started.
		StartedAt time.Time
		// EndedAt is when the run finished; zero while running.
		EndedAt time.Time
		// Turns is the number of reasoning turns used.
		Turns int
		// Output is the final answer or summary.
		Output string
		// Error is the failure message for failed runs.
		Error string
		// Reminders lists the reminder deliveries attempted during the run.
		Reminders []Reminder
	}

	// Reminder is one send-reminder outcome.
	Reminder struct {
		ContactAddress string
		Result         string
	}

	// Store persists run records.
	Store interface {
		// Save inserts or replaces the record with the same ID.
		Save(ctx context.Context, r *Record) error
		// Get returns the record with the given ID or ErrNotFound.
		Get(ctx context.Context, id string) (*Record, error)
		// List returns at most limit records, most recently started first.
		List(ctx context.Context, limit int) ([]*Record, error)
	}
)

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrNotFound indicates no run matched the lookup.
var ErrNotFound = errors.New("run not found")

// Done reports whether the run has finished.
func (r *Record) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}
