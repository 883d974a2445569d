// Package inmem provides an in-process notify.Ledger.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/royalbadminton/streakbot/runtime/notify"
)

// Ledger is an in-memory notify.Ledger. It only deduplicates reminders within
// one process.
type Ledger struct {
	mu     sync.Mutex
	claims map[string]struct{}
}

var _ notify.Ledger = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{claims: make(map[string]struct{})}
}

// Claim implements notify.Ledger.
func (l *Ledger) Claim(_ context.Context, contact string, day time.Time) (bool, error) {
	key := notify.LedgerKey(contact, day)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claims[key]; ok {
		return false, nil
	}
	l.claims[key] = struct{}{}
	return true, nil
}

// Release implements notify.Ledger.
func (l *Ledger) Release(_ context.Context, contact string, day time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.claims, notify.LedgerKey(contact, day))
	return nil
}
