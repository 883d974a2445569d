// Package redis implements the reminder ledger on Redis so that concurrent
// streak-check processes share one view of who was reminded today.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"goa.design/clue/health"

	"github.com/royalbadminton/streakbot/runtime/notify"
)

type (
	// Options configures the ledger.
	Options struct {
		// Redis is the connection used to store claims. Required.
		Redis *goredis.Client
		// TTL bounds how long a claim is kept. Defaults to 48h, enough to
		// cover a UTC day from any local time zone.
		TTL time.Duration
		// Prefix is prepended to ledger keys.
		Prefix string
	}

	// Ledger implements notify.Ledger with SET NX.
	Ledger struct {
		rdb    redisClient
		ttl    time.Duration
		prefix string
	}

	redisClient interface {
		SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
		Del(ctx context.Context, keys ...string) *goredis.IntCmd
		Ping(ctx context.Context) *goredis.StatusCmd
	}
)

const (
	defaultTTL = 48 * time.Hour
	clientName = "ledger-redis"
)

var (
	_ notify.Ledger = (*Ledger)(nil)
	_ health.Pinger = (*Ledger)(nil)
)

// New returns a Redis-backed ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	return newLedger(opts.Redis, opts.TTL, opts.Prefix), nil
}

func newLedger(rdb redisClient, ttl time.Duration, prefix string) *Ledger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Ledger{rdb: rdb, ttl: ttl, prefix: prefix}
}

// Claim implements notify.Ledger.
func (l *Ledger) Claim(ctx context.Context, contact string, day time.Time) (bool, error) {
	return l.rdb.SetNX(ctx, l.key(contact, day), time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
}

// Release implements notify.Ledger.
func (l *Ledger) Release(ctx context.Context, contact string, day time.Time) error {
	return l.rdb.Del(ctx, l.key(contact, day)).Err()
}

// Name implements health.Pinger.
func (l *Ledger) Name() string { return clientName }

// Ping implements health.Pinger.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func (l *Ledger) key(contact string, day time.Time) string {
	return l.prefix + notify.LedgerKey(contact, day)
}
