// Package notify defines the messaging channel used to deliver reminders and
// the reminder ledger that keeps a player from being reminded twice on the
// same day.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
)

type (
	// Sender delivers a message to a contact address. Implementations must be
	// safe for concurrent use and must not retry.
	Sender interface {
		Send(ctx context.Context, msg Message) (Receipt, error)
	}

	// SenderFunc adapts a function to Sender.
	SenderFunc func(ctx context.Context, msg Message) (Receipt, error)

	// Message is an outbound message.
	Message struct {
		// To is the destination address, e.g. "whatsapp:+15550000001".
		To string
		// Body is the message text.
		Body string
	}

	// Receipt acknowledges a send.
	Receipt struct {
		// ID is the provider message identifier.
		ID string
		// Simulated reports that no network call was made.
		Simulated bool
	}

	// Ledger records which contacts were reminded on which day. Slots are
	// keyed by contact address and UTC calendar day (see LedgerKey), not by
	// player: two players sharing one number get one reminder per day.
	Ledger interface {
		// Claim atomically reserves the (contact, day) slot. It returns false
		// when the slot was already claimed.
		Claim(ctx context.Context, contact string, day time.Time) (bool, error)
		// Release frees a claimed slot, typically after a failed send.
		Release(ctx context.Context, contact string, day time.Time) error
	}

	// Simulated is the sender used when no messaging credentials are
	// configured. It logs and records messages instead of sending them.
	Simulated struct {
		logger telemetry.Logger
		mu     sync.Mutex
		sent   []Message
	}
)

// ErrInvalidMessage indicates a message without destination or body.
var ErrInvalidMessage = errors.New("invalid message")

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) (Receipt, error) {
	return f(ctx, msg)
}

// Validate checks that the message has a destination and a body.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("destination is required"))
	}
	if strings.TrimSpace(m.Body) == "" {
		return errors.Join(ErrInvalidMessage, errors.New("body is required"))
	}
	return nil
}

// NewSimulated returns a simulated sender.
func NewSimulated(logger telemetry.Logger) *Simulated {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Simulated{logger: logger}
}

// Send implements Sender.
func (s *Simulated) Send(ctx context.Context, msg Message) (Receipt, error) {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()
	s.logger.Info(ctx, "simulated send", "to", msg.To)
	return Receipt{Simulated: true}, nil
}

// Sent returns the messages recorded so far.
func (s *Simulated) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}

// Throttle returns a middleware that waits on limiter before each send.
func Throttle(limiter *rate.Limiter) func(Sender) Sender {
	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, msg Message) (Receipt, error) {
			if err := limiter.Wait(ctx); err != nil {
				return Receipt{}, err
			}
			return next.Send(ctx, msg)
		})
	}
}

// PerMinute builds a limiter allowing n sends per minute with a burst of
// burst. n <= 0 disables throttling.
func PerMinute(n, burst int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), burst)
}

// LedgerKey returns the ledger key of a (contact, day) slot.
func LedgerKey(contact string, day time.Time) string {
	y, m, d := day.UTC().Date()
	return "reminder:" + strings.TrimSpace(contact) + ":" + time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
