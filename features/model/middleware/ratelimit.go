// Package middleware provides model.Client middlewares. The adaptive rate
// limiter keeps the streak checker under a provider's tokens-per-minute budget
// and backs off when the provider reports throttling.
package middleware

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
	"github.com/royalbadminton/streakbot/runtime/agent/telemetry"
)

type (
	// AdaptiveRateLimiter applies an AIMD token bucket on top of a
	// model.Client. Each request is charged an estimate of its prompt size;
	// rate-limited responses halve the budget and successes recover it
	// linearly up to the configured maximum.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM   float64
		minTPM       float64
		maxTPM       float64
		recoveryRate float64

		metrics telemetry.Metrics
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

const defaultTPM = 60000

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM tokens per
// minute and never exceeding maxTPM. maxTPM below initialTPM is clamped.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64, metrics telemetry.Metrics) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = defaultTPM
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       max(initialTPM*0.1, 1),
		maxTPM:       maxTPM,
		recoveryRate: max(initialTPM*0.05, 1),
		metrics:      metrics,
	}
}

// Middleware wraps a client with the limiter.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		return &limitedClient{next: next, limiter: l}
	}
}

// TPM returns the current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (c *limitedClient) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return model.Response{}, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	l.mu.Lock()
	tokens := min(estimateTokens(req), l.limiter.Burst())
	l.mu.Unlock()
	return l.limiter.WaitN(ctx, tokens)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	switch {
	case err == nil:
		l.set(l.TPM() + l.recoveryRate)
	case errors.Is(err, model.ErrRateLimited):
		l.metrics.IncCounter("streakbot.model.backoff", 1)
		l.set(l.TPM() * 0.5)
	}
}

func (l *AdaptiveRateLimiter) set(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.minTPM), l.maxTPM)
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens approximates one token per three characters of text and tool
// output plus a fixed allowance for framing and tool schemas.
func estimateTokens(req model.Request) int {
	chars := 0
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				chars += len(v.Text)
			case model.ToolResultPart:
				chars += len(v.Content)
			case model.ToolUsePart:
				chars += len(v.Input)
			}
		}
	}
	return chars/3 + 500
}
