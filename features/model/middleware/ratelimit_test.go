package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/royalbadminton/streakbot/runtime/agent/model"
)

type fakeClient struct {
	err   error
	calls int
}

func (f *fakeClient) Complete(context.Context, model.Request) (model.Response, error) {
	f.calls++
	return model.Response{}, f.err
}

func request(text string) model.Request {
	return model.Request{Messages: []*model.Message{model.TextMessage(model.RoleUser, text)}}
}

func TestBackoffOnRateLimited(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 60000, nil)
	client := &fakeClient{err: model.NewProviderError("anthropic", "messages.new", 429, model.ProviderErrorKindRateLimited, "", "", nil)}
	wrapped := limiter.Middleware()(client)

	_, err := wrapped.Complete(context.Background(), request("hello"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	require.Equal(t, 30000.0, limiter.TPM())

	for range 10 {
		_, _ = wrapped.Complete(context.Background(), request("hello"))
	}
	require.Equal(t, 6000.0, limiter.TPM(), "budget is floored at 10% of the initial value")
}

func TestProbeOnSuccess(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000, nil)
	wrapped := limiter.Middleware()(&fakeClient{})

	_, err := wrapped.Complete(context.Background(), request("hello"))
	require.NoError(t, err)
	require.Equal(t, 63000.0, limiter.TPM())
}

func TestOtherErrorsKeepBudget(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(60000, 120000, nil)
	wrapped := limiter.Middleware()(&fakeClient{err: errors.New("boom")})

	_, err := wrapped.Complete(context.Background(), request("hello"))
	require.EqualError(t, err, "boom")
	require.Equal(t, 60000.0, limiter.TPM())
}

func TestWaitHonorsContext(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(600, 600, nil)
	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)

	// Drain the bucket, then ask again with a cancelled context.
	_, err := wrapped.Complete(context.Background(), request(strings.Repeat("x", 3000)))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = wrapped.Complete(ctx, request("hello"))
	require.Error(t, err)
	require.Equal(t, 1, client.calls)
}

func TestEstimateTokens(t *testing.T) {
	require.Equal(t, 500, estimateTokens(model.Request{}))
	req := model.Request{Messages: []*model.Message{
		model.TextMessage(model.RoleUser, strings.Repeat("a", 300)),
		{Role: model.RoleUser, Parts: []model.Part{model.ToolResultPart{Content: strings.Repeat("b", 300)}}},
	}}
	require.Equal(t, 700, estimateTokens(req))
}
