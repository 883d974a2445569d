package inmem

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClaimOncePerDay(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	ok, err := l.Claim(ctx, "whatsapp:+1", day)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Claim(ctx, "whatsapp:+1", day.Add(5*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = l.Claim(ctx, "whatsapp:+1", day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "whatsapp:+1", day))
	ok, err = l.Claim(ctx, "whatsapp:+1", day)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Claim(context.Background(), "whatsapp:+1", day); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}
