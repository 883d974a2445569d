package pulse

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresRedis(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "redis client is required")
}

func TestStreamRequiresName(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := New(Options{Redis: rdb})
	require.NoError(t, err)
	_, err = c.Stream("")
	require.EqualError(t, err, "stream name is required")
	require.NoError(t, c.Close(context.Background()))
}

func TestAddRequiresEventName(t *testing.T) {
	h := &handle{}
	_, err := h.Add(context.Background(), "", nil)
	require.EqualError(t, err, "event name is required")
}
