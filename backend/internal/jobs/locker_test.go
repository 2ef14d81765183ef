package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a reachable Redis at REDIS_ADDR
func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	l := NewRedisLocker(client)

	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}

	key := LockKey("test", uuid.NewString())
	defer client.Del(ctx, key)

	token, ok, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lock")

	require.NoError(t, l.Release(ctx, key, "someone-else"))
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists, "foreign token must not release")

	require.NoError(t, l.Release(ctx, key, token))
	_, ok, err = l.Acquire(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL frees a crashed holder
	time.Sleep(100 * time.Millisecond)
	_, ok, err = l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
