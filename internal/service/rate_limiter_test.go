package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttemptLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the limit then denies", func(t *testing.T) {
		clock := newFakeClock()
		l := NewMemoryAttemptLimiterWithClock(3, time.Minute, clock.Now)

		for i := 0; i < 3; i++ {
			allowed, _ := l.Allow(ctx, "10.0.0.5")
			assert.True(t, allowed, "attempt %d should be allowed", i+1)
		}
		allowed, resetAt := l.Allow(ctx, "10.0.0.5")
		assert.False(t, allowed)
		assert.True(t, resetAt.After(clock.Now()))
	})

	t.Run("refills over the window", func(t *testing.T) {
		clock := newFakeClock()
		l := NewMemoryAttemptLimiterWithClock(2, time.Minute, clock.Now)

		l.Allow(ctx, "ip")
		l.Allow(ctx, "ip")
		allowed, _ := l.Allow(ctx, "ip")
		require.False(t, allowed)

		clock.Advance(30 * time.Second)
		allowed, _ = l.Allow(ctx, "ip")
		assert.True(t, allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		clock := newFakeClock()
		l := NewMemoryAttemptLimiterWithClock(1, time.Minute, clock.Now)

		allowed, _ := l.Allow(ctx, "a")
		assert.True(t, allowed)
		allowed, _ = l.Allow(ctx, "a")
		assert.False(t, allowed)
		allowed, _ = l.Allow(ctx, "b")
		assert.True(t, allowed)
	})

	t.Run("sweep drops idle keys", func(t *testing.T) {
		clock := newFakeClock()
		l := NewMemoryAttemptLimiterWithClock(1, time.Minute, clock.Now)
		l.Allow(ctx, "a")
		clock.Advance(30 * time.Second)
		l.Allow(ctx, "b")

		clock.Advance(30 * time.Second)
		assert.Equal(t, 1, l.Sweep(clock.Now()))
		assert.Len(t, l.visitors, 1)
	})
}

// The Redis limiter needs a live server; point REDIS_TEST_URL at one to run it.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisAttemptLimiter(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	client.Del(ctx, "ratelimit:pairing-test:1.2.3.4", "ratelimit:pairing-test:5.6.7.8")

	l := NewRedisAttemptLimiter(client, "pairing-test", 2, 10*time.Second)

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			allowed, _ := l.Allow(ctx, "1.2.3.4")
			assert.True(t, allowed, "attempt %d should be allowed", i+1)
		}
		allowed, resetAt := l.Allow(ctx, "1.2.3.4")
		assert.False(t, allowed)
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("different keys are independent", func(t *testing.T) {
		allowed, _ := l.Allow(ctx, "5.6.7.8")
		assert.True(t, allowed)
	})
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	allowed, resetAt := NewRateLimiter(client).CheckLimit(context.Background(), "test:key", 1, time.Minute)
	assert.False(t, allowed)
	assert.True(t, resetAt.After(time.Now()))
}
