package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultPairingAttempts = 10
	DefaultPairingWindow   = time.Minute
)

// AttemptLimiter bounds how often one key (a client IP) may try something.
// Implementations must be safe for concurrent use.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, resetAt time.Time)
}

// rateLimitScript is a Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local resetAt = now + window
return {1, resetAt}
`)

// RateLimiter is a Redis sliding-window limiter shared by every server
// instance pointing at the same Redis.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLimit records one attempt for key and reports whether it fits the
// limit. Redis failures deny the attempt.
func (rl *RateLimiter) CheckLimit(
	ctx context.Context,
	key string,
	limit int,
	window time.Duration,
) (allowed bool, resetAt time.Time) {
	now := time.Now().Unix()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		now,
		int64(window.Seconds()),
		limit,
	).Int64Slice()

	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rate limit check failed, denying request for safety")
		return false, time.Now().Add(window)
	}

	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying request for safety")
		return false, time.Now().Add(window)
	}

	return result[0] == 1, time.Unix(result[1], 0)
}

// RedisAttemptLimiter adapts RateLimiter to AttemptLimiter with a fixed
// limit, window and key prefix.
type RedisAttemptLimiter struct {
	limiter *RateLimiter
	prefix  string
	limit   int
	window  time.Duration
}

func NewRedisAttemptLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{
		limiter: NewRateLimiter(client),
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

func (l *RedisAttemptLimiter) Allow(ctx context.Context, key string) (bool, time.Time) {
	return l.limiter.CheckLimit(ctx, l.prefix+":"+key, l.limit, l.window)
}

// MemoryAttemptLimiter keeps one token bucket per key in process memory.
// Each bucket holds limit tokens and refills one token every window/limit.
type MemoryAttemptLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryAttemptLimiter(limit int, window time.Duration) *MemoryAttemptLimiter {
	return NewMemoryAttemptLimiterWithClock(limit, window, time.Now)
}

func NewMemoryAttemptLimiterWithClock(limit int, window time.Duration, now func() time.Time) *MemoryAttemptLimiter {
	if limit <= 0 {
		limit = DefaultPairingAttempts
	}
	if window <= 0 {
		window = DefaultPairingWindow
	}
	return &MemoryAttemptLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
		now:      now,
	}
}

func (l *MemoryAttemptLimiter) Allow(_ context.Context, key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, now.Add(delay)
	}
	return true, now.Add(l.window)
}

// Sweep drops buckets that have been idle for a full window; by then they
// have refilled and carry no state worth keeping.
func (l *MemoryAttemptLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.window {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}
