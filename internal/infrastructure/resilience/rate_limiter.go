package resilience

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

// RateWindow is the length of the sliding rate-limit window
const RateWindow = 60 * time.Second

// RateLimiter admits at most limit requests per key in any sliding window.
// Allow never waits: a full window fails with ErrRateLimitExceeded.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int) error
}

// ---------------------------------------------------------------------------
// In-memory sliding window
// ---------------------------------------------------------------------------

type windowLog struct {
	mu    sync.Mutex
	stamp []time.Time
}

// MemoryRateLimiter keeps a timestamp log per key.
// Limits are per process.
type MemoryRateLimiter struct {
	window time.Duration
	now    func() time.Time
	logs   sync.Map // key -> *windowLog
}

// NewMemoryRateLimiter creates an in-memory limiter with the default window
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{window: RateWindow, now: time.Now}
}

// WithRateClock overrides the limiter clock, used by tests
func (l *MemoryRateLimiter) WithRateClock(now func() time.Time) *MemoryRateLimiter {
	l.now = now
	return l
}

// Allow records a request for key when the window has room
func (l *MemoryRateLimiter) Allow(_ context.Context, key string, limit int) error {
	if limit <= 0 {
		return nil
	}
	v, _ := l.logs.LoadOrStore(key, &windowLog{})
	w := v.(*windowLog)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := w.stamp[:0]
	for _, ts := range w.stamp {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamp = kept

	if len(w.stamp) >= limit {
		return fmt.Errorf("%w: %s allows %d requests per %s", integration.ErrRateLimitExceeded, key, limit, l.window)
	}
	w.stamp = append(w.stamp, now)
	return nil
}

// ---------------------------------------------------------------------------
// Redis sliding window
// ---------------------------------------------------------------------------

// RedisRateLimiter keeps the window as a sorted set scored by request time,
// shared between all instances using the same Redis.
type RedisRateLimiter struct {
	client    redis.Cmdable
	keyPrefix string
	window    time.Duration
	now       func() time.Time
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(client redis.Cmdable, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ordersync:"
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		window:    RateWindow,
		now:       time.Now,
	}
}

// Allow trims the window, counts it and records the request in one transaction.
// A request that would exceed the limit is removed again.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int) error {
	if limit <= 0 {
		return nil
	}
	redisKey := l.keyPrefix + "ratelimit:" + key
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(now.Add(-l.window).UnixNano(), 10))
		card = pipe.ZCard(ctx, redisKey)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if card.Val() >= int64(limit) {
		if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		return fmt.Errorf("%w: %s allows %d requests per %s", integration.ErrRateLimitExceeded, key, limit, l.window)
	}
	return nil
}

var (
	_ RateLimiter = (*MemoryRateLimiter)(nil)
	_ RateLimiter = (*RedisRateLimiter)(nil)
)
