package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/cache/cachetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter_Integration(t *testing.T) {
	client := cachetest.NewRedisClient(t)
	clock := newFakeClock()
	limiter := NewRedisRateLimiter(client, "test:")
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, "JD", 3))
		clock.Advance(time.Second)
	}
	assert.ErrorIs(t, limiter.Allow(ctx, "JD", 3), integration.ErrRateLimitExceeded)

	n, err := client.ZCard(ctx, "test:ratelimit:JD").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "rejected request is not recorded")

	clock.Advance(RateWindow)
	assert.NoError(t, limiter.Allow(ctx, "JD", 3))
}

func TestCircuitBreaker_RedisStoreIntegration(t *testing.T) {
	client := cachetest.NewRedisClient(t)
	store := cache.NewRedisStoreWithClient(client, "test:")
	clock := newFakeClock()

	cb, err := NewCircuitBreaker("platform:pdd", Config{FailureThreshold: 2}, store, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	assert.ErrorIs(t, cb.Call(ctx, succeed), integration.ErrCircuitOpen)

	// A second breaker on the same store sees the shared state
	other, err := NewCircuitBreaker("platform:pdd", Config{FailureThreshold: 2}, store, WithClock(clock.Now))
	require.NoError(t, err)
	st, err := other.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, st.State)

	ttl, err := client.TTL(ctx, "test:circuit:platform:pdd").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)
}

func TestCircuitBreaker_RedisReplicasShareCounts(t *testing.T) {
	client := cachetest.NewRedisClient(t)
	store := cache.NewRedisStoreWithClient(client, "test:")
	cfg := Config{FailureThreshold: 1000, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}

	a, err := NewCircuitBreaker("platform:jd", cfg, store)
	require.NoError(t, err)
	b, err := NewCircuitBreaker("platform:jd", cfg, store)
	require.NoError(t, err)

	failConcurrently(t, []*CircuitBreaker{a, b}, 5)

	st, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, st.FailureCount)
}
