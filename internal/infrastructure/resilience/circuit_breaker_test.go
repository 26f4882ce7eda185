package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(t *testing.T, clock *fakeClock) *CircuitBreaker {
	t.Helper()
	store := cache.NewMemoryStore(cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })

	cb, err := NewCircuitBreaker("platform:taobao", Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 2,
	}, store, WithClock(clock.Now))
	require.NoError(t, err)
	return cb
}

func snapshot(t *testing.T, cb *CircuitBreaker) CircuitState {
	t.Helper()
	st, err := cb.Snapshot(context.Background())
	require.NoError(t, err)
	return st
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	assert.Equal(t, StateClosed, snapshot(t, cb).State)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	}
	st := snapshot(t, cb)
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 2, st.FailureCount)

	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, snapshot(t, cb).State)

	called := false
	err := cb.Call(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, integration.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestCircuitBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Call(ctx, succeed), integration.ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, snapshot(t, cb).State)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(time.Minute)

	require.NoError(t, cb.Call(ctx, succeed))

	st := snapshot(t, cb)
	assert.Equal(t, StateClosed, st.State)
	assert.Zero(t, st.FailureCount)
	assert.Nil(t, st.LastFailureAt)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(time.Minute)

	assert.ErrorIs(t, cb.Call(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, snapshot(t, cb).State)
	assert.ErrorIs(t, cb.Call(ctx, succeed), integration.ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenCallLimit(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Call(ctx, func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	err := cb.Call(ctx, succeed)
	assert.ErrorIs(t, err, integration.ErrHalfOpenExhausted)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, snapshot(t, cb).State)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)
	require.NoError(t, cb.Call(ctx, succeed))
	_ = cb.Call(ctx, fail)
	_ = cb.Call(ctx, fail)

	assert.Equal(t, StateClosed, snapshot(t, cb).State)
}

func TestCircuitBreaker_IgnoresCallerCancellation(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, snapshot(t, cb).State)
}

func TestCircuitBreaker_NotifiesTransitions(t *testing.T) {
	clock := newFakeClock()
	store := cache.NewMemoryStore(cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })

	var transitions []string
	cb, err := NewCircuitBreaker("platform:JD", Config{FailureThreshold: 2, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}, store,
		WithClock(clock.Now),
		WithStateListener(func(_ context.Context, service string, from, to State) {
			assert.Equal(t, "platform:JD", service)
			transitions = append(transitions, string(from)+"->"+string(to))
		}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_ = cb.Call(ctx, fail)
	assert.Empty(t, transitions)
	_ = cb.Call(ctx, fail)

	clock.Advance(time.Minute)
	require.NoError(t, cb.Call(ctx, succeed))

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)

	bad := Config{FailureThreshold: -1}
	assert.Error(t, bad.Validate())
}

func TestRegistry_ReturnsSameBreaker(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()

	reg, err := NewRegistry(DefaultConfig(), store, nil)
	require.NoError(t, err)

	a, err := reg.Get("platform:jd")
	require.NoError(t, err)
	b, err := reg.Get("platform:jd")
	require.NoError(t, err)
	c, err := reg.Get("platform:pdd")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.ElementsMatch(t, []string{"platform:jd", "platform:pdd"}, reg.Names())
}

// failConcurrently fails n calls on every breaker at the same time
func failConcurrently(t *testing.T, breakers []*CircuitBreaker, n int) {
	t.Helper()
	var wg sync.WaitGroup
	for _, cb := range breakers {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.ErrorIs(t, cb.Call(context.Background(), fail), errBoom)
			}()
		}
	}
	wg.Wait()
}

func TestCircuitBreaker_ReplicasDoNotLoseFailures(t *testing.T) {
	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	cfg := Config{FailureThreshold: 1000, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}

	var replicas []*CircuitBreaker
	for i := 0; i < 3; i++ {
		cb, err := NewCircuitBreaker("platform:douyin", cfg, store)
		require.NoError(t, err)
		replicas = append(replicas, cb)
	}

	failConcurrently(t, replicas, 20)

	st := snapshot(t, replicas[0])
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 60, st.FailureCount)
}

func TestCircuitBreaker_ReplicasShareHalfOpenSlots(t *testing.T) {
	clock := newFakeClock()
	store := cache.NewMemoryStore(cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })
	cfg := Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 2}

	a, err := NewCircuitBreaker("platform:pdd", cfg, store, WithClock(clock.Now))
	require.NoError(t, err)
	b, err := NewCircuitBreaker("platform:pdd", cfg, store, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_ = a.Call(ctx, fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	var admitted, exhausted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		cb := a
		if i%2 == 1 {
			cb = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := cb.Call(ctx, func(context.Context) error {
				admitted.Add(1)
				<-release
				return nil
			})
			if errors.Is(err, integration.ErrHalfOpenExhausted) {
				exhausted.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return exhausted.Load() == 8 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), admitted.Load())
	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, snapshot(t, a).State)
}

func TestCircuitBreaker_CancelledTrialReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(time.Minute)

	// both trial slots are taken by callers that give up
	for i := 0; i < 2; i++ {
		callCtx, cancel := context.WithCancel(ctx)
		err := cb.Call(callCtx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
	}

	st := snapshot(t, cb)
	assert.Equal(t, StateHalfOpen, st.State)
	assert.Zero(t, st.HalfOpenCalls)

	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, snapshot(t, cb).State)
}

func TestCircuitBreaker_StaleTrialSlotsExpire(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Call(ctx, fail)
	}
	clock.Advance(time.Minute)

	// slots taken by an instance that died before recording an outcome
	require.NoError(t, cb.update(ctx, func(st *CircuitState) {
		now := clock.Now()
		st.State = StateHalfOpen
		st.HalfOpenCalls = 2
		st.HalfOpenAt = &now
	}))
	assert.ErrorIs(t, cb.Call(ctx, succeed), integration.ErrHalfOpenExhausted)

	clock.Advance(halfOpenTTL)
	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, snapshot(t, cb).State)
}
