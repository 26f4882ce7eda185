package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestMemoryStore_GetSet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v1"), 0))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryStore_Expiration(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	clock.Advance(59 * time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	store.cleanup()
	assert.Equal(t, 0, store.Size())
}

func TestMemoryStore_SetNX(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()

	ctx := context.Background()

	t.Run("first caller wins", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "lock", []byte("a"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.SetNX(ctx, "lock", []byte("b"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired key can be taken again", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		ok, err := store.SetNX(ctx, "lock", []byte("c"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryStore_SetNXConcurrent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.SetNX(context.Background(), "lock", []byte("x"), time.Minute)
			if err == nil && ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryStore_CompareAndDelete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "lock", []byte("owner-1"), time.Minute))

	ok, err := store.CompareAndDelete(ctx, "lock", []byte("owner-2"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.CompareAndDelete(ctx, "lock", []byte("owner-1"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(ctx, "lock")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

// incrementConcurrently bumps an integer key from n goroutines through Update
// and returns the final value
func incrementConcurrently(t *testing.T, store Store, key string, n int) int {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, key, time.Minute, func(current []byte, found bool) ([]byte, error) {
				v := 0
				if found {
					v, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(v + 1)), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	raw, err := store.Get(ctx, key)
	require.NoError(t, err)
	v, err := strconv.Atoi(string(raw))
	require.NoError(t, err)
	return v
}

func TestMemoryStore_Update(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(WithClock(clock.Now))
	defer store.Close()
	ctx := context.Background()

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		assert.Equal(t, 50, incrementConcurrently(t, store, "counter", 50))
	})

	t.Run("expired value reads as missing", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "stale", []byte("old"), time.Second))
		clock.Advance(2 * time.Second)

		var sawFound bool
		require.NoError(t, store.Update(ctx, "stale", 0, func(current []byte, found bool) ([]byte, error) {
			sawFound = found
			return []byte("new"), nil
		}))
		assert.False(t, sawFound)
		got, err := store.Get(ctx, "stale")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("nil result deletes", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gone", []byte("x"), 0))
		require.NoError(t, store.Update(ctx, "gone", 0, func([]byte, bool) ([]byte, error) { return nil, nil }))
		_, err := store.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("error leaves value untouched", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "kept", []byte("x"), 0))
		boom := errors.New("boom")
		err := store.Update(ctx, "kept", 0, func([]byte, bool) ([]byte, error) { return []byte("y"), boom })
		assert.ErrorIs(t, err, boom)
		got, err := store.Get(ctx, "kept")
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), got)
	})
}

func TestJSONHelpers(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, SetJSON(ctx, store, "p", payload{Name: "x", Count: 2}, time.Minute))

	var got payload
	require.NoError(t, GetJSON(ctx, store, "p", &got))
	assert.Equal(t, payload{Name: "x", Count: 2}, got)

	require.NoError(t, store.Set(ctx, "bad", []byte("{"), time.Minute))
	assert.Error(t, GetJSON(ctx, store, "bad", &got))
	_, err := store.Get(ctx, "bad")
	assert.ErrorIs(t, err, ErrCacheMiss, "corrupted entries are dropped")
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}
