// Package cache provides TTL key-value stores shared by the sync pipeline:
// credential cache, sync locks, circuit breaker state and credential backups.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss is returned by Get when the key is absent or expired
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrUpdateConflict is returned by Update when concurrent writers kept
	// invalidating the read-modify-write
	ErrUpdateConflict = errors.New("cache: concurrent update retries exhausted")
)

// UpdateFunc maps the current value of a key to its next value. found is false
// on a miss. Returning a nil value deletes the key.
type UpdateFunc func(current []byte, found bool) ([]byte, error)

// Store is a TTL key-value store. A zero TTL means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets the key only when it does not exist and reports whether it was set
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete deletes the key only while it still holds expected
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	// Update is an atomic read-modify-write of one key. fn may run more than
	// once and must not have side effects.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Close() error
}

// GetJSON reads a JSON value into dest. It returns ErrCacheMiss when absent.
func GetJSON(ctx context.Context, s Store, key string, dest any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		_ = s.Delete(ctx, key)
		return fmt.Errorf("failed to unmarshal cached value %s: %w", key, err)
	}
	return nil
}

// SetJSON stores value as JSON
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}
