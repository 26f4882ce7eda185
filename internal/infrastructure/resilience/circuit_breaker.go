// Package resilience protects outbound platform calls with circuit breakers
// and sliding-window rate limits.
package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// State is the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	stateTTL = time.Hour
	// halfOpenTTL frees trial slots whose outcome was never recorded
	halfOpenTTL = 5 * time.Minute
	// releaseTimeout bounds the slot release done after caller cancellation
	releaseTimeout = 2 * time.Second
)

// Config holds circuit breaker thresholds
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default breaker thresholds
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Validate fills zero values with defaults
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.FailureThreshold < 0 || c.HalfOpenMaxCalls < 0 || c.RecoveryTimeout < 0 {
		return fmt.Errorf("circuit breaker thresholds cannot be negative")
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return nil
}

// CircuitState is the persisted state of one breaker
type CircuitState struct {
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	HalfOpenCalls int        `json:"half_open_calls"`
	HalfOpenAt    *time.Time `json:"half_open_at,omitempty"`
}

// CircuitBreaker guards calls to one external service.
// State lives in a cache.Store so that breakers are shared between instances
// when the store is Redis-backed. Every transition is one Store.Update, so
// replicas never overwrite each other's failure counts or trial slots.
type CircuitBreaker struct {
	name     string
	cfg      Config
	store    cache.Store
	logger   *zap.Logger
	now      func() time.Time
	onChange StateListener
}

// StateListener is told about every state transition of a breaker
type StateListener func(ctx context.Context, service string, from, to State)

// Option configures a CircuitBreaker
type Option func(*CircuitBreaker)

// WithLogger sets the breaker logger
func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithStateListener registers a callback for state transitions
func WithStateListener(l StateListener) Option {
	return func(cb *CircuitBreaker) {
		cb.onChange = l
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a breaker for the named service
func NewCircuitBreaker(name string, cfg Config, store cache.Store, opts ...Option) (*CircuitBreaker, error) {
	if name == "" {
		return nil, fmt.Errorf("circuit breaker name is required")
	}
	if store == nil {
		return nil, fmt.Errorf("circuit breaker store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.With(zap.String("service", name))
	return cb, nil
}

// Name returns the service name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) stateKey() string {
	return "circuit:" + cb.name
}

// Snapshot returns the current state, resolving an expired open state to half_open
func (cb *CircuitBreaker) Snapshot(ctx context.Context) (CircuitState, error) {
	st, err := cb.load(ctx)
	if err != nil {
		return CircuitState{}, err
	}
	if st.State == StateOpen && cb.recoveryElapsed(st) {
		st.State = StateHalfOpen
		st.HalfOpenCalls = 0
	}
	return st, nil
}

// Call runs fn when the breaker admits it and records the outcome.
// It returns ErrCircuitOpen or ErrHalfOpenExhausted without calling fn when rejected.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit(ctx)
	if err != nil {
		return err
	}

	callErr := fn(ctx)

	// Caller cancellation is not counted as a service failure, but a trial
	// slot it held is handed back
	if callErr != nil && (errors.Is(callErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)) {
		if trial {
			cb.release(ctx)
		}
		return callErr
	}

	if recErr := cb.record(ctx, callErr == nil); recErr != nil {
		cb.logger.Warn("failed to record circuit breaker outcome", zap.Error(recErr))
	}
	return callErr
}

// admit reports whether the call took a half-open trial slot
func (cb *CircuitBreaker) admit(ctx context.Context) (bool, error) {
	st, err := cb.load(ctx)
	if err != nil {
		// State store errors admit the call
		cb.logger.Warn("circuit breaker state unavailable, allowing call", zap.Error(err))
		return false, nil
	}
	switch st.State {
	case StateClosed:
		return false, nil
	case StateOpen:
		if !cb.recoveryElapsed(st) {
			return false, fmt.Errorf("%w: %s", integration.ErrCircuitOpen, cb.name)
		}
	}

	var (
		admitted bool
		reject   error
		from     State
	)
	err = cb.update(ctx, func(st *CircuitState) {
		admitted, reject, from = false, nil, st.State
		now := cb.now()

		switch st.State {
		case StateClosed:
			return
		case StateOpen:
			if !cb.recoveryElapsed(*st) {
				reject = fmt.Errorf("%w: %s", integration.ErrCircuitOpen, cb.name)
				return
			}
			st.State = StateHalfOpen
			st.HalfOpenCalls = 0
			st.HalfOpenAt = nil
		}

		if st.HalfOpenAt != nil && !now.Before(st.HalfOpenAt.Add(halfOpenTTL)) {
			st.HalfOpenCalls = 0
		}
		if st.HalfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			reject = fmt.Errorf("%w: %s", integration.ErrHalfOpenExhausted, cb.name)
			return
		}
		st.HalfOpenCalls++
		st.HalfOpenAt = &now
		admitted = true
	})
	if err != nil {
		return false, err
	}
	if from == StateOpen && reject == nil {
		cb.logger.Info("circuit breaker half-open")
		cb.notify(ctx, StateOpen, StateHalfOpen)
	}
	if reject != nil {
		return false, reject
	}
	return admitted, nil
}

// release hands back a trial slot whose call was cancelled by the caller
func (cb *CircuitBreaker) release(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := cb.update(ctx, func(st *CircuitState) {
		if st.State == StateHalfOpen && st.HalfOpenCalls > 0 {
			st.HalfOpenCalls--
		}
	})
	if err != nil {
		cb.logger.Warn("failed to release half-open slot", zap.Error(err))
	}
}

func (cb *CircuitBreaker) record(ctx context.Context, success bool) error {
	if success {
		if st, err := cb.load(ctx); err == nil && st.State == StateClosed && st.FailureCount == 0 {
			return nil
		}
	}

	var from, to State
	var failures int
	err := cb.update(ctx, func(st *CircuitState) {
		from = st.State
		if success {
			*st = CircuitState{State: StateClosed}
			to = st.State
			return
		}

		now := cb.now()
		st.FailureCount++
		st.LastFailureAt = &now
		if st.State != StateClosed || st.FailureCount >= cb.cfg.FailureThreshold {
			st.State = StateOpen
			st.HalfOpenCalls = 0
			st.HalfOpenAt = nil
		}
		to, failures = st.State, st.FailureCount
	})
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	switch {
	case to == StateClosed:
		cb.logger.Info("circuit breaker closed")
	case from == StateClosed:
		cb.logger.Warn("circuit breaker opened",
			zap.Int("failure_count", failures),
			zap.Duration("recovery_timeout", cb.cfg.RecoveryTimeout),
		)
	default:
		cb.logger.Warn("circuit breaker reopened after half-open failure")
	}
	cb.notify(ctx, from, to)
	return nil
}

func (cb *CircuitBreaker) notify(ctx context.Context, from, to State) {
	if cb.onChange != nil {
		cb.onChange(ctx, cb.name, from, to)
	}
}

func (cb *CircuitBreaker) recoveryElapsed(st CircuitState) bool {
	if st.LastFailureAt == nil {
		return true
	}
	return !cb.now().Before(st.LastFailureAt.Add(cb.cfg.RecoveryTimeout))
}

// decodeState parses a stored state; a missing or unreadable one is closed
func decodeState(raw []byte, found bool) CircuitState {
	var st CircuitState
	if !found || json.Unmarshal(raw, &st) != nil || st.State == "" {
		return CircuitState{State: StateClosed}
	}
	return st
}

func (cb *CircuitBreaker) load(ctx context.Context) (CircuitState, error) {
	var st CircuitState
	err := cache.GetJSON(ctx, cb.store, cb.stateKey(), &st)
	if errors.Is(err, cache.ErrCacheMiss) {
		return CircuitState{State: StateClosed}, nil
	}
	if err != nil {
		return CircuitState{}, err
	}
	if st.State == "" {
		st.State = StateClosed
	}
	return st, nil
}

// update applies fn to the stored state in one atomic read-modify-write
func (cb *CircuitBreaker) update(ctx context.Context, fn func(st *CircuitState)) error {
	return cb.store.Update(ctx, cb.stateKey(), stateTTL, func(raw []byte, found bool) ([]byte, error) {
		st := decodeState(raw, found)
		fn(&st)
		return json.Marshal(st)
	})
}
