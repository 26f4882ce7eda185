package resilience

import (
	"sync"

	"github.com/ordersync/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// Registry hands out one CircuitBreaker per service name
type Registry struct {
	cfg    Config
	store  cache.Store
	opts   []Option
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers share cfg and store
func NewRegistry(cfg Config, store cache.Store, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		store:    store,
		opts:     append([]Option{WithLogger(logger.Named("circuit_breaker"))}, opts...),
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}, nil
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb, nil
	}
	cb, err := NewCircuitBreaker(name, r.cfg, r.store, r.opts...)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = cb
	return cb, nil
}

// Names returns the names of all breakers created so far
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
