package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// SyncRunner
// ---------------------------------------------------------------------------

// SyncRunner syncs every platform whose interval has elapsed
type SyncRunner interface {
	ScheduleSync(ctx context.Context) ([]*integration.SyncResultEntry, error)
}

// ---------------------------------------------------------------------------
// SyncTriggerConfig
// ---------------------------------------------------------------------------

// SyncTriggerConfig holds configuration for the sync trigger
type SyncTriggerConfig struct {
	// Enabled indicates if the trigger runs at all
	Enabled bool
	// CheckInterval is how often due platforms are looked up
	CheckInterval time.Duration
	// RunTimeout bounds a single tick
	RunTimeout time.Duration
	// RunOnStart triggers a tick immediately after Start
	RunOnStart bool
	// MaxHistory is the number of ticks kept in memory
	MaxHistory int
}

// DefaultSyncTriggerConfig returns default configuration
func DefaultSyncTriggerConfig() SyncTriggerConfig {
	return SyncTriggerConfig{
		Enabled:       true,
		CheckInterval: time.Minute,
		RunTimeout:    30 * time.Minute,
		RunOnStart:    true,
		MaxHistory:    100,
	}
}

// Validate validates the configuration
func (c *SyncTriggerConfig) Validate() error {
	if c.CheckInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.RunTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxHistory <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// TriggerRun
// ---------------------------------------------------------------------------

// TriggerRun records one tick of the trigger
type TriggerRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Results     []*integration.SyncResultEntry
	Error       string
}

// Platforms returns the platforms that were synced during the tick
func (r *TriggerRun) Platforms() []integration.PlatformCode {
	out := make([]integration.PlatformCode, 0, len(r.Results))
	for _, e := range r.Results {
		out = append(out, e.Platform)
	}
	return out
}

// ---------------------------------------------------------------------------
// SyncTrigger
// ---------------------------------------------------------------------------

// SyncTrigger periodically asks the sync manager to run due platforms.
// Ticks never overlap: a tick that fires while the previous one is still
// running is skipped.
type SyncTrigger struct {
	config SyncTriggerConfig
	runner SyncRunner
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	busy      sync.Mutex

	historyMu sync.RWMutex
	history   []*TriggerRun
}

// NewSyncTrigger creates a new sync trigger
func NewSyncTrigger(config SyncTriggerConfig, runner SyncRunner, logger *zap.Logger) (*SyncTrigger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncTrigger{
		config:  config,
		runner:  runner,
		logger:  logger,
		history: make([]*TriggerRun, 0, config.MaxHistory),
	}, nil
}

// Start starts the trigger loop
func (s *SyncTrigger) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Sync trigger is disabled")
		return nil
	}
	s.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Sync trigger started",
		zap.Duration("check_interval", s.config.CheckInterval),
		zap.Duration("run_timeout", s.config.RunTimeout),
	)
	return nil
}

// Stop gracefully stops the trigger, waiting for an in-flight tick
func (s *SyncTrigger) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync trigger stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync trigger stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (s *SyncTrigger) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunNow performs a tick outside the timer. It fails when the trigger is
// stopped or a tick is already in flight.
func (s *SyncTrigger) RunNow(ctx context.Context) (*TriggerRun, error) {
	if !s.IsRunning() {
		return nil, ErrSchedulerNotRunning
	}
	return s.tick(ctx)
}

func (s *SyncTrigger) runLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.tickLogged(ctx)
	}

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickLogged(ctx)
		}
	}
}

func (s *SyncTrigger) tickLogged(ctx context.Context) {
	if _, err := s.tick(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("Scheduled sync finished with errors", zap.Error(err))
	}
}

func (s *SyncTrigger) tick(ctx context.Context) (*TriggerRun, error) {
	if !s.busy.TryLock() {
		s.logger.Debug("Skipping sync tick, previous run still in progress")
		return nil, ErrRunInProgress
	}
	defer s.busy.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, s.config.RunTimeout)
	defer cancel()

	run := &TriggerRun{StartedAt: time.Now()}
	results, err := s.runner.ScheduleSync(runCtx)
	run.CompletedAt = time.Now()
	run.Results = results
	if err != nil {
		run.Error = err.Error()
	}

	if len(results) > 0 || err != nil {
		s.logger.Info("Scheduled sync tick completed",
			zap.Int("platforms", len(results)),
			zap.Duration("duration", run.CompletedAt.Sub(run.StartedAt)),
			zap.Bool("has_errors", err != nil),
		)
		s.addToHistory(run)
	}
	return run, err
}

// addToHistory prepends a run and trims to the configured limit
func (s *SyncTrigger) addToHistory(run *TriggerRun) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*TriggerRun{run}, s.history...)
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[:s.config.MaxHistory]
	}
}

// GetRunHistory returns recent ticks that synced at least one platform, newest first
func (s *SyncTrigger) GetRunHistory(limit int) []*TriggerRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]*TriggerRun, limit)
	copy(result, s.history[:limit])
	return result
}
