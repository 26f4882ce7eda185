package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyncManagerConfig holds the timing knobs of the sync pipeline
type SyncManagerConfig struct {
	// LockTTL bounds how long a wedged sync can hold the platform lock
	LockTTL time.Duration
	// Overlap is subtracted from the last sync time to catch late updates
	Overlap time.Duration
	// FirstRunLookback is the window of a platform that never synced
	FirstRunLookback time.Duration
}

// DefaultSyncManagerConfig returns a 30 minute lock, 5 minute overlap and 7 day lookback
func DefaultSyncManagerConfig() SyncManagerConfig {
	return SyncManagerConfig{
		LockTTL:          30 * time.Minute,
		Overlap:          5 * time.Minute,
		FirstRunLookback: 7 * 24 * time.Hour,
	}
}

// SyncObserver is notified after every finished sync run
type SyncObserver interface {
	SyncCompleted(ctx context.Context, entry *integration.SyncResultEntry)
}

// SyncManager runs the fetch, normalize, deduplicate and persist pipeline per platform
type SyncManager struct {
	configs    integration.PlatformConfigRepository
	orders     integration.OrderRepository
	aggregator *OrderAggregator
	dedup      *DeduplicationEngine
	locks      cache.Store
	cfg        SyncManagerConfig
	observer   SyncObserver
	archiver   integration.SyncReportArchiver
	now        func() time.Time
	logger     *zap.Logger
}

// SyncManagerOption configures a SyncManager
type SyncManagerOption func(*SyncManager)

// WithSyncObserver attaches a metrics observer
func WithSyncObserver(o SyncObserver) SyncManagerOption {
	return func(m *SyncManager) {
		m.observer = o
	}
}

// WithReportArchiver archives a SyncReport after every run
func WithReportArchiver(a integration.SyncReportArchiver) SyncManagerOption {
	return func(m *SyncManager) {
		m.archiver = a
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) SyncManagerOption {
	return func(m *SyncManager) {
		m.now = now
	}
}

// NewSyncManager creates a sync manager. Zero durations in cfg fall back to the defaults.
func NewSyncManager(
	configs integration.PlatformConfigRepository,
	orders integration.OrderRepository,
	aggregator *OrderAggregator,
	dedup *DeduplicationEngine,
	locks cache.Store,
	cfg SyncManagerConfig,
	log *zap.Logger,
	opts ...SyncManagerOption,
) *SyncManager {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultSyncManagerConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaults.LockTTL
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = defaults.Overlap
	}
	if cfg.FirstRunLookback <= 0 {
		cfg.FirstRunLookback = defaults.FirstRunLookback
	}
	if dedup == nil {
		dedup = NewDeduplicationEngine(nil, SameSiteTrustLatest, log)
	}

	m := &SyncManager{
		configs:    configs,
		orders:     orders,
		aggregator: aggregator,
		dedup:      dedup,
		locks:      locks,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.Named("sync_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lockKey(platform integration.PlatformCode) string {
	return "sync:lock:" + string(platform)
}

// ---------------------------------------------------------------------------
// Scheduling queries
// ---------------------------------------------------------------------------

// NextSyncDue returns when the platform is next due
func (m *SyncManager) NextSyncDue(ctx context.Context, platform integration.PlatformCode) (time.Time, error) {
	cfg, err := m.configs.FindByPlatform(ctx, platform)
	if err != nil {
		return time.Time{}, err
	}
	return cfg.NextSyncDue(m.now()), nil
}

// DuePlatforms returns the active platforms with credentials whose interval elapsed
func (m *SyncManager) DuePlatforms(ctx context.Context, now time.Time) ([]integration.PlatformCode, error) {
	configs, err := m.configs.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active platforms: %w", err)
	}
	var due []integration.PlatformCode
	for _, cfg := range configs {
		if cfg.HasCredentials() && cfg.IsDue(now) {
			due = append(due, cfg.Platform)
		}
	}
	return due, nil
}

// History returns the stored sync history of a platform, newest first
func (m *SyncManager) History(ctx context.Context, platform integration.PlatformCode) ([]integration.SyncResultEntry, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidPlatformCode, platform)
	}
	cfg, err := m.configs.FindByPlatform(ctx, platform)
	if err != nil {
		return nil, err
	}
	return cfg.SyncHistory, nil
}

// ---------------------------------------------------------------------------
// Sync runs
// ---------------------------------------------------------------------------

// ScheduleSync syncs every due platform concurrently and returns all results.
// The returned error joins the per-platform failures.
func (m *SyncManager) ScheduleSync(ctx context.Context) ([]*integration.SyncResultEntry, error) {
	due, err := m.DuePlatforms(ctx, m.now())
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	results := make([]*integration.SyncResultEntry, len(due))
	errs := make([]error, len(due))

	var g errgroup.Group
	for i, platform := range due {
		g.Go(func() error {
			results[i], errs[i] = m.PerformSync(ctx, platform)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*integration.SyncResultEntry, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// ForceSync runs a sync immediately, ignoring the platform's interval
func (m *SyncManager) ForceSync(ctx context.Context, platform integration.PlatformCode) (*integration.SyncResultEntry, error) {
	return m.PerformSync(ctx, platform)
}

// PerformSync runs one sync of a platform under its advisory lock.
// When another run holds the lock it returns an already_in_progress entry
// without touching the history.
func (m *SyncManager) PerformSync(ctx context.Context, platform integration.PlatformCode) (entry *integration.SyncResultEntry, err error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidPlatformCode, platform)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "sync_manager", "perform_sync",
		telemetry.WithAttribute(telemetry.SpanAttrPlatform, string(platform)))
	defer func() {
		if entry != nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrSyncID, entry.SyncID.String(),
				telemetry.SpanAttrSyncStatus, string(entry.Status),
				telemetry.SpanAttrOrderCount, entry.OrdersFetched,
			)
		}
		telemetry.RecordError(span, err)
		span.End()
	}()

	telemetry.WithProfilingLabels(ctx, telemetry.SyncLabels("perform_sync", string(platform)), func(ctx context.Context) {
		entry, err = m.performSync(ctx, platform)
	})
	return entry, err
}

func (m *SyncManager) performSync(ctx context.Context, platform integration.PlatformCode) (*integration.SyncResultEntry, error) {
	entry := &integration.SyncResultEntry{
		SyncID:    uuid.New(),
		Platform:  platform,
		StartedAt: m.now(),
	}
	ctx, log := logger.WithSyncID(ctx, m.logger, entry.SyncID.String())
	ctx, log = logger.WithPlatform(ctx, log, string(platform))

	token := []byte(uuid.NewString())
	acquired, err := m.locks.SetNX(ctx, lockKey(platform), token, m.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !acquired {
		entry.Status = integration.SyncStatusAlreadyInProgress
		entry.FinishedAt = m.now()
		entry.Error = integration.ErrSyncInProgress.Error()
		log.Info("sync skipped, another run holds the lock")
		return entry, nil
	}
	defer func() {
		if _, err := m.locks.CompareAndDelete(context.WithoutCancel(ctx), lockKey(platform), token); err != nil {
			log.Error("failed to release sync lock", zap.Error(err))
		}
	}()

	cfg, err := m.configs.FindByPlatform(ctx, platform)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, fmt.Errorf("%w: %s", integration.ErrPlatformNotActive, platform)
	}

	report := m.run(ctx, cfg, entry, log)

	entry.FinishedAt = m.now()
	cfg.RecordAttempt(*entry)
	if err := m.configs.UpdateSyncStatus(context.WithoutCancel(ctx), cfg); err != nil {
		log.Error("failed to record sync result", zap.Error(err))
	}

	log.Info("sync finished",
		zap.String("status", string(entry.Status)),
		zap.Int("fetched", entry.OrdersFetched),
		zap.Int("stored", entry.Stored),
		zap.Int("updated", entry.Updated),
		zap.Int("skipped", entry.Skipped),
		zap.Int("duplicates", entry.DuplicatesMarked),
		zap.Int("manual_review", entry.ManualReview),
		zap.Duration("duration", entry.Duration()),
	)

	if m.observer != nil {
		m.observer.SyncCompleted(ctx, entry)
	}
	if m.archiver != nil {
		if err := m.archiver.Archive(context.WithoutCancel(ctx), report); err != nil {
			log.Warn("failed to archive sync report", zap.Error(err))
		}
	}

	if entry.Status == integration.SyncStatusFailed {
		return entry, fmt.Errorf("sync of %s failed: %s", platform, entry.Error)
	}
	return entry, nil
}

// run fills entry and returns the audit report of the run
func (m *SyncManager) run(ctx context.Context, cfg *integration.PlatformConfig, entry *integration.SyncResultEntry, log *zap.Logger) *integration.SyncReport {
	report := &integration.SyncReport{}
	defer func() {
		report.Entry = *entry
	}()

	entry.WindowEnd = entry.StartedAt
	if cfg.LastSyncAt != nil {
		entry.WindowStart = cfg.LastSyncAt.Add(-m.cfg.Overlap)
	} else {
		entry.WindowStart = entry.StartedAt.Add(-m.cfg.FirstRunLookback)
	}
	since := entry.WindowStart

	res := m.aggregator.AggregatePlatform(ctx, cfg.Platform, &since)
	entry.OrdersFetched = res.Fetched
	entry.OrdersNormalized = len(res.Orders)
	entry.NormalizationErrors = len(res.NormalizationErrors)
	for _, f := range res.NormalizationErrors {
		report.Errors = append(report.Errors, fmt.Sprintf("normalize #%d: %v", f.Index, f.Err))
	}
	if res.Err != nil {
		entry.Status = integration.SyncStatusFailed
		entry.Error = res.Err.Error()
		return report
	}

	fetched := res.Orders
	stored, snapshots, err := m.loadNeighbours(ctx, fetched)
	if err != nil {
		log.Warn("failed to load stored orders for deduplication", zap.Error(err))
		report.Errors = append(report.Errors, err.Error())
	}

	dedup := m.dedup.DetectAndResolve(ctx, append(append([]*integration.CanonicalOrder(nil), fetched...), stored...))
	entry.DuplicateGroups = dedup.DuplicateGroupsFound
	entry.DuplicatesMarked = dedup.Resolved
	entry.ConflictsDetected = dedup.ConflictsDetected
	entry.ManualReview = dedup.ManualReview
	report.Conflicts = dedup.Conflicts
	report.Errors = append(report.Errors, dedup.Errors...)

	toPersist := append([]*integration.CanonicalOrder(nil), fetched...)
	for _, o := range stored {
		if !o.TrackedFieldsEqual(snapshots[o.Key()]) {
			toPersist = append(toPersist, o)
		}
	}
	m.persist(ctx, toPersist, entry, report, log)

	switch {
	case entry.NormalizationErrors > 0 || entry.PersistErrors > 0 || len(dedup.Errors) > 0 || err != nil:
		entry.Status = integration.SyncStatusPartial
	default:
		entry.Status = integration.SyncStatusSuccess
	}
	return report
}

// loadNeighbours loads the stored orders of every platform placed around the fetched
// batch. Stored copies of fetched orders are dropped in favour of the fresh version.
// The returned snapshots hold the pre-dedup state of each stored order.
func (m *SyncManager) loadNeighbours(ctx context.Context, fetched []*integration.CanonicalOrder) ([]*integration.CanonicalOrder, map[string]*integration.CanonicalOrder, error) {
	if len(fetched) == 0 {
		return nil, nil, nil
	}
	from, to := fetched[0].OrderDate, fetched[0].OrderDate
	keys := make(map[string]struct{}, len(fetched))
	for _, o := range fetched {
		keys[o.Key()] = struct{}{}
		if o.OrderDate.Before(from) {
			from = o.OrderDate
		}
		if o.OrderDate.After(to) {
			to = o.OrderDate
		}
	}

	found, err := m.orders.FindByDateRange(ctx, from.Add(-matchWindow), to.Add(matchWindow))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load stored orders: %w", err)
	}

	stored := make([]*integration.CanonicalOrder, 0, len(found))
	snapshots := make(map[string]*integration.CanonicalOrder, len(found))
	for _, o := range found {
		if _, refreshed := keys[o.Key()]; refreshed {
			continue
		}
		snapshots[o.Key()] = o.Clone()
		stored = append(stored, o)
	}
	return stored, snapshots, nil
}

func (m *SyncManager) persist(ctx context.Context, orders []*integration.CanonicalOrder, entry *integration.SyncResultEntry, report *integration.SyncReport, log *zap.Logger) {
	for _, o := range orders {
		outcome, err := m.orders.Upsert(ctx, o)
		switch {
		case err != nil:
			entry.PersistErrors++
			report.Errors = append(report.Errors, fmt.Sprintf("persist %s: %v", o.Key(), err))
			log.Warn("failed to persist order", zap.String("order", o.Key()), zap.Error(err))
		case outcome == integration.UpsertStored:
			entry.Stored++
		case outcome == integration.UpsertUpdated:
			entry.Updated++
		default:
			entry.Skipped++
		}
	}
}
