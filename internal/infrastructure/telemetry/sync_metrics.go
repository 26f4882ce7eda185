package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/resilience"
)

// Order pipeline stages reported on ordersync_orders_total
const (
	StageFetched            = "fetched"
	StageNormalized         = "normalized"
	StageNormalizationError = "normalization_error"
	StageStored             = "stored"
	StageUpdated            = "updated"
	StageSkipped            = "skipped"
	StagePersistError       = "persist_error"
)

// SyncMetrics records pipeline counters for every finished sync run,
// circuit breaker transitions and webhook deliveries.
type SyncMetrics struct {
	logger *zap.Logger

	runsTotal          *Counter
	runDuration        *Histogram
	ordersTotal        *Counter
	duplicatesMarked   *Counter
	conflictsTotal     *Counter
	lastSuccess        *Gauge
	circuitTransitions *Counter
	webhooksTotal      *Counter
}

// NewSyncMetrics creates the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter, logger *zap.Logger) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &SyncMetrics{logger: logger}
	var err error

	if m.runsTotal, err = NewCounter(meter, "ordersync_sync_runs_total",
		"Finished sync runs by platform and status", "{runs}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "ordersync_sync_duration_seconds",
		Description: "Wall time of one sync run",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.ordersTotal, err = NewCounter(meter, "ordersync_orders_total",
		"Orders passing each pipeline stage", "{orders}"); err != nil {
		return nil, err
	}
	if m.duplicatesMarked, err = NewCounter(meter, "ordersync_duplicates_marked_total",
		"Orders marked as duplicates of a master order", "{orders}"); err != nil {
		return nil, err
	}
	if m.conflictsTotal, err = NewCounter(meter, "ordersync_conflicts_total",
		"Conflicts detected inside duplicate groups", "{conflicts}"); err != nil {
		return nil, err
	}
	if m.lastSuccess, err = NewGauge(meter, "ordersync_last_success_timestamp_seconds",
		"Unix time of the last successful sync per platform", "s"); err != nil {
		return nil, err
	}
	if m.circuitTransitions, err = NewCounter(meter, "ordersync_circuit_transitions_total",
		"Circuit breaker state transitions", "{transitions}"); err != nil {
		return nil, err
	}
	if m.webhooksTotal, err = NewCounter(meter, "ordersync_webhooks_total",
		"Webhook deliveries by verification outcome", "{requests}"); err != nil {
		return nil, err
	}
	return m, nil
}

// SyncCompleted records the counters of a finished run.
func (m *SyncMetrics) SyncCompleted(ctx context.Context, e *integration.SyncResultEntry) {
	if e == nil {
		return
	}
	platform := AttrPlatform.String(string(e.Platform))
	status := AttrSyncStatus.String(string(e.Status))

	m.runsTotal.Inc(ctx, platform, status)
	if d := e.Duration(); d > 0 {
		m.runDuration.RecordDuration(ctx, d, platform, status)
	}

	stages := []struct {
		stage string
		n     int
	}{
		{StageFetched, e.OrdersFetched},
		{StageNormalized, e.OrdersNormalized},
		{StageNormalizationError, e.NormalizationErrors},
		{StageStored, e.Stored},
		{StageUpdated, e.Updated},
		{StageSkipped, e.Skipped},
		{StagePersistError, e.PersistErrors},
	}
	for _, s := range stages {
		if s.n > 0 {
			m.ordersTotal.Add(ctx, int64(s.n), platform, AttrStage.String(s.stage))
		}
	}

	if e.DuplicatesMarked > 0 {
		m.duplicatesMarked.Add(ctx, int64(e.DuplicatesMarked), platform)
	}
	if e.ConflictsDetected > 0 {
		m.conflictsTotal.Add(ctx, int64(e.ConflictsDetected), platform, AttrOutcome.String("detected"))
	}
	if e.ManualReview > 0 {
		m.conflictsTotal.Add(ctx, int64(e.ManualReview), platform, AttrOutcome.String("manual_review"))
	}

	if e.Status.IsSuccessful() && !e.FinishedAt.IsZero() {
		m.lastSuccess.Record(ctx, e.FinishedAt.Unix(), platform)
	}
}

// BreakerTransition counts a circuit breaker state change. It matches
// resilience.StateListener.
func (m *SyncMetrics) BreakerTransition(ctx context.Context, service string, from, to resilience.State) {
	m.circuitTransitions.Inc(ctx,
		attribute.String("service", service),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	if to == resilience.StateOpen {
		m.logger.Warn("Circuit opened", zap.String("service", service))
	}
}

// WebhookReceived counts a webhook delivery; accepted is false when the
// signature did not verify.
func (m *SyncMetrics) WebhookReceived(ctx context.Context, platform integration.PlatformCode, accepted bool) {
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.webhooksTotal.Inc(ctx, AttrPlatform.String(string(platform)), AttrOutcome.String(outcome))
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewSyncMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
