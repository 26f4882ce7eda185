package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PlatformResult is the outcome of fetching and normalizing one platform
type PlatformResult struct {
	Platform            integration.PlatformCode
	Orders              []*integration.CanonicalOrder
	Fetched             int
	NormalizationErrors []NormalizationFailure
	Err                 error
	Duration            time.Duration
}

// AggregateResult collects the per-platform results of one Aggregate call
type AggregateResult struct {
	Platforms map[integration.PlatformCode]*PlatformResult
}

// Orders returns the normalized orders of every platform, in platform priority order
func (r *AggregateResult) Orders() []*integration.CanonicalOrder {
	var orders []*integration.CanonicalOrder
	for _, p := range integration.AllPlatforms {
		if res, ok := r.Platforms[p]; ok {
			orders = append(orders, res.Orders...)
		}
	}
	return orders
}

// Failed returns the platforms whose fetch failed
func (r *AggregateResult) Failed() []integration.PlatformCode {
	var failed []integration.PlatformCode
	for _, p := range integration.AllPlatforms {
		if res, ok := r.Platforms[p]; ok && res.Err != nil {
			failed = append(failed, p)
		}
	}
	return failed
}

// OrderAggregator pulls orders from platform connectors and normalizes them
type OrderAggregator struct {
	configs     integration.PlatformConfigRepository
	connectors  integration.ConnectorProvider
	credentials integration.CredentialProvider
	normalizer  *OrderNormalizer
	logger      *zap.Logger
}

// NewOrderAggregator creates an aggregator
func NewOrderAggregator(
	configs integration.PlatformConfigRepository,
	connectors integration.ConnectorProvider,
	credentials integration.CredentialProvider,
	normalizer *OrderNormalizer,
	logger *zap.Logger,
) *OrderAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = NewOrderNormalizer(0, logger)
	}
	return &OrderAggregator{
		configs:     configs,
		connectors:  connectors,
		credentials: credentials,
		normalizer:  normalizer,
		logger:      logger.Named("aggregator"),
	}
}

// Aggregate fetches every active platform concurrently. A failing platform is
// recorded on its result and its PlatformConfig and never aborts the others.
func (a *OrderAggregator) Aggregate(ctx context.Context, since *time.Time) (*AggregateResult, error) {
	configs, err := a.configs.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active platforms: %w", err)
	}

	result := &AggregateResult{Platforms: make(map[integration.PlatformCode]*PlatformResult, len(configs))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		g.Go(func() error {
			res := a.AggregatePlatform(gctx, cfg.Platform, since)
			if res.Err != nil {
				a.recordFailure(gctx, cfg, res.Err)
			}
			mu.Lock()
			result.Platforms[cfg.Platform] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// AggregatePlatform fetches and normalizes the orders of a single platform.
// Errors are returned on the result; nothing is persisted.
func (a *OrderAggregator) AggregatePlatform(ctx context.Context, platform integration.PlatformCode, since *time.Time) *PlatformResult {
	start := time.Now()
	res := &PlatformResult{Platform: platform}
	log := a.logger.With(zap.String("platform", string(platform)))

	defer func() {
		res.Duration = time.Since(start)
	}()

	raws, err := a.fetch(ctx, platform, since)
	if err != nil {
		res.Err = err
		log.Warn("platform fetch failed", zap.Error(err))
		return res
	}
	res.Fetched = len(raws)

	res.Orders, res.NormalizationErrors = a.normalizer.NormalizeBatch(ctx, raws)
	for _, f := range res.NormalizationErrors {
		log.Warn("order normalization failed", zap.Int("index", f.Index), zap.Error(f.Err))
	}

	log.Info("platform aggregated",
		zap.Int("fetched", res.Fetched),
		zap.Int("normalized", len(res.Orders)),
		zap.Int("normalization_errors", len(res.NormalizationErrors)),
	)
	return res
}

func (a *OrderAggregator) fetch(ctx context.Context, platform integration.PlatformCode, since *time.Time) ([]integration.RawOrder, error) {
	connector, err := a.connectors.Get(ctx, platform)
	if err != nil {
		return nil, err
	}
	creds, err := a.credentials.Get(ctx, platform)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("%w: %s", integration.ErrPlatformNotConfigured, platform)
	}
	if !connector.Authenticate(ctx, creds) {
		return nil, fmt.Errorf("%w: %s rejected the stored credentials", integration.ErrAuthentication, platform)
	}
	return connector.FetchOrders(ctx, since)
}

func (a *OrderAggregator) recordFailure(ctx context.Context, cfg *integration.PlatformConfig, cause error) {
	now := time.Now()
	cfg.LastAttemptAt = &now
	cfg.LastError = cause.Error()
	if err := a.configs.UpdateSyncStatus(context.WithoutCancel(ctx), cfg); err != nil {
		a.logger.Error("failed to record platform failure",
			zap.String("platform", string(cfg.Platform)),
			zap.Error(err),
		)
	}
}
