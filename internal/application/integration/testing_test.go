package integration

import (
	"context"
	"sync"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

type memConfigRepo struct {
	mu      sync.Mutex
	configs map[integration.PlatformCode]*integration.PlatformConfig
	saves   int
	updates int
}

func newMemConfigRepo(configs ...*integration.PlatformConfig) *memConfigRepo {
	r := &memConfigRepo{configs: make(map[integration.PlatformCode]*integration.PlatformConfig)}
	for _, c := range configs {
		r.configs[c.Platform] = c
	}
	return r
}

func copyConfig(c *integration.PlatformConfig) *integration.PlatformConfig {
	cp := *c
	cp.SyncHistory = append([]integration.SyncResultEntry(nil), c.SyncHistory...)
	return &cp
}

func (r *memConfigRepo) FindByPlatform(_ context.Context, platform integration.PlatformCode) (*integration.PlatformConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.configs[platform]
	if !ok {
		return nil, integration.ErrPlatformNotConfigured
	}
	return copyConfig(c), nil
}

func (r *memConfigRepo) FindActive(_ context.Context) ([]*integration.PlatformConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.PlatformConfig
	for _, p := range integration.AllPlatforms {
		if c, ok := r.configs[p]; ok && c.IsActive {
			out = append(out, copyConfig(c))
		}
	}
	return out, nil
}

func (r *memConfigRepo) Save(_ context.Context, cfg *integration.PlatformConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	stored, ok := r.configs[cfg.Platform]
	if !ok {
		r.configs[cfg.Platform] = copyConfig(cfg)
		return nil
	}
	stored.EncryptedCredentials = cfg.EncryptedCredentials
	stored.SyncIntervalSeconds = cfg.SyncIntervalSeconds
	stored.IsActive = cfg.IsActive
	stored.UpdatedAt = cfg.UpdatedAt
	return nil
}

func (r *memConfigRepo) UpdateSyncStatus(_ context.Context, cfg *integration.PlatformConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	stored, ok := r.configs[cfg.Platform]
	if !ok {
		return integration.ErrPlatformNotConfigured
	}
	stored.LastSyncAt = cfg.LastSyncAt
	stored.LastAttemptAt = cfg.LastAttemptAt
	stored.LastError = cfg.LastError
	stored.SyncHistory = append([]integration.SyncResultEntry(nil), cfg.SyncHistory...)
	return nil
}

func (r *memConfigRepo) get(platform integration.PlatformCode) *integration.PlatformConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyConfig(r.configs[platform])
}

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*integration.CanonicalOrder
	fail   map[string]error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*integration.CanonicalOrder), fail: make(map[string]error)}
}

func (r *memOrderRepo) Upsert(_ context.Context, order *integration.CanonicalOrder) (integration.UpsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[order.Key()]; err != nil {
		return "", err
	}
	existing, ok := r.orders[order.Key()]
	r.orders[order.Key()] = order.Clone()
	switch {
	case !ok:
		return integration.UpsertStored, nil
	case existing.TrackedFieldsEqual(order):
		r.orders[order.Key()] = existing
		return integration.UpsertSkipped, nil
	default:
		return integration.UpsertUpdated, nil
	}
}

func (r *memOrderRepo) FindByKey(_ context.Context, platform integration.PlatformCode, externalID string) (*integration.CanonicalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[string(platform)+":"+externalID]
	if !ok {
		return nil, integration.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *memOrderRepo) FindByDateRange(_ context.Context, from, to time.Time) ([]*integration.CanonicalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.CanonicalOrder
	for _, o := range r.orders {
		if o.IsDuplicate() || o.OrderDate.Before(from) || o.OrderDate.After(to) {
			continue
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Connector doubles
// ---------------------------------------------------------------------------

type mockConnector struct {
	mock.Mock
	platform integration.PlatformCode
}

func (m *mockConnector) Platform() integration.PlatformCode { return m.platform }

func (m *mockConnector) Authenticate(ctx context.Context, creds integration.Credentials) bool {
	return m.Called(ctx, creds).Bool(0)
}

func (m *mockConnector) FetchOrders(ctx context.Context, since *time.Time) ([]integration.RawOrder, error) {
	args := m.Called(ctx, since)
	raws, _ := args.Get(0).([]integration.RawOrder)
	return raws, args.Error(1)
}

func (m *mockConnector) UpdateOrderStatus(ctx context.Context, externalID string, status integration.OrderStatus) bool {
	return m.Called(ctx, externalID, status).Bool(0)
}

func (m *mockConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return m.Called(payload, signature, secret).Bool(0)
}

func (m *mockConnector) ConfigurationSchema() integration.ConfigSchema {
	return integration.ConfigSchema{Platform: m.platform}
}

type stubProvider struct {
	connectors map[integration.PlatformCode]integration.PlatformConnector
}

func (p *stubProvider) Get(_ context.Context, platform integration.PlatformCode) (integration.PlatformConnector, error) {
	c, ok := p.connectors[platform]
	if !ok {
		return nil, integration.ErrPlatformNotConfigured
	}
	return c, nil
}

func (p *stubProvider) Invalidate(integration.PlatformCode) {}

type stubCredentials map[integration.PlatformCode]integration.Credentials

func (s stubCredentials) Get(_ context.Context, platform integration.PlatformCode) (integration.Credentials, error) {
	return s[platform], nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var baseTime = time.Date(2024, 3, 15, 10, 20, 0, 0, time.UTC)

func order(platform integration.PlatformCode, id, email, amount string, date time.Time) *integration.CanonicalOrder {
	return &integration.CanonicalOrder{
		ExternalID:    id,
		Platform:      platform,
		CustomerName:  "Li Wei",
		CustomerEmail: email,
		TotalAmount:   decimal.RequireFromString(amount),
		Currency:      "CNY",
		Status:        integration.OrderStatusConfirmed,
		OrderDate:     date,
		DedupStatus:   integration.DedupStatusUnique,
	}
}

func activeConfig(platform integration.PlatformCode) *integration.PlatformConfig {
	cfg, _ := integration.NewPlatformConfig(platform)
	cfg.IsActive = true
	cfg.EncryptedCredentials = "sealed"
	return cfg
}
