package ecommerce

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/resilience"
	"go.uber.org/zap"
)

// ConnectorFactory builds connectors from stored credentials and caches one per platform.
// It is safe for concurrent use and must be shared by pointer.
type ConnectorFactory struct {
	credentials integration.CredentialProvider
	settings    map[integration.PlatformCode]PlatformSettings
	guard       URLValidator
	limiter     resilience.RateLimiter
	breakers    *resilience.Registry
	httpClient  *http.Client
	logger      *zap.Logger

	mu          sync.Mutex
	connectors  map[integration.PlatformCode]integration.PlatformConnector
	generations map[integration.PlatformCode]uint64 // bumped by Invalidate
}

// FactoryOption configures a ConnectorFactory
type FactoryOption func(*ConnectorFactory)

// WithFactoryHTTPClient makes every connector use the given HTTP client
func WithFactoryHTTPClient(hc *http.Client) FactoryOption {
	return func(f *ConnectorFactory) {
		f.httpClient = hc
	}
}

// NewConnectorFactory creates a factory
func NewConnectorFactory(
	credentials integration.CredentialProvider,
	settings map[integration.PlatformCode]PlatformSettings,
	guard URLValidator,
	limiter resilience.RateLimiter,
	breakers *resilience.Registry,
	logger *zap.Logger,
	opts ...FactoryOption,
) *ConnectorFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ConnectorFactory{
		credentials: credentials,
		settings:    settings,
		guard:       guard,
		limiter:     limiter,
		breakers:    breakers,
		logger:      logger,
		connectors:  make(map[integration.PlatformCode]integration.PlatformConnector),
		generations: make(map[integration.PlatformCode]uint64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get returns the cached connector for platform, building it on first use.
// It returns ErrPlatformNotConfigured when no credentials are stored. A
// connector whose build overlapped an Invalidate is returned but not cached.
func (f *ConnectorFactory) Get(ctx context.Context, platform integration.PlatformCode) (integration.PlatformConnector, error) {
	if !platform.IsValid() {
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidPlatformCode, platform)
	}

	f.mu.Lock()
	if c, ok := f.connectors[platform]; ok {
		f.mu.Unlock()
		return c, nil
	}
	generation := f.generations[platform]
	f.mu.Unlock()

	creds, err := f.credentials.Get(ctx, platform)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, fmt.Errorf("%w: %s", integration.ErrPlatformNotConfigured, platform)
	}

	connector, err := f.build(platform, creds)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generations[platform] != generation {
		f.logger.Debug("platform connector invalidated during build, not cached",
			zap.String("platform", string(platform)))
		return connector, nil
	}
	// Another caller may have built one meanwhile; keep the first.
	if c, ok := f.connectors[platform]; ok {
		return c, nil
	}
	f.connectors[platform] = connector
	f.logger.Info("platform connector created", zap.String("platform", string(platform)))
	return connector, nil
}

// Invalidate drops the cached connector so the next Get rebuilds it
func (f *ConnectorFactory) Invalidate(platform integration.PlatformCode) {
	f.mu.Lock()
	delete(f.connectors, platform)
	f.generations[platform]++
	f.mu.Unlock()
}

// Schemas returns the configuration schema of every platform without needing credentials
func Schemas() []integration.ConfigSchema {
	return []integration.ConfigSchema{
		(&TaobaoConnector{}).ConfigurationSchema(),
		(&JDConnector{}).ConfigurationSchema(),
		(&DouyinConnector{}).ConfigurationSchema(),
		(&PDDConnector{}).ConfigurationSchema(),
	}
}

func (f *ConnectorFactory) build(platform integration.PlatformCode, creds integration.Credentials) (integration.PlatformConnector, error) {
	settings, ok := f.settings[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no API settings for %s", integration.ErrPlatformNotConfigured, platform)
	}
	client, err := NewAPIClient(platform, settings, f.guard, f.limiter, f.breakers, f.logger)
	if err != nil {
		return nil, err
	}
	if f.httpClient != nil {
		client.WithHTTPClient(f.httpClient)
	}

	mismatch := fmt.Errorf("%w: credentials of %s stored for %s", integration.ErrValidation, creds.Platform(), platform)
	switch platform {
	case integration.PlatformCodeTaobao:
		c, ok := creds.(*integration.TaobaoCredentials)
		if !ok {
			return nil, mismatch
		}
		return NewTaobaoConnector(client, c, f.logger)
	case integration.PlatformCodeJD:
		c, ok := creds.(*integration.JDCredentials)
		if !ok {
			return nil, mismatch
		}
		return NewJDConnector(client, c, f.logger)
	case integration.PlatformCodeDouyin:
		c, ok := creds.(*integration.DouyinCredentials)
		if !ok {
			return nil, mismatch
		}
		return NewDouyinConnector(client, c, f.logger)
	case integration.PlatformCodePDD:
		c, ok := creds.(*integration.PDDCredentials)
		if !ok {
			return nil, mismatch
		}
		return NewPDDConnector(client, c, f.logger)
	default:
		return nil, fmt.Errorf("%w: %q", integration.ErrInvalidPlatformCode, platform)
	}
}

// Ensure ConnectorFactory implements ConnectorProvider interface
var _ integration.ConnectorProvider = (*ConnectorFactory)(nil)
