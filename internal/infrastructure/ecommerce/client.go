// Package ecommerce implements the marketplace connectors (Taobao, JD, Douyin, PDD)
// and the factory that builds them from stored credentials.
package ecommerce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/infrastructure/resilience"
	"github.com/ordersync/backend/internal/infrastructure/security"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed response size from any platform API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// maxRedirects bounds the redirect hops followed for one request
const maxRedirects = 5

// URLValidator checks an outbound URL against a domain allowlist
type URLValidator interface {
	Validate(ctx context.Context, rawURL string, allowedDomains []string) error
}

// PlatformSettings holds the API access settings of one platform
type PlatformSettings struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	AllowedDomains    []string
	PageSize          int
}

// SettingsFromConfig converts the config section of a platform
func SettingsFromConfig(c config.PlatformAPIConfig) PlatformSettings {
	return PlatformSettings{
		BaseURL:           c.BaseURL,
		Timeout:           c.Timeout,
		RequestsPerMinute: c.RequestsPerMinute,
		AllowedDomains:    c.AllowedDomains,
		PageSize:          c.PageSize,
	}
}

// Validate fills defaults and checks required fields
func (s *PlatformSettings) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("%w: base URL is required", integration.ErrValidation)
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	return nil
}

// ---------------------------------------------------------------------------
// APIClient
// ---------------------------------------------------------------------------

// APIClient sends requests for one platform through the SSRF guard, the
// platform's rate limit window and its circuit breaker, in that order.
type APIClient struct {
	platform   integration.PlatformCode
	settings   PlatformSettings
	guard      URLValidator
	limiter    resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates the client for a platform
func NewAPIClient(
	platform integration.PlatformCode,
	settings PlatformSettings,
	guard URLValidator,
	limiter resilience.RateLimiter,
	breakers *resilience.Registry,
	logger *zap.Logger,
) (*APIClient, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if guard == nil || limiter == nil || breakers == nil {
		return nil, fmt.Errorf("ecommerce: guard, limiter and breakers are required")
	}
	breaker, err := breakers.Get(platform.ServiceName())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &APIClient{
		platform: platform,
		settings: settings,
		guard:    guard,
		limiter:  limiter,
		breaker:  breaker,
		logger:   logger.With(zap.String("platform", string(platform))),
	}
	c.httpClient = &http.Client{
		Timeout:       settings.Timeout,
		Transport:     newGuardedTransport(),
		CheckRedirect: c.checkRedirect,
	}
	return c, nil
}

// newGuardedTransport dials only public addresses on the HTTPS port, whatever
// the host resolves to at connect time
func newGuardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   security.DialControl(443),
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}

// checkRedirect runs every redirect target through the guard
func (c *APIClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d redirects", integration.ErrPlatformInvalidResponse, maxRedirects)
	}
	return c.guard.Validate(req.Context(), req.URL.String(), c.settings.AllowedDomains)
}

// WithHTTPClient replaces the underlying HTTP client, used by tests with TLS
// servers. Redirects are still checked by the guard.
func (c *APIClient) WithHTTPClient(hc *http.Client) *APIClient {
	copied := *hc
	copied.Timeout = c.settings.Timeout
	copied.CheckRedirect = c.checkRedirect
	c.httpClient = &copied
	return c
}

// Settings returns the platform settings
func (c *APIClient) Settings() PlatformSettings {
	return c.settings
}

// Platform returns the platform the client talks to
func (c *APIClient) Platform() integration.PlatformCode {
	return c.platform
}

// Do sends one request and returns the response body
func (c *APIClient) Do(ctx context.Context, method, rawURL, contentType string, body []byte) ([]byte, error) {
	if err := c.guard.Validate(ctx, rawURL, c.settings.AllowedDomains); err != nil {
		return nil, err
	}
	if err := c.limiter.Allow(ctx, string(c.platform), c.settings.RequestsPerMinute); err != nil {
		c.logger.Warn("platform request rate limited locally", zap.Error(err))
		return nil, err
	}

	var respBody []byte
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		respBody, err = c.send(ctx, method, rawURL, contentType, body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func (c *APIClient) send(ctx context.Context, method, rawURL, contentType string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", integration.ErrPlatformRequestFailed, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, integration.ErrSSRFRejected) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", integration.ErrPlatformUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", integration.ErrPlatformUnavailable, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", integration.ErrPlatformInvalidResponse, maxResponseSize)
	}

	c.logger.Debug("platform request completed",
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrPlatformRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrAuthentication, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrPlatformUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: HTTP %d", integration.ErrPlatformRequestFailed, resp.StatusCode)
	}
	return data, nil
}

// capOrders truncates orders to MaxOrdersPerFetch
func capOrders(orders []integration.RawOrder) ([]integration.RawOrder, bool) {
	if len(orders) >= integration.MaxOrdersPerFetch {
		return orders[:integration.MaxOrdersPerFetch], true
	}
	return orders, false
}
