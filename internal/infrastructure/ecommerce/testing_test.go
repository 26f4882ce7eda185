package ecommerce

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/cache"
	"github.com/ordersync/backend/internal/infrastructure/resilience"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testToken   = "act.abcdefghijklmnopqrstuvwxyz"
	testWebhook = "webhook-secret-0001"
)

// allowAll accepts any URL so tests can reach 127.0.0.1 TLS servers
type allowAll struct{ calls int }

func (a *allowAll) Validate(context.Context, string, []string) error {
	a.calls++
	return nil
}

// rejectAll rejects every URL
type rejectAll struct{}

func (rejectAll) Validate(context.Context, string, []string) error {
	return integration.ErrSSRFRejected
}

type testEnv struct {
	server   *httptest.Server
	guard    URLValidator
	limiter  resilience.RateLimiter
	breakers *resilience.Registry
	settings PlatformSettings
}

func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	breakers, err := resilience.NewRegistry(resilience.DefaultConfig(), store, nil)
	require.NoError(t, err)

	return &testEnv{
		server:   server,
		guard:    &allowAll{},
		limiter:  resilience.NewMemoryRateLimiter(),
		breakers: breakers,
		settings: PlatformSettings{
			BaseURL:           server.URL,
			Timeout:           5 * time.Second,
			RequestsPerMinute: 1000,
			AllowedDomains:    []string{"127.0.0.1"},
			PageSize:          2,
		},
	}
}

func (e *testEnv) client(t *testing.T, platform integration.PlatformCode) *APIClient {
	t.Helper()
	c, err := NewAPIClient(platform, e.settings, e.guard, e.limiter, e.breakers, nil)
	require.NoError(t, err)
	return c.WithHTTPClient(e.server.Client())
}

// formValues parses a form-encoded request body
func formValues(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	require.NoError(t, r.ParseForm())
	return r.PostForm
}

func paramsOf(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

func taobaoCreds() *integration.TaobaoCredentials {
	return &integration.TaobaoCredentials{
		AppKey:     "12345678",
		AppSecret:  testSecret,
		SessionKey: "6100e1234567890abcdef",
		Webhook:    testWebhook,
	}
}

func jdCreds() *integration.JDCredentials {
	return &integration.JDCredentials{
		AppKey:      "ABCDEF0123456789",
		AppSecret:   testSecret,
		AccessToken: "jd-access-token-000001",
		Webhook:     testWebhook,
	}
}

func douyinCreds() *integration.DouyinCredentials {
	return &integration.DouyinCredentials{
		AppKey:      "7000000001",
		AppSecret:   testSecret,
		AccessToken: testToken,
		ShopID:      "4463798",
		Webhook:     testWebhook,
	}
}

func pddCreds() *integration.PDDCredentials {
	return &integration.PDDCredentials{
		ClientID:     "0123456789abcdef0123456789abcdef",
		ClientSecret: testSecret,
		AccessToken:  "pdd-access-token-000001",
		MallID:       "778899",
		Webhook:      testWebhook,
	}
}
