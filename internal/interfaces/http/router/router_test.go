package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/interfaces/http/handler"
	"github.com/ordersync/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine, WithAPIVersion("v2"))

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.Register(group)
	r.Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/test/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestDomainGroup_Middleware(t *testing.T) {
	engine := gin.New()
	var hit bool
	g := NewDomainGroup("test", "/test").Use(func(c *gin.Context) {
		hit = true
		c.Next()
	})
	g.POST("/items", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	assert.Equal(t, "test", g.Name())
	assert.Equal(t, "/test", g.Prefix())

	g.RegisterRoutes(engine.Group("/api/v1"))

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/test/items", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, hit)
}

type nopSyncs struct{}

func (nopSyncs) ForceSync(_ context.Context, p integration.PlatformCode) (*integration.SyncResultEntry, error) {
	return &integration.SyncResultEntry{Platform: p, Status: integration.SyncStatusSuccess}, nil
}

func (nopSyncs) History(context.Context, integration.PlatformCode) ([]integration.SyncResultEntry, error) {
	return nil, nil
}

type pinger struct{}

func (pinger) Ping(context.Context) error { return nil }

type noCreds struct{}

func (noCreds) Get(context.Context, integration.PlatformCode) (integration.Credentials, error) {
	return nil, nil
}

type noConnectors struct{}

func (noConnectors) Get(context.Context, integration.PlatformCode) (integration.PlatformConnector, error) {
	return nil, integration.ErrPlatformNotConfigured
}

func (noConnectors) Invalidate(integration.PlatformCode) {}

func newTestEngine(limiter *middleware.RateLimiter, maxBody int64) *gin.Engine {
	return NewEngine(Config{
		Logger:         zap.NewNop(),
		MaxBodyBytes:   maxBody,
		WebhookLimiter: limiter,
	}, Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Pinger{"database": pinger{}}),
		Sync:    handler.NewSyncHandler(nopSyncs{}),
		Webhook: handler.NewWebhookHandler(noConnectors{}, noCreds{}, nopSyncs{}, zap.NewNop()),
	})
}

func TestNewEngine_Routes(t *testing.T) {
	engine := newTestEngine(nil, 0)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/api/v1/sync/taobao", http.StatusOK},
		{http.MethodGet, "/api/v1/sync/taobao/history", http.StatusOK},
		{http.MethodPost, "/api/v1/webhooks/taobao", http.StatusNotFound},
		{http.MethodGet, "/api/v1/orders", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestNewEngine_WebhookBodyLimit(t *testing.T) {
	engine := newTestEngine(nil, 16)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/jd", strings.NewReader(strings.Repeat("x", 64))))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestNewEngine_WebhookRateLimit(t *testing.T) {
	engine := newTestEngine(middleware.NewRateLimiter(1, time.Hour), 0)

	send := func() int {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/jd", strings.NewReader("{}")))
		return w.Code
	}

	assert.Equal(t, http.StatusNotFound, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
