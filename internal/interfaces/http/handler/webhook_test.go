package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/interfaces/http/dto"
)

const testWebhookSecret = "whsec-0123456789abcdef"

// stubConnector accepts signatures of the form "<secret>|<payload>"
type stubConnector struct {
	integration.PlatformConnector
	platform integration.PlatformCode
}

func (c *stubConnector) Platform() integration.PlatformCode { return c.platform }

func (c *stubConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return signature == secret+"|"+string(payload)
}

type stubConnectors struct {
	err error
}

func (s *stubConnectors) Get(_ context.Context, platform integration.PlatformCode) (integration.PlatformConnector, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stubConnector{platform: platform}, nil
}

func (s *stubConnectors) Invalidate(integration.PlatformCode) {}

type stubCredentials struct {
	creds integration.Credentials
	err   error
}

func (s *stubCredentials) Get(context.Context, integration.PlatformCode) (integration.Credentials, error) {
	return s.creds, s.err
}

type webhookCount struct {
	platform integration.PlatformCode
	accepted bool
}

type recordingRecorder struct {
	mu     sync.Mutex
	counts []webhookCount
}

func (r *recordingRecorder) WebhookReceived(_ context.Context, platform integration.PlatformCode, accepted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, webhookCount{platform, accepted})
}

type webhookFixture struct {
	handler  *WebhookHandler
	router   *gin.Engine
	syncs    *fakeSyncService
	recorder *recordingRecorder
}

func newWebhookFixture(t *testing.T, creds *stubCredentials, connectors *stubConnectors) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		syncs: &fakeSyncService{
			entry: &integration.SyncResultEntry{Status: integration.SyncStatusSuccess},
			done:  make(chan struct{}, 4),
		},
		recorder: &recordingRecorder{},
	}
	f.handler = NewWebhookHandler(connectors, creds, f.syncs, zap.NewNop(),
		WithWebhookRecorder(f.recorder),
		WithWebhookSyncTimeout(time.Minute),
	)
	f.router = gin.New()
	f.router.POST("/webhooks/:platform", f.handler.Receive)
	return f
}

func jdCreds(webhook string) *stubCredentials {
	return &stubCredentials{creds: &integration.JDCredentials{
		AppKey:      "ABCDEF0123456789",
		AppSecret:   strings.Repeat("s", 32),
		AccessToken: strings.Repeat("t", 24),
		Webhook:     webhook,
	}}
}

func (f *webhookFixture) post(platform, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+platform, strings.NewReader(payload))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_ValidSignatureTriggersSync(t *testing.T) {
	f := newWebhookFixture(t, jdCreds(testWebhookSecret), &stubConnectors{})
	payload := `{"order_id":"JD-1001","event":"order_paid"}`

	w := f.post("jd", payload, testWebhookSecret+"|"+payload)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decode(t, w).Success)

	select {
	case <-f.syncs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("forced sync was not started")
	}
	require.NoError(t, f.handler.Wait(context.Background()))
	assert.Equal(t, []integration.PlatformCode{integration.PlatformCodeJD}, f.syncs.Calls())
	assert.Equal(t, []webhookCount{{integration.PlatformCodeJD, true}}, f.recorder.counts)
}

func TestWebhookHandler_Rejections(t *testing.T) {
	payload := `{"order_id":"JD-1001"}`

	tests := []struct {
		name      string
		creds     *stubCredentials
		signature string
	}{
		{"wrong signature", jdCreds(testWebhookSecret), "other-secret|" + payload},
		{"missing signature", jdCreds(testWebhookSecret), ""},
		{"no webhook secret configured", jdCreds(""), "|" + payload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(t, tt.creds, &stubConnectors{})

			w := f.post("jd", payload, tt.signature)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			env := decode(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, dto.ErrCodeInvalidSignature, env.Error.Code)
			require.NoError(t, f.handler.Wait(context.Background()))
			assert.Empty(t, f.syncs.Calls(), "rejected webhooks never sync")
			assert.Equal(t, []webhookCount{{integration.PlatformCodeJD, false}}, f.recorder.counts)
		})
	}
}

func TestWebhookHandler_Errors(t *testing.T) {
	t.Run("unknown platform", func(t *testing.T) {
		f := newWebhookFixture(t, jdCreds(testWebhookSecret), &stubConnectors{})
		w := f.post("amazon", "{}", "x")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, f.recorder.counts)
	})

	t.Run("platform without credentials", func(t *testing.T) {
		f := newWebhookFixture(t, &stubCredentials{}, &stubConnectors{})
		w := f.post("jd", "{}", "x")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("credential store failure", func(t *testing.T) {
		f := newWebhookFixture(t, &stubCredentials{err: errors.New("redis down")}, &stubConnectors{})
		w := f.post("jd", "{}", "x")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("connector unavailable", func(t *testing.T) {
		f := newWebhookFixture(t, jdCreds(testWebhookSecret), &stubConnectors{err: integration.ErrPlatformNotConfigured})
		w := f.post("jd", "{}", "x")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestWebhookHandler_WaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	f := newWebhookFixture(t, jdCreds(testWebhookSecret), &stubConnectors{})
	f.handler.syncs = blockingSyncer{block: block}
	payload := "{}"

	require.Equal(t, http.StatusAccepted, f.post("jd", payload, testWebhookSecret+"|"+payload).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.handler.Wait(ctx), context.DeadlineExceeded)

	close(block)
	require.NoError(t, f.handler.Wait(context.Background()))
}

type blockingSyncer struct {
	block chan struct{}
}

func (b blockingSyncer) ForceSync(ctx context.Context, platform integration.PlatformCode) (*integration.SyncResultEntry, error) {
	<-b.block
	return &integration.SyncResultEntry{Platform: platform, Status: integration.SyncStatusSuccess}, nil
}
