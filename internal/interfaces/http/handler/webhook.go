package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/interfaces/http/dto"
)

// SignatureHeader carries the webhook signature for every platform
const SignatureHeader = "X-Signature"

// ForceSyncer starts an immediate sync
type ForceSyncer interface {
	ForceSync(ctx context.Context, platform integration.PlatformCode) (*integration.SyncResultEntry, error)
}

// WebhookRecorder counts webhook outcomes
type WebhookRecorder interface {
	WebhookReceived(ctx context.Context, platform integration.PlatformCode, accepted bool)
}

// WebhookHandler verifies platform push notifications and answers them with
// a forced sync of the platform. The sync runs after the response is sent.
type WebhookHandler struct {
	BaseHandler
	connectors  integration.ConnectorProvider
	credentials integration.CredentialProvider
	syncs       ForceSyncer
	recorder    WebhookRecorder
	logger      *zap.Logger
	syncTimeout time.Duration
	wg          sync.WaitGroup
}

// WebhookHandlerOption configures a WebhookHandler
type WebhookHandlerOption func(*WebhookHandler)

// WithWebhookRecorder records accepted and rejected webhooks
func WithWebhookRecorder(r WebhookRecorder) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		h.recorder = r
	}
}

// WithWebhookSyncTimeout bounds the sync triggered by a webhook
func WithWebhookSyncTimeout(d time.Duration) WebhookHandlerOption {
	return func(h *WebhookHandler) {
		if d > 0 {
			h.syncTimeout = d
		}
	}
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(
	connectors integration.ConnectorProvider,
	credentials integration.CredentialProvider,
	syncs ForceSyncer,
	logger *zap.Logger,
	opts ...WebhookHandlerOption,
) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WebhookHandler{
		connectors:  connectors,
		credentials: credentials,
		syncs:       syncs,
		logger:      logger,
		syncTimeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Receive godoc
// @ID           receiveWebhook
// @Summary      Platform webhook
// @Description  Verifies the X-Signature header against the platform webhook secret and schedules a sync
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        platform path string true "Platform code" Enums(TAOBAO, JD, DOUYIN, PDD)
// @Success      202 {object} dto.Response{data=dto.WebhookAcceptedResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /webhooks/{platform} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	platform, ok := h.platformParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeBadRequest, "webhook payload too large")
			return
		}
		h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "failed to read webhook payload")
		return
	}

	creds, err := h.credentials.Get(ctx, platform)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if creds == nil {
		h.ErrorWithCode(c, dto.ErrCodePlatformNotConfigured, "platform has no credentials")
		return
	}

	connector, err := h.connectors.Get(ctx, platform)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	secret := creds.WebhookSecret()
	signature := c.GetHeader(SignatureHeader)
	if secret == "" || signature == "" || !connector.VerifyWebhookSignature(payload, signature, secret) {
		h.record(ctx, platform, false)
		logger.GetGinLogger(c).Warn("webhook rejected",
			zap.String("platform", string(platform)),
			zap.Bool("secret_configured", secret != ""),
			zap.Bool("signature_present", signature != ""),
		)
		h.Unauthorized(c, "webhook signature verification failed")
		return
	}

	h.record(ctx, platform, true)
	h.triggerSync(context.WithoutCancel(ctx), platform)
	h.Accepted(c, dto.WebhookAcceptedResponse{Platform: platform, ReceivedAt: time.Now().UTC()})
}

func (h *WebhookHandler) record(ctx context.Context, platform integration.PlatformCode, accepted bool) {
	if h.recorder != nil {
		h.recorder.WebhookReceived(ctx, platform, accepted)
	}
}

func (h *WebhookHandler) triggerSync(ctx context.Context, platform integration.PlatformCode) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()

		entry, err := h.syncs.ForceSync(ctx, platform)
		if err != nil {
			h.logger.Warn("webhook triggered sync failed",
				zap.String("platform", string(platform)),
				zap.Error(err),
			)
			return
		}
		if entry == nil {
			return
		}
		h.logger.Info("webhook triggered sync finished",
			zap.String("platform", string(platform)),
			zap.String("status", string(entry.Status)),
		)
	}()
}

// Wait blocks until syncs started by webhooks have finished or ctx is done
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
