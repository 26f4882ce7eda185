package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/interfaces/http/dto"
)

// SyncService runs and reports platform syncs
type SyncService interface {
	ForceSync(ctx context.Context, platform integration.PlatformCode) (*integration.SyncResultEntry, error)
	History(ctx context.Context, platform integration.PlatformCode) ([]integration.SyncResultEntry, error)
}

// SyncHandler exposes manual sync runs and their history
type SyncHandler struct {
	BaseHandler
	syncs SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncs SyncService) *SyncHandler {
	return &SyncHandler{syncs: syncs}
}

// ForceSync godoc
// @ID           forceSync
// @Summary      Run a sync now
// @Description  Syncs one platform immediately, ignoring its interval. Blocks until the run finishes.
// @Tags         sync
// @Produce      json
// @Param        platform path string true "Platform code" Enums(TAOBAO, JD, DOUYIN, PDD)
// @Success      200 {object} dto.Response{data=dto.SyncResultResponse}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response{data=dto.SyncResultResponse}
// @Failure      502 {object} dto.Response{data=dto.SyncResultResponse}
// @Router       /sync/{platform} [post]
func (h *SyncHandler) ForceSync(c *gin.Context) {
	platform, ok := h.platformParam(c)
	if !ok {
		return
	}

	entry, err := h.syncs.ForceSync(c.Request.Context(), platform)
	if entry == nil {
		h.HandleError(c, err)
		return
	}

	resp := dto.NewSyncResultResponse(*entry)
	switch entry.Status {
	case integration.SyncStatusAlreadyInProgress:
		c.JSON(http.StatusConflict, dto.Response{
			Data:  resp,
			Error: &dto.ErrorInfo{Code: dto.ErrCodeSyncInProgress, Message: entry.Error, RequestID: getRequestID(c)},
		})
	case integration.SyncStatusFailed:
		if err != nil {
			_ = c.Error(err)
		}
		c.JSON(http.StatusBadGateway, dto.Response{
			Data:  resp,
			Error: &dto.ErrorInfo{Code: dto.ErrCodeSyncFailed, Message: entry.Error, RequestID: getRequestID(c)},
		})
	default:
		h.Success(c, resp)
	}
}

// History godoc
// @ID           getSyncHistory
// @Summary      Recent sync runs
// @Description  Returns the bounded sync history of a platform, newest first
// @Tags         sync
// @Produce      json
// @Param        platform path string true "Platform code" Enums(TAOBAO, JD, DOUYIN, PDD)
// @Success      200 {object} dto.Response{data=dto.SyncHistoryResponse}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /sync/{platform}/history [get]
func (h *SyncHandler) History(c *gin.Context) {
	platform, ok := h.platformParam(c)
	if !ok {
		return
	}

	entries, err := h.syncs.History(c.Request.Context(), platform)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewSyncHistoryResponse(platform, entries))
}
