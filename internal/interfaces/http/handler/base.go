// Package handler implements the HTTP endpoints of the order sync service.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/ordersync/backend/internal/infrastructure/logger"
	"github.com/ordersync/backend/internal/interfaces/http/dto"
	"github.com/ordersync/backend/internal/interfaces/http/middleware"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context, falling back to the header
func getRequestID(c *gin.Context) string {
	if id := middleware.GetRequestID(c); id != "" {
		return id
	}
	return c.GetHeader(middleware.RequestIDHeader)
}

// platformParam parses the :platform path parameter. On failure it writes a
// 400 response and returns false.
func (h *BaseHandler) platformParam(c *gin.Context) (integration.PlatformCode, bool) {
	platform, err := integration.ParsePlatformCode(c.Param("platform"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidPlatform, err.Error())
		return "", false
	}
	return platform, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// ErrorWithCode sends an error response, deriving the status from the code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	h.Error(c, dto.GetHTTPStatus(code), code, message)
}

// Unauthorized sends a 401 response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeInvalidSignature, message)
}

// HandleError converts integration errors to HTTP responses. Unclassified
// errors are logged and reported as a generic 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	code := dto.ErrorCodeFor(err)
	if code == dto.ErrCodeInternal {
		logger.GetGinLogger(c).Error("request failed", zap.Error(err))
		h.Error(c, http.StatusInternalServerError, code, "An unexpected error occurred")
		return
	}
	h.ErrorWithCode(c, code, err.Error())
}
