package dto

import (
	"errors"
	"net/http"

	"github.com/ordersync/backend/internal/domain/integration"
)

// Error codes. Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal = "ERR_INTERNAL"

	ErrCodeBadRequest       = "ERR_BAD_REQUEST"
	ErrCodeInvalidPlatform  = "ERR_INVALID_PLATFORM"
	ErrCodeValidation       = "ERR_VALIDATION"
	ErrCodeInvalidSignature = "ERR_INVALID_SIGNATURE"

	ErrCodeNotFound              = "ERR_NOT_FOUND"
	ErrCodePlatformNotConfigured = "ERR_PLATFORM_NOT_CONFIGURED"
	ErrCodePlatformInactive      = "ERR_PLATFORM_INACTIVE"

	ErrCodeSyncInProgress = "ERR_SYNC_IN_PROGRESS"
	ErrCodeSyncFailed     = "ERR_SYNC_FAILED"

	ErrCodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeBadRequest:       http.StatusBadRequest,
	ErrCodeInvalidPlatform:  http.StatusBadRequest,
	ErrCodeValidation:       http.StatusBadRequest,
	ErrCodeInvalidSignature: http.StatusUnauthorized,

	ErrCodeNotFound:              http.StatusNotFound,
	ErrCodePlatformNotConfigured: http.StatusNotFound,
	ErrCodePlatformInactive:      http.StatusUnprocessableEntity,

	ErrCodeSyncInProgress: http.StatusConflict,
	ErrCodeSyncFailed:     http.StatusBadGateway,

	ErrCodeUpstreamUnavailable: http.StatusServiceUnavailable,
	ErrCodeRateLimited:         http.StatusTooManyRequests,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCodeFor classifies an integration error
func ErrorCodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, integration.ErrInvalidPlatformCode):
		return ErrCodeInvalidPlatform
	case errors.Is(err, integration.ErrValidation), errors.Is(err, integration.ErrInvalidSyncInterval):
		return ErrCodeValidation
	case errors.Is(err, integration.ErrPlatformNotConfigured):
		return ErrCodePlatformNotConfigured
	case errors.Is(err, integration.ErrPlatformNotActive):
		return ErrCodePlatformInactive
	case errors.Is(err, integration.ErrSyncInProgress):
		return ErrCodeSyncInProgress
	case errors.Is(err, integration.ErrRateLimitExceeded), errors.Is(err, integration.ErrPlatformRateLimited):
		return ErrCodeRateLimited
	case integration.IsTransient(err):
		return ErrCodeUpstreamUnavailable
	default:
		return ErrCodeInternal
	}
}
