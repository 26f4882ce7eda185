package integration

import "errors"

// ---------------------------------------------------------------------------
// Integration Errors
// ---------------------------------------------------------------------------

var (
	// Configuration and credential errors
	ErrValidation            = errors.New("integration: validation failed")
	ErrPlatformNotConfigured = errors.New("integration: platform not configured")
	ErrPlatformNotActive     = errors.New("integration: platform not active")
	ErrInvalidPlatformCode   = errors.New("integration: invalid platform code")
	ErrInvalidSyncInterval   = errors.New("integration: sync interval out of range")
	ErrNoCredentialBackup    = errors.New("integration: no credential backup available")

	// Platform access errors
	ErrAuthentication          = errors.New("integration: platform authentication failed")
	ErrPlatformUnavailable     = errors.New("integration: platform temporarily unavailable")
	ErrPlatformRequestFailed   = errors.New("integration: platform request failed")
	ErrPlatformInvalidResponse = errors.New("integration: invalid platform response")
	ErrPlatformRateLimited     = errors.New("integration: platform rate limited")

	// Resilience errors
	ErrCircuitOpen       = errors.New("integration: circuit breaker open")
	ErrHalfOpenExhausted = errors.New("integration: circuit breaker half-open call limit reached")
	ErrRateLimitExceeded = errors.New("integration: rate limit exceeded")

	// Outbound URL errors
	ErrInvalidURL   = errors.New("integration: invalid URL")
	ErrSSRFRejected = errors.New("integration: outbound request rejected")

	// Pipeline errors
	ErrNormalization  = errors.New("integration: order normalization failed")
	ErrSyncInProgress = errors.New("integration: sync already in progress")
	ErrOrderNotFound  = errors.New("integration: order not found")
)

// IsTransient reports whether err is expected to clear on the next sync cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrHalfOpenExhausted) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrPlatformRateLimited) ||
		errors.Is(err, ErrPlatformUnavailable)
}
