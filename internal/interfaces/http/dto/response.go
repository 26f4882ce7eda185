// Package dto holds the JSON envelopes of the HTTP API.
package dto

import (
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response tagged with the request ID
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// SyncResultResponse is one sync run as returned by the API
type SyncResultResponse struct {
	integration.SyncResultEntry
	DurationMS int64 `json:"duration_ms"`
}

// NewSyncResultResponse wraps a sync entry
func NewSyncResultResponse(e integration.SyncResultEntry) SyncResultResponse {
	return SyncResultResponse{SyncResultEntry: e, DurationMS: e.Duration().Milliseconds()}
}

// SyncHistoryResponse lists the recent runs of one platform, newest first
type SyncHistoryResponse struct {
	Platform integration.PlatformCode `json:"platform"`
	Entries  []SyncResultResponse     `json:"entries"`
}

// NewSyncHistoryResponse builds the history envelope
func NewSyncHistoryResponse(platform integration.PlatformCode, entries []integration.SyncResultEntry) SyncHistoryResponse {
	out := SyncHistoryResponse{Platform: platform, Entries: make([]SyncResultResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, NewSyncResultResponse(e))
	}
	return out
}

// WebhookAcceptedResponse acknowledges a verified webhook
type WebhookAcceptedResponse struct {
	Platform   integration.PlatformCode `json:"platform"`
	ReceivedAt time.Time                `json:"received_at"`
}

// HealthResponse reports process and dependency health
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}
