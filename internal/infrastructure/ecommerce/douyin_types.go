package ecommerce

import (
	"encoding/json"
	"fmt"

	"github.com/ordersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Common Douyin API Response Types
// ---------------------------------------------------------------------------

// DouyinResponse is the base response wrapper for all Douyin API calls
type DouyinResponse struct {
	// ErrNo is the error code (0 for success)
	ErrNo int `json:"err_no"`
	// Message is the error message
	Message string `json:"message"`
	// LogID is the request trace ID for debugging
	LogID string `json:"log_id,omitempty"`
}

// IsSuccess returns true if the response indicates success
func (r *DouyinResponse) IsSuccess() bool {
	return r.ErrNo == 0
}

// Err maps a failed response to a domain error, nil on success
func (r *DouyinResponse) Err() error {
	if r.IsSuccess() {
		return nil
	}
	detail := fmt.Sprintf("douyin %d - %s (log_id %s)", r.ErrNo, r.Message, r.LogID)
	switch r.ErrNo {
	case 30001, 30002, 30005:
		// invalid app key, expired access token, invalid signature
		return fmt.Errorf("%w: %s", integration.ErrAuthentication, detail)
	case 50002:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRateLimited, detail)
	case 20000:
		return fmt.Errorf("%w: %s", integration.ErrPlatformUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRequestFailed, detail)
	}
}

// DouyinOrderListResponse is the response for order.searchList API
type DouyinOrderListResponse struct {
	DouyinResponse
	Data *DouyinOrderListData `json:"data,omitempty"`
}

// DouyinOrderListData contains the order list data, orders kept verbatim
type DouyinOrderListData struct {
	Total int64             `json:"total"`
	List  []json.RawMessage `json:"list,omitempty"`
}

// douyinStatusOperations maps canonical statuses the seller can push to Douyin operations
var douyinStatusOperations = map[integration.OrderStatus]string{
	integration.OrderStatusConfirmed: "/order/orderConfirm",
	integration.OrderStatusShipped:   "/order/logisticsAdd",
}
