package ecommerce

import (
	"encoding/json"
	"fmt"

	"github.com/ordersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// PDD router response types
// ---------------------------------------------------------------------------

// PDDErrorResponse is returned by the PDD router on failure
type PDDErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	SubCode   string `json:"sub_code,omitempty"`
	SubMsg    string `json:"sub_msg,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// PDDResponse is the base wrapper of every PDD router response
type PDDResponse struct {
	ErrorResponse *PDDErrorResponse `json:"error_response,omitempty"`
}

// Err maps the error response to a domain error, nil on success
func (r *PDDResponse) Err() error {
	if r.ErrorResponse == nil {
		return nil
	}
	e := r.ErrorResponse
	detail := fmt.Sprintf("pdd %d - %s", e.ErrorCode, e.ErrorMsg)
	switch e.ErrorCode {
	case 10016, 10019, 10035:
		// bad signature, expired access token, unknown client id
		return fmt.Errorf("%w: %s", integration.ErrAuthentication, detail)
	case 54001, 70031:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRateLimited, detail)
	case 50000, 50001:
		return fmt.Errorf("%w: %s", integration.ErrPlatformUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRequestFailed, detail)
	}
}

// PDDOrderListResponse is the response of pdd.order.list.get
type PDDOrderListResponse struct {
	PDDResponse
	OrderListGetResponse *struct {
		OrderList  []json.RawMessage `json:"order_list"`
		TotalCount int64             `json:"total_count"`
		HasNext    bool              `json:"has_next"`
		NextCursor string            `json:"next_cursor,omitempty"`
	} `json:"order_list_get_response,omitempty"`
}

// PDDMallInfoResponse is the response of pdd.mall.info.get
type PDDMallInfoResponse struct {
	PDDResponse
	MallInfoGetResponse *struct {
		MallID   int64  `json:"mall_id"`
		MallName string `json:"mall_name"`
	} `json:"mall_info_get_response,omitempty"`
}

// PDDLogisticsSendResponse is the response of pdd.logistics.online.send
type PDDLogisticsSendResponse struct {
	PDDResponse
	LogisticsOnlineSendResponse *struct {
		IsSuccess bool `json:"is_success"`
	} `json:"logistics_online_send_response,omitempty"`
}

// pddAllStatuses requests orders in every order and refund state
const pddAllStatuses = "5"
