package ecommerce

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ordersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Common Taobao API Response Types
// ---------------------------------------------------------------------------

// TaobaoResponse is the base response wrapper for all Taobao API calls
type TaobaoResponse struct {
	// ErrorResponse contains error information if the request failed
	ErrorResponse *TaobaoErrorResponse `json:"error_response,omitempty"`
}

// TaobaoErrorResponse represents an error response from Taobao API
type TaobaoErrorResponse struct {
	Code      json.Number `json:"code"`
	Msg       string      `json:"msg"`
	SubCode   string      `json:"sub_code,omitempty"`
	SubMsg    string      `json:"sub_msg,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// IsSuccess returns true if the response indicates success
func (r *TaobaoResponse) IsSuccess() bool {
	return r.ErrorResponse == nil
}

// Err maps the error response to a domain error, nil on success
func (r *TaobaoResponse) Err() error {
	if r.IsSuccess() {
		return nil
	}
	e := r.ErrorResponse
	detail := fmt.Sprintf("taobao %s - %s", e.Code, e.Msg)
	if e.SubCode != "" {
		detail += fmt.Sprintf(" (%s: %s)", e.SubCode, e.SubMsg)
	}
	switch {
	case e.Code == "26" || e.Code == "27" || e.Code == "25":
		// missing, invalid or expired session, invalid signature
		return fmt.Errorf("%w: %s", integration.ErrAuthentication, detail)
	case e.Code == "7" || strings.HasPrefix(e.SubCode, "isv.call-limited") || strings.Contains(e.SubCode, "flow-limit"):
		return fmt.Errorf("%w: %s", integration.ErrPlatformRateLimited, detail)
	case strings.HasPrefix(e.SubCode, "isp."):
		return fmt.Errorf("%w: %s", integration.ErrPlatformUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRequestFailed, detail)
	}
}

// ---------------------------------------------------------------------------
// Trade Types
// ---------------------------------------------------------------------------

// TaobaoTradesPage is the body shared by trades.sold.get and trades.sold.increment.get.
// Trades are kept verbatim for the normalizer.
type TaobaoTradesPage struct {
	TotalResults int64 `json:"total_results"`
	HasNext      bool  `json:"has_next"`
	Trades       *struct {
		Trade []json.RawMessage `json:"trade"`
	} `json:"trades,omitempty"`
}

// TaobaoTradesResponse is the response of both trade list APIs
type TaobaoTradesResponse struct {
	TaobaoResponse
	TradesSoldGetResponse          *TaobaoTradesPage `json:"trades_sold_get_response,omitempty"`
	TradesSoldIncrementGetResponse *TaobaoTradesPage `json:"trades_sold_increment_get_response,omitempty"`
}

// Page returns whichever list body is present
func (r *TaobaoTradesResponse) Page() *TaobaoTradesPage {
	if r.TradesSoldIncrementGetResponse != nil {
		return r.TradesSoldIncrementGetResponse
	}
	return r.TradesSoldGetResponse
}

// TaobaoSellerGetResponse is the response of taobao.user.seller.get
type TaobaoSellerGetResponse struct {
	TaobaoResponse
	UserSellerGetResponse *struct {
		User struct {
			Nick string `json:"nick"`
		} `json:"user"`
	} `json:"user_seller_get_response,omitempty"`
}

// TaobaoBoolResponse is the response of write APIs that report is_success
type TaobaoBoolResponse struct {
	TaobaoResponse
	LogisticsDummySendResponse *struct {
		Shipping struct {
			IsSuccess bool `json:"is_success"`
		} `json:"shipping"`
	} `json:"logistics_dummy_send_response,omitempty"`
	TradeCloseResponse *struct {
		Trade struct {
			Tid int64 `json:"tid"`
		} `json:"trade"`
	} `json:"trade_close_response,omitempty"`
}

// taobaoTradeFields is the comma-separated list of fields to request from Taobao API
const taobaoTradeFields = "tid,status,buyer_nick,buyer_email,created,modified,payment,total_fee," +
	"receiver_name,receiver_country,receiver_state,receiver_city,receiver_district,receiver_address," +
	"receiver_zip,receiver_mobile,receiver_phone,buyer_memo,seller_memo"
