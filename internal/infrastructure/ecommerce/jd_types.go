package ecommerce

import (
	"encoding/json"
	"fmt"

	"github.com/ordersync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// JD router response types
// ---------------------------------------------------------------------------

// JDErrorResponse is returned by the JD router on failure
type JDErrorResponse struct {
	Code   string `json:"code"`
	ZhDesc string `json:"zh_desc,omitempty"`
	EnDesc string `json:"en_desc,omitempty"`
}

// JDResponse is the base wrapper of every JD router response
type JDResponse struct {
	ErrorResponse *JDErrorResponse `json:"error_response,omitempty"`
}

// Err maps the error response to a domain error, nil on success
func (r *JDResponse) Err() error {
	if r.ErrorResponse == nil {
		return nil
	}
	e := r.ErrorResponse
	detail := fmt.Sprintf("jd %s - %s", e.Code, e.EnDesc)
	switch e.Code {
	case "19", "20", "21", "22":
		// invalid or expired access token, invalid app key, invalid signature
		return fmt.Errorf("%w: %s", integration.ErrAuthentication, detail)
	case "61", "62", "63":
		return fmt.Errorf("%w: %s", integration.ErrPlatformRateLimited, detail)
	case "66", "67":
		return fmt.Errorf("%w: %s", integration.ErrPlatformUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", integration.ErrPlatformRequestFailed, detail)
	}
}

// JDAPIResult is the business result block embedded in JD responses
type JDAPIResult struct {
	Success        bool   `json:"success"`
	EnglishErrCode string `json:"englishErrCode,omitempty"`
	ChineseErr     string `json:"chineseErr,omitempty"`
}

// JDOrderSearchResponse is the response of jingdong.pop.order.search
type JDOrderSearchResponse struct {
	JDResponse
	Result *struct {
		Code   string `json:"code"`
		Search *struct {
			APIResult     JDAPIResult       `json:"apiResult"`
			OrderTotal    int64             `json:"orderTotal"`
			OrderInfoList []json.RawMessage `json:"orderInfoList"`
		} `json:"searchorderinfo_result,omitempty"`
	} `json:"jingdong_pop_order_search_responce,omitempty"`
}

// JDVenderInfoResponse is the response of jingdong.seller.vender.info.get
type JDVenderInfoResponse struct {
	JDResponse
	Result *struct {
		Code       string `json:"code"`
		VenderInfo *struct {
			VenderID int64  `json:"vender_id"`
			ShopName string `json:"shop_name"`
		} `json:"vender_info_result,omitempty"`
	} `json:"jingdong_seller_vender_info_get_responce,omitempty"`
}

// JDShipmentResponse is the response of jingdong.pop.order.shipment
type JDShipmentResponse struct {
	JDResponse
	Result *struct {
		Code     string `json:"code"`
		Shipment *struct {
			Success bool `json:"success"`
		} `json:"sopjosshipment_result,omitempty"`
	} `json:"jingdong_pop_order_shipment_responce,omitempty"`
}

// jdOrderStates lists the order states requested from order search
const jdOrderStates = "WAIT_SELLER_STOCK_OUT,WAIT_GOODS_RECEIVE_CONFIRM,FINISHED_L,TRADE_CANCELED,LOCKED,POP_ORDER_PAUSE"

// jdSelfDeliveryCarrier is JD's carrier id for merchant self-delivery
const jdSelfDeliveryCarrier = "1274"
