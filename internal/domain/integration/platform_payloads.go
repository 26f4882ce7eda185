package integration

import "time"

// BeijingTime is the zone Taobao, JD and PDD local timestamps are expressed in
var BeijingTime = time.FixedZone("CST", 8*60*60)

// TaobaoTimeLayout is the timestamp layout of the Taobao and JD routers
const TaobaoTimeLayout = "2006-01-02 15:04:05"

// ---------------------------------------------------------------------------
// Raw order payload shapes, one per platform.
// Connectors keep payloads verbatim as json.RawMessage; the normalizer
// decodes them into these structs.
// ---------------------------------------------------------------------------

// TaobaoTradePayload is a trade from taobao.trades.sold.increment.get.
// Amounts are decimal strings in CNY, timestamps are "2006-01-02 15:04:05" Beijing time.
type TaobaoTradePayload struct {
	Tid              int64  `json:"tid"`
	Status           string `json:"status"`
	BuyerNick        string `json:"buyer_nick"`
	BuyerEmail       string `json:"buyer_email,omitempty"`
	Created          string `json:"created"`
	Modified         string `json:"modified,omitempty"`
	Payment          string `json:"payment"`
	TotalFee         string `json:"total_fee,omitempty"`
	ReceiverName     string `json:"receiver_name,omitempty"`
	ReceiverCountry  string `json:"receiver_country,omitempty"`
	ReceiverState    string `json:"receiver_state,omitempty"`
	ReceiverCity     string `json:"receiver_city,omitempty"`
	ReceiverDistrict string `json:"receiver_district,omitempty"`
	ReceiverAddress  string `json:"receiver_address,omitempty"`
	ReceiverZip      string `json:"receiver_zip,omitempty"`
	ReceiverMobile   string `json:"receiver_mobile,omitempty"`
	ReceiverPhone    string `json:"receiver_phone,omitempty"`
	BuyerMemo        string `json:"buyer_memo,omitempty"`
	SellerMemo       string `json:"seller_memo,omitempty"`
}

// JDOrderPayload is an order from jingdong.pop.order.search.
// Amounts are decimal strings with an explicit currency, timestamps are RFC3339.
type JDOrderPayload struct {
	OrderID         string       `json:"orderId"`
	OrderState      string       `json:"orderState"`
	OrderTotalPrice string       `json:"orderTotalPrice"`
	OrderPayment    string       `json:"orderPayment,omitempty"`
	Currency        string       `json:"currency,omitempty"`
	OrderStartTime  string       `json:"orderStartTime"`
	ModifiedTime    string       `json:"modified,omitempty"`
	Consignee       JDConsignee  `json:"consigneeInfo"`
	InvoiceAddress  *JDAddress   `json:"invoiceAddress,omitempty"`
	VenderRemark    string       `json:"venderRemark,omitempty"`
	ItemInfoList    []JDItemInfo `json:"itemInfoList,omitempty"`
}

// JDConsignee is the receiver block of a JD order
type JDConsignee struct {
	Fullname  string    `json:"fullname"`
	Mobile    string    `json:"mobile,omitempty"`
	Telephone string    `json:"telephone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   JDAddress `json:"address"`
}

// JDAddress is the nested address object JD returns
type JDAddress struct {
	Street   string `json:"street,omitempty"`
	Town     string `json:"town,omitempty"`
	City     string `json:"city,omitempty"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"`
	PostCode string `json:"postCode,omitempty"`
}

// JDItemInfo is a line item of a JD order
type JDItemInfo struct {
	SkuID      string `json:"skuId"`
	SkuName    string `json:"skuName,omitempty"`
	ItemTotal  int    `json:"itemTotal"`
	JdPrice    string `json:"jdPrice,omitempty"`
	OuterSkuID string `json:"outerSkuId,omitempty"`
}

// DouyinOrderPayload is a shop order from /order/searchList.
// Amounts are integer cents, timestamps are unix seconds.
type DouyinOrderPayload struct {
	OrderID      string        `json:"order_id"`
	OrderStatus  int           `json:"order_status"`
	PayAmount    int64         `json:"pay_amount"`
	CreateTime   int64         `json:"create_time"`
	UpdateTime   int64         `json:"update_time,omitempty"`
	PostReceiver string        `json:"post_receiver"`
	PostTel      string        `json:"post_tel,omitempty"`
	BuyerEmail   string        `json:"buyer_email,omitempty"`
	PostAddr     DouyinAddress `json:"post_addr"`
	BuyerWords   string        `json:"buyer_words,omitempty"`
	SellerWords  string        `json:"seller_words,omitempty"`
}

// DouyinAddress is the nested receiver address of a Douyin order
type DouyinAddress struct {
	Province DouyinRegion `json:"province"`
	City     DouyinRegion `json:"city"`
	Town     DouyinRegion `json:"town"`
	Detail   string       `json:"detail"`
	PostCode string       `json:"post_code,omitempty"`
}

// DouyinRegion is one administrative level of a Douyin address
type DouyinRegion struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Douyin order status codes
const (
	DouyinOrderStatusPendingPayment  = 1
	DouyinOrderStatusPendingShipment = 2
	DouyinOrderStatusShipped         = 3
	DouyinOrderStatusCompleted       = 4
	DouyinOrderStatusCancelled       = 5
	DouyinOrderStatusRefunding       = 6
	DouyinOrderStatusRefunded        = 7
	DouyinOrderStatusPartialShipped  = 101
	DouyinOrderStatusPaid            = 105
)

// PDDOrderPayload is an order from pdd.order.list.get.
// Amounts are integer micro-units (1/1,000,000 CNY), timestamps are unix seconds.
type PDDOrderPayload struct {
	OrderSN          string `json:"order_sn"`
	OrderStatus      int    `json:"order_status"`
	RefundStatus     int    `json:"refund_status"`
	PayAmountMicros  int64  `json:"pay_amount_micros"`
	CreatedTime      int64  `json:"created_time"`
	UpdatedAt        int64  `json:"updated_at,omitempty"`
	ReceiverName     string `json:"receiver_name"`
	ReceiverPhone    string `json:"receiver_phone,omitempty"`
	BuyerEmail       string `json:"buyer_email,omitempty"`
	Country          string `json:"country,omitempty"`
	Province         string `json:"province,omitempty"`
	City             string `json:"city,omitempty"`
	Town             string `json:"town,omitempty"`
	Address          string `json:"address,omitempty"`
	PostCode         string `json:"post_code,omitempty"`
	Remark           string `json:"remark,omitempty"`
	InvoiceAddress   string `json:"invoice_address,omitempty"`
	InvoiceCity      string `json:"invoice_city,omitempty"`
	InvoicePostCode  string `json:"invoice_post_code,omitempty"`
	InvoiceProvince  string `json:"invoice_province,omitempty"`
	InvoiceRecipient string `json:"invoice_recipient,omitempty"`
}

// PDD order and refund status codes
const (
	PDDOrderStatusUnpaid          = 0
	PDDOrderStatusAwaitingShip    = 1
	PDDOrderStatusShipped         = 2
	PDDOrderStatusReceived        = 3
	PDDOrderStatusCancelled       = 4
	PDDRefundStatusNone           = 1
	PDDRefundStatusAfterSale      = 2
	PDDRefundStatusRefunding      = 3
	PDDRefundStatusRefundComplete = 4
)
