package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// TaobaoConnector talks to the Taobao/Tmall TOP router
type TaobaoConnector struct {
	client *APIClient
	creds  *integration.TaobaoCredentials
	logger *zap.Logger
	now    func() time.Time
}

// NewTaobaoConnector creates a connector using the stored credentials
func NewTaobaoConnector(client *APIClient, creds *integration.TaobaoCredentials, logger *zap.Logger) (*TaobaoConnector, error) {
	if client == nil || creds == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaobaoConnector{
		client: client,
		creds:  creds,
		logger: logger.With(zap.String("platform", string(integration.PlatformCodeTaobao))),
		now:    time.Now,
	}, nil
}

// Platform returns TAOBAO
func (c *TaobaoConnector) Platform() integration.PlatformCode {
	return integration.PlatformCodeTaobao
}

// Authenticate calls taobao.user.seller.get with the given credentials
func (c *TaobaoConnector) Authenticate(ctx context.Context, creds integration.Credentials) bool {
	tb, ok := creds.(*integration.TaobaoCredentials)
	if !ok || tb.Validate() != nil {
		return false
	}
	body, err := c.call(ctx, tb, map[string]string{
		"method": "taobao.user.seller.get",
		"fields": "nick",
	})
	if err != nil {
		c.logger.Warn("taobao authentication failed", zap.Error(err))
		return false
	}
	var resp TaobaoSellerGetResponse
	if err := json.Unmarshal(body, &resp); err != nil || !resp.IsSuccess() || resp.UserSellerGetResponse == nil {
		return false
	}
	return true
}

// FetchOrders pages through trades, using the increment API when since is set
func (c *TaobaoConnector) FetchOrders(ctx context.Context, since *time.Time) ([]integration.RawOrder, error) {
	pageSize := c.client.Settings().PageSize
	orders := make([]integration.RawOrder, 0)

	for page := 1; ; page++ {
		params := map[string]string{
			"method":       "taobao.trades.sold.get",
			"fields":       taobaoTradeFields,
			"page_no":      strconv.Itoa(page),
			"page_size":    strconv.Itoa(pageSize),
			"use_has_next": "true",
		}
		if since != nil {
			params["method"] = "taobao.trades.sold.increment.get"
			params["start_modified"] = since.In(integration.BeijingTime).Format(integration.TaobaoTimeLayout)
			params["end_modified"] = c.now().In(integration.BeijingTime).Format(integration.TaobaoTimeLayout)
		}

		body, err := c.call(ctx, c.creds, params)
		if err != nil {
			return nil, err
		}

		var resp TaobaoTradesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", integration.ErrPlatformInvalidResponse, err)
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		pg := resp.Page()
		if pg == nil {
			return nil, fmt.Errorf("%w: missing trades body", integration.ErrPlatformInvalidResponse)
		}
		if pg.Trades == nil || len(pg.Trades.Trade) == 0 {
			break
		}

		for _, trade := range pg.Trades.Trade {
			orders = append(orders, integration.RawOrder{Platform: integration.PlatformCodeTaobao, Payload: trade})
		}
		if capped, hit := capOrders(orders); hit {
			c.logger.Warn("order fetch cap reached", zap.Int("cap", integration.MaxOrdersPerFetch))
			return capped, nil
		}
		if !pg.HasNext {
			break
		}
	}

	return orders, nil
}

// UpdateOrderStatus supports shipped (virtual consignment) and cancelled (trade close)
func (c *TaobaoConnector) UpdateOrderStatus(ctx context.Context, externalID string, status integration.OrderStatus) bool {
	if _, err := strconv.ParseInt(externalID, 10, 64); err != nil {
		return false
	}

	var params map[string]string
	switch status {
	case integration.OrderStatusShipped:
		params = map[string]string{"method": "taobao.logistics.dummy.send", "tid": externalID}
	case integration.OrderStatusCancelled:
		params = map[string]string{"method": "taobao.trade.close", "tid": externalID, "close_reason": "seller cancelled"}
	default:
		return false
	}

	body, err := c.call(ctx, c.creds, params)
	if err != nil {
		c.logger.Warn("taobao status update failed", zap.String("external_id", externalID), zap.Error(err))
		return false
	}
	var resp TaobaoBoolResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err() != nil {
		return false
	}
	if resp.LogisticsDummySendResponse != nil {
		return resp.LogisticsDummySendResponse.Shipping.IsSuccess
	}
	return resp.TradeCloseResponse != nil
}

// VerifyWebhookSignature checks base64(HMAC-SHA256(secret, payload))
func (c *TaobaoConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return verifyBase64HMAC(payload, signature, secret)
}

// ConfigurationSchema describes the Taobao credential fields
func (c *TaobaoConnector) ConfigurationSchema() integration.ConfigSchema {
	return integration.ConfigSchema{
		Platform:    integration.PlatformCodeTaobao,
		DisplayName: integration.PlatformCodeTaobao.DisplayName(),
		Fields: []integration.ConfigField{
			{Name: "app_key", Label: "App Key", Type: integration.FieldTypeNumeric, Required: true, Rule: "numeric_id,min=8"},
			{Name: "app_secret", Label: "App Secret", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=32"},
			{Name: "session_key", Label: "Session Key", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=20"},
			{Name: "webhook_secret", Label: "Webhook Secret", Type: integration.FieldTypeSecret, Secret: true, Rule: "min=16"},
			integration.SyncIntervalField,
		},
	}
}

// call adds the common TOP parameters, signs and posts the request
func (c *TaobaoConnector) call(ctx context.Context, creds *integration.TaobaoCredentials, params map[string]string) ([]byte, error) {
	params["app_key"] = creds.AppKey
	params["session"] = creds.SessionKey
	params["timestamp"] = c.now().In(integration.BeijingTime).Format(integration.TaobaoTimeLayout)
	params["format"] = "json"
	params["v"] = "2.0"
	params["sign_method"] = "md5"
	params["sign"] = signMD5(creds.AppSecret, params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	return c.client.Do(ctx, http.MethodPost, c.client.Settings().BaseURL,
		"application/x-www-form-urlencoded", []byte(values.Encode()))
}

// Ensure TaobaoConnector implements PlatformConnector interface
var _ integration.PlatformConnector = (*TaobaoConnector)(nil)
