package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// JDConnector talks to the JD open platform router
type JDConnector struct {
	client *APIClient
	creds  *integration.JDCredentials
	logger *zap.Logger
	now    func() time.Time
}

// NewJDConnector creates a connector using the stored credentials
func NewJDConnector(client *APIClient, creds *integration.JDCredentials, logger *zap.Logger) (*JDConnector, error) {
	if client == nil || creds == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JDConnector{
		client: client,
		creds:  creds,
		logger: logger.With(zap.String("platform", string(integration.PlatformCodeJD))),
		now:    time.Now,
	}, nil
}

// Platform returns JD
func (c *JDConnector) Platform() integration.PlatformCode {
	return integration.PlatformCodeJD
}

// Authenticate calls jingdong.seller.vender.info.get with the given credentials
func (c *JDConnector) Authenticate(ctx context.Context, creds integration.Credentials) bool {
	jd, ok := creds.(*integration.JDCredentials)
	if !ok || jd.Validate() != nil {
		return false
	}
	body, err := c.call(ctx, jd, "jingdong.seller.vender.info.get", map[string]any{})
	if err != nil {
		c.logger.Warn("jd authentication failed", zap.Error(err))
		return false
	}
	var resp JDVenderInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err() != nil || resp.Result == nil {
		return false
	}
	return resp.Result.VenderInfo != nil
}

// FetchOrders pages through jingdong.pop.order.search by modification date
func (c *JDConnector) FetchOrders(ctx context.Context, since *time.Time) ([]integration.RawOrder, error) {
	pageSize := c.client.Settings().PageSize
	end := c.now()
	start := end.AddDate(0, 0, -30)
	if since != nil {
		start = *since
	}

	orders := make([]integration.RawOrder, 0)
	for page := 1; ; page++ {
		params := map[string]any{
			"start_date":  start.In(integration.BeijingTime).Format(integration.TaobaoTimeLayout),
			"end_date":    end.In(integration.BeijingTime).Format(integration.TaobaoTimeLayout),
			"order_state": jdOrderStates,
			"date_type":   0,
			"page":        page,
			"page_size":   pageSize,
		}

		body, err := c.call(ctx, c.creds, "jingdong.pop.order.search", params)
		if err != nil {
			return nil, err
		}

		var resp JDOrderSearchResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", integration.ErrPlatformInvalidResponse, err)
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		if resp.Result == nil || resp.Result.Search == nil {
			return nil, fmt.Errorf("%w: missing search result", integration.ErrPlatformInvalidResponse)
		}
		search := resp.Result.Search
		if !search.APIResult.Success {
			return nil, fmt.Errorf("%w: jd %s - %s", integration.ErrPlatformRequestFailed,
				search.APIResult.EnglishErrCode, search.APIResult.ChineseErr)
		}
		if len(search.OrderInfoList) == 0 {
			break
		}

		for _, o := range search.OrderInfoList {
			orders = append(orders, integration.RawOrder{Platform: integration.PlatformCodeJD, Payload: o})
		}
		if capped, hit := capOrders(orders); hit {
			c.logger.Warn("order fetch cap reached", zap.Int("cap", integration.MaxOrdersPerFetch))
			return capped, nil
		}
		if int64(page*pageSize) >= search.OrderTotal {
			break
		}
	}

	return orders, nil
}

// UpdateOrderStatus supports shipped through self-delivery shipment
func (c *JDConnector) UpdateOrderStatus(ctx context.Context, externalID string, status integration.OrderStatus) bool {
	if externalID == "" || status != integration.OrderStatusShipped {
		return false
	}
	body, err := c.call(ctx, c.creds, "jingdong.pop.order.shipment", map[string]any{
		"order_id":   externalID,
		"logiCoprId": jdSelfDeliveryCarrier,
	})
	if err != nil {
		c.logger.Warn("jd status update failed", zap.String("external_id", externalID), zap.Error(err))
		return false
	}
	var resp JDShipmentResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err() != nil || resp.Result == nil || resp.Result.Shipment == nil {
		return false
	}
	return resp.Result.Shipment.Success
}

// VerifyWebhookSignature checks upper-case hex HMAC-SHA256(secret, payload)
func (c *JDConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return verifyHexHMAC(payload, signature, secret, "", true)
}

// ConfigurationSchema describes the JD credential fields
func (c *JDConnector) ConfigurationSchema() integration.ConfigSchema {
	return integration.ConfigSchema{
		Platform:    integration.PlatformCodeJD,
		DisplayName: integration.PlatformCodeJD.DisplayName(),
		Fields: []integration.ConfigField{
			{Name: "app_key", Label: "App Key", Type: integration.FieldTypeString, Required: true, Rule: "alphanum,min=16"},
			{Name: "app_secret", Label: "App Secret", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=32"},
			{Name: "access_token", Label: "Access Token", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=20"},
			{Name: "webhook_secret", Label: "Webhook Secret", Type: integration.FieldTypeSecret, Secret: true, Rule: "min=16"},
			integration.SyncIntervalField,
		},
	}
}

// call signs the router parameters and posts them
func (c *JDConnector) call(ctx context.Context, creds *integration.JDCredentials, method string, business map[string]any) ([]byte, error) {
	paramJSON, err := json.Marshal(business)
	if err != nil {
		return nil, fmt.Errorf("jd: failed to marshal params: %w", err)
	}

	params := map[string]string{
		"method":            method,
		"app_key":           creds.AppKey,
		"access_token":      creds.AccessToken,
		"timestamp":         c.now().In(integration.BeijingTime).Format(integration.TaobaoTimeLayout),
		"v":                 "2.0",
		"sign_method":       "hmac-sha256",
		"360buy_param_json": string(paramJSON),
	}
	params["sign"] = signHMACSHA256(creds.AppSecret, params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	return c.client.Do(ctx, http.MethodPost, c.client.Settings().BaseURL,
		"application/x-www-form-urlencoded", []byte(values.Encode()))
}

// Ensure JDConnector implements PlatformConnector interface
var _ integration.PlatformConnector = (*JDConnector)(nil)
