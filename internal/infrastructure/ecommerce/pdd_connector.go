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

// PDDConnector talks to the Pinduoduo open platform router
type PDDConnector struct {
	client *APIClient
	creds  *integration.PDDCredentials
	logger *zap.Logger
	now    func() time.Time
}

// NewPDDConnector creates a connector using the stored credentials
func NewPDDConnector(client *APIClient, creds *integration.PDDCredentials, logger *zap.Logger) (*PDDConnector, error) {
	if client == nil || creds == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDDConnector{
		client: client,
		creds:  creds,
		logger: logger.With(zap.String("platform", string(integration.PlatformCodePDD))),
		now:    time.Now,
	}, nil
}

// Platform returns PDD
func (c *PDDConnector) Platform() integration.PlatformCode {
	return integration.PlatformCodePDD
}

// Authenticate calls pdd.mall.info.get with the given credentials
func (c *PDDConnector) Authenticate(ctx context.Context, creds integration.Credentials) bool {
	pdd, ok := creds.(*integration.PDDCredentials)
	if !ok || pdd.Validate() != nil {
		return false
	}
	body, err := c.call(ctx, pdd, "pdd.mall.info.get", nil)
	if err != nil {
		c.logger.Warn("pdd authentication failed", zap.Error(err))
		return false
	}
	var resp PDDMallInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err() != nil {
		return false
	}
	return resp.MallInfoGetResponse != nil
}

// FetchOrders follows next_cursor through pdd.order.list.get by update time
func (c *PDDConnector) FetchOrders(ctx context.Context, since *time.Time) ([]integration.RawOrder, error) {
	pageSize := c.client.Settings().PageSize
	end := c.now()
	start := end.AddDate(0, 0, -30)
	if since != nil {
		start = *since
	}

	orders := make([]integration.RawOrder, 0)
	cursor := ""
	for {
		params := map[string]string{
			"order_status":     pddAllStatuses,
			"refund_status":    pddAllStatuses,
			"start_updated_at": strconv.FormatInt(start.Unix(), 10),
			"end_updated_at":   strconv.FormatInt(end.Unix(), 10),
			"page_size":        strconv.Itoa(pageSize),
			"use_has_next":     "true",
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		body, err := c.call(ctx, c.creds, "pdd.order.list.get", params)
		if err != nil {
			return nil, err
		}

		var resp PDDOrderListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", integration.ErrPlatformInvalidResponse, err)
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		list := resp.OrderListGetResponse
		if list == nil {
			return nil, fmt.Errorf("%w: missing order list", integration.ErrPlatformInvalidResponse)
		}

		for _, o := range list.OrderList {
			orders = append(orders, integration.RawOrder{Platform: integration.PlatformCodePDD, Payload: o})
		}
		if capped, hit := capOrders(orders); hit {
			c.logger.Warn("order fetch cap reached", zap.Int("cap", integration.MaxOrdersPerFetch))
			return capped, nil
		}
		if !list.HasNext || list.NextCursor == "" || list.NextCursor == cursor || len(list.OrderList) == 0 {
			break
		}
		cursor = list.NextCursor
	}

	return orders, nil
}

// UpdateOrderStatus supports shipped through online logistics send
func (c *PDDConnector) UpdateOrderStatus(ctx context.Context, externalID string, status integration.OrderStatus) bool {
	if externalID == "" || status != integration.OrderStatusShipped {
		return false
	}
	body, err := c.call(ctx, c.creds, "pdd.logistics.online.send", map[string]string{
		"order_sn":     externalID,
		"logistics_id": "0",
	})
	if err != nil {
		c.logger.Warn("pdd status update failed", zap.String("external_id", externalID), zap.Error(err))
		return false
	}
	var resp PDDLogisticsSendResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err() != nil || resp.LogisticsOnlineSendResponse == nil {
		return false
	}
	return resp.LogisticsOnlineSendResponse.IsSuccess
}

// VerifyWebhookSignature checks "sha256=" + hex HMAC-SHA256(secret, payload)
func (c *PDDConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	return verifyHexHMAC(payload, signature[len(prefix):], secret, "", false)
}

// ConfigurationSchema describes the PDD credential fields
func (c *PDDConnector) ConfigurationSchema() integration.ConfigSchema {
	return integration.ConfigSchema{
		Platform:    integration.PlatformCodePDD,
		DisplayName: integration.PlatformCodePDD.DisplayName(),
		Fields: []integration.ConfigField{
			{Name: "client_id", Label: "Client ID", Type: integration.FieldTypeString, Required: true, Rule: "hexadecimal,len=32"},
			{Name: "client_secret", Label: "Client Secret", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=32"},
			{Name: "access_token", Label: "Access Token", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=20"},
			{Name: "mall_id", Label: "Mall ID", Type: integration.FieldTypeNumeric, Required: true, Rule: "numeric_id"},
			{Name: "webhook_secret", Label: "Webhook Secret", Type: integration.FieldTypeSecret, Secret: true, Rule: "min=16"},
			integration.SyncIntervalField,
		},
	}
}

// call adds the router parameters, signs and posts the request
func (c *PDDConnector) call(ctx context.Context, creds *integration.PDDCredentials, apiType string, business map[string]string) ([]byte, error) {
	params := map[string]string{
		"type":         apiType,
		"client_id":    creds.ClientID,
		"access_token": creds.AccessToken,
		"timestamp":    strconv.FormatInt(c.now().Unix(), 10),
		"data_type":    "JSON",
		"version":      "V1",
	}
	for k, v := range business {
		params[k] = v
	}
	params["sign"] = signHMACSHA256(creds.ClientSecret, params)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	return c.client.Do(ctx, http.MethodPost, c.client.Settings().BaseURL,
		"application/x-www-form-urlencoded", []byte(values.Encode()))
}

// Ensure PDDConnector implements PlatformConnector interface
var _ integration.PlatformConnector = (*PDDConnector)(nil)
