package ecommerce

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// DouyinConnector talks to the Douyin shop open API
type DouyinConnector struct {
	client *APIClient
	creds  *integration.DouyinCredentials
	logger *zap.Logger
	now    func() time.Time
}

// NewDouyinConnector creates a connector using the stored credentials
func NewDouyinConnector(client *APIClient, creds *integration.DouyinCredentials, logger *zap.Logger) (*DouyinConnector, error) {
	if client == nil || creds == nil {
		return nil, integration.ErrPlatformNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DouyinConnector{
		client: client,
		creds:  creds,
		logger: logger.With(zap.String("platform", string(integration.PlatformCodeDouyin))),
		now:    time.Now,
	}, nil
}

// Platform returns DOUYIN
func (c *DouyinConnector) Platform() integration.PlatformCode {
	return integration.PlatformCodeDouyin
}

// Authenticate calls /shop/brandList with the given credentials
func (c *DouyinConnector) Authenticate(ctx context.Context, creds integration.Credentials) bool {
	dy, ok := creds.(*integration.DouyinCredentials)
	if !ok || dy.Validate() != nil {
		return false
	}
	body, err := c.call(ctx, dy, "/shop/brandList", map[string]any{})
	if err != nil {
		c.logger.Warn("douyin authentication failed", zap.Error(err))
		return false
	}
	var resp DouyinResponse
	return json.Unmarshal(body, &resp) == nil && resp.IsSuccess()
}

// FetchOrders pages through /order/searchList by update time.
// Douyin pages are 0-indexed.
func (c *DouyinConnector) FetchOrders(ctx context.Context, since *time.Time) ([]integration.RawOrder, error) {
	pageSize := c.client.Settings().PageSize
	end := c.now()
	start := end.AddDate(0, 0, -30)
	if since != nil {
		start = *since
	}

	orders := make([]integration.RawOrder, 0)
	for page := 0; ; page++ {
		params := map[string]any{
			"update_time_start": start.Unix(),
			"update_time_end":   end.Unix(),
			"page":              page,
			"size":              pageSize,
			"order_by":          "update_time",
			"order_asc":         true,
		}

		body, err := c.call(ctx, c.creds, "/order/searchList", params)
		if err != nil {
			return nil, err
		}

		var resp DouyinOrderListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", integration.ErrPlatformInvalidResponse, err)
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, fmt.Errorf("%w: missing data", integration.ErrPlatformInvalidResponse)
		}
		if len(resp.Data.List) == 0 {
			break
		}

		for _, o := range resp.Data.List {
			orders = append(orders, integration.RawOrder{Platform: integration.PlatformCodeDouyin, Payload: o})
		}
		if capped, hit := capOrders(orders); hit {
			c.logger.Warn("order fetch cap reached", zap.Int("cap", integration.MaxOrdersPerFetch))
			return capped, nil
		}
		if int64((page+1)*pageSize) >= resp.Data.Total {
			break
		}
	}

	return orders, nil
}

// UpdateOrderStatus supports confirmed and shipped (merchant self-delivery)
func (c *DouyinConnector) UpdateOrderStatus(ctx context.Context, externalID string, status integration.OrderStatus) bool {
	op, ok := douyinStatusOperations[status]
	if !ok || externalID == "" {
		return false
	}
	params := map[string]any{"order_id": externalID}
	if status == integration.OrderStatusShipped {
		params["company_code"] = "self"
	}

	body, err := c.call(ctx, c.creds, op, params)
	if err != nil {
		c.logger.Warn("douyin status update failed", zap.String("external_id", externalID), zap.Error(err))
		return false
	}
	var resp DouyinResponse
	return json.Unmarshal(body, &resp) == nil && resp.IsSuccess()
}

// VerifyWebhookSignature checks hex HMAC-SHA256(secret, app_key + payload)
func (c *DouyinConnector) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return verifyHexHMAC(payload, signature, secret, c.creds.AppKey, false)
}

// ConfigurationSchema describes the Douyin credential fields
func (c *DouyinConnector) ConfigurationSchema() integration.ConfigSchema {
	return integration.ConfigSchema{
		Platform:    integration.PlatformCodeDouyin,
		DisplayName: integration.PlatformCodeDouyin.DisplayName(),
		Fields: []integration.ConfigField{
			{Name: "app_key", Label: "App Key", Type: integration.FieldTypeNumeric, Required: true, Rule: "numeric_id"},
			{Name: "app_secret", Label: "App Secret", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "min=32"},
			{Name: "access_token", Label: "Access Token", Type: integration.FieldTypeSecret, Required: true, Secret: true, Rule: "token_prefix=act.,min=20"},
			{Name: "shop_id", Label: "Shop ID", Type: integration.FieldTypeNumeric, Required: true, Rule: "numeric_id"},
			{Name: "webhook_secret", Label: "Webhook Secret", Type: integration.FieldTypeSecret, Secret: true, Rule: "min=16"},
			integration.SyncIntervalField,
		},
	}
}

// douyinSign computes hex HMAC-SHA256 over secret + method + param_json + timestamp + v + secret
func douyinSign(secret, method, paramJSON, timestamp, version string) string {
	var builder strings.Builder
	builder.WriteString(secret)
	builder.WriteString(method)
	builder.WriteString(paramJSON)
	builder.WriteString(timestamp)
	builder.WriteString(version)
	builder.WriteString(secret)
	return fmt.Sprintf("%x", hmacSHA256([]byte(secret), []byte(builder.String())))
}

// call signs and posts a JSON request to the given API path
func (c *DouyinConnector) call(ctx context.Context, creds *integration.DouyinCredentials, path string, params map[string]any) ([]byte, error) {
	params["shop_id"] = creds.ShopID
	paramJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("douyin: failed to marshal params: %w", err)
	}

	method := strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", ".")
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	version := "2"

	requestBody := map[string]any{
		"app_key":      creds.AppKey,
		"access_token": creds.AccessToken,
		"method":       method,
		"param_json":   string(paramJSON),
		"timestamp":    timestamp,
		"v":            version,
		"sign":         douyinSign(creds.AppSecret, method, string(paramJSON), timestamp, version),
		"sign_method":  "hmac-sha256",
	}
	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("douyin: failed to marshal request: %w", err)
	}

	base := strings.TrimSuffix(c.client.Settings().BaseURL, "/")
	return c.client.Do(ctx, http.MethodPost, base+path, "application/json", bodyBytes)
}

// Ensure DouyinConnector implements PlatformConnector interface
var _ integration.PlatformConnector = (*DouyinConnector)(nil)
