package ecommerce

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Taobao
// ---------------------------------------------------------------------------

func TestTaobaoConnector_FetchOrdersPaginates(t *testing.T) {
	var pages atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		assert.Equal(t, signMD5(testSecret, params), params["sign"])
		assert.Equal(t, "taobao.trades.sold.increment.get", params["method"])
		assert.Equal(t, "2024-06-01 16:00:00", params["start_modified"])

		page := pages.Add(1)
		hasNext := page == 1
		fmt.Fprintf(w, `{"trades_sold_increment_get_response":{"total_results":3,"has_next":%t,
			"trades":{"trade":[{"tid":%d,"status":"WAIT_SELLER_SEND_GOODS"},{"tid":%d,"status":"TRADE_FINISHED"}]}}}`,
			hasNext, page*10+1, page*10+2)
	})
	connector, err := NewTaobaoConnector(env.client(t, integration.PlatformCodeTaobao), taobaoCreds(), nil)
	require.NoError(t, err)

	since := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	orders, err := connector.FetchOrders(context.Background(), &since)
	require.NoError(t, err)

	assert.Len(t, orders, 4)
	assert.Equal(t, int32(2), pages.Load())
	for _, o := range orders {
		assert.Equal(t, integration.PlatformCodeTaobao, o.Platform)
	}
	var trade integration.TaobaoTradePayload
	require.NoError(t, json.Unmarshal(orders[2].Payload, &trade))
	assert.Equal(t, int64(21), trade.Tid)
}

func TestTaobaoConnector_FetchOrdersStopsAtCap(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		trades := make([]string, 400)
		for i := range trades {
			trades[i] = fmt.Sprintf(`{"tid":%d}`, i+1)
		}
		fmt.Fprintf(w, `{"trades_sold_get_response":{"has_next":true,"trades":{"trade":[%s]}}}`,
			strings.Join(trades, ","))
	})
	env.settings.PageSize = 400
	connector, err := NewTaobaoConnector(env.client(t, integration.PlatformCodeTaobao), taobaoCreds(), nil)
	require.NoError(t, err)

	orders, err := connector.FetchOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, integration.MaxOrdersPerFetch)
}

func TestTaobaoConnector_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"invalid session", `{"error_response":{"code":27,"msg":"Invalid session"}}`, integration.ErrAuthentication},
		{"call limited", `{"error_response":{"code":7,"msg":"App Call Limited","sub_code":"isv.call-limited"}}`, integration.ErrPlatformRateLimited},
		{"platform error", `{"error_response":{"code":15,"msg":"Remote service error","sub_code":"isp.top-remote-connection-timeout"}}`, integration.ErrPlatformUnavailable},
		{"malformed", `not json`, integration.ErrPlatformInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			connector, err := NewTaobaoConnector(env.client(t, integration.PlatformCodeTaobao), taobaoCreds(), nil)
			require.NoError(t, err)

			_, err = connector.FetchOrders(context.Background(), nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTaobaoConnector_Authenticate(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		if params["session"] == taobaoCreds().SessionKey {
			_, _ = io.WriteString(w, `{"user_seller_get_response":{"user":{"nick":"shop"}}}`)
			return
		}
		_, _ = io.WriteString(w, `{"error_response":{"code":27,"msg":"Invalid session"}}`)
	})
	connector, err := NewTaobaoConnector(env.client(t, integration.PlatformCodeTaobao), taobaoCreds(), nil)
	require.NoError(t, err)

	assert.True(t, connector.Authenticate(context.Background(), taobaoCreds()))

	wrong := taobaoCreds()
	wrong.SessionKey = "6100e0000000000000000"
	assert.False(t, connector.Authenticate(context.Background(), wrong))
	assert.False(t, connector.Authenticate(context.Background(), jdCreds()))
	assert.False(t, connector.Authenticate(context.Background(), &integration.TaobaoCredentials{}))
}

func TestTaobaoConnector_UpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		switch params["method"] {
		case "taobao.logistics.dummy.send":
			_, _ = io.WriteString(w, `{"logistics_dummy_send_response":{"shipping":{"is_success":true}}}`)
		case "taobao.trade.close":
			_, _ = io.WriteString(w, `{"trade_close_response":{"trade":{"tid":1001}}}`)
		}
	})
	connector, err := NewTaobaoConnector(env.client(t, integration.PlatformCodeTaobao), taobaoCreds(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, connector.UpdateOrderStatus(ctx, "1001", integration.OrderStatusShipped))
	assert.True(t, connector.UpdateOrderStatus(ctx, "1001", integration.OrderStatusCancelled))
	assert.False(t, connector.UpdateOrderStatus(ctx, "1001", integration.OrderStatusDelivered))
	assert.False(t, connector.UpdateOrderStatus(ctx, "not-numeric", integration.OrderStatusShipped))
}

// ---------------------------------------------------------------------------
// JD
// ---------------------------------------------------------------------------

func TestJDConnector_FetchOrdersPaginatesByTotal(t *testing.T) {
	var pages atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		assert.Equal(t, signHMACSHA256(testSecret, params), params["sign"])
		assert.Equal(t, "jingdong.pop.order.search", params["method"])

		var business map[string]any
		require.NoError(t, json.Unmarshal([]byte(params["360buy_param_json"]), &business))
		page := int(business["page"].(float64))
		pages.Add(1)

		list := `[{"orderId":"J1"},{"orderId":"J2"}]`
		if page == 2 {
			list = `[{"orderId":"J3"}]`
		}
		fmt.Fprintf(w, `{"jingdong_pop_order_search_responce":{"code":"0","searchorderinfo_result":{
			"apiResult":{"success":true},"orderTotal":3,"orderInfoList":%s}}}`, list)
	})
	connector, err := NewJDConnector(env.client(t, integration.PlatformCodeJD), jdCreds(), nil)
	require.NoError(t, err)

	orders, err := connector.FetchOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	assert.Equal(t, int32(2), pages.Load())
}

func TestJDConnector_BusinessFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jingdong_pop_order_search_responce":{"code":"0","searchorderinfo_result":{
			"apiResult":{"success":false,"englishErrCode":"param error","chineseErr":"参数错误"}}}}`)
	})
	connector, err := NewJDConnector(env.client(t, integration.PlatformCodeJD), jdCreds(), nil)
	require.NoError(t, err)

	_, err = connector.FetchOrders(context.Background(), nil)
	assert.ErrorIs(t, err, integration.ErrPlatformRequestFailed)
}

func TestJDConnector_ExpiredToken(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error_response":{"code":"19","en_desc":"Invalid access_token"}}`)
	})
	connector, err := NewJDConnector(env.client(t, integration.PlatformCodeJD), jdCreds(), nil)
	require.NoError(t, err)

	_, err = connector.FetchOrders(context.Background(), nil)
	assert.ErrorIs(t, err, integration.ErrAuthentication)
	assert.False(t, connector.Authenticate(context.Background(), jdCreds()))
}

func TestJDConnector_UpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"jingdong_pop_order_shipment_responce":{"code":"0","sopjosshipment_result":{"success":true}}}`)
	})
	connector, err := NewJDConnector(env.client(t, integration.PlatformCodeJD), jdCreds(), nil)
	require.NoError(t, err)

	assert.True(t, connector.UpdateOrderStatus(context.Background(), "J1", integration.OrderStatusShipped))
	assert.False(t, connector.UpdateOrderStatus(context.Background(), "J1", integration.OrderStatusCancelled))
}

// ---------------------------------------------------------------------------
// Douyin
// ---------------------------------------------------------------------------

func TestDouyinConnector_FetchOrdersZeroIndexedPages(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/order/searchList"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "order.searchList", req["method"])

		var params map[string]any
		require.NoError(t, json.Unmarshal([]byte(req["param_json"].(string)), &params))
		assert.Equal(t, douyinCreds().ShopID, params["shop_id"])
		want := douyinSign(testSecret, "order.searchList", req["param_json"].(string), req["timestamp"].(string), "2")
		assert.Equal(t, want, req["sign"])

		page := int(params["page"].(float64))
		mu.Lock()
		seen = append(seen, page)
		mu.Unlock()
		list := `[{"order_id":"D1"},{"order_id":"D2"}]`
		if page > 0 {
			list = `[{"order_id":"D3"}]`
		}
		fmt.Fprintf(w, `{"err_no":0,"message":"success","data":{"total":3,"list":%s}}`, list)
	})
	connector, err := NewDouyinConnector(env.client(t, integration.PlatformCodeDouyin), douyinCreds(), nil)
	require.NoError(t, err)

	orders, err := connector.FetchOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, seen)
}

func TestDouyinConnector_ErrorCodes(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"err_no":50002,"message":"too frequent","log_id":"abc"}`)
	})
	connector, err := NewDouyinConnector(env.client(t, integration.PlatformCodeDouyin), douyinCreds(), nil)
	require.NoError(t, err)

	_, err = connector.FetchOrders(context.Background(), nil)
	assert.ErrorIs(t, err, integration.ErrPlatformRateLimited)
}

func TestDouyinConnector_UpdateOrderStatus(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"err_no":0,"message":"success"}`)
	})
	connector, err := NewDouyinConnector(env.client(t, integration.PlatformCodeDouyin), douyinCreds(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, connector.UpdateOrderStatus(ctx, "D1", integration.OrderStatusConfirmed))
	assert.True(t, connector.UpdateOrderStatus(ctx, "D1", integration.OrderStatusShipped))
	assert.False(t, connector.UpdateOrderStatus(ctx, "D1", integration.OrderStatusRefunded))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/order/orderConfirm", "/order/logisticsAdd"}, paths)
}

// ---------------------------------------------------------------------------
// PDD
// ---------------------------------------------------------------------------

func TestPDDConnector_FetchOrdersFollowsCursor(t *testing.T) {
	var (
		mu      sync.Mutex
		cursors []string
	)
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		assert.Equal(t, signHMACSHA256(testSecret, params), params["sign"])
		assert.Equal(t, "pdd.order.list.get", params["type"])
		mu.Lock()
		cursors = append(cursors, params["cursor"])
		mu.Unlock()

		if params["cursor"] == "" {
			_, _ = io.WriteString(w, `{"order_list_get_response":{"has_next":true,"next_cursor":"c2",
				"order_list":[{"order_sn":"P1"},{"order_sn":"P2"}]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"order_list_get_response":{"has_next":false,"order_list":[{"order_sn":"P3"}]}}`)
	})
	connector, err := NewPDDConnector(env.client(t, integration.PlatformCodePDD), pddCreds(), nil)
	require.NoError(t, err)

	orders, err := connector.FetchOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "c2"}, cursors)
}

func TestPDDConnector_RepeatedCursorStops(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"order_list_get_response":{"has_next":true,"next_cursor":"same",
			"order_list":[{"order_sn":"P1"}]}}`)
	})
	connector, err := NewPDDConnector(env.client(t, integration.PlatformCodePDD), pddCreds(), nil)
	require.NoError(t, err)

	orders, err := connector.FetchOrders(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPDDConnector_AuthenticateAndErrors(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		params := paramsOf(formValues(t, r))
		if params["type"] == "pdd.mall.info.get" {
			_, _ = io.WriteString(w, `{"mall_info_get_response":{"mall_id":778899,"mall_name":"shop"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"error_response":{"error_code":10019,"error_msg":"access_token expired"}}`)
	})
	connector, err := NewPDDConnector(env.client(t, integration.PlatformCodePDD), pddCreds(), nil)
	require.NoError(t, err)

	assert.True(t, connector.Authenticate(context.Background(), pddCreds()))
	_, err = connector.FetchOrders(context.Background(), nil)
	assert.ErrorIs(t, err, integration.ErrAuthentication)
}

// ---------------------------------------------------------------------------
// Webhook signatures and schemas
// ---------------------------------------------------------------------------

func hmacOf(secret, data string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return h.Sum(nil)
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"order_id":"1001","status":"shipped"}`)
	sum := hmacOf(testWebhook, string(payload))
	douyinSum := hmacOf(testWebhook, douyinCreds().AppKey+string(payload))

	taobao := &TaobaoConnector{creds: taobaoCreds()}
	jd := &JDConnector{creds: jdCreds()}
	douyin := &DouyinConnector{creds: douyinCreds()}
	pdd := &PDDConnector{creds: pddCreds()}

	tests := []struct {
		name      string
		connector integration.PlatformConnector
		signature string
		want      bool
	}{
		{"taobao base64", taobao, base64.StdEncoding.EncodeToString(sum), true},
		{"taobao hex rejected", taobao, hex.EncodeToString(sum), false},
		{"jd upper hex", jd, strings.ToUpper(hex.EncodeToString(sum)), true},
		{"jd lower hex rejected", jd, hex.EncodeToString(sum), false},
		{"douyin app key prefix", douyin, hex.EncodeToString(douyinSum), true},
		{"douyin without prefix rejected", douyin, hex.EncodeToString(sum), false},
		{"pdd sha256 prefix", pdd, "sha256=" + hex.EncodeToString(sum), true},
		{"pdd missing prefix rejected", pdd, hex.EncodeToString(sum), false},
		{"empty signature", taobao, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.connector.VerifyWebhookSignature(payload, tt.signature, testWebhook))
		})
	}

	assert.False(t, taobao.VerifyWebhookSignature(payload, base64.StdEncoding.EncodeToString(sum), ""))
	assert.False(t, taobao.VerifyWebhookSignature([]byte("tampered"), base64.StdEncoding.EncodeToString(sum), testWebhook))
}

func TestSchemas(t *testing.T) {
	schemas := Schemas()
	require.Len(t, schemas, 4)

	for i, platform := range integration.AllPlatforms {
		s := schemas[i]
		assert.Equal(t, platform, s.Platform)
		assert.NotEmpty(t, s.RequiredFields())

		last := s.Fields[len(s.Fields)-1]
		assert.Equal(t, "sync_interval", last.Name)
		for _, f := range s.Fields {
			if f.Type == integration.FieldTypeSecret {
				assert.True(t, f.Secret, "%s.%s", platform, f.Name)
			}
		}
	}
	assert.Contains(t, schemas[3].RequiredFields(), "mall_id")
}

func TestSortedConcatSkipsSign(t *testing.T) {
	params := map[string]string{"b": "2", "a": "1", "sign": "x"}
	assert.Equal(t, "a1b2", sortedConcat(params))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(hmacOf("s", "a1b2"))), signHMACSHA256("s", params))
}
