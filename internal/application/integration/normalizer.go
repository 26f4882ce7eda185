package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultNormalizeWorkers bounds NormalizeBatch concurrency when none is configured
const DefaultNormalizeWorkers = 4

// defaultCurrency is used by platforms whose payloads carry no currency
const defaultCurrency = "CNY"

// ---------------------------------------------------------------------------
// Status tables
// ---------------------------------------------------------------------------

var taobaoStatuses = map[string]integration.OrderStatus{
	"TRADE_NO_CREATE_PAY":      integration.OrderStatusPending,
	"WAIT_BUYER_PAY":           integration.OrderStatusPending,
	"WAIT_SELLER_SEND_GOODS":   integration.OrderStatusConfirmed,
	"SELLER_CONSIGNED_PART":    integration.OrderStatusProcessing,
	"WAIT_BUYER_CONFIRM_GOODS": integration.OrderStatusShipped,
	"TRADE_BUYER_SIGNED":       integration.OrderStatusDelivered,
	"TRADE_FINISHED":           integration.OrderStatusDelivered,
	"TRADE_CLOSED":             integration.OrderStatusRefunded,
	"TRADE_CLOSED_BY_TAOBAO":   integration.OrderStatusCancelled,
}

var jdStatuses = map[string]integration.OrderStatus{
	"NOT_PAY":                      integration.OrderStatusPending,
	"WAIT_PAY":                     integration.OrderStatusPending,
	"WAIT_SELLER_STOCK_OUT":        integration.OrderStatusConfirmed,
	"LOCKED":                       integration.OrderStatusProcessing,
	"POP_ORDER_PAUSE":              integration.OrderStatusProcessing,
	"WAIT_SEND_CODE":               integration.OrderStatusProcessing,
	"SEND_TO_DISTRIBUTION_CENER":   integration.OrderStatusShipped,
	"DISTRIBUTION_CENTER_RECEIVED": integration.OrderStatusShipped,
	"WAIT_GOODS_RECEIVE_CONFIRM":   integration.OrderStatusShipped,
	"RECEIPTS_CONFIRM":             integration.OrderStatusDelivered,
	"FINISHED_L":                   integration.OrderStatusDelivered,
	"TRADE_CANCELED":               integration.OrderStatusCancelled,
}

var douyinStatuses = map[int]integration.OrderStatus{
	integration.DouyinOrderStatusPendingPayment:  integration.OrderStatusPending,
	integration.DouyinOrderStatusPaid:            integration.OrderStatusConfirmed,
	integration.DouyinOrderStatusPendingShipment: integration.OrderStatusConfirmed,
	integration.DouyinOrderStatusPartialShipped:  integration.OrderStatusProcessing,
	integration.DouyinOrderStatusShipped:         integration.OrderStatusShipped,
	integration.DouyinOrderStatusCompleted:       integration.OrderStatusDelivered,
	integration.DouyinOrderStatusCancelled:       integration.OrderStatusCancelled,
	integration.DouyinOrderStatusRefunding:       integration.OrderStatusRefunded,
	integration.DouyinOrderStatusRefunded:        integration.OrderStatusRefunded,
}

var pddStatuses = map[int]integration.OrderStatus{
	integration.PDDOrderStatusUnpaid:       integration.OrderStatusPending,
	integration.PDDOrderStatusAwaitingShip: integration.OrderStatusConfirmed,
	integration.PDDOrderStatusShipped:      integration.OrderStatusShipped,
	integration.PDDOrderStatusReceived:     integration.OrderStatusDelivered,
	integration.PDDOrderStatusCancelled:    integration.OrderStatusCancelled,
}

// ---------------------------------------------------------------------------
// OrderNormalizer
// ---------------------------------------------------------------------------

// NormalizationFailure records one raw order that could not be normalized
type NormalizationFailure struct {
	Index int
	Err   error
}

// OrderNormalizer converts raw platform payloads into canonical orders.
// It holds no mutable state and is safe for concurrent use.
type OrderNormalizer struct {
	workers int
	logger  *zap.Logger
}

// NewOrderNormalizer creates a normalizer running at most workers items in parallel
func NewOrderNormalizer(workers int, logger *zap.Logger) *OrderNormalizer {
	if workers <= 0 {
		workers = DefaultNormalizeWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderNormalizer{workers: workers, logger: logger.Named("normalizer")}
}

// Normalize maps one raw payload to a validated canonical order.
// Every failure wraps ErrNormalization.
func (n *OrderNormalizer) Normalize(raw integration.RawOrder) (*integration.CanonicalOrder, error) {
	var (
		order *integration.CanonicalOrder
		err   error
	)
	switch raw.Platform {
	case integration.PlatformCodeTaobao:
		order, err = normalizeTaobao(raw.Payload)
	case integration.PlatformCodeJD:
		order, err = normalizeJD(raw.Payload)
	case integration.PlatformCodeDouyin:
		order, err = normalizeDouyin(raw.Payload)
	case integration.PlatformCodePDD:
		order, err = normalizePDD(raw.Payload)
	default:
		return nil, fmt.Errorf("%w: unsupported platform %q", integration.ErrNormalization, raw.Platform)
	}
	if err != nil {
		return nil, err
	}

	order.Platform = raw.Platform
	order.PlatformData = append(json.RawMessage(nil), raw.Payload...)
	order.DedupStatus = integration.DedupStatusUnique
	if err := order.Validate(); err != nil {
		return nil, err
	}
	return order, nil
}

// NormalizeBatch normalizes raws concurrently. The returned orders keep input order
// with failed items left out; each failure carries the index of its raw order.
func (n *OrderNormalizer) NormalizeBatch(ctx context.Context, raws []integration.RawOrder) ([]*integration.CanonicalOrder, []NormalizationFailure) {
	results := make([]*integration.CanonicalOrder, len(raws))
	errs := make([]error, len(raws))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = n.Normalize(raws[i])
			return nil
		})
	}
	_ = g.Wait()

	orders := make([]*integration.CanonicalOrder, 0, len(raws))
	var failures []NormalizationFailure
	for i := range raws {
		if errs[i] != nil {
			failures = append(failures, NormalizationFailure{Index: i, Err: errs[i]})
			n.logger.Warn("order normalization failed",
				zap.String("platform", string(raws[i].Platform)),
				zap.Int("index", i),
				zap.Error(errs[i]),
			)
			continue
		}
		orders = append(orders, results[i])
	}
	return orders, failures
}

// ---------------------------------------------------------------------------
// Per-platform extraction
// ---------------------------------------------------------------------------

func normalizeTaobao(payload json.RawMessage) (*integration.CanonicalOrder, error) {
	var p integration.TaobaoTradePayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Tid <= 0 {
		return nil, fmt.Errorf("%w: taobao trade without tid", integration.ErrNormalization)
	}

	status, ok := taobaoStatuses[p.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unknown taobao status %q", integration.ErrNormalization, p.Status)
	}
	amount, err := parseAmount(firstNonEmpty(p.Payment, p.TotalFee))
	if err != nil {
		return nil, err
	}
	created, err := parseLocalTime(p.Created)
	if err != nil {
		return nil, err
	}

	return &integration.CanonicalOrder{
		ExternalID:    strconv.FormatInt(p.Tid, 10),
		CustomerName:  strings.TrimSpace(firstNonEmpty(p.ReceiverName, p.BuyerNick)),
		CustomerEmail: strings.TrimSpace(p.BuyerEmail),
		CustomerPhone: strings.TrimSpace(firstNonEmpty(p.ReceiverMobile, p.ReceiverPhone)),
		TotalAmount:   amount,
		Currency:      defaultCurrency,
		Status:        status,
		OrderDate:     created,
		ShippingAddress: integration.AddressParts{
			Street:  joinWords(p.ReceiverDistrict, p.ReceiverAddress),
			City:    p.ReceiverCity,
			State:   p.ReceiverState,
			Country: p.ReceiverCountry,
			Postal:  p.ReceiverZip,
		}.String(),
		Notes: p.BuyerMemo,
	}, nil
}

func normalizeJD(payload json.RawMessage) (*integration.CanonicalOrder, error) {
	var p integration.JDOrderPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	status, ok := jdStatuses[p.OrderState]
	if !ok {
		return nil, fmt.Errorf("%w: unknown jd status %q", integration.ErrNormalization, p.OrderState)
	}
	amount, err := parseAmount(firstNonEmpty(p.OrderPayment, p.OrderTotalPrice))
	if err != nil {
		return nil, err
	}
	created, err := parseTimestamp(p.OrderStartTime)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	order := &integration.CanonicalOrder{
		ExternalID:      strings.TrimSpace(p.OrderID),
		CustomerName:    strings.TrimSpace(p.Consignee.Fullname),
		CustomerEmail:   strings.TrimSpace(p.Consignee.Email),
		CustomerPhone:   strings.TrimSpace(firstNonEmpty(p.Consignee.Mobile, p.Consignee.Telephone)),
		TotalAmount:     amount,
		Currency:        currency,
		Status:          status,
		OrderDate:       created,
		ShippingAddress: jdAddress(p.Consignee.Address).String(),
		Notes:           p.VenderRemark,
	}
	if p.InvoiceAddress != nil {
		order.BillingAddress = jdAddress(*p.InvoiceAddress).String()
	}
	return order, nil
}

func jdAddress(a integration.JDAddress) integration.AddressParts {
	return integration.AddressParts{
		Street:  joinWords(a.Town, a.Street),
		City:    a.City,
		State:   a.Province,
		Country: a.Country,
		Postal:  a.PostCode,
	}
}

func normalizeDouyin(payload json.RawMessage) (*integration.CanonicalOrder, error) {
	var p integration.DouyinOrderPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	status, ok := douyinStatuses[p.OrderStatus]
	if !ok {
		return nil, fmt.Errorf("%w: unknown douyin status %d", integration.ErrNormalization, p.OrderStatus)
	}
	if p.PayAmount < 0 {
		return nil, fmt.Errorf("%w: negative douyin amount %d", integration.ErrNormalization, p.PayAmount)
	}
	created, err := parseUnix(p.CreateTime)
	if err != nil {
		return nil, err
	}

	return &integration.CanonicalOrder{
		ExternalID:    strings.TrimSpace(p.OrderID),
		CustomerName:  strings.TrimSpace(p.PostReceiver),
		CustomerEmail: strings.TrimSpace(p.BuyerEmail),
		CustomerPhone: strings.TrimSpace(p.PostTel),
		// cents
		TotalAmount: decimal.New(p.PayAmount, -2),
		Currency:    defaultCurrency,
		Status:      status,
		OrderDate:   created,
		ShippingAddress: integration.AddressParts{
			Street: joinWords(p.PostAddr.Town.Name, p.PostAddr.Detail),
			City:   p.PostAddr.City.Name,
			State:  p.PostAddr.Province.Name,
			Postal: p.PostAddr.PostCode,
		}.String(),
		Notes: p.BuyerWords,
	}, nil
}

func normalizePDD(payload json.RawMessage) (*integration.CanonicalOrder, error) {
	var p integration.PDDOrderPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}

	status, ok := pddStatuses[p.OrderStatus]
	if !ok {
		return nil, fmt.Errorf("%w: unknown pdd status %d", integration.ErrNormalization, p.OrderStatus)
	}
	if p.RefundStatus == integration.PDDRefundStatusRefundComplete {
		status = integration.OrderStatusRefunded
	}
	if p.PayAmountMicros < 0 {
		return nil, fmt.Errorf("%w: negative pdd amount %d", integration.ErrNormalization, p.PayAmountMicros)
	}
	created, err := parseUnix(p.CreatedTime)
	if err != nil {
		return nil, err
	}

	order := &integration.CanonicalOrder{
		ExternalID:    strings.TrimSpace(p.OrderSN),
		CustomerName:  strings.TrimSpace(p.ReceiverName),
		CustomerEmail: strings.TrimSpace(p.BuyerEmail),
		CustomerPhone: strings.TrimSpace(p.ReceiverPhone),
		// micro-units
		TotalAmount: decimal.New(p.PayAmountMicros, -6),
		Currency:    defaultCurrency,
		Status:      status,
		OrderDate:   created,
		ShippingAddress: integration.AddressParts{
			Street:  joinWords(p.Town, p.Address),
			City:    p.City,
			State:   p.Province,
			Country: p.Country,
			Postal:  p.PostCode,
		}.String(),
		Notes: p.Remark,
	}
	if p.InvoiceAddress != "" {
		order.BillingAddress = integration.AddressParts{
			Street: joinWords(p.InvoiceRecipient, p.InvoiceAddress),
			City:   p.InvoiceCity,
			State:  p.InvoiceProvince,
			Postal: p.InvoicePostCode,
		}.String()
	}
	return order, nil
}

// ---------------------------------------------------------------------------
// Field helpers
// ---------------------------------------------------------------------------

func decodePayload(payload json.RawMessage, dest any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", integration.ErrNormalization)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", integration.ErrNormalization, err)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: missing amount", integration.ErrNormalization)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", integration.ErrNormalization, s)
	}
	return d, nil
}

// parseLocalTime parses a "2006-01-02 15:04:05" timestamp in Beijing time
func parseLocalTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(integration.TaobaoTimeLayout, strings.TrimSpace(s), integration.BeijingTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid timestamp %q", integration.ErrNormalization, s)
	}
	return t.UTC(), nil
}

// parseTimestamp accepts RFC3339 and falls back to the local router layout
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
		return t.UTC(), nil
	}
	return parseLocalTime(s)
}

func parseUnix(sec int64) (time.Time, error) {
	if sec <= 0 {
		return time.Time{}, fmt.Errorf("%w: invalid unix timestamp %d", integration.ErrNormalization, sec)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func joinWords(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
