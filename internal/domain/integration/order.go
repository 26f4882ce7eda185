package integration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// OrderStatus is the canonical order lifecycle
// ---------------------------------------------------------------------------

// OrderStatus represents the canonical status every platform vocabulary collapses into
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// IsValid returns true if the status is one of the canonical statuses
func (s OrderStatus) IsValid() bool {
	return s.Rank() > 0
}

// Rank returns the lifecycle rank of the status, 0 for unknown values.
// When two duplicates disagree, the status with the higher rank wins.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 1
	case OrderStatusConfirmed:
		return 2
	case OrderStatusProcessing:
		return 3
	case OrderStatusShipped:
		return 4
	case OrderStatusDelivered:
		return 5
	case OrderStatusCancelled:
		return 6
	case OrderStatusRefunded:
		return 7
	default:
		return 0
	}
}

// IsTerminal returns true for statuses that leave the main fulfilment chain
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanProgressTo reports whether next is reachable from s along the lifecycle:
// forward along pending→confirmed→processing→shipped→delivered, any status
// before shipment to cancelled, shipped/delivered/cancelled to refunded.
func (s OrderStatus) CanProgressTo(next OrderStatus) bool {
	if !s.IsValid() || !next.IsValid() || s == next {
		return false
	}
	switch next {
	case OrderStatusCancelled:
		return s == OrderStatusPending || s == OrderStatusConfirmed || s == OrderStatusProcessing
	case OrderStatusRefunded:
		return s == OrderStatusShipped || s == OrderStatusDelivered || s == OrderStatusCancelled
	default:
		return !s.IsTerminal() && next.Rank() > s.Rank()
	}
}

// IsProgressionOf reports whether either status can reach the other.
func IsProgressionOf(a, b OrderStatus) bool {
	return a.CanProgressTo(b) || b.CanProgressTo(a)
}

// ---------------------------------------------------------------------------
// DedupStatus tracks the reconciliation outcome of an order
// ---------------------------------------------------------------------------

// DedupStatus represents the reconciliation outcome of a canonical order
type DedupStatus string

const (
	DedupStatusUnique       DedupStatus = "unique"
	DedupStatusDuplicate    DedupStatus = "duplicate"
	DedupStatusManualReview DedupStatus = "manual_review"
)

// ---------------------------------------------------------------------------
// RawOrder is an unparsed platform payload
// ---------------------------------------------------------------------------

// RawOrder carries one order payload exactly as the platform returned it
type RawOrder struct {
	Platform PlatformCode
	Payload  json.RawMessage
}

// ---------------------------------------------------------------------------
// CanonicalOrder
// ---------------------------------------------------------------------------

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CanonicalOrder is the platform-agnostic representation all connectors normalize into.
// (ExternalID, Platform) identifies the order on its source platform.
type CanonicalOrder struct {
	ExternalID      string
	Platform        PlatformCode
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	TotalAmount     decimal.Decimal
	Currency        string
	Status          OrderStatus
	OrderDate       time.Time
	ShippingAddress string
	BillingAddress  string
	PlatformData    json.RawMessage
	Notes           string
	DedupStatus     DedupStatus
	DuplicateOf     string
}

// Key returns the "PLATFORM:external_id" identity of the order
func (o *CanonicalOrder) Key() string {
	return string(o.Platform) + ":" + o.ExternalID
}

// Validate checks the fields every canonical order must carry
func (o *CanonicalOrder) Validate() error {
	if strings.TrimSpace(o.ExternalID) == "" {
		return fmt.Errorf("%w: external id is required", ErrNormalization)
	}
	if !o.Platform.IsValid() {
		return fmt.Errorf("%w: invalid platform %q", ErrNormalization, o.Platform)
	}
	if strings.TrimSpace(o.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrNormalization)
	}
	if o.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: total amount cannot be negative", ErrNormalization)
	}
	if !currencyPattern.MatchString(o.Currency) {
		return fmt.Errorf("%w: invalid currency %q", ErrNormalization, o.Currency)
	}
	if !o.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrNormalization, o.Status)
	}
	if o.OrderDate.IsZero() {
		return fmt.Errorf("%w: order date is required", ErrNormalization)
	}
	return nil
}

// IsDuplicate returns true once the order has been marked as a duplicate
func (o *CanonicalOrder) IsDuplicate() bool {
	return o.DedupStatus == DedupStatusDuplicate
}

// MarkDuplicateOf flags the order as a duplicate of primary and leaves a back-reference note.
// No data is removed.
func (o *CanonicalOrder) MarkDuplicateOf(primary *CanonicalOrder) {
	o.DedupStatus = DedupStatusDuplicate
	o.DuplicateOf = primary.ExternalID
	o.AppendNote(fmt.Sprintf("duplicate of %s", primary.Key()))
}

// MarkManualReview flags the order for operator review against primary
func (o *CanonicalOrder) MarkManualReview(primary *CanonicalOrder, reason string) {
	o.DedupStatus = DedupStatusManualReview
	o.AppendNote(fmt.Sprintf("manual review against %s: %s", primary.Key(), reason))
}

// AppendNote adds a line to Notes, skipping exact repeats
func (o *CanonicalOrder) AppendNote(note string) {
	if note == "" {
		return
	}
	for _, line := range strings.Split(o.Notes, "\n") {
		if line == note {
			return
		}
	}
	if o.Notes == "" {
		o.Notes = note
		return
	}
	o.Notes += "\n" + note
}

// Clone returns a deep copy of the order
func (o *CanonicalOrder) Clone() *CanonicalOrder {
	c := *o
	if o.PlatformData != nil {
		c.PlatformData = append(json.RawMessage(nil), o.PlatformData...)
	}
	return &c
}

// TrackedFieldsEqual reports whether the fields that decide store/update/skip are unchanged
func (o *CanonicalOrder) TrackedFieldsEqual(other *CanonicalOrder) bool {
	return o.Status == other.Status &&
		o.TotalAmount.Equal(other.TotalAmount) &&
		o.CustomerName == other.CustomerName &&
		o.CustomerEmail == other.CustomerEmail &&
		o.CustomerPhone == other.CustomerPhone &&
		o.ShippingAddress == other.ShippingAddress &&
		o.BillingAddress == other.BillingAddress &&
		o.DedupStatus == other.DedupStatus &&
		o.DuplicateOf == other.DuplicateOf
}

// ---------------------------------------------------------------------------
// Address helpers
// ---------------------------------------------------------------------------

// AddressParts holds the sub-fields platforms split an address into
type AddressParts struct {
	Street  string
	City    string
	State   string
	Country string
	Postal  string
}

// String joins the non-empty parts with ", "
func (a AddressParts) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Street, a.City, a.State, a.Country, a.Postal} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
