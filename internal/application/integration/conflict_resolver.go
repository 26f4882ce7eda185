package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/ordersync/backend/internal/domain/integration"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	amountConflictPercent = decimal.NewFromInt(5)
	amountConflictFloor   = decimal.NewFromInt(1)
	amountHighPercent     = decimal.NewFromInt(20)
	amountHighAbsolute    = decimal.NewFromInt(100)
	amountMediumPercent   = decimal.NewFromInt(10)
	amountMediumAbsolute  = decimal.NewFromInt(50)
	hundred               = decimal.NewFromInt(100)
)

const (
	nameSimilarityThreshold = 0.8
	dateConflictThreshold   = 24 * time.Hour
)

// exclusiveStatusPairs are status combinations that cannot both be true of one order
var exclusiveStatusPairs = map[[2]integration.OrderStatus]struct{}{
	{integration.OrderStatusCancelled, integration.OrderStatusDelivered}: {},
	{integration.OrderStatusCancelled, integration.OrderStatusShipped}:   {},
	{integration.OrderStatusRefunded, integration.OrderStatusPending}:    {},
	{integration.OrderStatusRefunded, integration.OrderStatusConfirmed}:  {},
}

func isExclusivePair(a, b integration.OrderStatus) bool {
	_, ok := exclusiveStatusPairs[[2]integration.OrderStatus{a, b}]
	if !ok {
		_, ok = exclusiveStatusPairs[[2]integration.OrderStatus{b, a}]
	}
	return ok
}

// ConflictResolver detects field-level disagreements between a primary order and a
// candidate duplicate and resolves them automatically where its review rules allow.
type ConflictResolver struct {
	rules  []integration.ReviewRule
	logger *zap.Logger
}

// ResolverOption configures a ConflictResolver
type ResolverOption func(*ConflictResolver)

// WithReviewRules replaces the default manual-review rules
func WithReviewRules(rules []integration.ReviewRule) ResolverOption {
	return func(r *ConflictResolver) {
		r.rules = rules
	}
}

// NewConflictResolver creates a resolver using DefaultReviewRules unless overridden
func NewConflictResolver(logger *zap.Logger, opts ...ResolverOption) *ConflictResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ConflictResolver{
		rules:  integration.DefaultReviewRules(),
		logger: logger.Named("conflict_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

// DetectConflicts compares the fields of two candidate duplicates
func (r *ConflictResolver) DetectConflicts(primary, secondary *integration.CanonicalOrder) map[integration.ConflictType]*integration.ConflictRecord {
	conflicts := make(map[integration.ConflictType]*integration.ConflictRecord)

	if rec := statusConflict(primary.Status, secondary.Status); rec != nil {
		conflicts[integration.ConflictTypeStatus] = rec
	}
	if amountConflicts(primary.TotalAmount, secondary.TotalAmount) {
		conflicts[integration.ConflictTypeAmount] = AssessAmount(primary.TotalAmount, secondary.TotalAmount)
	}

	if primary.CustomerName != "" && secondary.CustomerName != "" {
		if sim := nameSimilarity(primary.CustomerName, secondary.CustomerName); sim < nameSimilarityThreshold {
			conflicts[integration.ConflictTypeCustomerName] = &integration.ConflictRecord{
				Type:           integration.ConflictTypeCustomerName,
				PrimaryValue:   primary.CustomerName,
				SecondaryValue: secondary.CustomerName,
				Severity:       integration.SeverityMedium,
				Similarity:     sim,
			}
		}
	}
	if primary.CustomerEmail != "" && secondary.CustomerEmail != "" &&
		!strings.EqualFold(strings.TrimSpace(primary.CustomerEmail), strings.TrimSpace(secondary.CustomerEmail)) {
		conflicts[integration.ConflictTypeCustomerEmail] = &integration.ConflictRecord{
			Type:           integration.ConflictTypeCustomerEmail,
			PrimaryValue:   primary.CustomerEmail,
			SecondaryValue: secondary.CustomerEmail,
			Severity:       integration.SeverityHigh,
		}
	}
	if pp, sp := phoneDigits(primary.CustomerPhone), phoneDigits(secondary.CustomerPhone); pp != "" && sp != "" && pp != sp {
		conflicts[integration.ConflictTypeCustomerPhone] = &integration.ConflictRecord{
			Type:           integration.ConflictTypeCustomerPhone,
			PrimaryValue:   primary.CustomerPhone,
			SecondaryValue: secondary.CustomerPhone,
			Severity:       integration.SeverityMedium,
		}
	}

	diff := primary.OrderDate.Sub(secondary.OrderDate)
	if diff < 0 {
		diff = -diff
	}
	if diff > dateConflictThreshold {
		conflicts[integration.ConflictTypeDate] = &integration.ConflictRecord{
			Type:           integration.ConflictTypeDate,
			PrimaryValue:   formatDate(primary.OrderDate),
			SecondaryValue: formatDate(secondary.OrderDate),
			Severity:       integration.SeverityLow,
		}
	}

	return conflicts
}

// statusConflict flags two statuses when neither can progress to the other
func statusConflict(a, b integration.OrderStatus) *integration.ConflictRecord {
	if a == b || integration.IsProgressionOf(a, b) {
		return nil
	}
	severity := integration.SeverityMedium
	if isExclusivePair(a, b) {
		severity = integration.SeverityHigh
	}
	return &integration.ConflictRecord{
		Type:           integration.ConflictTypeStatus,
		PrimaryValue:   string(a),
		SecondaryValue: string(b),
		Severity:       severity,
	}
}

// AssessAmount measures the disagreement of two amounts relative to the primary
// and grades its severity, whether or not it crosses the conflict threshold.
// AmountPercent is rounded for display; thresholds use the exact ratio.
func AssessAmount(primary, secondary decimal.Decimal) *integration.ConflictRecord {
	diff, percent := amountDelta(primary, secondary)

	severity := integration.SeverityLow
	switch {
	case percent.GreaterThan(amountHighPercent) || diff.GreaterThan(amountHighAbsolute):
		severity = integration.SeverityHigh
	case percent.GreaterThan(amountMediumPercent) || diff.GreaterThan(amountMediumAbsolute):
		severity = integration.SeverityMedium
	}

	return &integration.ConflictRecord{
		Type:           integration.ConflictTypeAmount,
		PrimaryValue:   primary.String(),
		SecondaryValue: secondary.String(),
		Severity:       severity,
		AmountDiff:     diff,
		AmountPercent:  percent.Round(2),
	}
}

// amountDelta returns the absolute difference and its unrounded share of primary in percent
func amountDelta(primary, secondary decimal.Decimal) (diff, percent decimal.Decimal) {
	diff = primary.Sub(secondary).Abs()
	switch {
	case primary.IsPositive():
		percent = diff.Div(primary).Mul(hundred)
	case diff.IsPositive():
		percent = hundred
	}
	return diff, percent
}

// amountConflicts reports whether the difference exceeds both the relative
// threshold and the absolute floor
func amountConflicts(primary, secondary decimal.Decimal) bool {
	diff, percent := amountDelta(primary, secondary)
	return percent.GreaterThan(amountConflictPercent) && diff.GreaterThan(amountConflictFloor)
}

// AmountsCompatible reports whether two amounts are close enough to describe one order
func AmountsCompatible(a, b decimal.Decimal) bool {
	return !amountConflicts(a, b)
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// ResolveConflicts decides every conflict of one pair. A conflict matched by a review
// rule is left for manual review; all others resolve automatically.
func (r *ConflictResolver) ResolveConflicts(
	primary, secondary *integration.CanonicalOrder,
	conflicts map[integration.ConflictType]*integration.ConflictRecord,
) *integration.ResolutionResult {
	result := &integration.ResolutionResult{
		Success:     true,
		Resolutions: make(map[integration.ConflictType]*integration.ConflictRecord, len(conflicts)),
	}

	for _, t := range integration.ConflictTypes {
		rec, ok := conflicts[t]
		if !ok {
			continue
		}
		if rule, review := r.needsReview(rec); review {
			rec.Action = integration.ResolutionManualReview
			rec.Reason = rule
			result.Success = false
		} else {
			rec.ResolvedValue, rec.Reason = resolveValue(primary, secondary, rec)
			rec.Action = integration.ResolutionAutoResolved
		}
		result.Resolutions[t] = rec

		r.logger.Info("conflict decided",
			zap.String("primary", primary.Key()),
			zap.String("secondary", secondary.Key()),
			zap.String("type", string(rec.Type)),
			zap.String("severity", string(rec.Severity)),
			zap.String("action", string(rec.Action)),
			zap.String("resolved_value", rec.ResolvedValue),
		)
	}
	return result
}

// needsReview evaluates the review rules. A broken rule sends the conflict to review.
func (r *ConflictResolver) needsReview(rec *integration.ConflictRecord) (string, bool) {
	for _, rule := range r.rules {
		matched, err := rule.Matches(rec)
		if err != nil {
			r.logger.Error("review rule evaluation failed", zap.String("rule", rule.Name), zap.Error(err))
			return rule.Name, true
		}
		if matched {
			return rule.Name, true
		}
	}
	return "", false
}

func resolveValue(primary, secondary *integration.CanonicalOrder, rec *integration.ConflictRecord) (string, string) {
	switch rec.Type {
	case integration.ConflictTypeStatus:
		if secondary.Status.Rank() > primary.Status.Rank() {
			return string(secondary.Status), "higher lifecycle rank"
		}
		return string(primary.Status), "higher lifecycle rank"
	case integration.ConflictTypeAmount:
		if secondary.TotalAmount.GreaterThan(primary.TotalAmount) {
			return secondary.TotalAmount.String(), "higher amount"
		}
		return primary.TotalAmount.String(), "higher amount"
	case integration.ConflictTypeCustomerName:
		return preferPrimary(primary.CustomerName, secondary.CustomerName), "primary value preferred"
	case integration.ConflictTypeCustomerEmail:
		return preferPrimary(primary.CustomerEmail, secondary.CustomerEmail), "primary value preferred"
	case integration.ConflictTypeCustomerPhone:
		return preferPrimary(primary.CustomerPhone, secondary.CustomerPhone), "primary value preferred"
	case integration.ConflictTypeDate:
		if secondary.OrderDate.Before(primary.OrderDate) {
			return formatDate(secondary.OrderDate), "earlier date"
		}
		return formatDate(primary.OrderDate), "earlier date"
	default:
		return rec.PrimaryValue, "unknown conflict type"
	}
}

func preferPrimary(primary, secondary string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return secondary
}

// ApplyResolutions writes the auto-resolved values onto the primary order
func ApplyResolutions(primary *integration.CanonicalOrder, result *integration.ResolutionResult) error {
	for _, t := range integration.ConflictTypes {
		rec, ok := result.Resolutions[t]
		if !ok || rec.Action != integration.ResolutionAutoResolved {
			continue
		}
		switch t {
		case integration.ConflictTypeStatus:
			primary.Status = integration.OrderStatus(rec.ResolvedValue)
		case integration.ConflictTypeAmount:
			amount, err := decimal.NewFromString(rec.ResolvedValue)
			if err != nil {
				return fmt.Errorf("resolved amount %q: %w", rec.ResolvedValue, err)
			}
			primary.TotalAmount = amount
		case integration.ConflictTypeCustomerName:
			primary.CustomerName = rec.ResolvedValue
		case integration.ConflictTypeCustomerEmail:
			primary.CustomerEmail = rec.ResolvedValue
		case integration.ConflictTypeCustomerPhone:
			primary.CustomerPhone = rec.ResolvedValue
		case integration.ConflictTypeDate:
			date, err := time.Parse(time.RFC3339Nano, rec.ResolvedValue)
			if err != nil {
				return fmt.Errorf("resolved date %q: %w", rec.ResolvedValue, err)
			}
			primary.OrderDate = date
		}
	}
	return nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
