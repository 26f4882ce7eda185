package integration

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Conflict types and severities
// ---------------------------------------------------------------------------

// ConflictType names the field two duplicate candidates disagree on
type ConflictType string

const (
	ConflictTypeStatus        ConflictType = "status"
	ConflictTypeAmount        ConflictType = "amount"
	ConflictTypeCustomerName  ConflictType = "customer.name"
	ConflictTypeCustomerEmail ConflictType = "customer.email"
	ConflictTypeCustomerPhone ConflictType = "customer.phone"
	ConflictTypeDate          ConflictType = "date"
)

// ConflictTypes lists every conflict type in evaluation order
var ConflictTypes = []ConflictType{
	ConflictTypeStatus,
	ConflictTypeAmount,
	ConflictTypeCustomerName,
	ConflictTypeCustomerEmail,
	ConflictTypeCustomerPhone,
	ConflictTypeDate,
}

// Severity classifies how automatically a conflict can be resolved
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Level returns an ordinal for comparisons (low=1, medium=2, high=3)
func (s Severity) Level() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// ResolutionAction is what the resolver did with a conflict
type ResolutionAction string

const (
	ResolutionAutoResolved ResolutionAction = "auto_resolved"
	ResolutionManualReview ResolutionAction = "manual_review"
)

// ConflictRecord is a field-level disagreement between a primary and a secondary order.
// It is ephemeral: logged for audit, never persisted.
type ConflictRecord struct {
	Type           ConflictType     `json:"type"`
	PrimaryValue   string           `json:"primary_value"`
	SecondaryValue string           `json:"secondary_value"`
	Severity       Severity         `json:"severity"`
	ResolvedValue  string           `json:"resolved_value,omitempty"`
	Action         ResolutionAction `json:"action,omitempty"`
	Reason         string           `json:"reason,omitempty"`

	// Metrics used by the review rules
	AmountDiff    decimal.Decimal `json:"-"`
	AmountPercent decimal.Decimal `json:"-"`
	Similarity    float64         `json:"-"`
}

// IsResolved returns true once an action has been recorded
func (r *ConflictRecord) IsResolved() bool {
	return r.Action != ""
}

// ResolutionResult is the outcome of resolving every conflict of one pair.
// Success is false when any conflict needs manual review.
type ResolutionResult struct {
	Success     bool
	Resolutions map[ConflictType]*ConflictRecord
}

// ManualReviewTypes returns the conflict types that were not auto-resolved
func (r *ResolutionResult) ManualReviewTypes() []ConflictType {
	var out []ConflictType
	for _, t := range ConflictTypes {
		if rec, ok := r.Resolutions[t]; ok && rec.Action == ResolutionManualReview {
			out = append(out, t)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Review rules: explicit condition structs with an enum operator set
// ---------------------------------------------------------------------------

// ConditionField selects the conflict attribute a condition inspects
type ConditionField string

const (
	ConditionFieldType          ConditionField = "type"
	ConditionFieldSeverity      ConditionField = "severity"
	ConditionFieldAmountDiff    ConditionField = "amount_diff"
	ConditionFieldAmountPercent ConditionField = "amount_percent"
	ConditionFieldSimilarity    ConditionField = "similarity"
)

// Operator is the fixed set of comparison operators
type Operator string

const (
	OperatorEq  Operator = "eq"
	OperatorNeq Operator = "neq"
	OperatorGt  Operator = "gt"
	OperatorGte Operator = "gte"
	OperatorLt  Operator = "lt"
	OperatorIn  Operator = "in"
)

// Condition compares one attribute of a conflict record against a value.
// String fields compare with eq/neq/in; numeric fields also support gt/gte/lt.
type Condition struct {
	Field    ConditionField
	Operator Operator
	Value    string
	Values   []string
	Number   decimal.Decimal
}

// ReviewRule sends a conflict to manual review when all its conditions match
type ReviewRule struct {
	Name       string
	Conditions []Condition
}

// Matches reports whether every condition matches the record
func (r ReviewRule) Matches(rec *ConflictRecord) (bool, error) {
	for _, c := range r.Conditions {
		ok, err := c.Matches(rec)
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if !ok {
			return false, nil
		}
	}
	return len(r.Conditions) > 0, nil
}

// Matches evaluates the condition against a conflict record
func (c Condition) Matches(rec *ConflictRecord) (bool, error) {
	switch c.Field {
	case ConditionFieldType:
		return compareString(c, string(rec.Type))
	case ConditionFieldSeverity:
		return compareString(c, string(rec.Severity))
	case ConditionFieldAmountDiff:
		return compareNumber(c, rec.AmountDiff)
	case ConditionFieldAmountPercent:
		return compareNumber(c, rec.AmountPercent)
	case ConditionFieldSimilarity:
		return compareNumber(c, decimal.NewFromFloat(rec.Similarity))
	default:
		return false, fmt.Errorf("unknown condition field %q", c.Field)
	}
}

func compareString(c Condition, actual string) (bool, error) {
	switch c.Operator {
	case OperatorEq:
		return actual == c.Value, nil
	case OperatorNeq:
		return actual != c.Value, nil
	case OperatorIn:
		return slices.Contains(c.Values, actual), nil
	case OperatorGt, OperatorGte, OperatorLt:
		return false, fmt.Errorf("operator %s not supported for field %s", c.Operator, c.Field)
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

func compareNumber(c Condition, actual decimal.Decimal) (bool, error) {
	switch c.Operator {
	case OperatorEq:
		return actual.Equal(c.Number), nil
	case OperatorNeq:
		return !actual.Equal(c.Number), nil
	case OperatorGt:
		return actual.GreaterThan(c.Number), nil
	case OperatorGte:
		return actual.GreaterThanOrEqual(c.Number), nil
	case OperatorLt:
		return actual.LessThan(c.Number), nil
	case OperatorIn:
		return false, fmt.Errorf("operator %s not supported for field %s", c.Operator, c.Field)
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// DefaultReviewRules sends every high-severity conflict except date to manual review.
// Date conflicts always resolve to the earlier date.
func DefaultReviewRules() []ReviewRule {
	return []ReviewRule{
		{
			Name: "high_severity",
			Conditions: []Condition{
				{Field: ConditionFieldSeverity, Operator: OperatorEq, Value: string(SeverityHigh)},
				{Field: ConditionFieldType, Operator: OperatorNeq, Value: string(ConflictTypeDate)},
			},
		},
	}
}
