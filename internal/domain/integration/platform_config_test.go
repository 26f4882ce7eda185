package integration

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSyncInterval(t *testing.T) {
	tests := []struct {
		seconds int
		valid   bool
	}{
		{59, false},
		{60, true},
		{900, true},
		{86400, true},
		{86401, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.seconds), func(t *testing.T) {
			err := ValidateSyncInterval(tt.seconds)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSyncInterval)
			}
		})
	}
}

func TestPlatformConfig_NextSyncDue(t *testing.T) {
	cfg, err := NewPlatformConfig(PlatformCodeJD)
	require.NoError(t, err)
	require.NoError(t, cfg.SetSyncInterval(600))
	cfg.IsActive = true

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now, cfg.NextSyncDue(now), "never synced is due immediately")
	assert.True(t, cfg.IsDue(now))

	last := now.Add(-5 * time.Minute)
	cfg.LastSyncAt = &last
	assert.Equal(t, last.Add(10*time.Minute), cfg.NextSyncDue(now))
	assert.False(t, cfg.IsDue(now))
	assert.True(t, cfg.IsDue(now.Add(5*time.Minute)))

	cfg.IsActive = false
	assert.False(t, cfg.IsDue(now.Add(time.Hour)))
}

func TestPlatformConfig_RecordAttempt(t *testing.T) {
	cfg, err := NewPlatformConfig(PlatformCodeTaobao)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cfg.RecordAttempt(SyncResultEntry{
		SyncID:     uuid.New(),
		Status:     SyncStatusFailed,
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Error:      "boom",
	})
	assert.Nil(t, cfg.LastSyncAt)
	require.NotNil(t, cfg.LastAttemptAt)
	assert.Equal(t, "boom", cfg.LastError)

	cfg.RecordAttempt(SyncResultEntry{
		SyncID:     uuid.New(),
		Status:     SyncStatusPartial,
		StartedAt:  start.Add(time.Minute),
		FinishedAt: start.Add(2 * time.Minute),
	})
	require.NotNil(t, cfg.LastSyncAt)
	assert.Equal(t, start.Add(2*time.Minute), *cfg.LastSyncAt)
	assert.Empty(t, cfg.LastError)
	assert.Len(t, cfg.SyncHistory, 2)
	assert.Equal(t, SyncStatusPartial, cfg.SyncHistory[0].Status, "newest first")
}

func TestPlatformConfig_HistoryCapped(t *testing.T) {
	cfg, err := NewPlatformConfig(PlatformCodePDD)
	require.NoError(t, err)

	for i := 0; i < MaxSyncHistory+5; i++ {
		cfg.AppendHistory(SyncResultEntry{OrdersFetched: i})
	}

	require.Len(t, cfg.SyncHistory, MaxSyncHistory)
	assert.Equal(t, MaxSyncHistory+4, cfg.SyncHistory[0].OrdersFetched)
}

func TestReviewRule_Matches(t *testing.T) {
	rules := DefaultReviewRules()
	require.Len(t, rules, 1)

	high := &ConflictRecord{Type: ConflictTypeAmount, Severity: SeverityHigh}
	ok, err := rules[0].Matches(high)
	require.NoError(t, err)
	assert.True(t, ok)

	highDate := &ConflictRecord{Type: ConflictTypeDate, Severity: SeverityHigh}
	ok, err = rules[0].Matches(highDate)
	require.NoError(t, err)
	assert.False(t, ok)

	medium := &ConflictRecord{Type: ConflictTypeStatus, Severity: SeverityMedium}
	ok, err = rules[0].Matches(medium)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCondition_Operators(t *testing.T) {
	rec := &ConflictRecord{
		Type:          ConflictTypeAmount,
		Severity:      SeverityMedium,
		AmountDiff:    decimal.NewFromInt(40),
		AmountPercent: decimal.NewFromInt(12),
		Similarity:    0.5,
	}

	tests := []struct {
		name    string
		cond    Condition
		match   bool
		wantErr bool
	}{
		{"eq string", Condition{Field: ConditionFieldSeverity, Operator: OperatorEq, Value: "medium"}, true, false},
		{"neq string", Condition{Field: ConditionFieldType, Operator: OperatorNeq, Value: "amount"}, false, false},
		{"in string", Condition{Field: ConditionFieldType, Operator: OperatorIn, Values: []string{"status", "amount"}}, true, false},
		{"gt number", Condition{Field: ConditionFieldAmountDiff, Operator: OperatorGt, Number: decimal.NewFromInt(39)}, true, false},
		{"gte number", Condition{Field: ConditionFieldAmountPercent, Operator: OperatorGte, Number: decimal.NewFromInt(12)}, true, false},
		{"lt similarity", Condition{Field: ConditionFieldSimilarity, Operator: OperatorLt, Number: decimal.NewFromFloat(0.8)}, true, false},
		{"gt on string field", Condition{Field: ConditionFieldSeverity, Operator: OperatorGt, Value: "low"}, false, true},
		{"in on number field", Condition{Field: ConditionFieldAmountDiff, Operator: OperatorIn}, false, true},
		{"unknown operator", Condition{Field: ConditionFieldType, Operator: "like"}, false, true},
		{"unknown field", Condition{Field: "currency", Operator: OperatorEq}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.cond.Matches(rec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.match, ok)
		})
	}
}
