package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestAggregatorRecord_Resolve PENDING 记录不允许人工核销
func TestAggregatorRecord_Resolve(t *testing.T) {
	record := &AggregatorOrderRecord{Status: MatchPending}
	err := record.Resolve("ops-1", "checked with platform")
	assert.ErrorIs(t, err, ErrNotResolvable)
	assert.Equal(t, MatchPending, record.Status)

	record.Status = MatchShortage
	err = record.Resolve("ops-1", "platform confirmed refund")
	assert.NoError(t, err)
	assert.Equal(t, MatchResolved, record.Status)
	assert.Equal(t, "ops-1", record.ResolvedBy)
	assert.NotNil(t, record.ResolvedAt)
	assert.Equal(t, "platform confirmed refund", record.ResolutionNotes)
}

// TestAggregatorRecord_ResolveIdempotent 已核销记录重复核销是幂等覆盖
func TestAggregatorRecord_ResolveIdempotent(t *testing.T) {
	record := &AggregatorOrderRecord{Status: MatchExcess}
	assert.NoError(t, record.Resolve("ops-1", "first pass"))

	err := record.Resolve("ops-2", "second pass")
	assert.NoError(t, err)
	assert.Equal(t, MatchResolved, record.Status)
	assert.Equal(t, "ops-2", record.ResolvedBy)
	assert.Equal(t, "second pass", record.ResolutionNotes)
}

// TestAggregatorRecord_ApplyOutcome 匹配结果写回记录
func TestAggregatorRecord_ApplyOutcome(t *testing.T) {
	record := &AggregatorOrderRecord{Status: MatchPending}
	outcome := MatchOutcome{Status: MatchShortage, Difference: decimal.NewFromFloat(-10)}

	record.ApplyOutcome(outcome, 42)

	assert.Equal(t, MatchShortage, record.Status)
	assert.True(t, record.Difference.Valid)
	assert.True(t, record.Difference.Decimal.Equal(decimal.NewFromFloat(-10)))
	assert.Equal(t, uint(42), *record.InternalOrderID)
}

// TestParseMatchStatus 字符串与状态的往返
func TestParseMatchStatus(t *testing.T) {
	for _, status := range []MatchStatus{MatchPending, MatchMatched, MatchShortage, MatchExcess, MatchResolved} {
		assert.Equal(t, status, ParseMatchStatus(status.String()))
	}
	assert.Equal(t, MatchStatus(0), ParseMatchStatus("garbage"))
}

// TestSource_Valid 仅支持已接入的聚合平台
func TestSource_Valid(t *testing.T) {
	assert.True(t, SourceZomato.Valid())
	assert.True(t, SourceSwiggy.Valid())
	assert.False(t, Source("ubereats").Valid())
	assert.False(t, Source("").Valid())
}
