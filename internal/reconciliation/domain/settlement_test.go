package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// TestSettlementRecord_ApplyOutcome 仅匹配成功时盖 ReconciledAt 章
func TestSettlementRecord_ApplyOutcome(t *testing.T) {
	expected := decimal.NewFromFloat(1000)

	matched := &SettlementRecord{Status: SettlementPending}
	matched.ApplyOutcome(MatchOutcome{Status: MatchMatched, Difference: decimal.NewFromFloat(-2)}, expected, []uint{1, 2})
	assert.Equal(t, SettlementMatched, matched.Status)
	assert.NotNil(t, matched.ReconciledAt)
	assert.Equal(t, OrderIDList{1, 2}, matched.OrderIDs)
	assert.True(t, matched.ExpectedAmount.Equal(expected))

	shortage := &SettlementRecord{Status: SettlementPending}
	shortage.ApplyOutcome(MatchOutcome{Status: MatchShortage, Difference: decimal.NewFromFloat(-10)}, expected, []uint{1})
	assert.Equal(t, SettlementShortage, shortage.Status)
	assert.Nil(t, shortage.ReconciledAt)

	excess := &SettlementRecord{Status: SettlementPending}
	excess.ApplyOutcome(MatchOutcome{Status: MatchExcess, Difference: decimal.NewFromFloat(10)}, expected, []uint{1})
	assert.Equal(t, SettlementExcess, excess.Status)
	assert.Nil(t, excess.ReconciledAt)
}

// TestParseSettlementStatus 字符串与状态的往返
func TestParseSettlementStatus(t *testing.T) {
	for _, status := range []SettlementStatus{SettlementPending, SettlementMatched, SettlementShortage, SettlementExcess} {
		assert.Equal(t, status, ParseSettlementStatus(status.String()))
	}
	assert.Equal(t, SettlementStatus(0), ParseSettlementStatus("garbage"))
}
