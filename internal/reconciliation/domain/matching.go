package domain

import "github.com/shopspring/decimal"

// 默认容差。聚合平台单笔订单按 1 个货币单位匹配；
// 结算批次放宽到 5 个货币单位以吸收网关手续费舍入。
var (
	DefaultAggregatorTolerance = decimal.NewFromInt(1)
	DefaultSettlementTolerance = decimal.NewFromInt(5)
)

// MatchOutcome 金额比对结果
type MatchOutcome struct {
	Status     MatchStatus
	Difference decimal.Decimal
}

// Compare 比对外部金额与内部金额并分类
// difference = external − internal，两位小数舍入。
// 容差是严格上界：|difference| < tolerance 记为 MATCHED（含 0，不含边界本身）；
// difference < 0 为 SHORTAGE（平台上报少于 POS 记账）；difference > 0 为 EXCESS。
func Compare(external, internal, tolerance decimal.Decimal) MatchOutcome {
	diff := external.Sub(internal).Round(2)

	switch {
	case diff.Abs().LessThan(tolerance):
		return MatchOutcome{Status: MatchMatched, Difference: diff}
	case diff.Sign() < 0:
		return MatchOutcome{Status: MatchShortage, Difference: diff}
	default:
		return MatchOutcome{Status: MatchExcess, Difference: diff}
	}
}
