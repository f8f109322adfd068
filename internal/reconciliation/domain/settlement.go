package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SettlementStatus 结算批次匹配状态
type SettlementStatus int8

const (
	SettlementPending  SettlementStatus = 1
	SettlementMatched  SettlementStatus = 2
	SettlementShortage SettlementStatus = 3
	SettlementExcess   SettlementStatus = 4
)

func (s SettlementStatus) String() string {
	switch s {
	case SettlementPending:
		return "PENDING"
	case SettlementMatched:
		return "MATCHED"
	case SettlementShortage:
		return "SHORTAGE"
	case SettlementExcess:
		return "EXCESS"
	}
	return "UNKNOWN"
}

// ParseSettlementStatus 从字符串解析结算状态，未识别返回 0
func ParseSettlementStatus(s string) SettlementStatus {
	switch s {
	case "PENDING":
		return SettlementPending
	case "MATCHED":
		return SettlementMatched
	case "SHORTAGE":
		return SettlementShortage
	case "EXCESS":
		return SettlementExcess
	}
	return 0
}

// OrderIDList 链接的内部订单 id 列表（保持链接顺序），json 序列化存储
type OrderIDList []uint

// SettlementRecord 支付网关结算批次记录
// 身份键 settlement_id 全局唯一，重复摄入执行 upsert
type SettlementRecord struct {
	gorm.Model
	TenantID       string    `gorm:"column:tenant_id;type:varchar(64);index;not null" json:"tenant_id"`
	SettlementID   string    `gorm:"column:settlement_id;type:varchar(64);uniqueIndex;not null" json:"settlement_id"`
	SettlementDate time.Time `gorm:"column:settlement_date;index" json:"settlement_date"`
	// 网关实际到账金额
	ReceivedAmount decimal.Decimal `gorm:"column:received_amount;type:decimal(20,2);not null" json:"received_amount"`
	// 链接订单金额合计
	ExpectedAmount decimal.Decimal `gorm:"column:expected_amount;type:decimal(20,2)" json:"expected_amount"`
	// 到账 − 预期
	Difference decimal.Decimal  `gorm:"column:difference;type:decimal(20,2)" json:"difference"`
	Status     SettlementStatus `gorm:"column:status;type:tinyint;not null;default:1;index" json:"status"`
	OrderIDs   OrderIDList      `gorm:"column:order_ids;serializer:json" json:"order_ids"`
	// 仅在 MATCHED 时盖章
	ReconciledAt *time.Time `gorm:"column:reconciled_at" json:"reconciled_at"`
	Notes        string     `gorm:"column:notes;type:varchar(512)" json:"notes"`
}

// TableName 表名
func (SettlementRecord) TableName() string {
	return "settlement_records"
}

// ApplyOutcome 将匹配结果写入记录
func (s *SettlementRecord) ApplyOutcome(outcome MatchOutcome, expected decimal.Decimal, orderIDs []uint) {
	s.ExpectedAmount = expected
	s.Difference = outcome.Difference
	s.OrderIDs = orderIDs

	switch outcome.Status {
	case MatchMatched:
		s.Status = SettlementMatched
		now := time.Now()
		s.ReconciledAt = &now
	case MatchShortage:
		s.Status = SettlementShortage
	case MatchExcess:
		s.Status = SettlementExcess
	default:
		s.Status = SettlementPending
	}
}

// SettlementFilter 结算查询过滤条件
type SettlementFilter struct {
	TenantID  string
	Status    SettlementStatus
	StartDate *time.Time
	EndDate   *time.Time
	// Limit <= 0 表示不分页
	Limit  int
	Offset int
}

// SettlementStats 结算统计
type SettlementStats struct {
	Total           int64           `json:"total"`
	Pending         int64           `json:"pending"`
	Matched         int64           `json:"matched"`
	Shortage        int64           `json:"shortage"`
	Excess          int64           `json:"excess"`
	TotalReceived   decimal.Decimal `json:"total_received"`
	TotalExpected   decimal.Decimal `json:"total_expected"`
	TotalDifference decimal.Decimal `json:"total_difference"`
}

// SettlementRepository 结算批次仓储接口
type SettlementRepository interface {
	// Upsert 按 settlement_id 插入或更新
	Upsert(ctx context.Context, record *SettlementRecord) error
	// GetBySettlementID 按身份键查找，未找到返回 (nil, nil)
	GetBySettlementID(ctx context.Context, settlementID string) (*SettlementRecord, error)
	// Find 按过滤条件查询，按结算日期降序
	Find(ctx context.Context, filter SettlementFilter) ([]*SettlementRecord, error)
	// Stats 按过滤条件统计
	Stats(ctx context.Context, filter SettlementFilter) (*SettlementStats, error)
}
