package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Source 外卖聚合平台来源
type Source string

const (
	SourceZomato Source = "zomato"
	SourceSwiggy Source = "swiggy"
)

// Valid 是否为受支持的平台
func (s Source) Valid() bool {
	return s == SourceZomato || s == SourceSwiggy
}

// MatchStatus 聚合平台订单匹配状态
type MatchStatus int8

const (
	MatchPending  MatchStatus = 1
	MatchMatched  MatchStatus = 2
	MatchShortage MatchStatus = 3
	MatchExcess   MatchStatus = 4
	MatchResolved MatchStatus = 5
)

func (s MatchStatus) String() string {
	switch s {
	case MatchPending:
		return "PENDING"
	case MatchMatched:
		return "MATCHED"
	case MatchShortage:
		return "SHORTAGE"
	case MatchExcess:
		return "EXCESS"
	case MatchResolved:
		return "RESOLVED"
	}
	return "UNKNOWN"
}

// ParseMatchStatus 从字符串解析匹配状态，未识别返回 0
func ParseMatchStatus(s string) MatchStatus {
	switch s {
	case "PENDING":
		return MatchPending
	case "MATCHED":
		return MatchMatched
	case "SHORTAGE":
		return MatchShortage
	case "EXCESS":
		return MatchExcess
	case "RESOLVED":
		return MatchResolved
	}
	return 0
}

// SnapshotItem 聚合平台订单行项目快照
type SnapshotItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// ItemList 行项目快照列表，json 序列化存储
type ItemList []SnapshotItem

// AggregatorOrderRecord 聚合平台订单记录
// 身份键 (tenant_id, source, platform_order_id) 唯一，重复摄入执行 upsert 而非新增
type AggregatorOrderRecord struct {
	gorm.Model
	TenantID        string          `gorm:"column:tenant_id;type:varchar(64);uniqueIndex:uk_agg_tenant_source_order,priority:1;not null" json:"tenant_id"`
	Source          Source          `gorm:"column:source;type:varchar(16);uniqueIndex:uk_agg_tenant_source_order,priority:2;not null" json:"source"`
	PlatformOrderID string          `gorm:"column:platform_order_id;type:varchar(64);uniqueIndex:uk_agg_tenant_source_order,priority:3;not null" json:"platform_order_id"`
	GrossAmount     decimal.Decimal `gorm:"column:gross_amount;type:decimal(20,2);not null" json:"gross_amount"`
	NetAmount       decimal.Decimal `gorm:"column:net_amount;type:decimal(20,2)" json:"net_amount"`
	CommissionFee   decimal.Decimal `gorm:"column:commission_fee;type:decimal(20,2)" json:"commission_fee"`
	DeliveryFee     decimal.Decimal `gorm:"column:delivery_fee;type:decimal(20,2)" json:"delivery_fee"`
	TaxCollected    decimal.Decimal `gorm:"column:tax_collected;type:decimal(20,2)" json:"tax_collected"`
	OrderDate       time.Time       `gorm:"column:order_date;index" json:"order_date"`
	CustomerName    string          `gorm:"column:customer_name;type:varchar(128)" json:"customer_name"`
	Items           ItemList        `gorm:"column:items;serializer:json" json:"items"`

	Status MatchStatus `gorm:"column:status;type:tinyint;not null;default:1;index" json:"status"`
	// 平台金额 − 匹配到的内部订单金额；无匹配时为 null
	Difference      decimal.NullDecimal `gorm:"column:difference;type:decimal(20,2)" json:"difference"`
	InternalOrderID *uint               `gorm:"column:internal_order_id;index" json:"internal_order_id"`

	ResolvedBy      string     `gorm:"column:resolved_by;type:varchar(64)" json:"resolved_by"`
	ResolvedAt      *time.Time `gorm:"column:resolved_at" json:"resolved_at"`
	ResolutionNotes string     `gorm:"column:resolution_notes;type:varchar(512)" json:"resolution_notes"`
}

// TableName 表名
func (AggregatorOrderRecord) TableName() string {
	return "aggregator_order_records"
}

// ApplyOutcome 将匹配结果写入记录
func (r *AggregatorOrderRecord) ApplyOutcome(outcome MatchOutcome, internalOrderID uint) {
	r.Status = outcome.Status
	r.Difference = decimal.NullDecimal{Decimal: outcome.Difference, Valid: true}
	r.InternalOrderID = &internalOrderID
}

// IsTerminal 是否已离开 PENDING（找到过内部对应订单）
func (r *AggregatorOrderRecord) IsTerminal() bool {
	return r.Status != MatchPending
}

// Resolve 人工核销差异，转入终态 RESOLVED
// 仅允许从非 PENDING 状态核销；重复核销是幂等覆盖而非错误
func (r *AggregatorOrderRecord) Resolve(actorID, notes string) error {
	if r.Status == MatchPending {
		return ErrNotResolvable
	}
	now := time.Now()
	r.Status = MatchResolved
	r.ResolvedBy = actorID
	r.ResolvedAt = &now
	r.ResolutionNotes = notes
	return nil
}

// AggregatorRecordFilter 差异查询过滤条件
type AggregatorRecordFilter struct {
	TenantID  string
	Source    Source
	Status    MatchStatus
	StartDate *time.Time
	EndDate   *time.Time
	// Limit <= 0 表示不分页
	Limit  int
	Offset int
}

// MismatchStats 差异统计
type MismatchStats struct {
	Total           int64           `json:"total"`
	Pending         int64           `json:"pending"`
	Matched         int64           `json:"matched"`
	Shortage        int64           `json:"shortage"`
	Excess          int64           `json:"excess"`
	Resolved        int64           `json:"resolved"`
	TotalDifference decimal.Decimal `json:"total_difference"`
}

// AggregatorRepository 聚合平台订单记录仓储接口
type AggregatorRepository interface {
	// Upsert 按 (tenant, source, platform_order_id) 插入或更新
	Upsert(ctx context.Context, record *AggregatorOrderRecord) error
	// Get 按主键查找
	Get(ctx context.Context, id uint) (*AggregatorOrderRecord, error)
	// GetByPlatformOrder 按身份键查找，未找到返回 (nil, nil)
	GetByPlatformOrder(ctx context.Context, tenantID string, source Source, platformOrderID string) (*AggregatorOrderRecord, error)
	// FindPending 查找指定租户/来源下所有 PENDING 记录
	FindPending(ctx context.Context, tenantID string, source Source) ([]*AggregatorOrderRecord, error)
	// Find 按过滤条件查询，按订单日期降序
	Find(ctx context.Context, filter AggregatorRecordFilter) ([]*AggregatorOrderRecord, error)
	// Stats 按过滤条件统计
	Stats(ctx context.Context, filter AggregatorRecordFilter) (*MismatchStats, error)
	// Update 保存整条记录
	Update(ctx context.Context, record *AggregatorOrderRecord) error
}
