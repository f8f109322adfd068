package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentMode 支付方式
type PaymentMode string

const (
	PaymentModeCash       PaymentMode = "cash"
	PaymentModeCard       PaymentMode = "card"
	PaymentModeGateway    PaymentMode = "gateway"
	PaymentModeAggregator PaymentMode = "aggregator"
)

// OrderStatus 内部订单生命周期状态（订单子系统所有，此处只读）
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// InternalOrder POS 内部订单，订单子系统所有
// 对账引擎只读取，唯一允许的写入是结算链接（settlement_id）的 CAS 盖章
type InternalOrder struct {
	gorm.Model
	TenantID    string          `gorm:"column:tenant_id;type:varchar(64);index:idx_orders_tenant_no,priority:1;not null" json:"tenant_id"`
	OrderNo     string          `gorm:"column:order_no;type:varchar(64);index:idx_orders_tenant_no,priority:2;not null" json:"order_no"`
	Source      Source          `gorm:"column:source;type:varchar(16);index" json:"source"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(20,2);not null" json:"total_amount"`
	PaymentMode PaymentMode     `gorm:"column:payment_mode;type:varchar(16);index" json:"payment_mode"`
	Status      OrderStatus     `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	// 一个订单至多链接一个结算批次
	SettlementID *string `gorm:"column:settlement_id;type:varchar(64);index" json:"settlement_id"`
}

// TableName 表名
func (InternalOrder) TableName() string {
	return "orders"
}

// IsSettled 是否已链接结算批次
func (o *InternalOrder) IsSettled() bool {
	return o.SettlementID != nil && *o.SettlementID != ""
}

// OrderRepository 内部订单只读访问与结算盖章接口
type OrderRepository interface {
	// FindByOrderNo 按 (tenant, order_no, source) 查找订单，未找到返回 (nil, nil)
	FindByOrderNo(ctx context.Context, tenantID, orderNo string, source Source) (*InternalOrder, error)
	// FindByOrderNoAndMode 按 (tenant, order_no, payment_mode) 查找订单，未找到返回 (nil, nil)
	FindByOrderNoAndMode(ctx context.Context, tenantID, orderNo string, mode PaymentMode) (*InternalOrder, error)
	// FindUnsettledGateway 查找尚未链接结算批次、创建时间不晚于 before 的网关订单，按创建时间升序
	FindUnsettledGateway(ctx context.Context, tenantID string, before time.Time) ([]*InternalOrder, error)
	// FindNonCancelled 查找 [from, to) 区间内的非取消订单，按创建时间升序
	FindNonCancelled(ctx context.Context, tenantID string, from, to time.Time) ([]*InternalOrder, error)
	// CountCancelled 统计 [from, to) 区间内的已取消订单数
	CountCancelled(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
	// FindBySettlementID 查找已链接到指定结算批次的订单，按创建时间升序
	FindBySettlementID(ctx context.Context, tenantID, settlementID string) ([]*InternalOrder, error)
	// ClaimForSettlement 条件更新：仅对 settlement_id 仍为空（或已是本批次）的订单盖章，
	// 返回实际盖章成功的订单 id。并发结算同步竞争同一订单池时由该条件裁决，不会重复认领
	ClaimForSettlement(ctx context.Context, tenantID, settlementID string, orderIDs []uint) ([]uint, error)
	// WithTx 在事务中执行
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
}
