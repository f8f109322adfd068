package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DayBreakdown 税务报表的日粒度明细
type DayBreakdown struct {
	Date          string          `json:"date"` // YYYY-MM-DD（租户报税时区）
	GrossSales    decimal.Decimal `json:"gross_sales"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TotalTax      decimal.Decimal `json:"total_tax"`
	OrderCount    int             `json:"order_count"`
}

// DayBreakdownList 日明细列表，json 序列化存储
type DayBreakdownList []DayBreakdown

// TaxReport 月度 GST 报表缓存行，(tenant_id, month, year) 唯一
// 非 stale 行是权威数据，读取时不得重算；stale 或缺失行在下次读取时重算并 upsert 后返回
type TaxReport struct {
	gorm.Model
	TenantID string `gorm:"column:tenant_id;type:varchar(64);uniqueIndex:uk_tax_tenant_month_year,priority:1;not null" json:"tenant_id"`
	Month    int    `gorm:"column:month;uniqueIndex:uk_tax_tenant_month_year,priority:2;not null" json:"month"`
	Year     int    `gorm:"column:year;uniqueIndex:uk_tax_tenant_month_year,priority:3;not null" json:"year"`

	GrossSales    decimal.Decimal `gorm:"column:gross_sales;type:decimal(20,2)" json:"gross_sales"`
	TaxableAmount decimal.Decimal `gorm:"column:taxable_amount;type:decimal(20,2)" json:"taxable_amount"`
	CGST          decimal.Decimal `gorm:"column:cgst;type:decimal(20,2)" json:"cgst"`
	SGST          decimal.Decimal `gorm:"column:sgst;type:decimal(20,2)" json:"sgst"`
	TotalTax      decimal.Decimal `gorm:"column:total_tax;type:decimal(20,2)" json:"total_tax"`

	OrderCount     int `gorm:"column:order_count" json:"order_count"`
	CancelledCount int `gorm:"column:cancelled_count" json:"cancelled_count"`

	Breakdown DayBreakdownList `gorm:"column:breakdown;serializer:json" json:"breakdown"`

	Stale bool `gorm:"column:stale;not null;default:false;index" json:"stale"`
	// 税额由含税总价按固定税率倒推（估算路径），输出中显式标注
	TaxEstimated bool `gorm:"column:tax_estimated;not null;default:true" json:"tax_estimated"`
}

// TableName 表名
func (TaxReport) TableName() string {
	return "tax_reports"
}

// TaxReportRepository 税务报表缓存仓储接口
type TaxReportRepository interface {
	// Get 按 (tenant, month, year) 查找，未找到返回 (nil, nil)
	Get(ctx context.Context, tenantID string, month, year int) (*TaxReport, error)
	// Upsert 按唯一键原子插入或更新，并发重算收敛为一行
	Upsert(ctx context.Context, report *TaxReport) error
	// InvalidateTenant 将租户所有月份的缓存行标记为 stale
	InvalidateTenant(ctx context.Context, tenantID string) error
}
