package mysql

import (
	"context"
	"fmt"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type taxReportRepository struct{ db *gorm.DB }

// NewTaxReportRepository 创建税务报表缓存仓储
func NewTaxReportRepository(db *gorm.DB) domain.TaxReportRepository {
	return &taxReportRepository{db: db}
}

func (r *taxReportRepository) Get(ctx context.Context, tenantID string, month, year int) (*domain.TaxReport, error) {
	var report domain.TaxReport
	err := session(ctx, r.db).
		Where("tenant_id = ? AND month = ? AND year = ?", tenantID, month, year).
		First(&report).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tax report: %w", err)
	}
	return &report, nil
}

// Upsert 唯一键冲突时整行覆盖，并发重算收敛为最后一次写入
func (r *taxReportRepository) Upsert(ctx context.Context, report *domain.TaxReport) error {
	err := session(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "month"}, {Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"gross_sales", "taxable_amount", "cgst", "sgst", "total_tax",
			"order_count", "cancelled_count", "breakdown",
			"stale", "tax_estimated", "updated_at",
		}),
	}).Create(report).Error
	if err != nil {
		return fmt.Errorf("failed to upsert tax report: %w", err)
	}
	return nil
}

func (r *taxReportRepository) InvalidateTenant(ctx context.Context, tenantID string) error {
	err := session(ctx, r.db).Model(&domain.TaxReport{}).
		Where("tenant_id = ? AND stale = ?", tenantID, false).
		Update("stale", true).Error
	if err != nil {
		return fmt.Errorf("failed to invalidate tax reports: %w", err)
	}
	return nil
}
