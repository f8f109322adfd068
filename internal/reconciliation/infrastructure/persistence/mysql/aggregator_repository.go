package mysql

import (
	"context"
	"fmt"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type aggregatorRepository struct{ db *gorm.DB }

// NewAggregatorRepository 创建聚合平台订单记录仓储
func NewAggregatorRepository(db *gorm.DB) domain.AggregatorRepository {
	return &aggregatorRepository{db: db}
}

func (r *aggregatorRepository) Upsert(ctx context.Context, record *domain.AggregatorOrderRecord) error {
	err := session(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "source"}, {Name: "platform_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"gross_amount", "net_amount", "commission_fee", "delivery_fee", "tax_collected",
			"order_date", "customer_name", "items",
			"status", "difference", "internal_order_id",
			"resolved_by", "resolved_at", "resolution_notes",
			"updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert aggregator record: %w", err)
	}
	return nil
}

func (r *aggregatorRepository) Get(ctx context.Context, id uint) (*domain.AggregatorOrderRecord, error) {
	var record domain.AggregatorOrderRecord
	err := session(ctx, r.db).First(&record, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregator record: %w", err)
	}
	return &record, nil
}

func (r *aggregatorRepository) GetByPlatformOrder(ctx context.Context, tenantID string, source domain.Source, platformOrderID string) (*domain.AggregatorOrderRecord, error) {
	var record domain.AggregatorOrderRecord
	err := session(ctx, r.db).
		Where("tenant_id = ? AND source = ? AND platform_order_id = ?", tenantID, source, platformOrderID).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregator record: %w", err)
	}
	return &record, nil
}

func (r *aggregatorRepository) FindPending(ctx context.Context, tenantID string, source domain.Source) ([]*domain.AggregatorOrderRecord, error) {
	var records []*domain.AggregatorOrderRecord
	q := session(ctx, r.db).
		Where("tenant_id = ? AND status = ?", tenantID, domain.MatchPending)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	err := q.Order("order_date ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find pending records: %w", err)
	}
	return records, nil
}

func (r *aggregatorRepository) Find(ctx context.Context, filter domain.AggregatorRecordFilter) ([]*domain.AggregatorOrderRecord, error) {
	var records []*domain.AggregatorOrderRecord
	q := r.applyFilter(session(ctx, r.db), filter).Order("order_date DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Offset(filter.Offset).Limit(filter.Limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find aggregator records: %w", err)
	}
	return records, nil
}

func (r *aggregatorRepository) Stats(ctx context.Context, filter domain.AggregatorRecordFilter) (*domain.MismatchStats, error) {
	type statusRow struct {
		Status domain.MatchStatus
		Count  int64
		Diff   decimal.NullDecimal
	}

	var rows []statusRow
	err := r.applyFilter(session(ctx, r.db).Model(&domain.AggregatorOrderRecord{}), filter).
		Select("status, COUNT(*) AS count, SUM(ABS(difference)) AS diff").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute mismatch stats: %w", err)
	}

	stats := &domain.MismatchStats{TotalDifference: decimal.Zero}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case domain.MatchPending:
			stats.Pending = row.Count
		case domain.MatchMatched:
			stats.Matched = row.Count
		case domain.MatchShortage:
			stats.Shortage = row.Count
		case domain.MatchExcess:
			stats.Excess = row.Count
		case domain.MatchResolved:
			stats.Resolved = row.Count
		}
		if row.Diff.Valid {
			stats.TotalDifference = stats.TotalDifference.Add(row.Diff.Decimal)
		}
	}
	stats.TotalDifference = stats.TotalDifference.Round(2)
	return stats, nil
}

func (r *aggregatorRepository) Update(ctx context.Context, record *domain.AggregatorOrderRecord) error {
	if err := session(ctx, r.db).Save(record).Error; err != nil {
		return fmt.Errorf("failed to update aggregator record: %w", err)
	}
	return nil
}

func (r *aggregatorRepository) applyFilter(q *gorm.DB, filter domain.AggregatorRecordFilter) *gorm.DB {
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Status != 0 {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		q = q.Where("order_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("order_date < ?", *filter.EndDate)
	}
	return q
}
