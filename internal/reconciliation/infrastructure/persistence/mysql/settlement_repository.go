package mysql

import (
	"context"
	"fmt"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type settlementRepository struct{ db *gorm.DB }

// NewSettlementRepository 创建结算批次仓储
func NewSettlementRepository(db *gorm.DB) domain.SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) Upsert(ctx context.Context, record *domain.SettlementRecord) error {
	err := session(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "settlement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"settlement_date", "received_amount", "expected_amount", "difference",
			"status", "order_ids", "reconciled_at", "notes", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert settlement record: %w", err)
	}
	return nil
}

func (r *settlementRepository) GetBySettlementID(ctx context.Context, settlementID string) (*domain.SettlementRecord, error) {
	var record domain.SettlementRecord
	err := session(ctx, r.db).
		Where("settlement_id = ?", settlementID).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement record: %w", err)
	}
	return &record, nil
}

func (r *settlementRepository) Find(ctx context.Context, filter domain.SettlementFilter) ([]*domain.SettlementRecord, error) {
	var records []*domain.SettlementRecord
	q := r.applyFilter(session(ctx, r.db), filter).Order("settlement_date DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Offset(filter.Offset).Limit(filter.Limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to find settlement records: %w", err)
	}
	return records, nil
}

func (r *settlementRepository) Stats(ctx context.Context, filter domain.SettlementFilter) (*domain.SettlementStats, error) {
	type statusRow struct {
		Status   domain.SettlementStatus
		Count    int64
		Received decimal.NullDecimal
		Expected decimal.NullDecimal
		Diff     decimal.NullDecimal
	}

	var rows []statusRow
	err := r.applyFilter(session(ctx, r.db).Model(&domain.SettlementRecord{}), filter).
		Select("status, COUNT(*) AS count, SUM(received_amount) AS received, SUM(expected_amount) AS expected, SUM(ABS(difference)) AS diff").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute settlement stats: %w", err)
	}

	stats := &domain.SettlementStats{
		TotalReceived:   decimal.Zero,
		TotalExpected:   decimal.Zero,
		TotalDifference: decimal.Zero,
	}
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case domain.SettlementPending:
			stats.Pending = row.Count
		case domain.SettlementMatched:
			stats.Matched = row.Count
		case domain.SettlementShortage:
			stats.Shortage = row.Count
		case domain.SettlementExcess:
			stats.Excess = row.Count
		}
		if row.Received.Valid {
			stats.TotalReceived = stats.TotalReceived.Add(row.Received.Decimal)
		}
		if row.Expected.Valid {
			stats.TotalExpected = stats.TotalExpected.Add(row.Expected.Decimal)
		}
		if row.Diff.Valid {
			stats.TotalDifference = stats.TotalDifference.Add(row.Diff.Decimal)
		}
	}
	stats.TotalReceived = stats.TotalReceived.Round(2)
	stats.TotalExpected = stats.TotalExpected.Round(2)
	stats.TotalDifference = stats.TotalDifference.Round(2)
	return stats, nil
}

func (r *settlementRepository) applyFilter(q *gorm.DB, filter domain.SettlementFilter) *gorm.DB {
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != 0 {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.StartDate != nil {
		q = q.Where("settlement_date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("settlement_date < ?", *filter.EndDate)
	}
	return q
}
