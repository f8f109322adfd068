package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type orderRepository struct{ db *gorm.DB }

// NewOrderRepository 创建内部订单仓储
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) FindByOrderNo(ctx context.Context, tenantID, orderNo string, source domain.Source) (*domain.InternalOrder, error) {
	var order domain.InternalOrder
	err := session(ctx, r.db).
		Where("tenant_id = ? AND order_no = ? AND source = ?", tenantID, orderNo, source).
		First(&order).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by order_no: %w", err)
	}
	return &order, nil
}

func (r *orderRepository) FindByOrderNoAndMode(ctx context.Context, tenantID, orderNo string, mode domain.PaymentMode) (*domain.InternalOrder, error) {
	var order domain.InternalOrder
	err := session(ctx, r.db).
		Where("tenant_id = ? AND order_no = ? AND payment_mode = ?", tenantID, orderNo, mode).
		First(&order).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by order_no and mode: %w", err)
	}
	return &order, nil
}

func (r *orderRepository) FindUnsettledGateway(ctx context.Context, tenantID string, before time.Time) ([]*domain.InternalOrder, error) {
	var orders []*domain.InternalOrder
	err := session(ctx, r.db).
		Where("tenant_id = ? AND payment_mode = ? AND status = ?", tenantID, domain.PaymentModeGateway, domain.OrderStatusCompleted).
		Where("(settlement_id IS NULL OR settlement_id = '')").
		Where("created_at <= ?", before).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find unsettled gateway orders: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) FindNonCancelled(ctx context.Context, tenantID string, from, to time.Time) ([]*domain.InternalOrder, error) {
	var orders []*domain.InternalOrder
	err := session(ctx, r.db).
		Where("tenant_id = ? AND status <> ?", tenantID, domain.OrderStatusCancelled).
		Where("created_at >= ? AND created_at < ?", from, to).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) CountCancelled(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	var count int64
	err := session(ctx, r.db).Model(&domain.InternalOrder{}).
		Where("tenant_id = ? AND status = ?", tenantID, domain.OrderStatusCancelled).
		Where("created_at >= ? AND created_at < ?", from, to).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count cancelled orders: %w", err)
	}
	return count, nil
}

func (r *orderRepository) FindBySettlementID(ctx context.Context, tenantID, settlementID string) ([]*domain.InternalOrder, error) {
	var orders []*domain.InternalOrder
	err := session(ctx, r.db).
		Where("tenant_id = ? AND settlement_id = ?", tenantID, settlementID).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find orders by settlement_id: %w", err)
	}
	return orders, nil
}

// ClaimForSettlement 条件盖章：settlement_id 仍为空或已是本批次的订单才会被更新，
// 被其他批次抢先认领的订单静默跳过。返回实际归属本批次的订单 id
func (r *orderRepository) ClaimForSettlement(ctx context.Context, tenantID, settlementID string, orderIDs []uint) ([]uint, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}

	db := session(ctx, r.db)
	err := db.Model(&domain.InternalOrder{}).
		Where("tenant_id = ? AND id IN ?", tenantID, orderIDs).
		Where("(settlement_id IS NULL OR settlement_id = '' OR settlement_id = ?)", settlementID).
		Update("settlement_id", settlementID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to claim orders for settlement: %w", err)
	}

	var claimed []uint
	err = db.Model(&domain.InternalOrder{}).
		Where("tenant_id = ? AND id IN ? AND settlement_id = ?", tenantID, orderIDs, settlementID).
		Order("id ASC").
		Pluck("id", &claimed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed orders: %w", err)
	}
	return claimed, nil
}

func (r *orderRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(contextWithTx(ctx, tx))
	})
}
