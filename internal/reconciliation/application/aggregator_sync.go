package application

import (
	"context"
	"fmt"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/pkg/cache"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/metrics"
	"github.com/feastops/reconciliation/pkg/utils"
	"github.com/shopspring/decimal"
)

// AggregatorOrderPayload 聚合平台订单原始载荷
type AggregatorOrderPayload struct {
	PlatformOrderID string                `json:"platform_order_id"`
	GrossAmount     decimal.Decimal       `json:"gross_amount"`
	NetAmount       decimal.Decimal       `json:"net_amount"`
	CommissionFee   decimal.Decimal       `json:"commission_fee"`
	DeliveryFee     decimal.Decimal       `json:"delivery_fee"`
	TaxCollected    decimal.Decimal       `json:"tax_collected"`
	OrderDate       time.Time             `json:"order_date"`
	CustomerName    string                `json:"customer_name"`
	Items           []domain.SnapshotItem `json:"items"`
}

// RecordError 批次内单条记录的失败信息，批次不因单条失败而中止
type RecordError struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// AutoMatchResult 自动补匹配结果计数
type AutoMatchResult struct {
	Matched    int `json:"matched"`
	NotMatched int `json:"not_matched"`
}

// MismatchPage 差异查询结果
type MismatchPage struct {
	Mismatches []*domain.AggregatorOrderRecord `json:"mismatches"`
	Stats      *domain.MismatchStats           `json:"stats"`
	Pagination *utils.Pagination               `json:"pagination,omitempty"`
}

// AggregatorSyncService 聚合平台订单同步服务
type AggregatorSyncService struct {
	orders    domain.OrderRepository
	records   domain.AggregatorRepository
	cache     *cache.RedisCache
	metrics   *metrics.Metrics
	tolerance decimal.Decimal
}

// NewAggregatorSyncService 创建聚合平台订单同步服务
func NewAggregatorSyncService(orders domain.OrderRepository, records domain.AggregatorRepository, rc *cache.RedisCache, m *metrics.Metrics, tolerance decimal.Decimal) *AggregatorSyncService {
	if tolerance.LessThanOrEqual(decimal.Zero) {
		tolerance = domain.DefaultAggregatorTolerance
	}
	return &AggregatorSyncService{
		orders:    orders,
		records:   records,
		cache:     rc,
		metrics:   m,
		tolerance: tolerance,
	}
}

// SyncOrders 摄入一批聚合平台订单
// 逐条处理：查找内部对应订单、比对金额、按身份键 upsert。
// 单条载荷非法或持久化失败只记入 errors，不中止批次（部分成功对外可见）。
// 重复摄入同一批次是幂等的：身份键 (tenant, source, platform_order_id) 保证 upsert 不产生重复行。
func (s *AggregatorSyncService) SyncOrders(ctx context.Context, tenantID string, source domain.Source, payloads []AggregatorOrderPayload) ([]*domain.AggregatorOrderRecord, []RecordError) {
	unlock := acquireBatchLock(ctx, s.cache, fmt.Sprintf("recon:aggregator-sync:%s:%s", tenantID, source))
	defer unlock()

	results := make([]*domain.AggregatorOrderRecord, 0, len(payloads))
	var errs []RecordError

	for i, p := range payloads {
		if reason := validateAggregatorPayload(p); reason != "" {
			errs = append(errs, RecordError{Index: i, Key: p.PlatformOrderID, Reason: reason})
			continue
		}

		record, err := s.syncOne(ctx, tenantID, source, p)
		if err != nil {
			logger.Error(ctx, "Failed to sync aggregator order",
				"tenant_id", tenantID,
				"source", source,
				"platform_order_id", p.PlatformOrderID,
				"error", err,
			)
			errs = append(errs, RecordError{Index: i, Key: p.PlatformOrderID, Reason: err.Error()})
			continue
		}

		if s.metrics != nil {
			s.metrics.AggregatorRecordsSynced.WithLabelValues(string(source), record.Status.String()).Inc()
		}
		results = append(results, record)
	}

	logger.Info(ctx, "Aggregator batch synced",
		"tenant_id", tenantID,
		"source", source,
		"total", len(payloads),
		"succeeded", len(results),
		"failed", len(errs),
	)
	return results, errs
}

func (s *AggregatorSyncService) syncOne(ctx context.Context, tenantID string, source domain.Source, p AggregatorOrderPayload) (*domain.AggregatorOrderRecord, error) {
	existing, err := s.records.GetByPlatformOrder(ctx, tenantID, source, p.PlatformOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing record: %w", err)
	}

	record := &domain.AggregatorOrderRecord{
		TenantID:        tenantID,
		Source:          source,
		PlatformOrderID: p.PlatformOrderID,
		GrossAmount:     p.GrossAmount.Round(2),
		NetAmount:       p.NetAmount.Round(2),
		CommissionFee:   p.CommissionFee.Round(2),
		DeliveryFee:     p.DeliveryFee.Round(2),
		TaxCollected:    p.TaxCollected.Round(2),
		OrderDate:       p.OrderDate,
		CustomerName:    p.CustomerName,
		Items:           p.Items,
		Status:          domain.MatchPending,
	}

	order, err := s.orders.FindByOrderNo(ctx, tenantID, p.PlatformOrderID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to look up internal order: %w", err)
	}

	switch {
	case existing != nil && existing.Status == domain.MatchResolved:
		// RESOLVED 是人工终态：重复摄入只刷新快照列，裁决与核销元数据原样保留
		record.Status = existing.Status
		record.Difference = existing.Difference
		record.InternalOrderID = existing.InternalOrderID
		record.ResolvedBy = existing.ResolvedBy
		record.ResolvedAt = existing.ResolvedAt
		record.ResolutionNotes = existing.ResolutionNotes
	case order != nil:
		outcome := domain.Compare(record.GrossAmount, order.TotalAmount, s.tolerance)
		record.ApplyOutcome(outcome, order.ID)
	case existing != nil && existing.IsTerminal():
		// 重复摄入不得把已出终态的记录打回 PENDING
		record.Status = existing.Status
		record.Difference = existing.Difference
		record.InternalOrderID = existing.InternalOrderID
	}

	if err := s.records.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}

	// upsert 后回读，返回存储态（含主键与时间戳）
	stored, err := s.records.GetByPlatformOrder(ctx, tenantID, source, p.PlatformOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload record: %w", err)
	}
	return stored, nil
}

// AutoMatch 重扫 PENDING 记录并重试匹配
// 针对在内部订单产生之前被摄入的记录；使用已存储的快照，不重新摄入。
// 幂等且可重复运行，绝不把已匹配/差异记录回退为 PENDING。
func (s *AggregatorSyncService) AutoMatch(ctx context.Context, tenantID string, source domain.Source) (*AutoMatchResult, error) {
	pending, err := s.records.FindPending(ctx, tenantID, source)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending records: %w", err)
	}

	result := &AutoMatchResult{}
	for _, record := range pending {
		// source 为空时扫描覆盖全部来源，订单查找必须用记录自身的来源配对
		order, err := s.orders.FindByOrderNo(ctx, tenantID, record.PlatformOrderID, record.Source)
		if err != nil {
			logger.Error(ctx, "Auto-match lookup failed",
				"tenant_id", tenantID,
				"platform_order_id", record.PlatformOrderID,
				"error", err,
			)
			result.NotMatched++
			continue
		}
		if order == nil {
			result.NotMatched++
			continue
		}

		outcome := domain.Compare(record.GrossAmount, order.TotalAmount, s.tolerance)
		record.ApplyOutcome(outcome, order.ID)

		if err := s.records.Update(ctx, record); err != nil {
			logger.Error(ctx, "Auto-match update failed",
				"tenant_id", tenantID,
				"platform_order_id", record.PlatformOrderID,
				"error", err,
			)
			result.NotMatched++
			continue
		}

		if s.metrics != nil {
			s.metrics.AutoMatchUpgrades.Inc()
		}
		result.Matched++
	}

	logger.Info(ctx, "Auto-match sweep completed",
		"tenant_id", tenantID,
		"source", source,
		"matched", result.Matched,
		"not_matched", result.NotMatched,
	)
	return result, nil
}

// ListMismatches 查询差异记录与统计
func (s *AggregatorSyncService) ListMismatches(ctx context.Context, filter domain.AggregatorRecordFilter, page, pageSize int) (*MismatchPage, error) {
	stats, err := s.records.Stats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compute mismatch stats: %w", err)
	}

	var pagination *utils.Pagination
	if pageSize > 0 {
		pagination = utils.NewPagination(page, pageSize, stats.Total)
		filter.Limit = pagination.PageSize
		filter.Offset = pagination.Offset()
	}

	records, err := s.records.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list mismatches: %w", err)
	}

	return &MismatchPage{
		Mismatches: records,
		Stats:      stats,
		Pagination: pagination,
	}, nil
}

// ResolveMismatch 人工核销一条差异记录，记录操作者与时间
// PENDING 记录不可核销；重复核销是幂等覆盖
func (s *AggregatorSyncService) ResolveMismatch(ctx context.Context, id uint, actorID, notes string) (*domain.AggregatorOrderRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load mismatch: %w", err)
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	if err := record.Resolve(actorID, notes); err != nil {
		return nil, err
	}

	if err := s.records.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist resolution: %w", err)
	}

	if s.metrics != nil {
		s.metrics.MismatchesResolved.Inc()
	}
	logger.Info(ctx, "Mismatch resolved",
		"mismatch_id", id,
		"resolved_by", actorID,
	)
	return record, nil
}

func validateAggregatorPayload(p AggregatorOrderPayload) string {
	if p.PlatformOrderID == "" {
		return "platform_order_id is required"
	}
	if p.GrossAmount.LessThanOrEqual(decimal.Zero) {
		return "gross_amount must be positive"
	}
	if p.OrderDate.IsZero() {
		return "order_date is required"
	}
	return ""
}
