package application

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/pkg/cache"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/metrics"
	"github.com/feastops/reconciliation/pkg/utils"
	"github.com/shopspring/decimal"
)

// SettlementPayload 支付网关结算批次原始载荷
type SettlementPayload struct {
	SettlementID   string          `json:"settlement_id"`
	SettlementDate time.Time       `json:"settlement_date"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	Description    string          `json:"description"`
}

// SettlementPage 结算查询结果
type SettlementPage struct {
	Settlements []*domain.SettlementRecord `json:"settlements"`
	Stats       *domain.SettlementStats    `json:"stats"`
	Pagination  *utils.Pagination          `json:"pagination,omitempty"`
}

// OrderResolutionStrategy 结算对应订单的解析策略
// 策略按注册顺序尝试，第一个返回非空结果的策略胜出
type OrderResolutionStrategy interface {
	Name() string
	Resolve(ctx context.Context, tenantID string, payload SettlementPayload) ([]*domain.InternalOrder, error)
}

// ReferenceMatchStrategy 精确引用匹配：从结算描述中提取标记字符引导的订单号
// （如 "#AB1234"），按订单号 + 网关支付方式查找单笔订单。启发式策略，可按租户禁用
type ReferenceMatchStrategy struct {
	orders  domain.OrderRepository
	pattern *regexp.Regexp
}

// NewReferenceMatchStrategy 创建精确引用匹配策略
func NewReferenceMatchStrategy(orders domain.OrderRepository, marker string) *ReferenceMatchStrategy {
	if marker == "" {
		marker = "#"
	}
	return &ReferenceMatchStrategy{
		orders:  orders,
		pattern: regexp.MustCompile(regexp.QuoteMeta(marker) + `([A-Za-z0-9\-]{3,32})`),
	}
}

// Name 策略名
func (s *ReferenceMatchStrategy) Name() string { return "reference" }

// Resolve 提取订单号引用并查找订单
func (s *ReferenceMatchStrategy) Resolve(ctx context.Context, tenantID string, payload SettlementPayload) ([]*domain.InternalOrder, error) {
	m := s.pattern.FindStringSubmatch(payload.Description)
	if m == nil {
		return nil, nil
	}

	order, err := s.orders.FindByOrderNoAndMode(ctx, tenantID, m[1], domain.PaymentModeGateway)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}
	return []*domain.InternalOrder{order}, nil
}

// FIFOBatchStrategy 先进先出批量匹配：选取所有未链接结算、创建时间不晚于结算日期的
// 网关订单。假设结算按到达顺序清算批次窗口内的未结订单——这是一个显式假设，非保证
type FIFOBatchStrategy struct {
	orders domain.OrderRepository
}

// NewFIFOBatchStrategy 创建 FIFO 批量匹配策略
func NewFIFOBatchStrategy(orders domain.OrderRepository) *FIFOBatchStrategy {
	return &FIFOBatchStrategy{orders: orders}
}

// Name 策略名
func (s *FIFOBatchStrategy) Name() string { return "fifo" }

// Resolve 返回未结算的网关订单（创建时间升序）
func (s *FIFOBatchStrategy) Resolve(ctx context.Context, tenantID string, payload SettlementPayload) ([]*domain.InternalOrder, error) {
	return s.orders.FindUnsettledGateway(ctx, tenantID, payload.SettlementDate)
}

// SettlementSyncService 结算批次同步服务
type SettlementSyncService struct {
	orders      domain.OrderRepository
	settlements domain.SettlementRepository
	strategies  []OrderResolutionStrategy
	cache       *cache.RedisCache
	metrics     *metrics.Metrics
	tolerance   decimal.Decimal
}

// NewSettlementSyncService 创建结算批次同步服务
// strategies 为空时使用默认链：精确引用匹配 → FIFO 批量匹配
func NewSettlementSyncService(
	orders domain.OrderRepository,
	settlements domain.SettlementRepository,
	rc *cache.RedisCache,
	m *metrics.Metrics,
	tolerance decimal.Decimal,
	strategies ...OrderResolutionStrategy,
) *SettlementSyncService {
	if tolerance.LessThanOrEqual(decimal.Zero) {
		tolerance = domain.DefaultSettlementTolerance
	}
	if len(strategies) == 0 {
		strategies = []OrderResolutionStrategy{
			NewReferenceMatchStrategy(orders, "#"),
			NewFIFOBatchStrategy(orders),
		}
	}
	return &SettlementSyncService{
		orders:      orders,
		settlements: settlements,
		strategies:  strategies,
		cache:       rc,
		metrics:     m,
		tolerance:   tolerance,
	}
}

// SyncSettlements 摄入一批结算记录
// 单条失败只记入 errors；重复摄入幂等（settlement_id upsert + 订单 CAS 盖章）
func (s *SettlementSyncService) SyncSettlements(ctx context.Context, tenantID string, payloads []SettlementPayload) ([]*domain.SettlementRecord, []RecordError) {
	unlock := acquireBatchLock(ctx, s.cache, fmt.Sprintf("recon:settlement-sync:%s", tenantID))
	defer unlock()

	results := make([]*domain.SettlementRecord, 0, len(payloads))
	var errs []RecordError

	for i, p := range payloads {
		if reason := validateSettlementPayload(p); reason != "" {
			errs = append(errs, RecordError{Index: i, Key: p.SettlementID, Reason: reason})
			continue
		}

		record, err := s.syncOne(ctx, tenantID, p)
		if err != nil {
			logger.Error(ctx, "Failed to sync settlement",
				"tenant_id", tenantID,
				"settlement_id", p.SettlementID,
				"error", err,
			)
			errs = append(errs, RecordError{Index: i, Key: p.SettlementID, Reason: err.Error()})
			continue
		}

		if s.metrics != nil {
			s.metrics.SettlementsSynced.WithLabelValues(record.Status.String()).Inc()
		}
		results = append(results, record)
	}

	logger.Info(ctx, "Settlement batch synced",
		"tenant_id", tenantID,
		"total", len(payloads),
		"succeeded", len(results),
		"failed", len(errs),
	)
	return results, errs
}

func (s *SettlementSyncService) syncOne(ctx context.Context, tenantID string, p SettlementPayload) (*domain.SettlementRecord, error) {
	candidates, strategyName, err := s.resolveOrders(ctx, tenantID, p)
	if err != nil {
		return nil, fmt.Errorf("order resolution failed: %w", err)
	}

	record := &domain.SettlementRecord{
		TenantID:       tenantID,
		SettlementID:   p.SettlementID,
		SettlementDate: p.SettlementDate,
		ReceivedAmount: p.ReceivedAmount.Round(2),
		Status:         domain.SettlementPending,
		Notes:          p.Description,
	}

	// 候选读取与盖章写入是一个逻辑单元：事务内条件更新裁决并发竞争
	err = s.orders.WithTx(ctx, func(txCtx context.Context) error {
		if len(candidates) > 0 {
			ids := make([]uint, 0, len(candidates))
			for _, o := range candidates {
				ids = append(ids, o.ID)
			}
			if _, err := s.orders.ClaimForSettlement(txCtx, tenantID, p.SettlementID, ids); err != nil {
				return fmt.Errorf("failed to claim orders: %w", err)
			}
		}

		// 回读实际归属本批次的订单：并发竞争下部分候选可能已被其他批次认领
		linked, err := s.orders.FindBySettlementID(txCtx, tenantID, p.SettlementID)
		if err != nil {
			return fmt.Errorf("failed to load linked orders: %w", err)
		}

		if len(linked) > 0 {
			expected := decimal.Zero
			ids := make([]uint, 0, len(linked))
			for _, o := range linked {
				expected = expected.Add(o.TotalAmount)
				ids = append(ids, o.ID)
			}
			expected = expected.Round(2)

			outcome := domain.Compare(record.ReceivedAmount, expected, s.tolerance)
			record.ApplyOutcome(outcome, expected, ids)
		}

		return s.settlements.Upsert(txCtx, record)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "Settlement processed",
		"settlement_id", p.SettlementID,
		"strategy", strategyName,
		"linked_orders", len(record.OrderIDs),
		"status", record.Status.String(),
	)

	stored, err := s.settlements.GetBySettlementID(ctx, p.SettlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload settlement: %w", err)
	}
	return stored, nil
}

func (s *SettlementSyncService) resolveOrders(ctx context.Context, tenantID string, p SettlementPayload) ([]*domain.InternalOrder, string, error) {
	for _, strategy := range s.strategies {
		orders, err := strategy.Resolve(ctx, tenantID, p)
		if err != nil {
			return nil, strategy.Name(), err
		}
		if len(orders) > 0 {
			return orders, strategy.Name(), nil
		}
	}
	return nil, "", nil
}

// ListSettlements 查询结算记录与统计
func (s *SettlementSyncService) ListSettlements(ctx context.Context, filter domain.SettlementFilter, page, pageSize int) (*SettlementPage, error) {
	stats, err := s.settlements.Stats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compute settlement stats: %w", err)
	}

	var pagination *utils.Pagination
	if pageSize > 0 {
		pagination = utils.NewPagination(page, pageSize, stats.Total)
		filter.Limit = pagination.PageSize
		filter.Offset = pagination.Offset()
	}

	records, err := s.settlements.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	return &SettlementPage{
		Settlements: records,
		Stats:       stats,
		Pagination:  pagination,
	}, nil
}

func validateSettlementPayload(p SettlementPayload) string {
	if p.SettlementID == "" {
		return "settlement_id is required"
	}
	if p.ReceivedAmount.LessThanOrEqual(decimal.Zero) {
		return "received_amount must be positive"
	}
	if p.SettlementDate.IsZero() {
		return "settlement_date is required"
	}
	return ""
}
