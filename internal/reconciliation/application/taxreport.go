package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/metrics"
	"github.com/shopspring/decimal"
)

// TaxReportService 月度 GST 税务报表服务
// 报表按 (tenant, month, year) 缓存于数据库，stale 标记失效后按需重算
type TaxReportService struct {
	orders  domain.OrderRepository
	reports domain.TaxReportRepository
	metrics *metrics.Metrics
	gstRate decimal.Decimal
	tz      *time.Location
}

// NewTaxReportService 创建税务报表服务
// tzOffsetMinutes 为租户报表时区相对 UTC 的分钟偏移（如 IST 为 330）
func NewTaxReportService(
	orders domain.OrderRepository,
	reports domain.TaxReportRepository,
	m *metrics.Metrics,
	gstRate decimal.Decimal,
	tzOffsetMinutes int,
) *TaxReportService {
	if gstRate.LessThanOrEqual(decimal.Zero) {
		gstRate = decimal.NewFromFloat(0.05)
	}
	return &TaxReportService{
		orders:  orders,
		reports: reports,
		metrics: m,
		gstRate: gstRate,
		tz:      time.FixedZone("tenant", tzOffsetMinutes*60),
	}
}

// GetMonthlyReport 获取月度 GST 报表
// 缓存命中且未失效时直接返回；缓存读取失败降级为重算，不向调用方透出
func (s *TaxReportService) GetMonthlyReport(ctx context.Context, tenantID string, month, year int) (*domain.TaxReport, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: month must be 1-12", domain.ErrInvalidPayload)
	}
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("%w: year out of range", domain.ErrInvalidPayload)
	}

	cached, err := s.reports.Get(ctx, tenantID, month, year)
	if err != nil {
		// fail open: 缓存读取故障时重算
		logger.Warn(ctx, "Tax report cache read failed, recomputing",
			"tenant_id", tenantID, "month", month, "year", year, "error", err)
	} else if cached != nil && !cached.Stale {
		if s.metrics != nil {
			s.metrics.TaxReportCacheHits.Inc()
		}
		return cached, nil
	}
	if s.metrics != nil {
		s.metrics.TaxReportCacheMisses.Inc()
	}

	report, err := s.compute(ctx, tenantID, month, year)
	if err != nil {
		return nil, err
	}

	if err := s.reports.Upsert(ctx, report); err != nil {
		// 存储失败不阻塞读路径，下一次请求会再次重算
		logger.Error(ctx, "Failed to store tax report",
			"tenant_id", tenantID, "month", month, "year", year, "error", err)
	}

	stored, err := s.reports.Get(ctx, tenantID, month, year)
	if err == nil && stored != nil {
		return stored, nil
	}
	return report, nil
}

// Invalidate 将租户所有缓存报表标记为失效
// 订单终态变化（完成/取消）后由消费者触发
func (s *TaxReportService) Invalidate(ctx context.Context, tenantID string) error {
	if err := s.reports.InvalidateTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to invalidate tax reports: %w", err)
	}
	logger.Info(ctx, "Tax reports invalidated", "tenant_id", tenantID)
	return nil
}

func (s *TaxReportService) compute(ctx context.Context, tenantID string, month, year int) (*domain.TaxReport, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, s.tz)
	to := from.AddDate(0, 1, 0)

	orders, err := s.orders.FindNonCancelled(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	cancelled, err := s.orders.CountCancelled(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count cancelled orders: %w", err)
	}

	// 含税定价：taxable = gross / (1 + rate)，税额对半拆分 CGST/SGST
	divisor := decimal.NewFromInt(1).Add(s.gstRate)

	gross := decimal.Zero
	byDay := make(map[string]*domain.DayBreakdown)
	for _, o := range orders {
		gross = gross.Add(o.TotalAmount)

		day := o.CreatedAt.In(s.tz).Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &domain.DayBreakdown{Date: day}
			byDay[day] = d
		}
		d.GrossSales = d.GrossSales.Add(o.TotalAmount)
		d.OrderCount++
	}

	gross = gross.Round(2)
	taxable := gross.Div(divisor).Round(2)
	totalTax := gross.Sub(taxable)
	cgst := totalTax.Div(decimal.NewFromInt(2)).Round(2)
	sgst := totalTax.Sub(cgst)

	days := make([]domain.DayBreakdown, 0, len(byDay))
	for _, d := range byDay {
		d.GrossSales = d.GrossSales.Round(2)
		d.TaxableAmount = d.GrossSales.Div(divisor).Round(2)
		d.TotalTax = d.GrossSales.Sub(d.TaxableAmount)
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	return &domain.TaxReport{
		TenantID:       tenantID,
		Month:          month,
		Year:           year,
		GrossSales:     gross,
		TaxableAmount:  taxable,
		CGST:           cgst,
		SGST:           sgst,
		TotalTax:       totalTax,
		OrderCount:     len(orders),
		CancelledCount: int(cancelled),
		Breakdown:      days,
		Stale:          false,
		// 订单未拆分税率档位，报表按统一税率估算
		TaxEstimated: true,
	}, nil
}
