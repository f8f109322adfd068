package application

import (
	"context"
	"fmt"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/shopspring/decimal"
)

// DailySalesReport 单日销售汇总，始终从订单实时计算
type DailySalesReport struct {
	TenantID       string                     `json:"tenant_id"`
	Date           string                     `json:"date"`
	GrossSales     decimal.Decimal            `json:"gross_sales"`
	OrderCount     int                        `json:"order_count"`
	CancelledCount int                        `json:"cancelled_count"`
	AverageOrder   decimal.Decimal            `json:"average_order"`
	ByPaymentMode  map[string]decimal.Decimal `json:"by_payment_mode"`
}

// DailySalesService 日销售报表服务
type DailySalesService struct {
	orders domain.OrderRepository
	tz     *time.Location
}

// NewDailySalesService 创建日销售报表服务
func NewDailySalesService(orders domain.OrderRepository, tzOffsetMinutes int) *DailySalesService {
	return &DailySalesService{
		orders: orders,
		tz:     time.FixedZone("tenant", tzOffsetMinutes*60),
	}
}

// GetDailySales 计算某日（租户时区）的销售汇总
func (s *DailySalesService) GetDailySales(ctx context.Context, tenantID string, date time.Time) (*DailySalesReport, error) {
	day := date.In(s.tz)
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.tz)
	to := from.AddDate(0, 0, 1)

	orders, err := s.orders.FindNonCancelled(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	cancelled, err := s.orders.CountCancelled(ctx, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count cancelled orders: %w", err)
	}

	report := &DailySalesReport{
		TenantID:       tenantID,
		Date:           from.Format("2006-01-02"),
		GrossSales:     decimal.Zero,
		OrderCount:     len(orders),
		CancelledCount: int(cancelled),
		AverageOrder:   decimal.Zero,
		ByPaymentMode:  make(map[string]decimal.Decimal),
	}

	for _, o := range orders {
		report.GrossSales = report.GrossSales.Add(o.TotalAmount)
		mode := string(o.PaymentMode)
		report.ByPaymentMode[mode] = report.ByPaymentMode[mode].Add(o.TotalAmount)
	}
	report.GrossSales = report.GrossSales.Round(2)
	for mode, amount := range report.ByPaymentMode {
		report.ByPaymentMode[mode] = amount.Round(2)
	}
	if len(orders) > 0 {
		report.AverageOrder = report.GrossSales.Div(decimal.NewFromInt(int64(len(orders)))).Round(2)
	}

	return report, nil
}
