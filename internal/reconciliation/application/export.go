package application

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
)

// 导出报表类型
const (
	ExportDailySales         = "daily-sales"
	ExportMonthlyGST         = "monthly-gst"
	ExportAggregatorMismatch = "aggregator-mismatch"
	ExportPaymentRecon       = "payment-reconciliation"
)

// ExportQuery 导出参数，不同报表类型取用不同字段
type ExportQuery struct {
	TenantID  string
	Date      time.Time
	Month     int
	Year      int
	Source    domain.Source
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
}

// ExportService CSV 导出服务，复用各报表服务的计算路径
type ExportService struct {
	daily       *DailySalesService
	tax         *TaxReportService
	aggregator  *AggregatorSyncService
	settlements *SettlementSyncService
}

// NewExportService 创建导出服务
func NewExportService(
	daily *DailySalesService,
	tax *TaxReportService,
	aggregator *AggregatorSyncService,
	settlements *SettlementSyncService,
) *ExportService {
	return &ExportService{
		daily:       daily,
		tax:         tax,
		aggregator:  aggregator,
		settlements: settlements,
	}
}

// ExportCSV 生成指定类型报表的 CSV 文本
// 未知类型返回单行占位内容而非错误，便于下游统一落盘
func (s *ExportService) ExportCSV(ctx context.Context, reportType string, q ExportQuery) (string, error) {
	switch reportType {
	case ExportDailySales:
		return s.exportDailySales(ctx, q)
	case ExportMonthlyGST:
		return s.exportMonthlyGST(ctx, q)
	case ExportAggregatorMismatch:
		return s.exportAggregatorMismatches(ctx, q)
	case ExportPaymentRecon:
		return s.exportSettlements(ctx, q)
	default:
		return fmt.Sprintf("unsupported report type: %s\n", reportType), nil
	}
}

func (s *ExportService) exportDailySales(ctx context.Context, q ExportQuery) (string, error) {
	report, err := s.daily.GetDailySales(ctx, q.TenantID, q.Date)
	if err != nil {
		return "", err
	}

	return writeCSV(
		[]string{"date", "gross_sales", "order_count", "cancelled_count", "average_order"},
		[][]string{{
			report.Date,
			report.GrossSales.StringFixed(2),
			strconv.Itoa(report.OrderCount),
			strconv.Itoa(report.CancelledCount),
			report.AverageOrder.StringFixed(2),
		}},
	)
}

func (s *ExportService) exportMonthlyGST(ctx context.Context, q ExportQuery) (string, error) {
	report, err := s.tax.GetMonthlyReport(ctx, q.TenantID, q.Month, q.Year)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, len(report.Breakdown))
	for _, d := range report.Breakdown {
		rows = append(rows, []string{
			d.Date,
			d.GrossSales.StringFixed(2),
			d.TaxableAmount.StringFixed(2),
			d.TotalTax.StringFixed(2),
			strconv.Itoa(d.OrderCount),
		})
	}
	rows = append(rows, []string{
		fmt.Sprintf("%04d-%02d", report.Year, report.Month),
		report.GrossSales.StringFixed(2),
		report.TaxableAmount.StringFixed(2),
		report.TotalTax.StringFixed(2),
		strconv.Itoa(report.OrderCount),
	})

	return writeCSV(
		[]string{"date", "gross_sales", "taxable_amount", "total_tax", "order_count"},
		rows,
	)
}

func (s *ExportService) exportAggregatorMismatches(ctx context.Context, q ExportQuery) (string, error) {
	filter := domain.AggregatorRecordFilter{
		TenantID:  q.TenantID,
		Source:    q.Source,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	}
	if q.Status != "" {
		filter.Status = domain.ParseMatchStatus(q.Status)
	}

	page, err := s.aggregator.ListMismatches(ctx, filter, 0, 0)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, len(page.Mismatches))
	for _, r := range page.Mismatches {
		diff := ""
		if r.Difference.Valid {
			diff = r.Difference.Decimal.StringFixed(2)
		}
		rows = append(rows, []string{
			string(r.Source),
			r.PlatformOrderID,
			r.GrossAmount.StringFixed(2),
			diff,
			r.Status.String(),
			r.OrderDate.UTC().Format(time.RFC3339),
		})
	}

	return writeCSV(
		[]string{"source", "platform_order_id", "gross_amount", "difference", "status", "order_date"},
		rows,
	)
}

func (s *ExportService) exportSettlements(ctx context.Context, q ExportQuery) (string, error) {
	filter := domain.SettlementFilter{
		TenantID:  q.TenantID,
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
	}
	if q.Status != "" {
		filter.Status = domain.ParseSettlementStatus(q.Status)
	}

	page, err := s.settlements.ListSettlements(ctx, filter, 0, 0)
	if err != nil {
		return "", err
	}

	rows := make([][]string, 0, len(page.Settlements))
	for _, r := range page.Settlements {
		rows = append(rows, []string{
			r.SettlementID,
			r.SettlementDate.UTC().Format(time.RFC3339),
			r.ReceivedAmount.StringFixed(2),
			r.ExpectedAmount.StringFixed(2),
			r.Difference.StringFixed(2),
			r.Status.String(),
			strconv.Itoa(len(r.OrderIDs)),
		})
	}

	return writeCSV(
		[]string{"settlement_id", "settlement_date", "received_amount", "expected_amount", "difference", "status", "linked_orders"},
		rows,
	)
}

func writeCSV(header []string, rows [][]string) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
