package application

import (
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
)

func newExportService(t *testing.T) (*ExportService, *AggregatorSyncService, *testDBHolder) {
	t.Helper()
	db, repos := setupRepos(t)
	h := &testDBHolder{db: db}

	aggregator := NewAggregatorSyncService(repos.orders, repos.records, nil, nil, domain.DefaultAggregatorTolerance)
	settlements := NewSettlementSyncService(repos.orders, repos.settlements, nil, nil, domain.DefaultSettlementTolerance)
	tax := NewTaxReportService(repos.orders, repos.reports, nil, mustD(t, "0.05"), istOffsetMinutes)
	daily := NewDailySalesService(repos.orders, istOffsetMinutes)

	return NewExportService(daily, tax, aggregator, settlements), aggregator, h
}

// TestExportCSV_UnknownType 未知类型返回占位内容而非错误
func TestExportCSV_UnknownType(t *testing.T) {
	svc, _, _ := newExportService(t)

	content, err := svc.ExportCSV(context.Background(), "quarterly-vat", ExportQuery{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "unsupported report type: quarterly-vat\n", content)
}

// TestExportCSV_DailySales 日销售导出可被标准 CSV 读取器回读
func TestExportCSV_DailySales(t *testing.T) {
	svc, _, h := newExportService(t)
	ist := time.FixedZone("tenant", istOffsetMinutes*60)
	day := time.Date(2026, 6, 15, 12, 0, 0, 0, ist)

	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "O-1", Source: "pos",
		TotalAmount: mustD(t, "250.00"), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCompleted,
	}, day)
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "O-2", Source: "pos",
		TotalAmount: mustD(t, "150.00"), PaymentMode: domain.PaymentModeCard,
		Status: domain.OrderStatusCompleted,
	}, day.Add(2*time.Hour))

	content, err := svc.ExportCSV(context.Background(), ExportDailySales, ExportQuery{
		TenantID: "t1",
		Date:     day,
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"date", "gross_sales", "order_count", "cancelled_count", "average_order"}, rows[0])
	assert.Equal(t, []string{"2026-06-15", "400.00", "2", "0", "200.00"}, rows[1])
}

// TestExportCSV_AggregatorMismatch 差异导出包含状态与差额列
func TestExportCSV_AggregatorMismatch(t *testing.T) {
	svc, aggregator, h := newExportService(t)
	ctx := context.Background()

	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "ZO-1", Source: domain.SourceZomato,
		TotalAmount: mustD(t, "100.00"), PaymentMode: domain.PaymentModeAggregator,
		Status: domain.OrderStatusCompleted,
	}, time.Now())

	_, errs := aggregator.SyncOrders(ctx, "t1", domain.SourceZomato, []AggregatorOrderPayload{{
		PlatformOrderID: "ZO-1",
		GrossAmount:     mustD(t, "90.00"),
		OrderDate:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}})
	require.Empty(t, errs)

	content, err := svc.ExportCSV(ctx, ExportAggregatorMismatch, ExportQuery{TenantID: "t1"})
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(content)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ZO-1", rows[1][1])
	assert.Equal(t, "-10.00", rows[1][3])
	assert.Equal(t, "SHORTAGE", rows[1][4])
}
