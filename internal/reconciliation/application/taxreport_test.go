package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
)

const istOffsetMinutes = 330

func newTaxService(t *testing.T) (*TaxReportService, *testRepos, *testDBHolder) {
	t.Helper()
	db, repos := setupRepos(t)
	svc := NewTaxReportService(repos.orders, repos.reports, nil, mustD(t, "0.05"), istOffsetMinutes)
	return svc, repos, &testDBHolder{db: db}
}

func seedCompletedOrder(t *testing.T, h *testDBHolder, orderNo, amount string, createdAt time.Time) {
	t.Helper()
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: orderNo, Source: "pos",
		TotalAmount: mustD(t, amount), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCompleted,
	}, createdAt)
}

// TestGetMonthlyReport_Computation 含税倒推与 CGST/SGST 对半拆分
func TestGetMonthlyReport_Computation(t *testing.T) {
	svc, _, h := newTaxService(t)
	ctx := context.Background()
	ist := time.FixedZone("tenant", istOffsetMinutes*60)

	seedCompletedOrder(t, h, "O-1", "525.00", time.Date(2026, 3, 5, 13, 0, 0, 0, ist))
	seedCompletedOrder(t, h, "O-2", "210.00", time.Date(2026, 3, 5, 20, 0, 0, 0, ist))
	seedCompletedOrder(t, h, "O-3", "105.00", time.Date(2026, 3, 20, 9, 0, 0, 0, ist))
	// 取消订单不计入销售额，只计入取消计数
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "O-X", Source: "pos",
		TotalAmount: mustD(t, "999.00"), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCancelled,
	}, time.Date(2026, 3, 10, 12, 0, 0, 0, ist))

	report, err := svc.GetMonthlyReport(ctx, "t1", 3, 2026)
	require.NoError(t, err)

	// 840 含税 → 800 应税 + 40 税，CGST/SGST 各 20
	assert.True(t, report.GrossSales.Equal(mustD(t, "840.00")), "gross = %s", report.GrossSales)
	assert.True(t, report.TaxableAmount.Equal(mustD(t, "800.00")))
	assert.True(t, report.TotalTax.Equal(mustD(t, "40.00")))
	assert.True(t, report.CGST.Equal(mustD(t, "20.00")))
	assert.True(t, report.SGST.Equal(mustD(t, "20.00")))
	assert.Equal(t, 3, report.OrderCount)
	assert.Equal(t, 1, report.CancelledCount)
	assert.True(t, report.TaxEstimated)
	assert.False(t, report.Stale)

	require.Len(t, report.Breakdown, 2)
	assert.Equal(t, "2026-03-05", report.Breakdown[0].Date)
	assert.True(t, report.Breakdown[0].GrossSales.Equal(mustD(t, "735.00")))
	assert.Equal(t, 2, report.Breakdown[0].OrderCount)
	assert.Equal(t, "2026-03-20", report.Breakdown[1].Date)
}

// TestGetMonthlyReport_CacheHit 非 stale 缓存行直接返回，不重算
func TestGetMonthlyReport_CacheHit(t *testing.T) {
	svc, repos, h := newTaxService(t)
	ctx := context.Background()
	ist := time.FixedZone("tenant", istOffsetMinutes*60)

	seedCompletedOrder(t, h, "O-1", "105.00", time.Date(2026, 4, 2, 12, 0, 0, 0, ist))

	first, err := svc.GetMonthlyReport(ctx, "t1", 4, 2026)
	require.NoError(t, err)
	assert.True(t, first.GrossSales.Equal(mustD(t, "105.00")))

	// 缓存命中契约：新订单到达但未失效，返回的仍是缓存值
	seedCompletedOrder(t, h, "O-2", "210.00", time.Date(2026, 4, 3, 12, 0, 0, 0, ist))

	cached, err := svc.GetMonthlyReport(ctx, "t1", 4, 2026)
	require.NoError(t, err)
	assert.True(t, cached.GrossSales.Equal(mustD(t, "105.00")))

	// 失效后重算
	require.NoError(t, svc.Invalidate(ctx, "t1"))
	stale, err := repos.reports.Get(ctx, "t1", 4, 2026)
	require.NoError(t, err)
	assert.True(t, stale.Stale)

	fresh, err := svc.GetMonthlyReport(ctx, "t1", 4, 2026)
	require.NoError(t, err)
	assert.True(t, fresh.GrossSales.Equal(mustD(t, "315.00")))
	assert.False(t, fresh.Stale)
}

// TestGetMonthlyReport_TimezoneWindow 月份窗口按租户时区切分
func TestGetMonthlyReport_TimezoneWindow(t *testing.T) {
	svc, _, h := newTaxService(t)
	ctx := context.Background()
	ist := time.FixedZone("tenant", istOffsetMinutes*60)

	// IST 2026-05-01 00:30 = UTC 2026-04-30 19:00，属于 5 月
	seedCompletedOrder(t, h, "O-1", "105.00", time.Date(2026, 5, 1, 0, 30, 0, 0, ist))
	// IST 2026-04-30 23:30 属于 4 月
	seedCompletedOrder(t, h, "O-2", "210.00", time.Date(2026, 4, 30, 23, 30, 0, 0, ist))

	may, err := svc.GetMonthlyReport(ctx, "t1", 5, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, may.OrderCount)
	assert.True(t, may.GrossSales.Equal(mustD(t, "105.00")))

	april, err := svc.GetMonthlyReport(ctx, "t1", 4, 2026)
	require.NoError(t, err)
	assert.Equal(t, 1, april.OrderCount)
	assert.True(t, april.GrossSales.Equal(mustD(t, "210.00")))
}

// TestGetMonthlyReport_InvalidInput 非法月份/年份拒绝
func TestGetMonthlyReport_InvalidInput(t *testing.T) {
	svc, _, _ := newTaxService(t)

	_, err := svc.GetMonthlyReport(context.Background(), "t1", 13, 2026)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = svc.GetMonthlyReport(context.Background(), "t1", 1, 1970)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

// TestGetMonthlyReport_EmptyMonth 无订单月份返回零值报表
func TestGetMonthlyReport_EmptyMonth(t *testing.T) {
	svc, _, _ := newTaxService(t)

	report, err := svc.GetMonthlyReport(context.Background(), "t1", 7, 2026)
	require.NoError(t, err)
	assert.True(t, report.GrossSales.IsZero())
	assert.True(t, report.TotalTax.IsZero())
	assert.Equal(t, 0, report.OrderCount)
	assert.Empty(t, report.Breakdown)
}
