package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
)

// TestGetDailySales_Breakdown 按支付方式分组与均单金额
func TestGetDailySales_Breakdown(t *testing.T) {
	db, repos := setupRepos(t)
	h := &testDBHolder{db: db}
	svc := NewDailySalesService(repos.orders, istOffsetMinutes)

	ist := time.FixedZone("tenant", istOffsetMinutes*60)
	day := time.Date(2026, 6, 15, 10, 0, 0, 0, ist)

	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "D-1", Source: "pos",
		TotalAmount: mustD(t, "100.00"), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCompleted,
	}, day)
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "D-2", Source: "pos",
		TotalAmount: mustD(t, "200.00"), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCompleted,
	}, day.Add(time.Hour))
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "D-3", Source: "pos",
		TotalAmount: mustD(t, "300.00"), PaymentMode: domain.PaymentModeGateway,
		Status: domain.OrderStatusCompleted,
	}, day.Add(2*time.Hour))
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "D-4", Source: "pos",
		TotalAmount: mustD(t, "500.00"), PaymentMode: domain.PaymentModeCash,
		Status: domain.OrderStatusCancelled,
	}, day.Add(3*time.Hour))
	// 次日订单不计入
	seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: "D-5", Source: "pos",
		TotalAmount: mustD(t, "80.00"), PaymentMode: domain.PaymentModeCard,
		Status: domain.OrderStatusCompleted,
	}, day.AddDate(0, 0, 1))

	report, err := svc.GetDailySales(context.Background(), "t1", day)
	require.NoError(t, err)

	assert.Equal(t, "2026-06-15", report.Date)
	assert.True(t, report.GrossSales.Equal(mustD(t, "600.00")))
	assert.Equal(t, 3, report.OrderCount)
	assert.Equal(t, 1, report.CancelledCount)
	assert.True(t, report.AverageOrder.Equal(mustD(t, "200.00")))
	assert.True(t, report.ByPaymentMode["cash"].Equal(mustD(t, "300.00")))
	assert.True(t, report.ByPaymentMode["gateway"].Equal(mustD(t, "300.00")))
	_, hasCard := report.ByPaymentMode["card"]
	assert.False(t, hasCard)
}
