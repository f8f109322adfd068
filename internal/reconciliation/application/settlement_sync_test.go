package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
)

func newSettlementService(t *testing.T) (*SettlementSyncService, *testRepos, *testDBHolder) {
	t.Helper()
	db, repos := setupRepos(t)
	svc := NewSettlementSyncService(repos.orders, repos.settlements, nil, nil, domain.DefaultSettlementTolerance)
	return svc, repos, &testDBHolder{db: db}
}

func seedGatewayOrder(t *testing.T, h *testDBHolder, orderNo, amount string, createdAt time.Time) *domain.InternalOrder {
	t.Helper()
	return seedOrder(t, h.db, &domain.InternalOrder{
		TenantID: "t1", OrderNo: orderNo, Source: "pos",
		TotalAmount: mustD(t, amount), PaymentMode: domain.PaymentModeGateway,
		Status: domain.OrderStatusCompleted,
	}, createdAt)
}

// TestSyncSettlements_ReferenceMatch 描述中的订单号引用优先于 FIFO
func TestSyncSettlements_ReferenceMatch(t *testing.T) {
	svc, _, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	target := seedGatewayOrder(t, h, "GW-123", "500.00", now.Add(-2*time.Hour))
	seedGatewayOrder(t, h, "GW-OTHER", "999.00", now.Add(-3*time.Hour))

	records, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
		SettlementID:   "SET-1",
		SettlementDate: now,
		ReceivedAmount: mustD(t, "498.00"),
		Description:    "payout for #GW-123 batch",
	}})
	require.Empty(t, errs)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, domain.SettlementMatched, record.Status)
	assert.Equal(t, domain.OrderIDList{target.ID}, record.OrderIDs)
	assert.True(t, record.ExpectedAmount.Equal(mustD(t, "500.00")))
	assert.True(t, record.Difference.Equal(mustD(t, "-2.00")))
	assert.NotNil(t, record.ReconciledAt)

	var order domain.InternalOrder
	require.NoError(t, h.db.First(&order, target.ID).Error)
	require.NotNil(t, order.SettlementID)
	assert.Equal(t, "SET-1", *order.SettlementID)
}

// TestSyncSettlements_FIFOFallback 无引用时回退到 FIFO 批量匹配
func TestSyncSettlements_FIFOFallback(t *testing.T) {
	svc, _, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	o1 := seedGatewayOrder(t, h, "GW-A", "300.00", now.Add(-3*time.Hour))
	o2 := seedGatewayOrder(t, h, "GW-B", "700.00", now.Add(-2*time.Hour))
	// 结算日之后的订单不进入批次
	seedGatewayOrder(t, h, "GW-LATE", "50.00", now.Add(2*time.Hour))

	records, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
		SettlementID:   "SET-2",
		SettlementDate: now,
		ReceivedAmount: mustD(t, "996.00"),
		Description:    "weekly payout",
	}})
	require.Empty(t, errs)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, domain.SettlementMatched, record.Status)
	assert.Equal(t, domain.OrderIDList{o1.ID, o2.ID}, record.OrderIDs)
	assert.True(t, record.ExpectedAmount.Equal(mustD(t, "1000.00")))
}

// TestSyncSettlements_ShortageAndExcess 超出结算容差时分类为短款/长款
func TestSyncSettlements_ShortageAndExcess(t *testing.T) {
	svc, _, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	seedGatewayOrder(t, h, "GW-S", "1000.00", now.Add(-1*time.Hour))

	records, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
		SettlementID:   "SET-3",
		SettlementDate: now,
		ReceivedAmount: mustD(t, "990.00"),
	}})
	require.Empty(t, errs)
	assert.Equal(t, domain.SettlementShortage, records[0].Status)
	assert.Nil(t, records[0].ReconciledAt)
}

// TestSyncSettlements_NoOrdersStaysPending 找不到任何订单时保持 PENDING
func TestSyncSettlements_NoOrdersStaysPending(t *testing.T) {
	svc, _, _ := newSettlementService(t)

	records, errs := svc.SyncSettlements(context.Background(), "t1", []SettlementPayload{{
		SettlementID:   "SET-EMPTY",
		SettlementDate: time.Now(),
		ReceivedAmount: mustD(t, "100.00"),
	}})
	require.Empty(t, errs)
	assert.Equal(t, domain.SettlementPending, records[0].Status)
	assert.Empty(t, records[0].OrderIDs)
}

// TestSyncSettlements_NoDoubleClaim 已被先前批次认领的订单不会被再次认领
func TestSyncSettlements_NoDoubleClaim(t *testing.T) {
	svc, _, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	o1 := seedGatewayOrder(t, h, "GW-1", "400.00", now.Add(-4*time.Hour))
	o2 := seedGatewayOrder(t, h, "GW-2", "600.00", now.Add(-3*time.Hour))

	first, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
		SettlementID:   "SET-X",
		SettlementDate: now.Add(-2 * time.Hour),
		ReceivedAmount: mustD(t, "400.00"),
		Description:    "payout #GW-1",
	}})
	require.Empty(t, errs)
	assert.Equal(t, domain.OrderIDList{o1.ID}, first[0].OrderIDs)

	// 第二批走 FIFO，只能拿到尚未认领的 GW-2
	second, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
		SettlementID:   "SET-Y",
		SettlementDate: now,
		ReceivedAmount: mustD(t, "600.00"),
	}})
	require.Empty(t, errs)
	assert.Equal(t, domain.OrderIDList{o2.ID}, second[0].OrderIDs)
	assert.Equal(t, domain.SettlementMatched, second[0].Status)
}

// TestSyncSettlements_ConcurrentClaimDisjoint 并发批次竞争同一订单池时每笔订单只被盖章一次
func TestSyncSettlements_ConcurrentClaimDisjoint(t *testing.T) {
	svc, repos, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	o1 := seedGatewayOrder(t, h, "GW-C1", "100.00", now.Add(-4*time.Hour))
	o2 := seedGatewayOrder(t, h, "GW-C2", "100.00", now.Add(-3*time.Hour))

	var wg sync.WaitGroup
	for _, id := range []string{"SET-CA", "SET-CB"} {
		wg.Add(1)
		go func(settlementID string) {
			defer wg.Done()
			_, errs := svc.SyncSettlements(ctx, "t1", []SettlementPayload{{
				SettlementID:   settlementID,
				SettlementDate: now,
				ReceivedAmount: mustD(t, "200.00"),
			}})
			assert.Empty(t, errs)
		}(id)
	}
	wg.Wait()

	// 两个批次都解析到同一 FIFO 池，CAS 盖章保证订单归属唯一
	claimed := map[string][]uint{}
	for _, settlementID := range []string{"SET-CA", "SET-CB"} {
		record, err := repos.settlements.GetBySettlementID(ctx, settlementID)
		require.NoError(t, err)
		require.NotNil(t, record)
		claimed[settlementID] = record.OrderIDs
	}

	seen := map[uint]string{}
	for settlementID, ids := range claimed {
		for _, id := range ids {
			owner, dup := seen[id]
			require.False(t, dup, "order %d claimed by both %s and %s", id, owner, settlementID)
			seen[id] = settlementID
		}
	}
	assert.Len(t, seen, 2)

	for _, o := range []*domain.InternalOrder{o1, o2} {
		var stored domain.InternalOrder
		require.NoError(t, h.db.First(&stored, o.ID).Error)
		require.NotNil(t, stored.SettlementID)
		assert.Equal(t, seen[o.ID], *stored.SettlementID)
	}
}

// TestSyncSettlements_IdempotentResync 重复摄入同一结算批次收敛为一行
func TestSyncSettlements_IdempotentResync(t *testing.T) {
	svc, _, h := newSettlementService(t)
	ctx := context.Background()
	now := time.Now()

	o := seedGatewayOrder(t, h, "GW-R", "250.00", now.Add(-1*time.Hour))

	batch := []SettlementPayload{{
		SettlementID:   "SET-R",
		SettlementDate: now,
		ReceivedAmount: mustD(t, "250.00"),
		Description:    "payout #GW-R",
	}}

	first, errs := svc.SyncSettlements(ctx, "t1", batch)
	require.Empty(t, errs)
	second, errs := svc.SyncSettlements(ctx, "t1", batch)
	require.Empty(t, errs)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, domain.OrderIDList{o.ID}, second[0].OrderIDs)

	var count int64
	require.NoError(t, h.db.Model(&domain.SettlementRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// TestSyncSettlements_Validation 非法载荷记入 errors
func TestSyncSettlements_Validation(t *testing.T) {
	svc, _, _ := newSettlementService(t)

	records, errs := svc.SyncSettlements(context.Background(), "t1", []SettlementPayload{
		{SettlementID: "", SettlementDate: time.Now(), ReceivedAmount: mustD(t, "10.00")},
		{SettlementID: "SET-NEG", SettlementDate: time.Now(), ReceivedAmount: mustD(t, "-10.00")},
	})
	assert.Empty(t, records)
	assert.Len(t, errs, 2)
}

// TestReferenceMatchStrategy_Extraction 引用提取只接受标记字符引导的订单号
func TestReferenceMatchStrategy_Extraction(t *testing.T) {
	db, repos := setupRepos(t)
	strategy := NewReferenceMatchStrategy(repos.orders, "#")
	h := &testDBHolder{db: db}

	target := seedGatewayOrder(t, h, "AB-1234", "100.00", time.Now())

	orders, err := strategy.Resolve(context.Background(), "t1", SettlementPayload{
		Description: "gateway payout ref #AB-1234 per agreement",
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, target.ID, orders[0].ID)

	orders, err = strategy.Resolve(context.Background(), "t1", SettlementPayload{
		Description: "no reference here",
	})
	require.NoError(t, err)
	assert.Empty(t, orders)
}
