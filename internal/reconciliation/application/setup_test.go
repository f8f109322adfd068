package application

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/internal/reconciliation/infrastructure/persistence/mysql"
)

// setupTestDB 设置测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// 内存 sqlite 在并发事务下需要串行化连接池
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to access test database pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&domain.InternalOrder{},
		&domain.AggregatorOrderRecord{},
		&domain.SettlementRecord{},
		&domain.TaxReport{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// testDBHolder 让服务构造助手能把底层连接一并交还给测试
type testDBHolder struct{ db *gorm.DB }

type testRepos struct {
	orders      domain.OrderRepository
	records     domain.AggregatorRepository
	settlements domain.SettlementRepository
	reports     domain.TaxReportRepository
}

func setupRepos(t *testing.T) (*gorm.DB, *testRepos) {
	t.Helper()
	db := setupTestDB(t)
	return db, &testRepos{
		orders:      mysql.NewOrderRepository(db),
		records:     mysql.NewAggregatorRepository(db),
		settlements: mysql.NewSettlementRepository(db),
		reports:     mysql.NewTaxReportRepository(db),
	}
}

func mustD(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", s, err)
	}
	return v
}

// seedOrder 插入一条内部订单，createdAt 控制报表与 FIFO 取数窗口
func seedOrder(t *testing.T, db *gorm.DB, order *domain.InternalOrder, createdAt time.Time) *domain.InternalOrder {
	t.Helper()
	order.CreatedAt = createdAt
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
	return order
}
