// Package metrics 提供 Prometheus helper，包含 HTTP 与对账业务指标模板
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal prometheus.Counter
	// HTTP 请求耗时
	HTTPRequestDuration prometheus.Histogram

	// 聚合平台订单同步计数（按来源与匹配结果）
	AggregatorRecordsSynced *prometheus.CounterVec
	// 结算批次同步计数（按匹配结果）
	SettlementsSynced *prometheus.CounterVec
	// 自动补匹配扫描中升级为终态的记录数
	AutoMatchUpgrades prometheus.Counter
	// 税务报表缓存命中数
	TaxReportCacheHits prometheus.Counter
	// 税务报表缓存未命中（重算）数
	TaxReportCacheMisses prometheus.Counter
	// 人工核销的差异记录数
	MismatchesResolved prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}),
		HTTPRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		AggregatorRecordsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "aggregator_records_synced_total",
			Help:      "Aggregator order records ingested, by source and match status",
		}, []string{"source", "status"}),
		SettlementsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "settlements_synced_total",
			Help:      "Settlement records ingested, by match status",
		}, []string{"status"}),
		AutoMatchUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "auto_match_upgrades_total",
			Help:      "Pending aggregator records upgraded to a terminal match status",
		}),
		TaxReportCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "tax_report_cache_hits_total",
			Help:      "Monthly tax report served from cache",
		}),
		TaxReportCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "tax_report_cache_misses_total",
			Help:      "Monthly tax report recomputed from the ledger",
		}),
		MismatchesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "restaurant",
			Subsystem: serviceName,
			Name:      "mismatches_resolved_total",
			Help:      "Aggregator mismatches manually resolved",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AggregatorRecordsSynced,
		m.SettlementsSynced,
		m.AutoMatchUpgrades,
		m.TaxReportCacheHits,
		m.TaxReportCacheMisses,
		m.MismatchesResolved,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// StartHTTPServer 启动 Prometheus HTTP 服务器，阻塞直到监听失败，
// 调用方自行决定放入哪个 goroutine
func StartHTTPServer(port int, path string) error {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "Starting Prometheus HTTP server", "addr", addr, "path", path)

	return http.ListenAndServe(addr, mux)
}
