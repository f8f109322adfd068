package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/feastops/reconciliation/internal/reconciliation/application"
	"github.com/feastops/reconciliation/internal/reconciliation/domain"
	"github.com/feastops/reconciliation/internal/reconciliation/infrastructure/persistence/mysql"
	"github.com/feastops/reconciliation/internal/reconciliation/interfaces/consumer"
	reconhttp "github.com/feastops/reconciliation/internal/reconciliation/interfaces/http"
	"github.com/feastops/reconciliation/pkg/cache"
	"github.com/feastops/reconciliation/pkg/config"
	"github.com/feastops/reconciliation/pkg/db"
	"github.com/feastops/reconciliation/pkg/logger"
	"github.com/feastops/reconciliation/pkg/metrics"
	"github.com/feastops/reconciliation/pkg/middleware"
	"github.com/feastops/reconciliation/pkg/mq"
	"github.com/feastops/reconciliation/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "configs/reconciliation/config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info(ctx, "Starting reconciliation service",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to init database", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&domain.InternalOrder{},
		&domain.AggregatorOrderRecord{},
		&domain.SettlementRecord{},
		&domain.TaxReport{},
	); err != nil {
		logger.Fatal(ctx, "Failed to migrate database", "error", err)
	}

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to init Redis", "error", err)
	}
	defer redisCache.Close()

	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		if err := m.Register(); err != nil {
			logger.Fatal(ctx, "Failed to register metrics", "error", err)
		}
		go func() {
			if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil && err != http.ErrServerClosed {
				logger.Error(ctx, "Metrics server stopped", "error", err)
			}
		}()
	}

	orderRepo := mysql.NewOrderRepository(database.DB)
	aggregatorRepo := mysql.NewAggregatorRepository(database.DB)
	settlementRepo := mysql.NewSettlementRepository(database.DB)
	taxReportRepo := mysql.NewTaxReportRepository(database.DB)

	aggregatorTolerance := mustDecimal(cfg.Reconciliation.AggregatorTolerance, domain.DefaultAggregatorTolerance)
	settlementTolerance := mustDecimal(cfg.Reconciliation.SettlementTolerance, domain.DefaultSettlementTolerance)
	gstRate := mustDecimal(cfg.Reconciliation.GSTRate, decimal.NewFromFloat(0.05))

	aggregatorSvc := application.NewAggregatorSyncService(orderRepo, aggregatorRepo, redisCache, m, aggregatorTolerance)
	settlementSvc := application.NewSettlementSyncService(
		orderRepo, settlementRepo, redisCache, m, settlementTolerance,
		application.NewReferenceMatchStrategy(orderRepo, cfg.Reconciliation.ReferenceMarker),
		application.NewFIFOBatchStrategy(orderRepo),
	)
	taxSvc := application.NewTaxReportService(orderRepo, taxReportRepo, m, gstRate, cfg.Reconciliation.ReportTZOffsetMinutes)
	dailySvc := application.NewDailySalesService(orderRepo, cfg.Reconciliation.ReportTZOffsetMinutes)
	exportSvc := application.NewExportService(dailySvc, taxSvc, aggregatorSvc, settlementSvc)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewRedisRateLimiter(redisCache.GetClient())
		router.Use(middleware.RateLimitMiddleware(limiter, cfg.RateLimit))
	}

	handler := reconhttp.NewReconciliationHandler(aggregatorSvc, settlementSvc, taxSvc, dailySvc, exportSvc)
	handler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()

	var kafkaConsumer *mq.KafkaConsumer
	var kafkaProducer *mq.KafkaProducer
	if cfg.Kafka.ConsumerEnabled {
		kafkaCfg := mq.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID,
			SessionTimeout: cfg.Kafka.SessionTimeout,
		}
		kafkaConsumer, err = mq.NewConsumer(kafkaCfg, cfg.Kafka.OrderFinalizedTopic)
		if err != nil {
			logger.Fatal(ctx, "Failed to create Kafka consumer", "error", err)
		}
		kafkaProducer, err = mq.NewProducer(kafkaCfg)
		if err != nil {
			logger.Fatal(ctx, "Failed to create Kafka producer", "error", err)
		}
		dlq := mq.NewDeadLetterQueue(kafkaProducer, cfg.Kafka.DeadLetterTopic)
		go consumer.NewOrderFinalizedConsumer(kafkaConsumer, dlq, taxSvc).Run(consumerCtx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info(ctx, "HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "HTTP server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down reconciliation service")

	cancelConsumer()
	if kafkaConsumer != nil {
		_ = kafkaConsumer.Close()
	}
	if kafkaProducer != nil {
		_ = kafkaProducer.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown failed", "error", err)
	}

	logger.Info(ctx, "Reconciliation service stopped")
}

func mustDecimal(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Fatal(context.Background(), "Invalid decimal in config", "value", s, "error", err)
	}
	return d
}
