package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/swiftride/fincore/internal/config"
	"github.com/swiftride/fincore/internal/consumer"
	"github.com/swiftride/fincore/internal/events"
	"github.com/swiftride/fincore/internal/handlers"
	"github.com/swiftride/fincore/internal/health"
	"github.com/swiftride/fincore/internal/httpmiddleware"
	"github.com/swiftride/fincore/internal/logging"
	"github.com/swiftride/fincore/internal/metrics"
	"github.com/swiftride/fincore/internal/risk"
	"github.com/swiftride/fincore/internal/service"
	"github.com/swiftride/fincore/internal/storage"
	"github.com/swiftride/fincore/internal/trace"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(context.Background(), cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	serviceMetrics := service.NewMetrics(registry)
	producerMetrics := events.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	ready.AddCheck("postgres", pool.Ping)

	store := storage.New(pool, logging.WithComponent(logger, "storage"))

	producer, err := events.NewSyncProducer(cfg.Kafka.Brokers, logger, producerMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	var publisher events.Publisher = producer
	var dlq *events.DLQPublisher
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		dlq = events.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
		publisher = dlq
	}

	auditLog := service.NewAuditLog(store, logger, serviceMetrics)
	ledgerService := service.NewLedgerService(store, logger, serviceMetrics, cfg.Finance.Currency)
	walletService := service.NewWalletService(
		store,
		auditLog,
		publisher,
		cfg.Kafka.Topics.LedgerRecorded,
		logger,
		serviceMetrics,
		cfg.Finance.Currency,
		decimal.NewFromFloat(cfg.Finance.CommissionPercent),
	)
	moderationService := service.NewModerationService(store, auditLog, publisher, cfg.Kafka.Topics.DriversSuspended, logger)

	rules := make([]risk.Rule, 0, len(cfg.RiskRules))
	for _, rule := range cfg.RiskRules {
		rules = append(rules, risk.Rule{
			Name:      rule.Name,
			Trigger:   rule.Trigger,
			Threshold: int(rule.Threshold),
			Action:    rule.Action,
		})
	}
	automation := risk.NewEngine(rules, moderationService, logger)
	riskService := service.NewRiskService(store, automation, logger)

	httpServer := buildHTTPServer(cfg, ready, registry, logger, walletService, ledgerService, auditLog, moderationService, riskService)

	consumerLogger := logging.WithComponent(logger, "consumer")
	consumerGroup, err := events.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, consumerLogger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()

	rideHandler := consumer.NewRideHandler(
		cfg.Kafka.Topics.RidesCompleted,
		cfg.Kafka.Topics.RidesCancelled,
		walletService,
		store,
		riskService,
		dlq,
		consumerLogger,
	)
	mux := events.NewTopicMux()
	rideHandler.Register(mux)

	ready.SetReady(true)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		logger.Info("fincore http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("fincore consumer starting", "topics", mux.Topics())
		if err := consumerGroup.Consume(consumerCtx, mux.Topics(), mux); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, consumerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(
	cfg *config.Config,
	ready *health.Manager,
	registry *prometheus.Registry,
	logger *slog.Logger,
	wallets handlers.WalletService,
	ledger handlers.LedgerService,
	audit handlers.AuditService,
	moderation handlers.ModerationService,
	riskSvc handlers.RiskService,
) *http.Server {
	router := gin.New()
	httpLogger := logging.WithComponent(logger, "http")
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(httpLogger))
	router.Use(httpmiddleware.Recovery(httpLogger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler := handlers.New(wallets, ledger, audit, moderation, riskSvc, logger)
	handler.Register(router, []byte(cfg.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
