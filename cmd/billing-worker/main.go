// Command billing-worker runs the Billing Consumer: consumes TollEvents,
// runs the five-step idempotent charge workflow against the payment
// gateway, and publishes PaymentResults.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smarttoll/pipeline/internal/billing/consumer"
	"github.com/smarttoll/pipeline/internal/billing/handlers"
	"github.com/smarttoll/pipeline/internal/billing/payment"
	billingpub "github.com/smarttoll/pipeline/internal/billing/publisher"
	"github.com/smarttoll/pipeline/internal/billing/store"
	"github.com/smarttoll/pipeline/internal/platform/broker"
	"github.com/smarttoll/pipeline/internal/platform/config"
	"github.com/smarttoll/pipeline/internal/platform/httpserver"
	"github.com/smarttoll/pipeline/internal/platform/logging"
	"github.com/smarttoll/pipeline/internal/platform/metrics"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	logger, err := logging.New(cfg.Service.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	m := metrics.NewBillingWorkerMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		logger.Fatal("failed to parse DATABASE_DSN", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.MinConns = cfg.DB.MinConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal("failed to create transaction store db pool", zap.Error(err))
	}
	defer pool.Close()

	txStore := store.New(pool)
	if err := txStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure billing schema", zap.Error(err))
	}

	mockGateway := payment.NewMockGateway(cfg.Payment.MockFailRate)
	gateway := payment.NewCircuitBreakerGateway(mockGateway, 30*time.Second)

	paymentProducer := broker.NewProducer(cfg.Broker.Brokers, cfg.Broker.PaymentTopic)
	defer paymentProducer.Close()
	paymentPub := billingpub.New(paymentProducer, logger)
	defer paymentPub.Close()

	errProducer := broker.NewProducer(cfg.Broker.Brokers, cfg.Broker.ErrorTopic)
	defer errProducer.Close()
	errSink := broker.NewErrorSink(errProducer, logger)

	tollConsumer := broker.NewConsumer(cfg.Broker.Brokers, cfg.Broker.TollEventTopic, cfg.Broker.ConsumerGroupID)
	defer tollConsumer.Close()

	workflow := consumer.New(txStore, gateway, paymentPub, cfg.Payment.Timeout, m, logger)
	loop := consumer.NewLoop(tollConsumer, workflow, errSink, m, logger, cfg.Broker.BatchSize, cfg.Broker.PollTimeout)

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- loop.Run(ctx)
	}()

	m.ServiceUp.Set(1)

	engine := httpserver.New("billing-worker", loop.Ready, map[string]httpserver.PingFunc{
		"postgres": func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return txStore.Ping(pingCtx)
		},
	}, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}), logger)

	queryGroup := engine.Group("/", httpserver.APIKeyMiddleware(cfg.Service.APIKey), httpserver.RateLimitMiddleware(20, 40))
	handlers.NewQueryHandler(txStore, logger).Register(queryGroup)

	httpSrv := httpserver.NewServer(cfg.Service.HTTPAddr, engine, 5*time.Second)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	logger.Info("billing-worker started", zap.String("httpAddr", cfg.Service.HTTPAddr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		stop() // restore default signal handling so a second signal exits immediately
	case err := <-loopErrCh:
		if err != nil {
			logger.Error("billing consumer loop exited unexpectedly", zap.Error(err))
		}
	}

	m.ServiceUp.Set(0)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	select {
	case <-loopErrCh:
	case <-time.After(cfg.Service.ShutdownTimeout):
		logger.Warn("billing consumer loop did not stop within shutdown timeout")
	}

	logger.Info("billing-worker stopped")
}
