// Command toll-processor runs the GPS Ingest Loop: consumes raw GPS
// fixes, drives the Zone Tracker's per-vehicle state machine, and
// publishes TollEvents for completed zone sojourns.
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

	"github.com/smarttoll/pipeline/internal/platform/broker"
	"github.com/smarttoll/pipeline/internal/platform/config"
	"github.com/smarttoll/pipeline/internal/platform/httpserver"
	"github.com/smarttoll/pipeline/internal/platform/logging"
	"github.com/smarttoll/pipeline/internal/platform/metrics"
	"github.com/smarttoll/pipeline/internal/tollprocessor/geofence"
	"github.com/smarttoll/pipeline/internal/tollprocessor/ingest"
	"github.com/smarttoll/pipeline/internal/tollprocessor/publisher"
	"github.com/smarttoll/pipeline/internal/tollprocessor/state"
	"github.com/smarttoll/pipeline/internal/tollprocessor/tracker"
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

	m := metrics.NewTollProcessorMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("failed to create geofence db pool", zap.Error(err))
	}
	defer pool.Close()

	stateStore := state.NewRedisStore(cfg.State.Addr, cfg.State.Password, cfg.State.DB, cfg.State.DialTimeout, cfg.State.TTL, logger)
	defer stateStore.Close()

	geoIndex := geofence.NewPostgresIndex(pool)

	trk := tracker.New(stateStore, geoIndex, logger)

	tollProducer := broker.NewProducer(cfg.Broker.Brokers, cfg.Broker.TollEventTopic)
	defer tollProducer.Close()
	tollPub := publisher.New(tollProducer, logger)
	defer tollPub.Close()

	errProducer := broker.NewProducer(cfg.Broker.Brokers, cfg.Broker.ErrorTopic)
	defer errProducer.Close()
	errSink := broker.NewErrorSink(errProducer, logger)

	consumer := broker.NewConsumer(cfg.Broker.Brokers, cfg.Broker.GPSTopic, cfg.Broker.ConsumerGroupID)
	defer consumer.Close()

	loop := ingest.New(consumer, trk, tollPub, errSink, m, logger, cfg.Broker.BatchSize, cfg.Broker.PollTimeout)

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- loop.Run(ctx)
	}()

	m.ServiceUp.Set(1)

	engine := httpserver.New("toll-processor", loop.Ready, map[string]httpserver.PingFunc{
		"redis": func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return stateStore.Ping(pingCtx)
		},
	}, promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}), logger)

	httpSrv := httpserver.NewServer(cfg.Service.HTTPAddr, engine, 5*time.Second)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", zap.Error(err))
		}
	}()

	logger.Info("toll-processor started", zap.String("httpAddr", cfg.Service.HTTPAddr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		stop() // restore default signal handling so a second signal exits immediately
	case err := <-loopErrCh:
		if err != nil {
			logger.Error("ingest loop exited unexpectedly", zap.Error(err))
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
		logger.Warn("ingest loop did not stop within shutdown timeout")
	}

	logger.Info("toll-processor stopped")
}
