package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/bookflow/bookflow/pkg/apiserver"
	"github.com/bookflow/bookflow/pkg/config"
	"github.com/bookflow/bookflow/pkg/eventbus"
	"github.com/bookflow/bookflow/pkg/livepush"
	"github.com/bookflow/bookflow/pkg/logging"
	"github.com/bookflow/bookflow/pkg/metrics"
	"github.com/bookflow/bookflow/pkg/outbox"
	"github.com/bookflow/bookflow/pkg/store/postgres"
	redisclient "github.com/bookflow/bookflow/pkg/store/redis"
	"github.com/bookflow/bookflow/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	prometheus.MustRegister(metrics.NewOutboxCollector(postgres.NewOutboxRepository(db.DB()), logger))

	hub := livepush.NewHub()
	server := apiserver.NewServer(db, hub, cfg, logger)

	relayDone := make(chan struct{})
	if cfg.Outbox.Embedded {
		go func() {
			defer close(relayDone)
			runRelay(ctx, cfg, db, hub, logger)
		}()
	} else {
		close(relayDone)
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:     server.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No write timeout: event streams stay open up to stream.max_lifetime.
	}
	// Shutdown does not cancel request contexts; closing the hub ends the streams.
	httpServer.RegisterOnShutdown(hub.Close)

	go func() {
		logger.Info("starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	<-relayDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}
}

// runRelay drains the outbox in-process, pushing to the local hub and,
// when redis is configured, mirroring each event onto the bus.
func runRelay(ctx context.Context, cfg *config.Config, db *postgres.Store, hub *livepush.Hub, logger *zap.Logger) {
	var mirror outbox.Mirror
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, events will not be mirrored", zap.Error(err))
		} else {
			defer client.Close()
			mirror = eventbus.NewBus(client.Client(), cfg.Redis.Channel)
		}
	}

	var wake <-chan struct{}
	if postgres.IsPostgres(db.DB()) && cfg.Outbox.NotifyChannel != "" {
		listener, err := postgres.NewOutboxListener(cfg.Database.DSN(), cfg.Outbox.NotifyChannel, logger)
		if err != nil {
			logger.Warn("outbox listener unavailable, polling only", zap.Error(err))
		} else {
			defer listener.Close()
			wake = listener.Wakeups()
		}
	}

	relay := outbox.FromStore(db.DB(), hub, mirror, wake, cfg.Outbox, logger.Named("outbox"))
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("outbox relay stopped with error", zap.Error(err))
	}
}
