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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

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

// The standalone relay has no live clients of its own. Notifications reach
// users through their inbox, and other processes follow the redis mirror.
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
	defer shutdownTracing(context.Background())

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	var mirror outbox.Mirror
	if cfg.Redis.Enabled() {
		client, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		mirror = eventbus.NewBus(client.Client(), cfg.Redis.Channel)
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

	outboxRepo := postgres.NewOutboxRepository(db.DB())
	if dead, err := outboxRepo.ListDeadLettered(ctx, 20); err != nil {
		logger.Warn("failed to list dead-lettered events", zap.Error(err))
	} else {
		for _, ev := range dead {
			logger.Warn("dead-lettered outbox event",
				zap.String("outbox_id", ev.ID.String()),
				zap.String("type", ev.Type),
				zap.Int("attempts", ev.Attempts),
				zap.String("last_error", ev.LastError),
			)
		}
	}

	prometheus.MustRegister(metrics.NewOutboxCollector(outboxRepo, logger))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	go func() {
		logger.Info("serving relay metrics", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	relay := outbox.FromStore(db.DB(), livepush.NopPublisher{}, mirror, wake, cfg.Outbox, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("outbox relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	logger.Info("outbox relay shutting down")
	cancel()
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server forced to shutdown", zap.Error(err))
	}
}
