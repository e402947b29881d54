package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicflow/scheduling-engine/internal/api/router"
	"github.com/clinicflow/scheduling-engine/internal/app/bootstrap"
	"github.com/clinicflow/scheduling-engine/internal/appointments"
	appconfig "github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/internal/http/handlers"
	"github.com/clinicflow/scheduling-engine/internal/observability/metrics"
	"github.com/clinicflow/scheduling-engine/internal/realtime"
	"github.com/clinicflow/scheduling-engine/internal/scheduling"
	"github.com/clinicflow/scheduling-engine/internal/tasks"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling-engine API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPool(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	locker, err := bootstrap.BuildLocker(redisClient, cfg)
	if err != nil {
		logger.Error("locking unavailable", "error", err)
		os.Exit(1)
	}

	m := metrics.NewSchedulingMetrics(nil)

	apptStore := appointments.NewStore(pool)
	taskStore := tasks.NewStore(pool)
	outboxStore := events.NewOutboxStore(pool)

	svc := scheduling.NewService(apptStore, outboxStore, locker, m, logger).
		WithAtomic(scheduling.NewPgxAtomic(pool)).
		WithLockRetryDelay(cfg.AdmissionLockRetry)
	schedulingHandler := handlers.NewSchedulingHandler(svc, taskStore, logger).
		WithPinger("postgres", pool.Ping)
	if redisClient != nil {
		schedulingHandler.WithPinger("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	hub := realtime.NewHub(logger)
	go realtime.RunSubscriber(ctx, redisClient, realtime.DefaultChannel, hub, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Scheduling:         schedulingHandler,
		EventsHub:          hub,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: bootstrap.ParseCORSOrigins(cfg.CORSAllowedOrigins),
		RateLimit:          10,
		RateLimitBurst:     30,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
