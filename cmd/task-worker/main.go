package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clinicflow/scheduling-engine/internal/app/bootstrap"
	"github.com/clinicflow/scheduling-engine/internal/appointments"
	appconfig "github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/internal/observability/metrics"
	"github.com/clinicflow/scheduling-engine/internal/realtime"
	"github.com/clinicflow/scheduling-engine/internal/tasks"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel).WithComponent("task-worker")
	logger.Info("starting scheduling-engine task worker", "env", cfg.Env)

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

	dispatcher, err := bootstrap.BuildDispatcher(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("dispatcher unavailable", "error", err)
		os.Exit(1)
	}

	m := metrics.NewSchedulingMetrics(nil)

	apptStore := appointments.NewStore(pool)
	taskStore := tasks.NewStore(pool)
	outboxStore := events.NewOutboxStore(pool)

	planner := tasks.NewPlanner(tasks.PlannerConfig{
		ReminderLongLead:  cfg.ReminderLongLead,
		ReminderShortLead: cfg.ReminderShortLead,
		FeedbackDelay:     cfg.FeedbackDelay,
	})
	scheduler := tasks.NewScheduler(taskStore, apptStore, planner, logger)

	deliverer := events.NewDeliverer(outboxStore, logger,
		scheduler,
		realtime.NewRedisPublisher(redisClient, realtime.DefaultChannel),
	).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)

	executor := tasks.NewExecutor(taskStore, apptStore, dispatcher, locker, logger).
		WithMaxAttempts(cfg.TaskMaxAttempts).
		WithBaseDelay(cfg.TaskRetryBase).
		WithInterval(cfg.TaskPollInterval).
		WithBatchSize(cfg.TaskBatchSize).
		WithWorkers(cfg.TaskWorkerCount).
		WithMetrics(m)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		deliverer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		executor.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("shutting down task worker...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	deliverer.Drain(drainCtx)
	executor.Drain(drainCtx)

	wg.Wait()
	logger.Info("task worker stopped")
}
