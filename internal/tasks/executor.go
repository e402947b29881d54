package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/appointments"
	"github.com/clinicflow/scheduling-engine/internal/locking"
	"github.com/clinicflow/scheduling-engine/internal/observability/metrics"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

// Dispatcher hands a due task to the delivery collaborator. Transport
// failures are returned so the executor can retry; the collaborator itself
// does not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, task ScheduledTask, appt *schedule.Appointment) error
}

type executorStore interface {
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]ScheduledTask, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttempt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

type appointmentSource interface {
	Get(ctx context.Context, orgID string, id uuid.UUID) (*schedule.Appointment, error)
}

// Executor polls the durable task index and dispatches due tasks with
// at-least-once, idempotent delivery. Tasks for different appointments run in
// parallel; tasks for the same appointment serialize against lifecycle
// transitions through the per-appointment lock.
type Executor struct {
	store       executorStore
	appts       appointmentSource
	dispatcher  Dispatcher
	locker      locking.Locker
	logger      *logging.Logger
	metrics     *metrics.SchedulingMetrics
	maxAttempts int
	baseDelay   time.Duration
	interval    time.Duration
	batchSize   int
	workers     int
}

// NewExecutor creates a task executor with production defaults.
func NewExecutor(store executorStore, appts appointmentSource, dispatcher Dispatcher, locker locking.Locker, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		store:       store,
		appts:       appts,
		dispatcher:  dispatcher,
		locker:      locker,
		logger:      logger,
		maxAttempts: 4,
		baseDelay:   1 * time.Minute,
		interval:    15 * time.Second,
		batchSize:   50,
		workers:     4,
	}
}

func (e *Executor) WithMaxAttempts(n int) *Executor {
	if n > 0 {
		e.maxAttempts = n
	}
	return e
}

func (e *Executor) WithBaseDelay(d time.Duration) *Executor {
	if d > 0 {
		e.baseDelay = d
	}
	return e
}

func (e *Executor) WithInterval(d time.Duration) *Executor {
	if d > 0 {
		e.interval = d
	}
	return e
}

func (e *Executor) WithBatchSize(n int) *Executor {
	if n > 0 {
		e.batchSize = n
	}
	return e
}

func (e *Executor) WithWorkers(n int) *Executor {
	if n > 0 {
		e.workers = n
	}
	return e
}

func (e *Executor) WithMetrics(m *metrics.SchedulingMetrics) *Executor {
	e.metrics = m
	return e
}

// Run polls until ctx is cancelled. No lock is held between polls; pending
// work survives restarts because the due-time index is durable.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	e.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Drain(ctx)
		}
	}
}

// Drain processes one batch of due tasks.
func (e *Executor) Drain(ctx context.Context) {
	due, err := e.store.ListDue(ctx, time.Now().UTC(), e.batchSize)
	if err != nil {
		e.logger.Error("task executor: list due failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, task := range due {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(task ScheduledTask) {
			defer wg.Done()
			defer func() { <-sem }()
			e.executeLocked(ctx, task)
		}(task)
	}
	wg.Wait()
}

func (e *Executor) executeLocked(ctx context.Context, task ScheduledTask) {
	err := e.locker.WithLock(ctx, locking.AppointmentKey(task.AppointmentID), func(ctx context.Context) error {
		e.executeOne(ctx, task)
		return nil
	})
	if errors.Is(err, locking.ErrNotAcquired) {
		// A transition or another worker holds the appointment; the next
		// poll picks the task up again.
		e.logger.Debug("task executor: appointment busy", "task_id", task.ID, "appointment_id", task.AppointmentID)
		return
	}
	if err != nil {
		e.logger.Error("task executor: lock failed", "error", err, "task_id", task.ID)
	}
}

func (e *Executor) executeOne(ctx context.Context, task ScheduledTask) {
	appt, ok := e.revalidate(ctx, task)
	if !ok {
		return
	}

	start := time.Now()
	if err := e.dispatcher.Dispatch(ctx, task, appt); err != nil {
		e.handleDispatchFailure(ctx, task, err)
		return
	}
	e.metrics.ObserveDispatchLatency(string(task.Kind), time.Since(start).Seconds())

	dispatched, err := e.store.MarkDispatched(ctx, task.ID)
	if err != nil {
		e.logger.Error("task executor: mark dispatched failed", "error", err, "task_id", task.ID)
		return
	}
	if !dispatched {
		// The task stopped being pending mid-flight; delivery is
		// at-least-once, so this is logged, not rolled back.
		e.logger.Warn("task executor: dispatched a task that was no longer pending", "task_id", task.ID)
	}
	e.metrics.ObserveTask(string(task.Kind), "dispatched")
	e.logger.Info("task dispatched",
		"task_id", task.ID,
		"kind", task.Kind,
		"appointment_id", task.AppointmentID,
		"attempts", task.Attempts+1,
	)
}

// revalidate re-reads the appointment at fire time. Due times are computed
// ahead of time and the world may have changed since; a task whose
// precondition no longer holds is cancelled, not dispatched.
func (e *Executor) revalidate(ctx context.Context, task ScheduledTask) (*schedule.Appointment, bool) {
	appt, err := e.appts.Get(ctx, task.OrgID, task.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		e.cancel(ctx, task, "appointment no longer exists")
		return nil, false
	}
	if err != nil {
		e.handleDispatchFailure(ctx, task, err)
		return nil, false
	}

	if !appt.UpdatedAt.UTC().Equal(task.AppointmentUpdatedAt.UTC()) {
		e.cancel(ctx, task, "appointment edited since task was scheduled")
		return nil, false
	}
	if !preconditionHolds(task.Kind, appt, time.Now().UTC()) {
		e.cancel(ctx, task, "appointment state no longer supports task")
		return nil, false
	}
	return appt, true
}

func preconditionHolds(kind Kind, appt *schedule.Appointment, now time.Time) bool {
	switch kind {
	case KindReminder24h, KindReminder2h:
		if appt.Status != schedule.StatusScheduled && appt.Status != schedule.StatusConfirmed {
			return false
		}
		return appt.StartAt().After(now)
	case KindFeedbackRequest:
		return appt.Status == schedule.StatusCompleted
	}
	return false
}

func (e *Executor) cancel(ctx context.Context, task ScheduledTask, reason string) {
	if err := e.store.MarkCancelled(ctx, task.ID); err != nil {
		e.logger.Error("task executor: cancel failed", "error", err, "task_id", task.ID)
		return
	}
	e.metrics.ObserveTask(string(task.Kind), "cancelled")
	e.logger.Info("task cancelled at fire time", "task_id", task.ID, "kind", task.Kind, "reason", reason)
}

func (e *Executor) handleDispatchFailure(ctx context.Context, task ScheduledTask, cause error) {
	attempts := task.Attempts + 1
	if attempts >= e.maxAttempts {
		if err := e.store.MarkFailed(ctx, task.ID, attempts, cause.Error()); err != nil {
			e.logger.Error("task executor: mark failed failed", "error", err, "task_id", task.ID)
			return
		}
		e.metrics.ObserveTask(string(task.Kind), "failed")
		e.logger.Error("task failed permanently",
			"task_id", task.ID, "kind", task.Kind, "attempts", attempts, "error", cause)
		return
	}

	next := time.Now().UTC().Add(e.nextDelay(task.Attempts))
	if err := e.store.ScheduleRetry(ctx, task.ID, attempts, next, cause.Error()); err != nil {
		e.logger.Error("task executor: schedule retry failed", "error", err, "task_id", task.ID)
		return
	}
	e.metrics.ObserveTask(string(task.Kind), "retried")
	e.logger.Warn("task dispatch failed, retrying",
		"task_id", task.ID, "kind", task.Kind, "attempts", attempts, "next_attempt_at", next, "error", cause)
}

func (e *Executor) nextDelay(attempts int) time.Duration {
	delay := e.baseDelay * time.Duration(1<<attempts)
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
