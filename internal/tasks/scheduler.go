package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/appointments"
	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

type schedulerStore interface {
	Create(ctx context.Context, task *ScheduledTask) (bool, error)
	CancelPendingForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
}

// Scheduler consumes lifecycle events from the outbox and materialises
// scheduled tasks. Task creation is idempotent, so redelivered events are
// harmless; returning an error leaves the event pending for another attempt.
type Scheduler struct {
	store   schedulerStore
	appts   appointmentSource
	planner *Planner
	logger  *logging.Logger
}

var _ events.DeliveryHandler = (*Scheduler)(nil)

// NewScheduler creates the event-to-task scheduler.
func NewScheduler(store schedulerStore, appts appointmentSource, planner *Planner, logger *logging.Logger) *Scheduler {
	if planner == nil {
		planner = NewPlanner(PlannerConfig{})
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, appts: appts, planner: planner, logger: logger}
}

// Handle translates one outbox entry into task creations or cancellations.
func (s *Scheduler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case schedule.EventAppointmentBooked, schedule.EventAppointmentTransitioned:
		var event schedule.LifecycleEvent
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			return fmt.Errorf("tasks: decode lifecycle event %s: %w", entry.ID, err)
		}
		return s.handleLifecycle(ctx, &event)
	case schedule.EventAppointmentRescheduled:
		var event schedule.RescheduledEvent
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			return fmt.Errorf("tasks: decode reschedule event %s: %w", entry.ID, err)
		}
		return s.handleReschedule(ctx, &event)
	}
	// Unknown event types are not ours to veto.
	return nil
}

func (s *Scheduler) handleLifecycle(ctx context.Context, event *schedule.LifecycleEvent) error {
	if event.ToStatus == schedule.StatusCancelled || event.ToStatus == schedule.StatusNoShow {
		n, err := s.store.CancelPendingForAppointment(ctx, event.AppointmentID)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info("cancelled pending tasks", "appointment_id", event.AppointmentID, "count", n)
		}
		return nil
	}

	appt, err := s.appts.Get(ctx, event.OrgID, event.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.createAll(ctx, s.planner.PlanForEvent(event, appt, time.Now().UTC()))
}

func (s *Scheduler) handleReschedule(ctx context.Context, event *schedule.RescheduledEvent) error {
	// Old-slot tasks are invalidated both ways: explicitly here and by the
	// executor's stale-version check at fire time.
	if _, err := s.store.CancelPendingForAppointment(ctx, event.AppointmentID); err != nil {
		return err
	}

	appt, err := s.appts.Get(ctx, event.OrgID, event.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return s.createAll(ctx, s.planner.PlanForReschedule(appt, time.Now().UTC()))
}

func (s *Scheduler) createAll(ctx context.Context, planned []ScheduledTask) error {
	for i := range planned {
		task := planned[i]
		inserted, err := s.store.Create(ctx, &task)
		if err != nil {
			return err
		}
		if inserted {
			s.logger.Info("task scheduled",
				"task_id", task.ID,
				"kind", task.Kind,
				"appointment_id", task.AppointmentID,
				"due_at", task.DueAt,
			)
		}
	}
	return nil
}
