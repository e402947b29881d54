package tasks

import (
	"time"

	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

// PlannerConfig holds the offsets used when deriving due times.
type PlannerConfig struct {
	ReminderLongLead  time.Duration
	ReminderShortLead time.Duration
	FeedbackDelay     time.Duration
}

// DefaultPlannerConfig mirrors the production reminder cadence.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		ReminderLongLead:  24 * time.Hour,
		ReminderShortLead: 2 * time.Hour,
		FeedbackDelay:     2 * time.Hour,
	}
}

// Planner maps lifecycle events to task specs. It is pure: no I/O, no clock
// of its own.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a planner with the given offsets, falling back to
// defaults for zero values.
func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.ReminderLongLead <= 0 {
		cfg.ReminderLongLead = def.ReminderLongLead
	}
	if cfg.ReminderShortLead <= 0 {
		cfg.ReminderShortLead = def.ReminderShortLead
	}
	if cfg.FeedbackDelay <= 0 {
		cfg.FeedbackDelay = def.FeedbackDelay
	}
	return &Planner{cfg: cfg}
}

// PlanForEvent returns the tasks warranted by a lifecycle event against the
// appointment's current state. Past-due reminders are skipped, not backfilled.
func (p *Planner) PlanForEvent(event *schedule.LifecycleEvent, appt *schedule.Appointment, now time.Time) []ScheduledTask {
	if event == nil || appt == nil {
		return nil
	}

	switch event.ToStatus {
	case schedule.StatusScheduled, schedule.StatusConfirmed:
		return p.reminders(appt, now)
	case schedule.StatusCompleted:
		return []ScheduledTask{p.newTask(appt, KindFeedbackRequest, now.Add(p.cfg.FeedbackDelay))}
	}
	return nil
}

// PlanForReschedule re-derives timing-bound tasks after a slot change. The
// tasks carry the appointment's new version, so they never collide with
// tasks keyed to the old slot.
func (p *Planner) PlanForReschedule(appt *schedule.Appointment, now time.Time) []ScheduledTask {
	if appt == nil {
		return nil
	}
	if appt.Status != schedule.StatusScheduled && appt.Status != schedule.StatusConfirmed {
		return nil
	}
	return p.reminders(appt, now)
}

func (p *Planner) reminders(appt *schedule.Appointment, now time.Time) []ScheduledTask {
	start := appt.StartAt()
	if !start.After(now) {
		return nil
	}

	var out []ScheduledTask
	for _, spec := range []struct {
		kind Kind
		lead time.Duration
	}{
		{KindReminder24h, p.cfg.ReminderLongLead},
		{KindReminder2h, p.cfg.ReminderShortLead},
	} {
		due := start.Add(-spec.lead)
		if !due.After(now) {
			// Same-day bookings inside the lead window get no reminder.
			continue
		}
		out = append(out, p.newTask(appt, spec.kind, due))
	}
	return out
}

func (p *Planner) newTask(appt *schedule.Appointment, kind Kind, due time.Time) ScheduledTask {
	return ScheduledTask{
		OrgID:                appt.OrgID,
		AppointmentID:        appt.ID,
		Kind:                 kind,
		DueAt:                due.UTC(),
		IdempotencyKey:       IdempotencyKey(appt.ID, kind, appt.UpdatedAt),
		AppointmentUpdatedAt: appt.UpdatedAt.UTC(),
		Status:               StatusPending,
	}
}
