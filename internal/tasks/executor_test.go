package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/scheduling-engine/internal/appointments"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

type stubTaskStore struct {
	mu         sync.Mutex
	due        []ScheduledTask
	dispatched []uuid.UUID
	cancelled  []uuid.UUID
	retried    []uuid.UUID
	failed     []uuid.UUID
}

func (s *stubTaskStore) ListDue(_ context.Context, _ time.Time, _ int) ([]ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due, nil
}

func (s *stubTaskStore) MarkDispatched(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched = append(s.dispatched, id)
	return true, nil
}

func (s *stubTaskStore) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

func (s *stubTaskStore) ScheduleRetry(_ context.Context, id uuid.UUID, _ int, _ time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, id)
	return nil
}

func (s *stubTaskStore) MarkFailed(_ context.Context, id uuid.UUID, _ int, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

type stubAppointments struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*schedule.Appointment
}

func (s *stubAppointments) Get(_ context.Context, _ string, id uuid.UUID) (*schedule.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[id]
	if !ok {
		return nil, appointments.ErrNotFound
	}
	clone := *appt
	return &clone, nil
}

type stubDispatcher struct {
	mu    sync.Mutex
	sent  []ScheduledTask
	fail  error
	calls int
}

func (d *stubDispatcher) Dispatch(_ context.Context, task ScheduledTask, _ *schedule.Appointment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, task)
	return nil
}

type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func executorAppt(status schedule.Status, start time.Time) *schedule.Appointment {
	return &schedule.Appointment{
		ID:          uuid.New(),
		OrgID:       "org-1",
		PatientID:   "patient-1",
		TherapistID: "t1",
		VisitDate:   time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartMinute: start.Hour()*60 + start.Minute(),
		DurationMin: 60,
		SessionType: schedule.SessionOrdinary,
		Status:      status,
		UpdatedAt:   time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
}

func dueTaskFor(appt *schedule.Appointment, kind Kind) ScheduledTask {
	return ScheduledTask{
		ID:                   uuid.New(),
		OrgID:                appt.OrgID,
		AppointmentID:        appt.ID,
		Kind:                 kind,
		DueAt:                time.Now().UTC().Add(-time.Minute),
		IdempotencyKey:       IdempotencyKey(appt.ID, kind, appt.UpdatedAt),
		AppointmentUpdatedAt: appt.UpdatedAt,
		Status:               StatusPending,
	}
}

func TestExecutorDispatchesValidReminder(t *testing.T) {
	appt := executorAppt(schedule.StatusScheduled, time.Now().UTC().Add(2*time.Hour).Truncate(time.Minute))
	task := dueTaskFor(appt, KindReminder2h)

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	dispatcher := &stubDispatcher{}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil)
	exec.Drain(context.Background())

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, task.ID, dispatcher.sent[0].ID)
	assert.Equal(t, []uuid.UUID{task.ID}, store.dispatched)
	assert.Empty(t, store.cancelled)
}

func TestExecutorCancelsWhenAppointmentCancelled(t *testing.T) {
	appt := executorAppt(schedule.StatusCancelled, time.Now().UTC().Add(90*time.Minute).Truncate(time.Minute))
	task := dueTaskFor(appt, KindReminder2h)

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	dispatcher := &stubDispatcher{}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil)
	exec.Drain(context.Background())

	assert.Zero(t, dispatcher.calls, "cancelled appointment must not be reminded")
	assert.Equal(t, []uuid.UUID{task.ID}, store.cancelled)
}

func TestExecutorCancelsStaleVersion(t *testing.T) {
	appt := executorAppt(schedule.StatusScheduled, time.Now().UTC().Add(3*time.Hour).Truncate(time.Minute))
	task := dueTaskFor(appt, KindReminder2h)
	// The appointment was edited after the task was scheduled.
	appt.UpdatedAt = appt.UpdatedAt.Add(time.Minute)

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	dispatcher := &stubDispatcher{}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil)
	exec.Drain(context.Background())

	assert.Zero(t, dispatcher.calls)
	assert.Equal(t, []uuid.UUID{task.ID}, store.cancelled)
}

func TestExecutorCancelsWhenAppointmentMissing(t *testing.T) {
	appt := executorAppt(schedule.StatusScheduled, time.Now().UTC().Add(3*time.Hour))
	task := dueTaskFor(appt, KindReminder2h)

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{}}
	dispatcher := &stubDispatcher{}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil)
	exec.Drain(context.Background())

	assert.Zero(t, dispatcher.calls)
	assert.Equal(t, []uuid.UUID{task.ID}, store.cancelled)
}

func TestExecutorFeedbackRequiresCompleted(t *testing.T) {
	completed := executorAppt(schedule.StatusCompleted, time.Now().UTC().Add(-3*time.Hour))
	stillScheduled := executorAppt(schedule.StatusScheduled, time.Now().UTC().Add(-3*time.Hour))

	okTask := dueTaskFor(completed, KindFeedbackRequest)
	badTask := dueTaskFor(stillScheduled, KindFeedbackRequest)

	store := &stubTaskStore{due: []ScheduledTask{okTask, badTask}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{
		completed.ID:      completed,
		stillScheduled.ID: stillScheduled,
	}}
	dispatcher := &stubDispatcher{}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil)
	exec.Drain(context.Background())

	require.Len(t, dispatcher.sent, 1)
	assert.Equal(t, okTask.ID, dispatcher.sent[0].ID)
	assert.Equal(t, []uuid.UUID{badTask.ID}, store.cancelled)
}

func TestExecutorRetriesTransientFailure(t *testing.T) {
	appt := executorAppt(schedule.StatusConfirmed, time.Now().UTC().Add(2*time.Hour).Truncate(time.Minute))
	task := dueTaskFor(appt, KindReminder2h)

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	dispatcher := &stubDispatcher{fail: errors.New("provider unavailable")}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil).WithMaxAttempts(4)
	exec.Drain(context.Background())

	assert.Equal(t, []uuid.UUID{task.ID}, store.retried)
	assert.Empty(t, store.failed)
}

func TestExecutorFailsAfterMaxAttempts(t *testing.T) {
	appt := executorAppt(schedule.StatusConfirmed, time.Now().UTC().Add(2*time.Hour).Truncate(time.Minute))
	task := dueTaskFor(appt, KindReminder2h)
	task.Attempts = 3

	store := &stubTaskStore{due: []ScheduledTask{task}}
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	dispatcher := &stubDispatcher{fail: errors.New("provider unavailable")}

	exec := NewExecutor(store, appts, dispatcher, passthroughLocker{}, nil).WithMaxAttempts(4)
	exec.Drain(context.Background())

	assert.Equal(t, []uuid.UUID{task.ID}, store.failed)
	assert.Empty(t, store.retried)
}

func TestNextDelayCapped(t *testing.T) {
	exec := NewExecutor(nil, nil, nil, passthroughLocker{}, nil).WithBaseDelay(time.Minute)

	assert.Equal(t, time.Minute, exec.nextDelay(0))
	assert.Equal(t, 2*time.Minute, exec.nextDelay(1))
	assert.Equal(t, 8*time.Minute, exec.nextDelay(3))
	assert.Equal(t, time.Hour, exec.nextDelay(10), "backoff is capped at one hour")
}
