package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

type memorySchedulerStore struct {
	mu        sync.Mutex
	created   []ScheduledTask
	keys      map[string]bool
	cancelled []uuid.UUID
}

func newMemorySchedulerStore() *memorySchedulerStore {
	return &memorySchedulerStore{keys: map[string]bool{}}
}

func (m *memorySchedulerStore) Create(_ context.Context, task *ScheduledTask) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[task.IdempotencyKey] {
		return false, nil
	}
	m.keys[task.IdempotencyKey] = true
	task.ID = uuid.New()
	m.created = append(m.created, *task)
	return true, nil
}

func (m *memorySchedulerStore) CancelPendingForAppointment(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, appointmentID)
	return 1, nil
}

func lifecycleEntry(t *testing.T, eventType string, event any) events.OutboxEntry {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return events.OutboxEntry{ID: uuid.New(), Type: eventType, Payload: payload}
}

func TestSchedulerBookedEventCreatesReminders(t *testing.T) {
	now := time.Now().UTC()
	appt := plannerAppt(schedule.StatusScheduled, now.Add(48*time.Hour).Truncate(time.Minute))
	store := newMemorySchedulerStore()
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	scheduler := NewScheduler(store, appts, nil, nil)

	entry := lifecycleEntry(t, schedule.EventAppointmentBooked, schedule.LifecycleEvent{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		ToStatus:      schedule.StatusScheduled,
		At:            now,
	})
	require.NoError(t, scheduler.Handle(context.Background(), entry))

	require.Len(t, store.created, 2)
	assert.Equal(t, KindReminder24h, store.created[0].Kind)
	assert.Equal(t, KindReminder2h, store.created[1].Kind)
	assert.Empty(t, store.cancelled)
}

func TestSchedulerRedeliveredEventIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	appt := plannerAppt(schedule.StatusScheduled, now.Add(48*time.Hour).Truncate(time.Minute))
	store := newMemorySchedulerStore()
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	scheduler := NewScheduler(store, appts, nil, nil)

	entry := lifecycleEntry(t, schedule.EventAppointmentBooked, schedule.LifecycleEvent{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		ToStatus:      schedule.StatusScheduled,
		At:            now,
	})
	require.NoError(t, scheduler.Handle(context.Background(), entry))
	require.NoError(t, scheduler.Handle(context.Background(), entry))

	assert.Len(t, store.created, 2, "duplicate delivery must not duplicate tasks")
}

func TestSchedulerCancellationCancelsPendingTasks(t *testing.T) {
	apptID := uuid.New()
	store := newMemorySchedulerStore()
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{}}
	scheduler := NewScheduler(store, appts, nil, nil)

	entry := lifecycleEntry(t, schedule.EventAppointmentTransitioned, schedule.LifecycleEvent{
		AppointmentID: apptID,
		OrgID:         "org-1",
		FromStatus:    schedule.StatusScheduled,
		ToStatus:      schedule.StatusCancelled,
		At:            time.Now().UTC(),
	})
	require.NoError(t, scheduler.Handle(context.Background(), entry))

	assert.Equal(t, []uuid.UUID{apptID}, store.cancelled)
	assert.Empty(t, store.created)
}

func TestSchedulerRescheduleCancelsAndRecreates(t *testing.T) {
	now := time.Now().UTC()
	appt := plannerAppt(schedule.StatusConfirmed, now.Add(72*time.Hour).Truncate(time.Minute))
	store := newMemorySchedulerStore()
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{appt.ID: appt}}
	scheduler := NewScheduler(store, appts, nil, nil)

	entry := lifecycleEntry(t, schedule.EventAppointmentRescheduled, schedule.RescheduledEvent{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		At:            now,
	})
	require.NoError(t, scheduler.Handle(context.Background(), entry))

	assert.Equal(t, []uuid.UUID{appt.ID}, store.cancelled)
	require.Len(t, store.created, 2)
	for _, task := range store.created {
		assert.Equal(t, appt.UpdatedAt, task.AppointmentUpdatedAt)
	}
}

func TestSchedulerMissingAppointmentIsNotAnError(t *testing.T) {
	store := newMemorySchedulerStore()
	appts := &stubAppointments{appts: map[uuid.UUID]*schedule.Appointment{}}
	scheduler := NewScheduler(store, appts, nil, nil)

	entry := lifecycleEntry(t, schedule.EventAppointmentBooked, schedule.LifecycleEvent{
		AppointmentID: uuid.New(),
		OrgID:         "org-1",
		ToStatus:      schedule.StatusScheduled,
		At:            time.Now().UTC(),
	})
	require.NoError(t, scheduler.Handle(context.Background(), entry))
	assert.Empty(t, store.created)
}

func TestSchedulerIgnoresUnknownEventTypes(t *testing.T) {
	store := newMemorySchedulerStore()
	scheduler := NewScheduler(store, &stubAppointments{}, nil, nil)

	entry := events.OutboxEntry{ID: uuid.New(), Type: "invoice.settled.v1", Payload: []byte(`{}`)}
	require.NoError(t, scheduler.Handle(context.Background(), entry))
	assert.Empty(t, store.created)
	assert.Empty(t, store.cancelled)
}
