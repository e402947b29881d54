package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	appt := &schedule.Appointment{
		OrgID:       "org-1",
		PatientID:   "patient-1",
		TherapistID: "t1",
		VisitDate:   time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartMinute: 600,
		DurationMin: 60,
		SessionType: schedule.SessionOrdinary,
		Status:      schedule.StatusScheduled,
	}

	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), "org-1", "patient-1", "t1",
			appt.VisitDate, 600, 60, "ordinary", "scheduled",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Create(context.Background(), appt); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.ID == uuid.Nil {
		t.Fatal("expected id to be assigned")
	}
	if appt.CreatedAt.IsZero() || appt.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT id").
		WithArgs("org-1", id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "org_id", "patient_id", "therapist_id", "visit_date",
			"start_minute", "duration_min", "session_type", "status",
			"created_at", "updated_at",
		}))

	_, err = store.Get(context.Background(), "org-1", id)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListForDateScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	date := time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	id := uuid.New()

	rows := pgxmock.NewRows([]string{
		"id", "org_id", "patient_id", "therapist_id", "visit_date",
		"start_minute", "duration_min", "session_type", "status",
		"created_at", "updated_at",
	}).AddRow(id, "org-1", "patient-1", "t1", date, 600, 60, "ordinary", "scheduled", now, now)

	mock.ExpectQuery("SELECT id").WithArgs("org-1", date).WillReturnRows(rows)

	appts, err := store.ListForDate(context.Background(), "org-1", date)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(appts) != 1 || appts[0].ID != id {
		t.Fatalf("unexpected appointments: %#v", appts)
	}
	if appts[0].Status != schedule.StatusScheduled || appts[0].SessionType != schedule.SessionOrdinary {
		t.Fatalf("enum fields not mapped: %#v", appts[0])
	}
}

func TestUpdateGuardedByPrevUpdatedAt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	prev := time.Now().UTC().Add(-time.Minute)
	appt := &schedule.Appointment{
		ID:          uuid.New(),
		OrgID:       "org-1",
		TherapistID: "t1",
		VisitDate:   time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartMinute: 630,
		DurationMin: 60,
		SessionType: schedule.SessionOrdinary,
		Status:      schedule.StatusScheduled,
		UpdatedAt:   time.Now().UTC(),
	}

	mock.ExpectExec("UPDATE appointments").
		WithArgs("t1", appt.VisitDate, 630, 60, "ordinary", "scheduled",
			appt.UpdatedAt, "org-1", appt.ID, prev).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), appt, prev)
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("expected ErrStaleUpdate on guarded update, got %v", err)
	}
}

func TestGetCapacityDefaultsToOne(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectQuery("SELECT capacity").
		WithArgs("org-1", "ordinary").
		WillReturnError(pgx.ErrNoRows)

	capacity, err := store.GetCapacity(context.Background(), "org-1", schedule.SessionOrdinary)
	if err != nil {
		t.Fatalf("get capacity failed: %v", err)
	}
	if capacity != 1 {
		t.Fatalf("expected default capacity 1, got %d", capacity)
	}
}

func TestGetCapacityFromRule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)

	mock.ExpectQuery("SELECT capacity").
		WithArgs("org-1", "group").
		WillReturnRows(pgxmock.NewRows([]string{"capacity"}).AddRow(6))

	capacity, err := store.GetCapacity(context.Background(), "org-1", schedule.SessionGroup)
	if err != nil {
		t.Fatalf("get capacity failed: %v", err)
	}
	if capacity != 6 {
		t.Fatalf("expected capacity 6, got %d", capacity)
	}
}
