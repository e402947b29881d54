package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

// ErrNotFound indicates the appointment does not exist in the org's scope.
var ErrNotFound = errors.New("appointments: not found")

// ErrStaleUpdate indicates the updated_at guard lost to a concurrent writer;
// the appointment exists but changed since it was read.
var ErrStaleUpdate = errors.New("appointments: concurrent modification")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for appointments and capacity rules.
type Store struct {
	db DB
}

// NewStore creates an appointment store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const apptColumns = `id, org_id, patient_id, therapist_id, visit_date, start_minute, duration_min, session_type, status, created_at, updated_at`

// Create inserts a new appointment.
func (s *Store) Create(ctx context.Context, appt *schedule.Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	if appt.UpdatedAt.IsZero() {
		appt.UpdatedAt = now
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO appointments (`+apptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		appt.ID, appt.OrgID, appt.PatientID, appt.TherapistID,
		appt.VisitDate, appt.StartMinute, appt.DurationMin,
		string(appt.SessionType), string(appt.Status),
		appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

// Get loads an appointment by id within the org's scope.
func (s *Store) Get(ctx context.Context, orgID string, id uuid.UUID) (*schedule.Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	defer rows.Close()

	appts, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, ErrNotFound
	}
	return &appts[0], nil
}

// ListForDate returns the org's non-cancelled appointments on one calendar
// date, the window the admission checker needs.
func (s *Store) ListForDate(ctx context.Context, orgID string, date time.Time) ([]schedule.Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE org_id = $1 AND visit_date = $2 AND status <> 'cancelled'
		ORDER BY start_minute ASC`, orgID, date)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for date: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// ListRange returns all non-cancelled appointments in [from, to] for the org.
func (s *Store) ListRange(ctx context.Context, orgID string, from, to time.Time) ([]schedule.Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE org_id = $1 AND visit_date BETWEEN $2 AND $3 AND status <> 'cancelled'
		ORDER BY visit_date ASC, start_minute ASC`, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list range: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Update saves the appointment's mutable fields. Guarded by the previous
// updated_at so a concurrent writer surfaces instead of being overwritten.
func (s *Store) Update(ctx context.Context, appt *schedule.Appointment, prevUpdatedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET therapist_id = $1, visit_date = $2, start_minute = $3, duration_min = $4,
		    session_type = $5, status = $6, updated_at = $7
		WHERE org_id = $8 AND id = $9 AND updated_at = $10`,
		appt.TherapistID, appt.VisitDate, appt.StartMinute, appt.DurationMin,
		string(appt.SessionType), string(appt.Status), appt.UpdatedAt,
		appt.OrgID, appt.ID, prevUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Rows are never deleted; a miss here means the guard lost a race.
		return fmt.Errorf("appointments: update %s: %w", appt.ID, ErrStaleUpdate)
	}
	return nil
}

// GetCapacity returns the admission capacity for a session type, defaulting
// to 1 when no rule is configured.
func (s *Store) GetCapacity(ctx context.Context, orgID string, sessionType schedule.SessionType) (int, error) {
	row := s.db.QueryRow(ctx, `
		SELECT capacity FROM capacity_rules
		WHERE org_id = $1 AND session_type = $2`, orgID, string(sessionType))

	var capacity int
	if err := row.Scan(&capacity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 1, nil
		}
		return 0, fmt.Errorf("appointments: get capacity: %w", err)
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity, nil
}

func scanAppointments(rows pgx.Rows) ([]schedule.Appointment, error) {
	var result []schedule.Appointment
	for rows.Next() {
		var a schedule.Appointment
		var sessionType, status string
		err := rows.Scan(
			&a.ID, &a.OrgID, &a.PatientID, &a.TherapistID,
			&a.VisitDate, &a.StartMinute, &a.DurationMin,
			&sessionType, &status,
			&a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		a.SessionType = schedule.SessionType(sessionType)
		a.Status = schedule.Status(status)
		result = append(result, a)
	}
	return result, rows.Err()
}
