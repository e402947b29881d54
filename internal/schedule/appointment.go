package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// Terminal reports whether no further status transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// SessionType categorises an appointment for capacity purposes.
type SessionType string

const (
	SessionOrdinary SessionType = "ordinary"
	SessionGroup    SessionType = "group"
)

// Appointment is a booking of a patient into a slot, scoped to an org.
// TherapistID may be empty for unassigned bookings.
type Appointment struct {
	ID          uuid.UUID   `json:"id"`
	OrgID       string      `json:"org_id"`
	PatientID   string      `json:"patient_id"`
	TherapistID string      `json:"therapist_id,omitempty"`
	VisitDate   time.Time   `json:"visit_date"`
	StartMinute int         `json:"start_minute"`
	DurationMin int         `json:"duration_min"`
	SessionType SessionType `json:"session_type"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Interval returns the appointment's [start, end) minute range.
func (a *Appointment) Interval() Interval {
	return NewInterval(a.StartMinute, a.DurationMin)
}

// StartAt returns the absolute UTC start time of the appointment.
func (a *Appointment) StartAt() time.Time {
	d := a.VisitDate.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(a.StartMinute) * time.Minute)
}

// SameDay reports whether two appointments fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
