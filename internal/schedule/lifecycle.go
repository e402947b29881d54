package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types published on the outbox feed.
const (
	EventAppointmentBooked       = "appointment.booked.v1"
	EventAppointmentTransitioned = "appointment.transitioned.v1"
	EventAppointmentRescheduled  = "appointment.rescheduled.v1"
)

// LifecycleEvent records an accepted status transition. FromStatus is empty
// when the event records the initial booking.
type LifecycleEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	FromStatus    Status    `json:"from_status,omitempty"`
	ToStatus      Status    `json:"to_status"`
	Actor         string    `json:"actor,omitempty"`
	At            time.Time `json:"at"`
}

// RescheduledEvent records an accepted date/time change. Status is unchanged.
type RescheduledEvent struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	OrgID         string    `json:"org_id"`
	OldDate       time.Time `json:"old_date"`
	OldInterval   Interval  `json:"old_interval"`
	NewDate       time.Time `json:"new_date"`
	NewInterval   Interval  `json:"new_interval"`
	At            time.Time `json:"at"`
}

// TransitionError is a business rejection of a status change. It is rendered
// to callers as a conflict, not treated as an infrastructure failure.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// legalTransitions enumerates every allowed status edge. Terminal states have
// no outgoing edges; history is never rewritten.
var legalTransitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to the appointment and returns the
// resulting lifecycle event. The appointment is mutated in place on success;
// on rejection it is untouched and a *TransitionError is returned. No I/O
// happens here; persisting and publishing are the caller's job.
func Transition(appt *Appointment, to Status, actor string, now time.Time) (*LifecycleEvent, error) {
	from := appt.Status
	if !CanTransition(from, to) {
		return nil, &TransitionError{From: from, To: to}
	}

	appt.Status = to
	appt.UpdatedAt = now.UTC()

	return &LifecycleEvent{
		AppointmentID: appt.ID,
		OrgID:         appt.OrgID,
		FromStatus:    from,
		ToStatus:      to,
		Actor:         actor,
		At:            now.UTC(),
	}, nil
}
