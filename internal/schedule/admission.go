package schedule

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMissingDate indicates a candidate without a calendar date; this is a
// programmer error, not a business rejection.
var ErrMissingDate = errors.New("schedule: candidate has no visit date")

// AdmissionReason classifies why a candidate slot was rejected.
type AdmissionReason string

const (
	ReasonNone             AdmissionReason = ""
	ReasonDoubleBooked     AdmissionReason = "double_booked"
	ReasonCapacityExceeded AdmissionReason = "capacity_exceeded"
	ReasonInvalidInterval  AdmissionReason = "invalid_interval"
)

// maxConflictDiagnostics caps how many conflicting appointments are echoed
// back for rendering.
const maxConflictDiagnostics = 5

// AdmissionResult is the outcome of a slot admission check. Rejections are
// data, not errors: the caller renders them as actionable messages.
type AdmissionResult struct {
	Admitted      bool            `json:"admitted"`
	Reason        AdmissionReason `json:"reason,omitempty"`
	ConflictCount int             `json:"conflict_count"`
	Capacity      int             `json:"capacity"`
	Conflicting   []Appointment   `json:"conflicting,omitempty"`
}

// Message renders the result as a user-facing sentence.
func (r *AdmissionResult) Message() string {
	switch r.Reason {
	case ReasonDoubleBooked:
		if len(r.Conflicting) > 0 {
			c := r.Conflicting[0]
			return fmt.Sprintf("therapist %s is already booked %s on %s",
				c.TherapistID, c.Interval(), c.VisitDate.Format("2006-01-02"))
		}
		return "the therapist is already booked in this slot"
	case ReasonCapacityExceeded:
		return fmt.Sprintf("slot is full: %d of %d places taken", r.ConflictCount, r.Capacity)
	case ReasonInvalidInterval:
		return "appointment duration must be a positive number of minutes"
	}
	return "slot is available"
}

// CheckAdmission decides whether the candidate may occupy its slot given the
// org's existing non-cancelled appointments and the capacity for the
// candidate's session type. excludeID removes one appointment from
// consideration so a reschedule does not conflict with its own prior slot.
//
// The caller is responsible for narrowing existing to the relevant date range;
// the checker filters but does not query.
func CheckAdmission(candidate *Appointment, excludeID uuid.UUID, existing []Appointment, capacity int) (*AdmissionResult, error) {
	if candidate == nil {
		return nil, errors.New("schedule: candidate is required")
	}
	if candidate.VisitDate.IsZero() {
		return nil, ErrMissingDate
	}
	if capacity < 1 {
		capacity = 1
	}

	iv := candidate.Interval()
	if !iv.Valid() {
		return &AdmissionResult{Reason: ReasonInvalidInterval, Capacity: capacity}, nil
	}

	// Total conflict set: same date, not cancelled, not the excluded id,
	// overlapping the candidate. Bounds capacity admission clinic-wide.
	var total []Appointment
	for i := range existing {
		other := &existing[i]
		if other.ID == excludeID {
			continue
		}
		if other.Status == StatusCancelled {
			continue
		}
		if !SameDay(other.VisitDate, candidate.VisitDate) {
			continue
		}
		if iv.Overlaps(other.Interval()) {
			total = append(total, *other)
		}
	}

	// Resource conflict set: the subset sharing the candidate's therapist.
	// Unassigned candidates have no resource identity to collide on.
	if candidate.TherapistID != "" {
		var resource []Appointment
		for _, other := range total {
			if other.TherapistID == candidate.TherapistID {
				resource = append(resource, other)
			}
		}
		if len(resource) > 0 {
			return &AdmissionResult{
				Reason:        ReasonDoubleBooked,
				ConflictCount: len(resource),
				Capacity:      capacity,
				Conflicting:   clip(resource),
			}, nil
		}
	}

	if len(total)+1 > capacity {
		return &AdmissionResult{
			Reason:        ReasonCapacityExceeded,
			ConflictCount: len(total),
			Capacity:      capacity,
			Conflicting:   clip(total),
		}, nil
	}

	return &AdmissionResult{
		Admitted:      true,
		ConflictCount: len(total),
		Capacity:      capacity,
	}, nil
}

func clip(appts []Appointment) []Appointment {
	if len(appts) > maxConflictDiagnostics {
		return appts[:maxConflictDiagnostics]
	}
	return appts
}
