package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicflow/scheduling-engine/internal/locking"
	"github.com/clinicflow/scheduling-engine/internal/observability/metrics"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

var schedulingTracer = otel.Tracer("clinicflow.internal.scheduling")

// ErrSlotBusy is returned when the admission section for the requested date
// stays contended after a retry. Callers render it as "try again".
var ErrSlotBusy = errors.New("scheduling: slot is busy, try again")

type appointmentStore interface {
	Create(ctx context.Context, appt *schedule.Appointment) error
	Get(ctx context.Context, orgID string, id uuid.UUID) (*schedule.Appointment, error)
	ListForDate(ctx context.Context, orgID string, date time.Time) ([]schedule.Appointment, error)
	ListRange(ctx context.Context, orgID string, from, to time.Time) ([]schedule.Appointment, error)
	Update(ctx context.Context, appt *schedule.Appointment, prevUpdatedAt time.Time) error
	GetCapacity(ctx context.Context, orgID string, sessionType schedule.SessionType) (int, error)
}

type eventSink interface {
	Insert(ctx context.Context, orgID string, eventType string, payload any) (uuid.UUID, error)
}

// BookingRequest describes the slot a caller wants to occupy.
type BookingRequest struct {
	PatientID   string
	TherapistID string
	VisitDate   time.Time
	StartMinute int
	DurationMin int
	SessionType schedule.SessionType
}

// RescheduleRequest moves an existing appointment to a new slot.
type RescheduleRequest struct {
	VisitDate   time.Time
	StartMinute int
	DurationMin int
}

// BookingOutcome carries the admission decision and, when admitted, the
// persisted appointment. A rejected admission is a normal outcome.
type BookingOutcome struct {
	Admission   *schedule.AdmissionResult
	Appointment *schedule.Appointment
}

// Service is the scheduling facade: it owns the check-then-act sections
// around admission and lifecycle, persists accepted changes, and records the
// resulting events for deferred work.
type Service struct {
	store      appointmentStore
	outbox     eventSink
	atomic     Atomic
	locker     locking.Locker
	metrics    *metrics.SchedulingMetrics
	logger     *logging.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewService constructs the scheduling facade.
func NewService(store appointmentStore, outbox eventSink, locker locking.Locker, m *metrics.SchedulingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("scheduling: appointment store required")
	}
	if locker == nil {
		panic("scheduling: locker required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:      store,
		outbox:     outbox,
		locker:     locker,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		retryDelay: 150 * time.Millisecond,
	}
}

// WithAtomic makes every appointment write and its outbox event commit in one
// transaction, closing the window where a booking persists without its event.
func (s *Service) WithAtomic(a Atomic) *Service {
	if a != nil {
		s.atomic = a
	}
	return s
}

// WithLockRetryDelay sets the pause before the single admission-lock retry.
func (s *Service) WithLockRetryDelay(d time.Duration) *Service {
	if d > 0 {
		s.retryDelay = d
	}
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// RequestBooking admits and persists a new appointment. The admission check
// and the insert run under the org+date lock so two concurrent requests for
// the same slot cannot both pass the capacity check.
func (s *Service) RequestBooking(ctx context.Context, orgID string, req BookingRequest) (*BookingOutcome, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.request_booking")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicflow.org_id", orgID),
		attribute.String("clinicflow.visit_date", req.VisitDate.Format("2006-01-02")),
	)

	candidate := &schedule.Appointment{
		ID:          uuid.New(),
		OrgID:       orgID,
		PatientID:   req.PatientID,
		TherapistID: req.TherapistID,
		VisitDate:   day(req.VisitDate),
		StartMinute: req.StartMinute,
		DurationMin: req.DurationMin,
		SessionType: req.SessionType,
		Status:      schedule.StatusScheduled,
	}
	if candidate.SessionType == "" {
		candidate.SessionType = schedule.SessionOrdinary
	}

	var outcome *BookingOutcome
	err := s.withAdmissionLock(ctx, orgID, candidate.VisitDate, func(ctx context.Context) error {
		result, err := s.admit(ctx, candidate, uuid.Nil)
		if err != nil {
			return err
		}
		if !result.Admitted {
			outcome = &BookingOutcome{Admission: result}
			return nil
		}

		now := s.now()
		candidate.CreatedAt = now
		candidate.UpdatedAt = now
		event := &schedule.LifecycleEvent{
			AppointmentID: candidate.ID,
			OrgID:         orgID,
			ToStatus:      schedule.StatusScheduled,
			At:            now,
		}
		err = s.commit(ctx, func(store AppointmentWriter, outbox EventWriter) error {
			if err := store.Create(ctx, candidate); err != nil {
				return err
			}
			return publishTo(ctx, outbox, orgID, schedule.EventAppointmentBooked, event)
		})
		if err != nil {
			return err
		}

		outcome = &BookingOutcome{Admission: result, Appointment: candidate}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveAdmission(admissionOutcome(outcome.Admission))
	if outcome.Appointment != nil {
		s.logger.Info("appointment booked",
			"org_id", orgID,
			"appointment_id", outcome.Appointment.ID,
			"visit_date", outcome.Appointment.VisitDate.Format("2006-01-02"),
			"slot", outcome.Appointment.Interval().String(),
		)
	}
	return outcome, nil
}

// Reschedule moves an appointment to a new slot. The new slot is admitted
// with the appointment itself excluded so it does not collide with its own
// prior booking. Terminal appointments cannot move.
func (s *Service) Reschedule(ctx context.Context, orgID string, id uuid.UUID, req RescheduleRequest) (*BookingOutcome, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicflow.org_id", orgID),
		attribute.String("clinicflow.appointment_id", id.String()),
	)

	appt, err := s.store.Get(ctx, orgID, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if appt.Status.Terminal() || appt.Status == schedule.StatusInProgress {
		err := &schedule.TransitionError{From: appt.Status, To: appt.Status}
		span.RecordError(err)
		return nil, fmt.Errorf("scheduling: cannot reschedule a %s appointment: %w", appt.Status, err)
	}

	oldDate, oldInterval := appt.VisitDate, appt.Interval()
	candidate := *appt
	candidate.VisitDate = day(req.VisitDate)
	candidate.StartMinute = req.StartMinute
	if req.DurationMin > 0 {
		candidate.DurationMin = req.DurationMin
	}

	var outcome *BookingOutcome
	err = s.withAdmissionLock(ctx, orgID, candidate.VisitDate, func(ctx context.Context) error {
		result, err := s.admit(ctx, &candidate, appt.ID)
		if err != nil {
			return err
		}
		if !result.Admitted {
			outcome = &BookingOutcome{Admission: result}
			return nil
		}

		prev := appt.UpdatedAt
		candidate.UpdatedAt = s.now()
		event := &schedule.RescheduledEvent{
			AppointmentID: candidate.ID,
			OrgID:         orgID,
			OldDate:       oldDate,
			OldInterval:   oldInterval,
			NewDate:       candidate.VisitDate,
			NewInterval:   candidate.Interval(),
			At:            candidate.UpdatedAt,
		}
		err = s.commit(ctx, func(store AppointmentWriter, outbox EventWriter) error {
			if err := store.Update(ctx, &candidate, prev); err != nil {
				return err
			}
			return publishTo(ctx, outbox, orgID, schedule.EventAppointmentRescheduled, event)
		})
		if err != nil {
			return err
		}

		outcome = &BookingOutcome{Admission: result, Appointment: &candidate}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveAdmission(admissionOutcome(outcome.Admission))
	if outcome.Appointment != nil {
		s.logger.Info("appointment rescheduled",
			"org_id", orgID,
			"appointment_id", id,
			"new_date", outcome.Appointment.VisitDate.Format("2006-01-02"),
			"new_slot", outcome.Appointment.Interval().String(),
		)
	}
	return outcome, nil
}

// TransitionStatus applies a lifecycle change under the appointment's lock so
// it cannot interleave with a task dispatch reading the same appointment.
// Illegal transitions return *schedule.TransitionError.
func (s *Service) TransitionStatus(ctx context.Context, orgID string, id uuid.UUID, to schedule.Status, actor string) (*schedule.Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicflow.org_id", orgID),
		attribute.String("clinicflow.appointment_id", id.String()),
		attribute.String("clinicflow.to_status", string(to)),
	)

	var appt *schedule.Appointment
	err := s.locker.WithLock(ctx, locking.AppointmentKey(id), func(ctx context.Context) error {
		loaded, err := s.store.Get(ctx, orgID, id)
		if err != nil {
			return err
		}

		prev := loaded.UpdatedAt
		event, err := schedule.Transition(loaded, to, actor, s.now())
		if err != nil {
			return err
		}
		err = s.commit(ctx, func(store AppointmentWriter, outbox EventWriter) error {
			if err := store.Update(ctx, loaded, prev); err != nil {
				return err
			}
			return publishTo(ctx, outbox, orgID, schedule.EventAppointmentTransitioned, event)
		})
		if err != nil {
			return err
		}

		appt = loaded
		return nil
	})
	if errors.Is(err, locking.ErrNotAcquired) {
		return nil, ErrSlotBusy
	}
	if err != nil {
		var te *schedule.TransitionError
		if errors.As(err, &te) {
			s.metrics.ObserveTransition(string(to), "rejected")
		}
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveTransition(string(to), "accepted")
	s.logger.Info("appointment transitioned", "org_id", orgID, "appointment_id", id, "to_status", to, "actor", actor)
	return appt, nil
}

// Get returns one appointment in the org's scope.
func (s *Service) Get(ctx context.Context, orgID string, id uuid.UUID) (*schedule.Appointment, error) {
	return s.store.Get(ctx, orgID, id)
}

// DaySchedule lists the org's active appointments for one date.
func (s *Service) DaySchedule(ctx context.Context, orgID string, date time.Time) ([]schedule.Appointment, error) {
	return s.store.ListForDate(ctx, orgID, day(date))
}

// RangeSchedule lists the org's active appointments between two dates.
func (s *Service) RangeSchedule(ctx context.Context, orgID string, from, to time.Time) ([]schedule.Appointment, error) {
	return s.store.ListRange(ctx, orgID, day(from), day(to))
}

// admit runs the in-memory admission check against the date's existing
// appointments. Must be called while holding the org+date lock.
func (s *Service) admit(ctx context.Context, candidate *schedule.Appointment, excludeID uuid.UUID) (*schedule.AdmissionResult, error) {
	capacity, err := s.store.GetCapacity(ctx, candidate.OrgID, candidate.SessionType)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListForDate(ctx, candidate.OrgID, candidate.VisitDate)
	if err != nil {
		return nil, err
	}
	return schedule.CheckAdmission(candidate, excludeID, existing, capacity)
}

// withAdmissionLock serializes the admission section for one org and date,
// retrying once on contention before giving up with ErrSlotBusy.
func (s *Service) withAdmissionLock(ctx context.Context, orgID string, date time.Time, fn func(ctx context.Context) error) error {
	key := locking.AdmissionKey(orgID, date)
	err := s.locker.WithLock(ctx, key, fn)
	if !errors.Is(err, locking.ErrNotAcquired) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.retryDelay):
	}
	err = s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, locking.ErrNotAcquired) {
		return ErrSlotBusy
	}
	return err
}

// commit runs a write section through the atomic runner when one is wired,
// otherwise against the plain store and outbox.
func (s *Service) commit(ctx context.Context, fn func(store AppointmentWriter, outbox EventWriter) error) error {
	if s.atomic != nil {
		return s.atomic.InTx(ctx, fn)
	}
	return fn(s.store, s.eventWriter())
}

func (s *Service) eventWriter() EventWriter {
	if s.outbox == nil {
		return discardSink{}
	}
	return s.outbox
}

type discardSink struct{}

func (discardSink) Insert(context.Context, string, string, any) (uuid.UUID, error) {
	return uuid.Nil, nil
}

func publishTo(ctx context.Context, outbox EventWriter, orgID, eventType string, payload any) error {
	if _, err := outbox.Insert(ctx, orgID, eventType, payload); err != nil {
		return fmt.Errorf("scheduling: record %s: %w", eventType, err)
	}
	return nil
}

func admissionOutcome(result *schedule.AdmissionResult) string {
	if result.Admitted {
		return "admitted"
	}
	return string(result.Reason)
}

// day truncates a timestamp to its UTC calendar date.
func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
