package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/appointments"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
	"github.com/clinicflow/scheduling-engine/internal/scheduling"
	"github.com/clinicflow/scheduling-engine/internal/tasks"
	"github.com/clinicflow/scheduling-engine/internal/tenancy"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

const dateLayout = "2006-01-02"

type failedTaskLister interface {
	ListFailed(ctx context.Context, orgID string, limit int) ([]tasks.ScheduledTask, error)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// SchedulingHandler exposes booking, reschedule and lifecycle endpoints.
type SchedulingHandler struct {
	svc     *scheduling.Service
	tasks   failedTaskLister
	logger  *logging.Logger
	pingers map[string]Pinger
}

// NewSchedulingHandler creates the scheduling HTTP handler.
func NewSchedulingHandler(svc *scheduling.Service, taskLister failedTaskLister, logger *logging.Logger) *SchedulingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{svc: svc, tasks: taskLister, logger: logger, pingers: map[string]Pinger{}}
}

// WithPinger registers a named dependency check for the health endpoint.
func (h *SchedulingHandler) WithPinger(name string, p Pinger) *SchedulingHandler {
	if p != nil {
		h.pingers[name] = p
	}
	return h
}

// BookRequest is the payload for POST /appointments.
type BookRequest struct {
	PatientID   string `json:"patient_id"`
	TherapistID string `json:"therapist_id,omitempty"`
	VisitDate   string `json:"visit_date"`
	StartMinute int    `json:"start_minute"`
	DurationMin int    `json:"duration_min"`
	SessionType string `json:"session_type,omitempty"`
}

// RescheduleBody is the payload for POST /appointments/{id}/reschedule.
type RescheduleBody struct {
	VisitDate   string `json:"visit_date"`
	StartMinute int    `json:"start_minute"`
	DurationMin int    `json:"duration_min,omitempty"`
}

// TransitionBody is the payload for POST /appointments/{id}/status.
type TransitionBody struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

type admissionResponse struct {
	Admitted    bool                  `json:"admitted"`
	Reason      string                `json:"reason,omitempty"`
	Message     string                `json:"message"`
	Appointment *schedule.Appointment `json:"appointment,omitempty"`
}

// Book handles POST /appointments.
func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	var body BookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.PatientID == "" {
		http.Error(w, "patient_id is required", http.StatusBadRequest)
		return
	}
	visitDate, err := time.Parse(dateLayout, body.VisitDate)
	if err != nil {
		http.Error(w, "visit_date must be formatted YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	outcome, err := h.svc.RequestBooking(r.Context(), orgID, scheduling.BookingRequest{
		PatientID:   body.PatientID,
		TherapistID: body.TherapistID,
		VisitDate:   visitDate,
		StartMinute: body.StartMinute,
		DurationMin: body.DurationMin,
		SessionType: schedule.SessionType(body.SessionType),
	})
	if err != nil {
		h.renderServiceError(w, err)
		return
	}
	h.renderOutcome(w, outcome, http.StatusCreated)
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var body RescheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	visitDate, err := time.Parse(dateLayout, body.VisitDate)
	if err != nil {
		http.Error(w, "visit_date must be formatted YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	outcome, err := h.svc.Reschedule(r.Context(), orgID, id, scheduling.RescheduleRequest{
		VisitDate:   visitDate,
		StartMinute: body.StartMinute,
		DurationMin: body.DurationMin,
	})
	if err != nil {
		h.renderServiceError(w, err)
		return
	}
	h.renderOutcome(w, outcome, http.StatusOK)
}

// Transition handles POST /appointments/{id}/status.
func (h *SchedulingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	var body TransitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.TransitionStatus(r.Context(), orgID, id, schedule.Status(body.Status), body.Actor)
	if err != nil {
		h.renderServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Get handles GET /appointments/{id}.
func (h *SchedulingHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
	if err != nil {
		http.Error(w, "invalid appointment id", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Get(r.Context(), orgID, id)
	if err != nil {
		h.renderServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// List handles GET /appointments?date= or ?from=&to=.
func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	var (
		listed []schedule.Appointment
		err    error
	)
	switch {
	case query.Get("date") != "":
		var date time.Time
		if date, err = time.Parse(dateLayout, query.Get("date")); err != nil {
			http.Error(w, "date must be formatted YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		listed, err = h.svc.DaySchedule(r.Context(), orgID, date)
	case query.Get("from") != "" && query.Get("to") != "":
		var from, to time.Time
		if from, err = time.Parse(dateLayout, query.Get("from")); err != nil {
			http.Error(w, "from must be formatted YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		if to, err = time.Parse(dateLayout, query.Get("to")); err != nil {
			http.Error(w, "to must be formatted YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		listed, err = h.svc.RangeSchedule(r.Context(), orgID, from, to)
	default:
		http.Error(w, "date or from/to query parameters required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.renderServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"appointments": listed,
		"count":        len(listed),
	})
}

// ListFailedTasks handles GET /tasks/failed, operator visibility into tasks
// that exhausted their retry budget.
func (h *SchedulingHandler) ListFailedTasks(w http.ResponseWriter, r *http.Request) {
	orgID, ok := tenancy.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing org context", http.StatusBadRequest)
		return
	}

	failed, err := h.tasks.ListFailed(r.Context(), orgID, 100)
	if err != nil {
		h.logger.Error("list failed tasks", "error", err, "org_id", orgID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": failed,
		"count": len(failed),
	})
}

// HealthCheck handles GET /health. Each registered dependency gets a short
// ping; any failure turns the response into a 503.
func (h *SchedulingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}
	for name, ping := range h.pingers {
		if err := ping(ctx); err != nil {
			h.logger.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (h *SchedulingHandler) renderOutcome(w http.ResponseWriter, outcome *scheduling.BookingOutcome, okStatus int) {
	resp := admissionResponse{
		Admitted:    outcome.Admission.Admitted,
		Reason:      string(outcome.Admission.Reason),
		Message:     outcome.Admission.Message(),
		Appointment: outcome.Appointment,
	}
	if !outcome.Admission.Admitted {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, okStatus, resp)
}

func (h *SchedulingHandler) renderServiceError(w http.ResponseWriter, err error) {
	var te *schedule.TransitionError
	switch {
	case errors.Is(err, appointments.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, appointments.ErrStaleUpdate):
		http.Error(w, "appointment was modified concurrently, retry", http.StatusConflict)
	case errors.Is(err, scheduling.ErrSlotBusy):
		http.Error(w, "slot is busy, try again", http.StatusServiceUnavailable)
	case errors.Is(err, schedule.ErrMissingDate):
		http.Error(w, "visit_date is required", http.StatusBadRequest)
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": te.Error(),
			"from":  string(te.From),
			"to":    string(te.To),
		})
	default:
		h.logger.Error("scheduling request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
