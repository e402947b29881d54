package tasks

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the deferred side effect a task performs.
type Kind string

const (
	KindReminder24h     Kind = "reminder-24h"
	KindReminder2h      Kind = "reminder-2h"
	KindFeedbackRequest Kind = "feedback-request"
)

// TaskStatus tracks the delivery lifecycle of a scheduled task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusDispatched TaskStatus = "dispatched"
	StatusCancelled  TaskStatus = "cancelled"
	StatusFailed     TaskStatus = "failed"
)

// ScheduledTask is a deferred, retryable side effect tied to an appointment
// and a due time. At most one non-cancelled task exists per idempotency key.
type ScheduledTask struct {
	ID             uuid.UUID `json:"id"`
	OrgID          string    `json:"org_id"`
	AppointmentID  uuid.UUID `json:"appointment_id"`
	Kind           Kind      `json:"kind"`
	DueAt          time.Time `json:"due_at"`
	IdempotencyKey string    `json:"idempotency_key"`
	// AppointmentUpdatedAt snapshots the appointment version the task was
	// derived from; the executor cancels tasks whose snapshot is stale.
	AppointmentUpdatedAt time.Time  `json:"appointment_updated_at"`
	Status               TaskStatus `json:"status"`
	Attempts             int        `json:"attempts"`
	LastError            string     `json:"last_error,omitempty"`
	NextAttemptAt        *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IdempotencyKey derives the deterministic key for one logical task. It
// embeds the appointment's version so editing the appointment invalidates
// previously keyed tasks without an explicit cancellation pass.
func IdempotencyKey(appointmentID uuid.UUID, kind Kind, appointmentUpdatedAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(appointmentID.String()))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(appointmentUpdatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}
