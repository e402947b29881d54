package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists scheduled tasks in a durable due-time index. Engine restarts
// do not lose pending work.
type Store struct {
	db DB
}

// NewStore creates a task store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const taskColumns = `id, org_id, appointment_id, kind, due_at, idempotency_key, appointment_updated_at, status, attempts, last_error, next_attempt_at, created_at, updated_at`

// Create inserts a task. Inserting the same idempotency key again is a no-op,
// which is what makes event redelivery safe. Returns true when a row was
// actually inserted.
func (s *Store) Create(ctx context.Context, task *ScheduledTask) (bool, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusPending
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (idempotency_key) WHERE status <> 'cancelled' DO NOTHING`,
		task.ID, task.OrgID, task.AppointmentID, string(task.Kind),
		task.DueAt, task.IdempotencyKey, task.AppointmentUpdatedAt,
		string(task.Status), task.Attempts, task.LastError, task.NextAttemptAt,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("tasks: create: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDue returns pending tasks whose due time (or retry time) has arrived.
func (s *Store) ListDue(ctx context.Context, asOf time.Time, limit int) ([]ScheduledTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE status = 'pending' AND COALESCE(next_attempt_at, due_at) <= $1
		ORDER BY due_at ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: list due: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListFailed returns failed tasks for operator visibility.
func (s *Store) ListFailed(ctx context.Context, orgID string, limit int) ([]ScheduledTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE org_id = $1 AND status = 'failed'
		ORDER BY updated_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("tasks: list failed: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// MarkDispatched transitions a task pending -> dispatched. Returns false when
// the task was no longer pending (raced with a cancellation).
func (s *Store) MarkDispatched(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks SET status = 'dispatched', updated_at = $1
		WHERE id = $2 AND status = 'pending'`, now, id)
	if err != nil {
		return false, fmt.Errorf("tasks: mark dispatched: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled transitions a task pending -> cancelled.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks SET status = 'cancelled', updated_at = $1
		WHERE id = $2 AND status = 'pending'`, now, id)
	if err != nil {
		return fmt.Errorf("tasks: mark cancelled: %w", err)
	}
	return nil
}

// CancelPendingForAppointment cancels every pending task for the appointment,
// used when the appointment itself is cancelled or marked a no-show.
func (s *Store) CancelPendingForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks SET status = 'cancelled', updated_at = $1
		WHERE appointment_id = $2 AND status = 'pending'`, now, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("tasks: cancel pending for appointment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ScheduleRetry records a transient failure and pushes the task's next
// attempt into the future.
func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttempt time.Time, lastError string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5 AND status = 'pending'`,
		attempts, nextAttempt, lastError, now, id)
	if err != nil {
		return fmt.Errorf("tasks: schedule retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a task to failed after exhausting its attempts. The
// row stays visible for operators; it is never silently dropped.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks
		SET status = 'failed', attempts = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		attempts, lastError, now, id)
	if err != nil {
		return fmt.Errorf("tasks: mark failed: %w", err)
	}
	return nil
}

func scanTasks(rows pgx.Rows) ([]ScheduledTask, error) {
	var result []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		var kind, status string
		err := rows.Scan(
			&t.ID, &t.OrgID, &t.AppointmentID, &kind,
			&t.DueAt, &t.IdempotencyKey, &t.AppointmentUpdatedAt,
			&status, &t.Attempts, &t.LastError, &t.NextAttemptAt,
			&t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		t.Kind = Kind(kind)
		t.Status = TaskStatus(status)
		result = append(result, t)
	}
	return result, rows.Err()
}
