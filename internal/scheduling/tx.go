package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicflow/scheduling-engine/internal/appointments"
	"github.com/clinicflow/scheduling-engine/internal/events"
	"github.com/clinicflow/scheduling-engine/internal/schedule"
)

// AppointmentWriter is the write surface the facade needs inside a
// transaction.
type AppointmentWriter interface {
	Create(ctx context.Context, appt *schedule.Appointment) error
	Update(ctx context.Context, appt *schedule.Appointment, prevUpdatedAt time.Time) error
}

// EventWriter records a lifecycle event alongside the appointment write.
type EventWriter interface {
	Insert(ctx context.Context, orgID string, eventType string, payload any) (uuid.UUID, error)
}

// Atomic runs a write section so the appointment row and its outbox event
// commit together or not at all.
type Atomic interface {
	InTx(ctx context.Context, fn func(store AppointmentWriter, outbox EventWriter) error) error
}

// Beginner starts pgx transactions; satisfied by pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgxAtomic implements Atomic on one pgx transaction per write section.
type PgxAtomic struct {
	db Beginner
}

func NewPgxAtomic(db Beginner) *PgxAtomic {
	return &PgxAtomic{db: db}
}

func (a *PgxAtomic) InTx(ctx context.Context, fn func(store AppointmentWriter, outbox EventWriter) error) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin tx: %w", err)
	}
	if err := fn(appointments.NewStore(tx), events.NewOutboxStore(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scheduling: commit tx: %w", err)
	}
	return nil
}
