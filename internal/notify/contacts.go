package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoContact indicates the patient has no stored email address.
var ErrNoContact = errors.New("notify: no contact on file")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ContactStore resolves patient email addresses from the contact directory.
type ContactStore struct {
	db DB
}

func NewContactStore(db DB) *ContactStore {
	return &ContactStore{db: db}
}

var _ ContactResolver = (*ContactStore)(nil)

// EmailFor returns the stored email for a patient in the org's scope.
func (s *ContactStore) EmailFor(ctx context.Context, orgID, patientID string) (string, error) {
	row := s.db.QueryRow(ctx, `
		SELECT email FROM patient_contacts
		WHERE org_id = $1 AND patient_id = $2`, orgID, patientID)

	var email string
	if err := row.Scan(&email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoContact
		}
		return "", fmt.Errorf("notify: lookup contact: %w", err)
	}
	if email == "" {
		return "", ErrNoContact
	}
	return email, nil
}

// Upsert stores or replaces a patient's contact email.
func (s *ContactStore) Upsert(ctx context.Context, orgID, patientID, email, fullName string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO patient_contacts (org_id, patient_id, email, full_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, patient_id)
		DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name`,
		orgID, patientID, email, fullName)
	if err != nil {
		return fmt.Errorf("notify: upsert contact: %w", err)
	}
	return nil
}
