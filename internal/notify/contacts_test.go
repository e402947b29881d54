package notify

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestEmailForReturnsStoredAddress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewContactStore(mock)
	mock.ExpectQuery("SELECT email FROM patient_contacts").
		WithArgs("org-1", "patient-1").
		WillReturnRows(pgxmock.NewRows([]string{"email"}).AddRow("pat@example.com"))

	email, err := store.EmailFor(context.Background(), "org-1", "patient-1")
	if err != nil {
		t.Fatalf("email lookup failed: %v", err)
	}
	if email != "pat@example.com" {
		t.Fatalf("unexpected email: %s", email)
	}
}

func TestEmailForMissingContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewContactStore(mock)
	mock.ExpectQuery("SELECT email FROM patient_contacts").
		WithArgs("org-1", "unknown").
		WillReturnRows(pgxmock.NewRows([]string{"email"}))

	_, err = store.EmailFor(context.Background(), "org-1", "unknown")
	if !errors.Is(err, ErrNoContact) {
		t.Fatalf("expected ErrNoContact, got %v", err)
	}
}

func TestUpsertContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewContactStore(mock)
	mock.ExpectExec("INSERT INTO patient_contacts").
		WithArgs("org-1", "patient-1", "pat@example.com", "Pat Example").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Upsert(context.Background(), "org-1", "patient-1", "pat@example.com", "Pat Example"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
