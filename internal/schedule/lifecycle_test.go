package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAppointment(status Status) *Appointment {
	return &Appointment{
		ID:          uuid.New(),
		OrgID:       "org-1",
		PatientID:   "patient-1",
		TherapistID: "therapist-1",
		VisitDate:   time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC),
		StartMinute: 600,
		DurationMin: 60,
		SessionType: SessionOrdinary,
		Status:      status,
	}
}

func TestLegalTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusScheduled, StatusConfirmed},
		{StatusScheduled, StatusCancelled},
		{StatusScheduled, StatusNoShow},
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusNoShow},
		{StatusInProgress, StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			appt := newTestAppointment(tt.from)
			now := time.Now()
			ev, err := Transition(appt, tt.to, "reception", now)
			require.NoError(t, err)
			assert.Equal(t, tt.to, appt.Status)
			assert.Equal(t, tt.from, ev.FromStatus)
			assert.Equal(t, tt.to, ev.ToStatus)
			assert.Equal(t, "reception", ev.Actor)
			assert.Equal(t, now.UTC(), appt.UpdatedAt)
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
	}{
		{StatusCompleted, StatusScheduled},
		{StatusScheduled, StatusCompleted},
		{StatusScheduled, StatusInProgress},
		{StatusInProgress, StatusCancelled},
		{StatusCancelled, StatusScheduled},
		{StatusCancelled, StatusConfirmed},
		{StatusNoShow, StatusScheduled},
		{StatusNoShow, StatusCompleted},
		{StatusCompleted, StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			appt := newTestAppointment(tt.from)
			ev, err := Transition(appt, tt.to, "", time.Now())
			require.Nil(t, ev)

			var rejected *TransitionError
			require.True(t, errors.As(err, &rejected))
			assert.Equal(t, tt.from, rejected.From)
			assert.Equal(t, tt.to, rejected.To)
			assert.Equal(t, tt.from, appt.Status, "appointment must be untouched on rejection")
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusNoShow.Terminal())
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.False(t, StatusInProgress.Terminal())
}

func TestStartAt(t *testing.T) {
	appt := newTestAppointment(StatusScheduled)
	want := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, want, appt.StartAt())
}
