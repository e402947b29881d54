package notify

import (
	"context"
	"fmt"

	"github.com/clinicflow/scheduling-engine/internal/schedule"
	"github.com/clinicflow/scheduling-engine/internal/tasks"
	"github.com/clinicflow/scheduling-engine/pkg/logging"
)

// ContactResolver looks up the email address for a patient. Patient records
// live in an external system; the engine only carries opaque ids.
type ContactResolver interface {
	EmailFor(ctx context.Context, orgID, patientID string) (string, error)
}

// ResolverFunc adapts a function to the ContactResolver interface.
type ResolverFunc func(ctx context.Context, orgID, patientID string) (string, error)

func (f ResolverFunc) EmailFor(ctx context.Context, orgID, patientID string) (string, error) {
	return f(ctx, orgID, patientID)
}

// LogDispatcher writes the would-be notification to the log. It is the
// default channel for environments without an email provider.
type LogDispatcher struct {
	logger *logging.Logger
}

func NewLogDispatcher(logger *logging.Logger) *LogDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, task tasks.ScheduledTask, appt *schedule.Appointment) error {
	msg := buildMessage(task, appt)
	d.logger.Info("notification dispatched",
		"kind", task.Kind,
		"appointment_id", appt.ID,
		"patient_id", appt.PatientID,
		"subject", msg.Subject,
	)
	return nil
}

var _ tasks.Dispatcher = (*LogDispatcher)(nil)

// EmailDispatcher delivers reminder and feedback notifications by email.
type EmailDispatcher struct {
	sender   EmailSender
	contacts ContactResolver
	logger   *logging.Logger
}

func NewEmailDispatcher(sender EmailSender, contacts ContactResolver, logger *logging.Logger) *EmailDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailDispatcher{sender: sender, contacts: contacts, logger: logger}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, task tasks.ScheduledTask, appt *schedule.Appointment) error {
	address, err := d.contacts.EmailFor(ctx, appt.OrgID, appt.PatientID)
	if err != nil {
		return fmt.Errorf("notify: resolve contact for patient %s: %w", appt.PatientID, err)
	}

	msg := buildMessage(task, appt)
	msg.To = address
	if err := d.sender.Send(ctx, msg); err != nil {
		return err
	}
	d.logger.Info("notification emailed", "kind", task.Kind, "appointment_id", appt.ID, "to", address)
	return nil
}

var _ tasks.Dispatcher = (*EmailDispatcher)(nil)

func buildMessage(task tasks.ScheduledTask, appt *schedule.Appointment) EmailMessage {
	when := fmt.Sprintf("%s at %s", appt.VisitDate.Format("Monday, January 2"), appt.Interval().String())
	switch task.Kind {
	case tasks.KindReminder24h:
		return EmailMessage{
			Subject: "Your appointment is tomorrow",
			Body:    fmt.Sprintf("This is a reminder that your appointment is scheduled for %s.", when),
		}
	case tasks.KindReminder2h:
		return EmailMessage{
			Subject: "Your appointment is coming up",
			Body:    fmt.Sprintf("Your appointment starts soon: %s. See you there.", when),
		}
	case tasks.KindFeedbackRequest:
		return EmailMessage{
			Subject: "How was your visit?",
			Body:    fmt.Sprintf("Thanks for coming in on %s. We'd love to hear how it went.", when),
		}
	}
	return EmailMessage{
		Subject: "Appointment update",
		Body:    fmt.Sprintf("There is an update for your appointment on %s.", when),
	}
}
