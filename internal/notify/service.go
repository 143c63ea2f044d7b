// Package notify sends transactional email for the rest of the platform:
// booking confirmations and cancellations to patients, booking, denial, and
// verification alerts to front-desk staff. Delivery runs off the request
// path and failures are logged, never surfaced to callers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// sendTimeout bounds one email delivery once it is off the request path.
const sendTimeout = 15 * time.Second

// SettingsSource resolves per-practice notification preferences.
type SettingsSource interface {
	Get(ctx context.Context, practiceID string) (*practice.Settings, error)
}

// PatientDirectory resolves patient contact details.
type PatientDirectory interface {
	GetByID(ctx context.Context, practiceID, id string) (*patients.Patient, error)
}

// Service turns platform events into email. It implements the notifier
// interfaces of scheduling, claims, and insurance.
type Service struct {
	email    EmailSender
	settings SettingsSource
	patients PatientDirectory
	logger   *logging.Logger
	dispatch func(fn func())
}

type ServiceOption func(*Service)

// WithSynchronousSend makes delivery run inline. Tests use it to assert on
// sent mail without racing the dispatch goroutine.
func WithSynchronousSend() ServiceOption {
	return func(s *Service) {
		s.dispatch = func(fn func()) { fn() }
	}
}

func NewService(email EmailSender, settings SettingsSource, patientDir PatientDirectory, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		email:    email,
		settings: settings,
		patients: patientDir,
		logger:   logger,
		dispatch: func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppointmentBooked emails the patient a confirmation and, when the practice
// opted in, the front desk a booking notice.
func (s *Service) AppointmentBooked(_ context.Context, appt *scheduling.Appointment) {
	if s.email == nil || appt == nil {
		return
	}
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		settings, ok := s.prefsFor(ctx, appt.PracticeID)
		if !ok {
			return
		}
		when := s.formatLocal(appt.StartTime, settings.Timezone)

		if patient := s.lookupPatient(ctx, appt.PracticeID, appt.PatientID); patient != nil && patient.Email != "" {
			body := fmt.Sprintf(`Your appointment with %s is confirmed.

When: %s
Duration: %d minutes`, settings.DisplayName, when, appt.MinutesDuration)
			if appt.PatientInstruction != "" {
				body += fmt.Sprintf("\n\n%s", appt.PatientInstruction)
			}
			body += fmt.Sprintf("\n\nNeed to change it? Call the office or reschedule from your patient portal.\n\n— %s", settings.DisplayName)
			s.send(ctx, EmailMessage{
				To:      patient.Email,
				ToName:  patient.FirstName + " " + patient.LastName,
				Subject: fmt.Sprintf("Appointment confirmed for %s", when),
				Body:    body,
			})
		}

		if settings.Notifications.NotifyOnBooking {
			body := fmt.Sprintf(`A new appointment was booked.

When: %s
Provider: %s
Patient: %s%s

Open the schedule in CareBridge for details.`, when, appt.ProviderID, s.patientLabel(ctx, appt.PracticeID, appt.PatientID), serviceLine(appt))
			s.sendToStaff(ctx, settings, "New appointment booked", body)
		}
	})
}

// AppointmentCancelled emails the patient and, under the booking preference,
// the front desk. Schedule changes share the booking toggle.
func (s *Service) AppointmentCancelled(_ context.Context, appt *scheduling.Appointment) {
	if s.email == nil || appt == nil {
		return
	}
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		settings, ok := s.prefsFor(ctx, appt.PracticeID)
		if !ok {
			return
		}
		when := s.formatLocal(appt.StartTime, settings.Timezone)

		if patient := s.lookupPatient(ctx, appt.PracticeID, appt.PatientID); patient != nil && patient.Email != "" {
			body := fmt.Sprintf("Your appointment on %s has been cancelled.", when)
			if appt.CancelReason != "" {
				body += fmt.Sprintf("\n\nReason: %s", appt.CancelReason)
			}
			body += fmt.Sprintf("\n\nYou can book a new time from your patient portal or by calling the office.\n\n— %s", settings.DisplayName)
			s.send(ctx, EmailMessage{
				To:      patient.Email,
				ToName:  patient.FirstName + " " + patient.LastName,
				Subject: "Your appointment was cancelled",
				Body:    body,
			})
		}

		if settings.Notifications.NotifyOnBooking {
			body := fmt.Sprintf(`An appointment was cancelled.

When: %s
Provider: %s
Patient: %s`, when, appt.ProviderID, s.patientLabel(ctx, appt.PracticeID, appt.PatientID))
			if appt.CancelReason != "" {
				body += fmt.Sprintf("\nReason: %s", appt.CancelReason)
			}
			s.sendToStaff(ctx, settings, "Appointment cancelled", body)
		}
	})
}

// ClaimDenied emails billing staff. Patients are never emailed about
// denials; they see balances through the portal.
func (s *Service) ClaimDenied(_ context.Context, claim *claims.Claim) {
	if s.email == nil || claim == nil {
		return
	}
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		settings, ok := s.prefsFor(ctx, claim.PracticeID)
		if !ok || !settings.Notifications.NotifyOnDenial {
			return
		}
		body := fmt.Sprintf(`Claim %s was denied by the payer.

Patient: %s
Service date: %s
Billed: $%.2f`, claim.ClaimNumber, s.patientLabel(ctx, claim.PracticeID, claim.PatientID),
			claim.ServiceDate.Format("January 2, 2006"), float64(claim.TotalCents)/100)
		if claim.DenialReason != "" {
			body += fmt.Sprintf("\nDenial reason: %s", claim.DenialReason)
		}
		body += "\n\nReview the claim in CareBridge to correct and resubmit."
		s.sendToStaff(ctx, settings, fmt.Sprintf("Claim %s denied", claim.ClaimNumber), body)
	})
}

// VerificationFailed emails staff when an eligibility check errors out.
// There is no dedicated preference; it rides the master email switch
// since a silent verification failure blocks check-in.
func (s *Service) VerificationFailed(_ context.Context, verification *insurance.Verification) {
	if s.email == nil || verification == nil {
		return
	}
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		settings, ok := s.prefsFor(ctx, verification.PracticeID)
		if !ok {
			return
		}
		body := fmt.Sprintf(`An insurance eligibility check failed.

Patient: %s
Payer: %s
Checked: %s

Re-run the verification from the patient's coverage tab, or contact the
payer directly if it keeps failing.`, s.patientLabel(ctx, verification.PracticeID, verification.PatientID),
			payerLabel(verification), s.formatLocal(verification.CheckedAt, settings.Timezone))
		s.sendToStaff(ctx, settings, "Insurance verification failed", body)
	})
}

// prefsFor loads settings and applies the master switch. A failed lookup
// means prefs are unknown, so nothing is sent.
func (s *Service) prefsFor(ctx context.Context, practiceID string) (*practice.Settings, bool) {
	if s.settings == nil {
		return nil, false
	}
	settings, err := s.settings.Get(ctx, practiceID)
	if err != nil {
		s.logger.Warn("notify: settings lookup failed, skipping email", "practice_id", practiceID, "error", err)
		return nil, false
	}
	if !settings.Notifications.EmailEnabled {
		return nil, false
	}
	return settings, true
}

func (s *Service) sendToStaff(ctx context.Context, settings *practice.Settings, subject, body string) {
	recipients := settings.Notifications.Recipients
	if len(recipients) == 0 {
		s.logger.Debug("notify: no staff recipients configured", "practice_id", settings.PracticeID)
		return
	}
	body += fmt.Sprintf("\n\n— %s via CareBridge", settings.DisplayName)
	for _, recipient := range recipients {
		s.send(ctx, EmailMessage{To: recipient, Subject: subject, Body: body})
	}
}

func (s *Service) send(ctx context.Context, msg EmailMessage) {
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: email delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return
	}
	s.logger.Info("notify: email sent", "to", msg.To, "subject", msg.Subject)
}

func (s *Service) lookupPatient(ctx context.Context, practiceID, patientID string) *patients.Patient {
	if s.patients == nil || patientID == "" {
		return nil
	}
	patient, err := s.patients.GetByID(ctx, practiceID, patientID)
	if err != nil {
		s.logger.Warn("notify: patient lookup failed", "patient_id", patientID, "error", err)
		return nil
	}
	return patient
}

// patientLabel names the patient for staff mail, falling back to the id
// when the directory cannot resolve them.
func (s *Service) patientLabel(ctx context.Context, practiceID, patientID string) string {
	if patient := s.lookupPatient(ctx, practiceID, patientID); patient != nil {
		return fmt.Sprintf("%s %s (MRN %s)", patient.FirstName, patient.LastName, patient.MRN)
	}
	return patientID
}

func (s *Service) formatLocal(t time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("Monday, January 2 at 3:04 PM")
}

func serviceLine(appt *scheduling.Appointment) string {
	if appt.ServiceCode == "" {
		return ""
	}
	return fmt.Sprintf("\nService: %s", appt.ServiceCode)
}

func payerLabel(v *insurance.Verification) string {
	if v.PayerName != "" {
		return v.PayerName
	}
	return "unknown payer"
}

var (
	_ scheduling.Notifier = (*Service)(nil)
	_ claims.Notifier     = (*Service)(nil)
	_ insurance.Notifier  = (*Service)(nil)
)
