package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type mockEmailSender struct {
	sent []EmailMessage
	err  error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockSettingsSource struct {
	settings *practice.Settings
	err      error
}

func (m *mockSettingsSource) Get(_ context.Context, _ string) (*practice.Settings, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.settings, nil
}

type mockPatientDirectory struct {
	patient *patients.Patient
	err     error
}

func (m *mockPatientDirectory) GetByID(_ context.Context, _, _ string) (*patients.Patient, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.patient, nil
}

func testSettings() *practice.Settings {
	s := practice.DefaultSettings("prac-1")
	s.DisplayName = "Lakeside Family Medicine"
	s.Notifications.EmailEnabled = true
	s.Notifications.Recipients = []string{"front-desk@lakesidefm.example"}
	return s
}

func testPatient() *patients.Patient {
	return &patients.Patient{
		ID:        "pat-1",
		MRN:       "MRN-00042",
		FirstName: "Dana",
		LastName:  "Okafor",
		Email:     "dana@example.com",
	}
}

func newTestNotifyService(email *mockEmailSender, settings *practice.Settings, patient *patients.Patient) *Service {
	return NewService(
		email,
		&mockSettingsSource{settings: settings},
		&mockPatientDirectory{patient: patient},
		logging.New("error"),
		WithSynchronousSend(),
	)
}

// 14:00 UTC on a January date lands at 9:00 AM Eastern without any DST edge.
var testStart = time.Date(2026, 1, 13, 14, 0, 0, 0, time.UTC)

func testAppointment() *scheduling.Appointment {
	return &scheduling.Appointment{
		ID:                 "appt-1",
		PracticeID:         "prac-1",
		PatientID:          "pat-1",
		ProviderID:         "prov-1",
		StartTime:          testStart,
		MinutesDuration:    30,
		ServiceCode:        "99213",
		PatientInstruction: "Please arrive 10 minutes early.",
	}
}

func TestAppointmentBookedEmailsPatientAndStaff(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestNotifyService(email, testSettings(), testPatient())

	svc.AppointmentBooked(context.Background(), testAppointment())

	if len(email.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(email.sent))
	}

	confirmation := email.sent[0]
	if confirmation.To != "dana@example.com" {
		t.Errorf("expected patient email first, got %q", confirmation.To)
	}
	if !strings.Contains(confirmation.Subject, "Appointment confirmed") {
		t.Errorf("unexpected subject %q", confirmation.Subject)
	}
	if !strings.Contains(confirmation.Body, "Lakeside Family Medicine") {
		t.Errorf("expected practice name in body: %s", confirmation.Body)
	}
	if !strings.Contains(confirmation.Body, "Tuesday, January 13 at 9:00 AM") {
		t.Errorf("expected practice-local time in body: %s", confirmation.Body)
	}
	if !strings.Contains(confirmation.Body, "Please arrive 10 minutes early.") {
		t.Errorf("expected patient instruction in body: %s", confirmation.Body)
	}

	staff := email.sent[1]
	if staff.To != "front-desk@lakesidefm.example" {
		t.Errorf("expected staff recipient, got %q", staff.To)
	}
	if !strings.Contains(staff.Body, "Dana Okafor (MRN MRN-00042)") {
		t.Errorf("expected patient label in staff body: %s", staff.Body)
	}
	if !strings.Contains(staff.Body, "Service: 99213") {
		t.Errorf("expected service code in staff body: %s", staff.Body)
	}
}

func TestAppointmentBookedHonorsMasterSwitch(t *testing.T) {
	email := &mockEmailSender{}
	settings := testSettings()
	settings.Notifications.EmailEnabled = false
	svc := newTestNotifyService(email, settings, testPatient())

	svc.AppointmentBooked(context.Background(), testAppointment())

	if len(email.sent) != 0 {
		t.Fatalf("expected no emails with email disabled, got %d", len(email.sent))
	}
}

func TestAppointmentBookedSkipsStaffWhenPrefOff(t *testing.T) {
	email := &mockEmailSender{}
	settings := testSettings()
	settings.Notifications.NotifyOnBooking = false
	svc := newTestNotifyService(email, settings, testPatient())

	svc.AppointmentBooked(context.Background(), testAppointment())

	if len(email.sent) != 1 {
		t.Fatalf("expected only the patient confirmation, got %d emails", len(email.sent))
	}
	if email.sent[0].To != "dana@example.com" {
		t.Errorf("expected patient email, got %q", email.sent[0].To)
	}
}

func TestAppointmentBookedWithoutPatientEmail(t *testing.T) {
	email := &mockEmailSender{}
	patient := testPatient()
	patient.Email = ""
	svc := newTestNotifyService(email, testSettings(), patient)

	svc.AppointmentBooked(context.Background(), testAppointment())

	if len(email.sent) != 1 {
		t.Fatalf("expected only the staff notice, got %d emails", len(email.sent))
	}
	if email.sent[0].To != "front-desk@lakesidefm.example" {
		t.Errorf("expected staff recipient, got %q", email.sent[0].To)
	}
}

func TestAppointmentCancelled(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestNotifyService(email, testSettings(), testPatient())

	appt := testAppointment()
	appt.CancelReason = "provider out sick"
	svc.AppointmentCancelled(context.Background(), appt)

	if len(email.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(email.sent))
	}
	if email.sent[0].Subject != "Your appointment was cancelled" {
		t.Errorf("unexpected patient subject %q", email.sent[0].Subject)
	}
	if !strings.Contains(email.sent[0].Body, "provider out sick") {
		t.Errorf("expected cancel reason in patient body: %s", email.sent[0].Body)
	}
	if !strings.Contains(email.sent[1].Body, "provider out sick") {
		t.Errorf("expected cancel reason in staff body: %s", email.sent[1].Body)
	}
}

func TestClaimDeniedEmailsStaffOnly(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestNotifyService(email, testSettings(), testPatient())

	svc.ClaimDenied(context.Background(), &claims.Claim{
		ID:           "clm-1",
		PracticeID:   "prac-1",
		PatientID:    "pat-1",
		ClaimNumber:  "CLM-2026-000017",
		Status:       claims.StatusDenied,
		ServiceDate:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		TotalCents:   21500,
		DenialReason: "CO-97 bundled service",
	})

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 staff email, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "front-desk@lakesidefm.example" {
		t.Errorf("denials must go to staff, got %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "CLM-2026-000017") {
		t.Errorf("expected claim number in subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "CO-97 bundled service") {
		t.Errorf("expected denial reason in body: %s", msg.Body)
	}
	if !strings.Contains(msg.Body, "$215.00") {
		t.Errorf("expected billed amount in body: %s", msg.Body)
	}
}

func TestClaimDeniedHonorsPref(t *testing.T) {
	email := &mockEmailSender{}
	settings := testSettings()
	settings.Notifications.NotifyOnDenial = false
	svc := newTestNotifyService(email, settings, testPatient())

	svc.ClaimDenied(context.Background(), &claims.Claim{PracticeID: "prac-1", ClaimNumber: "CLM-2026-000017"})

	if len(email.sent) != 0 {
		t.Fatalf("expected no emails with denial pref off, got %d", len(email.sent))
	}
}

func TestVerificationFailedEmailsStaff(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestNotifyService(email, testSettings(), testPatient())

	svc.VerificationFailed(context.Background(), &insurance.Verification{
		ID:         "ver-1",
		PracticeID: "prac-1",
		PatientID:  "pat-1",
		Status:     insurance.VerificationError,
		PayerName:  "Aetna",
		CheckedAt:  testStart,
	})

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 staff email, got %d", len(email.sent))
	}
	if email.sent[0].Subject != "Insurance verification failed" {
		t.Errorf("unexpected subject %q", email.sent[0].Subject)
	}
	if !strings.Contains(email.sent[0].Body, "Aetna") {
		t.Errorf("expected payer name in body: %s", email.sent[0].Body)
	}
}

func TestNotificationsSkippedWhenSettingsUnavailable(t *testing.T) {
	email := &mockEmailSender{}
	svc := NewService(
		email,
		&mockSettingsSource{err: errors.New("redis down")},
		&mockPatientDirectory{patient: testPatient()},
		logging.New("error"),
		WithSynchronousSend(),
	)

	svc.AppointmentBooked(context.Background(), testAppointment())
	svc.ClaimDenied(context.Background(), &claims.Claim{PracticeID: "prac-1"})

	if len(email.sent) != 0 {
		t.Fatalf("expected no emails when prefs are unknown, got %d", len(email.sent))
	}
}

func TestNotificationsNoOpWithoutSender(t *testing.T) {
	svc := NewService(nil, &mockSettingsSource{settings: testSettings()}, nil, logging.New("error"), WithSynchronousSend())

	// Must not panic; email is simply disabled.
	svc.AppointmentBooked(context.Background(), testAppointment())
	svc.AppointmentCancelled(context.Background(), testAppointment())
	svc.ClaimDenied(context.Background(), &claims.Claim{PracticeID: "prac-1"})
	svc.VerificationFailed(context.Background(), &insurance.Verification{PracticeID: "prac-1"})
}

func TestStaffMailToleratesSendFailures(t *testing.T) {
	email := &mockEmailSender{err: errors.New("smtp down")}
	svc := newTestNotifyService(email, testSettings(), testPatient())

	// Failures are logged, not surfaced.
	svc.ClaimDenied(context.Background(), &claims.Claim{PracticeID: "prac-1", PatientID: "pat-1", ClaimNumber: "CLM-2026-000017"})
}
