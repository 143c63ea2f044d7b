package events

import "time"

// AppointmentBookedV1 fires when a visit is placed on the schedule.
type AppointmentBookedV1 struct {
	AppointmentID string    `json:"appointment_id"`
	PracticeID    string    `json:"practice_id"`
	PatientID     string    `json:"patient_id"`
	ProviderID    string    `json:"provider_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	VisitType     string    `json:"visit_type,omitempty"`
	BookedAt      time.Time `json:"booked_at"`
}

func (AppointmentBookedV1) EventType() string {
	return "scheduling.appointment.booked.v1"
}

// AppointmentCancelledV1 fires when a booked visit is taken off the schedule.
type AppointmentCancelledV1 struct {
	AppointmentID string    `json:"appointment_id"`
	PracticeID    string    `json:"practice_id"`
	PatientID     string    `json:"patient_id"`
	ProviderID    string    `json:"provider_id"`
	StartTime     time.Time `json:"start_time"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

func (AppointmentCancelledV1) EventType() string {
	return "scheduling.appointment.cancelled.v1"
}

// ClaimSubmittedV1 fires when a claim leaves the practice for the clearinghouse.
type ClaimSubmittedV1 struct {
	ClaimID      string    `json:"claim_id"`
	ClaimNumber  string    `json:"claim_number"`
	PracticeID   string    `json:"practice_id"`
	PatientID    string    `json:"patient_id"`
	PayerID      string    `json:"payer_id,omitempty"`
	TotalCents   int64     `json:"total_cents"`
	Currency     string    `json:"currency"`
	SubmittedAt  time.Time `json:"submitted_at"`
	ServiceLines int       `json:"service_lines"`
}

func (ClaimSubmittedV1) EventType() string {
	return "claims.claim.submitted.v1"
}

// ClaimAdjudicatedV1 fires when the payer reaches a terminal decision.
type ClaimAdjudicatedV1 struct {
	ClaimID       string    `json:"claim_id"`
	ClaimNumber   string    `json:"claim_number"`
	PracticeID    string    `json:"practice_id"`
	Outcome       string    `json:"outcome"` // accepted, rejected, paid, denied
	PaidCents     int64     `json:"paid_cents,omitempty"`
	DenialCode    string    `json:"denial_code,omitempty"`
	AdjudicatedAt time.Time `json:"adjudicated_at"`
}

func (ClaimAdjudicatedV1) EventType() string {
	return "claims.claim.adjudicated.v1"
}

// VerificationCompletedV1 fires when an eligibility check returns from the payer.
type VerificationCompletedV1 struct {
	VerificationID string    `json:"verification_id"`
	PracticeID     string    `json:"practice_id"`
	PatientID      string    `json:"patient_id"`
	PolicyID       string    `json:"policy_id"`
	Eligible       bool      `json:"eligible"`
	Source         string    `json:"source"` // cache or payer
	CheckedAt      time.Time `json:"checked_at"`
}

func (VerificationCompletedV1) EventType() string {
	return "insurance.verification.completed.v1"
}
