package clearinghouse

import (
	"encoding/json"
	"time"
)

// CoverageRequest is the payer-facing eligibility inquiry.
type CoverageRequest struct {
	PayerID        string    `json:"payer_id"`
	MemberID       string    `json:"member_id"`
	GroupNumber    string    `json:"group_number,omitempty"`
	SubscriberName string    `json:"subscriber_name,omitempty"`
	ServiceDate    time.Time `json:"-"`
}

// CoverageResult is the decoded benefits response.
type CoverageResult struct {
	Active              bool
	PayerName           string
	PlanName            string
	CopayCents          int64
	CoinsurancePct      int
	DeductibleCents     int64
	DeductibleMetCents  int64
	OutOfPocketMaxCents int64
	OutOfPocketMetCents int64
	Raw                 json.RawMessage
}

// SubmissionLine is one service line on an outbound claim.
type SubmissionLine struct {
	CPTCode     string `json:"cpt_code"`
	Units       int    `json:"units"`
	ChargeCents int64  `json:"charge_cents"`
}

// ClaimSubmission is the payload for POST /claims/v1/submit.
type ClaimSubmission struct {
	ClaimNumber string           `json:"claim_number"`
	PayerID     string           `json:"payer_id"`
	MemberID    string           `json:"member_id"`
	ProviderNPI string           `json:"provider_npi"`
	ServiceDate string           `json:"service_date"`
	Diagnoses   []string         `json:"diagnoses"`
	Lines       []SubmissionLine `json:"lines"`
	TotalCents  int64            `json:"total_cents"`
}

// ClaimSubmissionResult acknowledges a submitted claim. Adjudication comes
// back later on the webhook.
type ClaimSubmissionResult struct {
	PayerClaimID string `json:"payer_claim_id"`
	Status       string `json:"status"`
}

// Remittance statuses reported by GET /claims/v1/remittance/{id}.
const (
	RemitPending  = "pending"
	RemitAccepted = "accepted"
	RemitRejected = "rejected"
	RemitPaid     = "paid"
	RemitDenied   = "denied"
)

// RemittanceStatus is the payer's current word on a submitted claim. Paid,
// denied, and rejected are terminal; the rest mean keep polling.
type RemittanceStatus struct {
	PayerClaimID     string `json:"payer_claim_id"`
	Status           string `json:"status"`
	PaidCents        int64  `json:"paid_cents"`
	PatientOwesCents int64  `json:"patient_owes_cents"`
	DenialCode       string `json:"denial_code,omitempty"`
}

// Terminal reports whether the payer is done with the claim.
func (r *RemittanceStatus) Terminal() bool {
	switch r.Status {
	case RemitPaid, RemitDenied, RemitRejected:
		return true
	}
	return false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type coverageResponse struct {
	Coverage struct {
		Status    string `json:"status"`
		PayerName string `json:"payer_name"`
		PlanName  string `json:"plan_name"`
	} `json:"coverage"`
	Benefits struct {
		CopayCents          int64 `json:"copay_cents"`
		CoinsurancePct      int   `json:"coinsurance_pct"`
		DeductibleCents     int64 `json:"deductible_cents"`
		DeductibleMetCents  int64 `json:"deductible_met_cents"`
		OutOfPocketMaxCents int64 `json:"oop_max_cents"`
		OutOfPocketMetCents int64 `json:"oop_met_cents"`
	} `json:"benefits"`
}
