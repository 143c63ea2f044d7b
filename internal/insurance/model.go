// Package insurance manages coverage policies and payer eligibility
// verification.
package insurance

import (
	"encoding/json"
	"strings"
	"time"
)

// Plan types accepted on a policy.
const (
	PlanPPO      = "PPO"
	PlanHMO      = "HMO"
	PlanEPO      = "EPO"
	PlanPOS      = "POS"
	PlanMedicare = "medicare"
	PlanMedicaid = "medicaid"
)

// Policy statuses.
const (
	PolicyActive   = "active"
	PolicyInactive = "inactive"
)

// Verification statuses.
const (
	VerificationPending  = "pending"
	VerificationActive   = "active"
	VerificationInactive = "inactive"
	VerificationError    = "error"
)

// Verification sources.
const (
	SourceCache = "cache"
	SourcePayer = "payer"
)

// Policy is a patient's coverage under one payer plan.
type Policy struct {
	ID             string    `json:"id"`
	PracticeID     string    `json:"practice_id"`
	PatientID      string    `json:"patient_id"`
	PayerID        string    `json:"payer_id"`
	PayerName      string    `json:"payer_name,omitempty"`
	MemberID       string    `json:"member_id"`
	GroupNumber    string    `json:"group_number,omitempty"`
	PlanName       string    `json:"plan_name,omitempty"`
	PlanType       string    `json:"plan_type"`
	Relationship   string    `json:"relationship,omitempty"`
	SubscriberName string    `json:"subscriber_name,omitempty"`
	CoverageOrder  int       `json:"coverage_order"`
	EffectiveDate  time.Time `json:"effective_date,omitempty"`
	ExpirationDate time.Time `json:"expiration_date,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Expired reports whether the policy's expiration date has passed.
func (p *Policy) Expired(now time.Time) bool {
	return !p.ExpirationDate.IsZero() && p.ExpirationDate.Before(now)
}

// Verification is one eligibility check result for a policy.
type Verification struct {
	ID                  string          `json:"id"`
	PracticeID          string          `json:"practice_id"`
	PolicyID            string          `json:"policy_id"`
	PatientID           string          `json:"patient_id"`
	Status              string          `json:"status"`
	PayerName           string          `json:"payer_name,omitempty"`
	PlanName            string          `json:"plan_name,omitempty"`
	CopayCents          int64           `json:"copay_cents"`
	CoinsurancePct      int             `json:"coinsurance_pct"`
	DeductibleCents     int64           `json:"deductible_cents"`
	DeductibleMetCents  int64           `json:"deductible_met_cents"`
	OutOfPocketMaxCents int64           `json:"out_of_pocket_max_cents"`
	OutOfPocketMetCents int64           `json:"out_of_pocket_met_cents"`
	CheckedAt           time.Time       `json:"checked_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
	RawResponse         json.RawMessage `json:"raw_response,omitempty"`
	Source              string          `json:"source"`
}

// CreatePolicyRequest is the body for POST /insurance/policies.
type CreatePolicyRequest struct {
	PracticeID     string    `json:"-"`
	PatientID      string    `json:"patient_id"`
	PayerID        string    `json:"payer_id"`
	PayerName      string    `json:"payer_name,omitempty"`
	MemberID       string    `json:"member_id"`
	GroupNumber    string    `json:"group_number,omitempty"`
	PlanName       string    `json:"plan_name,omitempty"`
	PlanType       string    `json:"plan_type"`
	Relationship   string    `json:"relationship,omitempty"`
	SubscriberName string    `json:"subscriber_name,omitempty"`
	CoverageOrder  int       `json:"coverage_order,omitempty"`
	EffectiveDate  time.Time `json:"effective_date,omitempty"`
	ExpirationDate time.Time `json:"expiration_date,omitempty"`
}

func validPlanType(planType string) bool {
	switch planType {
	case PlanPPO, PlanHMO, PlanEPO, PlanPOS, PlanMedicare, PlanMedicaid:
		return true
	}
	return false
}

// Validate checks required fields on a new policy.
func (r *CreatePolicyRequest) Validate() error {
	if strings.TrimSpace(r.PracticeID) == "" {
		return ErrMissingPracticeID
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return ErrMissingPatientID
	}
	if strings.TrimSpace(r.PayerID) == "" {
		return ErrMissingPayerID
	}
	if strings.TrimSpace(r.MemberID) == "" {
		return ErrMissingMemberID
	}
	if !validPlanType(r.PlanType) {
		return ErrInvalidPlanType
	}
	if !r.EffectiveDate.IsZero() && !r.ExpirationDate.IsZero() && r.ExpirationDate.Before(r.EffectiveDate) {
		return ErrInvalidCoverageDates
	}
	return nil
}

// UpdatePolicyRequest carries partial policy updates. Pointer fields
// distinguish "not sent" from zero values.
type UpdatePolicyRequest struct {
	PayerName      *string    `json:"payer_name,omitempty"`
	MemberID       *string    `json:"member_id,omitempty"`
	GroupNumber    *string    `json:"group_number,omitempty"`
	PlanName       *string    `json:"plan_name,omitempty"`
	PlanType       *string    `json:"plan_type,omitempty"`
	Relationship   *string    `json:"relationship,omitempty"`
	SubscriberName *string    `json:"subscriber_name,omitempty"`
	CoverageOrder  *int       `json:"coverage_order,omitempty"`
	EffectiveDate  *time.Time `json:"effective_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	Status         *string    `json:"status,omitempty"`
}

// Apply copies the set fields onto the policy.
func (r *UpdatePolicyRequest) Apply(p *Policy) error {
	if r.PlanType != nil && !validPlanType(*r.PlanType) {
		return ErrInvalidPlanType
	}
	if r.Status != nil && *r.Status != PolicyActive && *r.Status != PolicyInactive {
		return ErrInvalidPolicyStatus
	}
	if r.PayerName != nil {
		p.PayerName = *r.PayerName
	}
	if r.MemberID != nil {
		if strings.TrimSpace(*r.MemberID) == "" {
			return ErrMissingMemberID
		}
		p.MemberID = *r.MemberID
	}
	if r.GroupNumber != nil {
		p.GroupNumber = *r.GroupNumber
	}
	if r.PlanName != nil {
		p.PlanName = *r.PlanName
	}
	if r.PlanType != nil {
		p.PlanType = *r.PlanType
	}
	if r.Relationship != nil {
		p.Relationship = *r.Relationship
	}
	if r.SubscriberName != nil {
		p.SubscriberName = *r.SubscriberName
	}
	if r.CoverageOrder != nil {
		p.CoverageOrder = *r.CoverageOrder
	}
	if r.EffectiveDate != nil {
		p.EffectiveDate = *r.EffectiveDate
	}
	if r.ExpirationDate != nil {
		p.ExpirationDate = *r.ExpirationDate
	}
	if r.Status != nil {
		p.Status = *r.Status
	}
	if !p.EffectiveDate.IsZero() && !p.ExpirationDate.IsZero() && p.ExpirationDate.Before(p.EffectiveDate) {
		return ErrInvalidCoverageDates
	}
	return nil
}

// VerifyRequest is the body for POST /insurance/verify.
type VerifyRequest struct {
	PolicyID string `json:"policy_id"`
	// Force skips the cache and always queries the payer.
	Force bool `json:"force,omitempty"`
}
