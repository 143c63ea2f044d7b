// Package claims manages the billing claim lifecycle: drafting, the
// pre-submission scrub, dispatch to the clearinghouse, and remittance.
package claims

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Claim statuses. The service enforces the lifecycle:
// draft -> ready -> queued -> submitted -> accepted/rejected,
// accepted -> paid/denied, and draft/ready -> voided.
const (
	StatusDraft     = "draft"
	StatusReady     = "ready"
	StatusQueued    = "queued"
	StatusSubmitted = "submitted"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusPaid      = "paid"
	StatusDenied    = "denied"
	StatusVoided    = "voided"
)

// Claim types accepted by the clearinghouse.
const (
	TypeProfessional  = "professional"
	TypeInstitutional = "institutional"
)

var transitions = map[string][]string{
	StatusDraft:     {StatusReady, StatusVoided},
	StatusReady:     {StatusQueued, StatusVoided},
	StatusQueued:    {StatusSubmitted},
	StatusSubmitted: {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusPaid, StatusDenied},
}

// CanTransition reports whether a claim may move from one status to another.
// Rejected, paid, denied, and voided are terminal.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimLine is a single billed service on a claim.
type ClaimLine struct {
	CPTCode     string `json:"cpt_code"`
	Description string `json:"description,omitempty"`
	Units       int    `json:"units"`
	ChargeCents int64  `json:"charge_cents"`
}

// Claim is a billing claim tied to a patient visit and an insurance policy.
// TotalCents is always recomputed from the lines on write.
type Claim struct {
	ID               string      `json:"id"`
	PracticeID       string      `json:"practice_id"`
	PatientID        string      `json:"patient_id"`
	ProviderID       string      `json:"provider_id,omitempty"`
	PolicyID         string      `json:"policy_id,omitempty"`
	ClaimNumber      string      `json:"claim_number"`
	Status           string      `json:"status"`
	Type             string      `json:"type"`
	ServiceDate      time.Time   `json:"service_date"`
	Diagnoses        []string    `json:"diagnoses"`
	Lines            []ClaimLine `json:"lines"`
	TotalCents       int64       `json:"total_cents"`
	PayerClaimID     string      `json:"payer_claim_id,omitempty"`
	AdjudicatedCents int64       `json:"adjudicated_cents,omitempty"`
	PatientOwesCents int64       `json:"patient_owes_cents,omitempty"`
	DenialReason     string      `json:"denial_reason,omitempty"`
	SubmittedAt      time.Time   `json:"submitted_at,omitempty"`
	AdjudicatedAt    time.Time   `json:"adjudicated_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Total sums the line charges.
func (c *Claim) Total() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.ChargeCents
	}
	return total
}

// ClaimEvent is one entry in a claim's transition history.
type ClaimEvent struct {
	ID         string    `json:"id"`
	ClaimID    string    `json:"claim_id"`
	PracticeID string    `json:"-"`
	Actor      string    `json:"actor"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewClaimNumber generates a practice-facing claim number, CB- followed by
// eight base32 characters derived from a random uuid.
func NewClaimNumber() string {
	id := uuid.New()
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(id[:])
	return "CB-" + encoded[:8]
}

// CreateClaimRequest opens a new draft claim. Provider, policy, diagnoses,
// and lines may be filled in later; the scrub enforces them at submission.
type CreateClaimRequest struct {
	PracticeID  string      `json:"-"`
	PatientID   string      `json:"patient_id"`
	ProviderID  string      `json:"provider_id,omitempty"`
	PolicyID    string      `json:"policy_id,omitempty"`
	Type        string      `json:"type"`
	ServiceDate string      `json:"service_date"`
	Diagnoses   []string    `json:"diagnoses,omitempty"`
	Lines       []ClaimLine `json:"lines,omitempty"`
}

// Validate checks the fields a draft cannot exist without.
func (r *CreateClaimRequest) Validate() error {
	if strings.TrimSpace(r.PracticeID) == "" {
		return ErrMissingPracticeID
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return ErrMissingPatientID
	}
	switch r.Type {
	case TypeProfessional, TypeInstitutional:
	case "":
		return ErrMissingClaimType
	default:
		return ErrInvalidClaimType
	}
	if _, err := time.Parse("2006-01-02", r.ServiceDate); err != nil {
		return ErrInvalidServiceDate
	}
	return nil
}

// UpdateClaimRequest edits a draft claim. Nil pointers leave the field
// unchanged; slices replace wholesale.
type UpdateClaimRequest struct {
	ProviderID  *string     `json:"provider_id,omitempty"`
	PolicyID    *string     `json:"policy_id,omitempty"`
	Type        *string     `json:"type,omitempty"`
	ServiceDate *string     `json:"service_date,omitempty"`
	Diagnoses   []string    `json:"diagnoses,omitempty"`
	Lines       []ClaimLine `json:"lines,omitempty"`
}

// Apply folds the request into a draft claim.
func (r *UpdateClaimRequest) Apply(c *Claim) error {
	if r.ProviderID != nil {
		c.ProviderID = strings.TrimSpace(*r.ProviderID)
	}
	if r.PolicyID != nil {
		c.PolicyID = strings.TrimSpace(*r.PolicyID)
	}
	if r.Type != nil {
		switch *r.Type {
		case TypeProfessional, TypeInstitutional:
			c.Type = *r.Type
		default:
			return ErrInvalidClaimType
		}
	}
	if r.ServiceDate != nil {
		parsed, err := time.Parse("2006-01-02", *r.ServiceDate)
		if err != nil {
			return ErrInvalidServiceDate
		}
		c.ServiceDate = parsed
	}
	if r.Diagnoses != nil {
		c.Diagnoses = normalizeDiagnoses(r.Diagnoses)
	}
	if r.Lines != nil {
		c.Lines = r.Lines
	}
	c.TotalCents = c.Total()
	return nil
}

func normalizeDiagnoses(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			out = append(out, code)
		}
	}
	return out
}

// ListFilter narrows GET /claims.
type ListFilter struct {
	Status    string
	PatientID string
	Limit     int
}
