// Package portal aggregates the patient dashboard: the next visits, recent
// claims and what the patient owes, coverage state, and document count in
// one response so the portal landing page is a single round trip.
package portal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/documents"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const (
	upcomingLimit     = 5
	recentClaimsLimit = 5
)

type AppointmentSource interface {
	List(ctx context.Context, practiceID string, filter scheduling.ListFilter) ([]scheduling.Appointment, error)
}

type ClaimSource interface {
	List(ctx context.Context, practiceID string, filter claims.ListFilter) ([]*claims.Claim, error)
}

type CoverageSource interface {
	ListPoliciesByPatient(ctx context.Context, practiceID, patientID string) ([]insurance.Policy, error)
	LatestVerificationForPolicy(ctx context.Context, practiceID, policyID string) (*insurance.Verification, error)
}

type DocumentSource interface {
	ListByPatient(ctx context.Context, practiceID, patientID string) ([]documents.Document, error)
}

// Summary is the dashboard payload.
type Summary struct {
	PatientID            string                   `json:"patient_id"`
	UpcomingAppointments []scheduling.Appointment `json:"upcoming_appointments"`
	RecentClaims         []ClaimSummary           `json:"recent_claims"`
	OutstandingCents     int64                    `json:"outstanding_cents"`
	ActivePolicies       []insurance.Policy       `json:"active_policies"`
	LastVerification     *insurance.Verification  `json:"last_verification,omitempty"`
	DocumentCount        int                      `json:"document_count"`
	GeneratedAt          time.Time                `json:"generated_at"`
}

// ClaimSummary is the portal's slimmed view of a claim.
type ClaimSummary struct {
	ID               string    `json:"id"`
	ClaimNumber      string    `json:"claim_number"`
	Status           string    `json:"status"`
	ServiceDate      time.Time `json:"service_date"`
	TotalCents       int64     `json:"total_cents"`
	PatientOwesCents int64     `json:"patient_owes_cents,omitempty"`
	DenialReason     string    `json:"denial_reason,omitempty"`
}

// Service assembles summaries from the owning packages' read paths.
type Service struct {
	appointments AppointmentSource
	claims       ClaimSource
	coverage     CoverageSource
	documents    DocumentSource
	logger       *logging.Logger
	now          func() time.Time
}

type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(appointments AppointmentSource, claimSource ClaimSource, coverage CoverageSource, docs DocumentSource, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		appointments: appointments,
		claims:       claimSource,
		coverage:     coverage,
		documents:    docs,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary builds the dashboard for one patient.
func (s *Service) Summary(ctx context.Context, practiceID, patientID string) (*Summary, error) {
	now := s.now().UTC()
	summary := &Summary{PatientID: patientID, GeneratedAt: now}

	upcoming, err := s.appointments.List(ctx, practiceID, scheduling.ListFilter{
		PatientID: patientID,
		Status:    scheduling.StatusBooked,
		From:      now,
		Limit:     upcomingLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("portal: upcoming appointments: %w", err)
	}
	summary.UpcomingAppointments = upcoming

	recent, err := s.claims.List(ctx, practiceID, claims.ListFilter{
		PatientID: patientID,
		Limit:     recentClaimsLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("portal: recent claims: %w", err)
	}
	for _, c := range recent {
		summary.RecentClaims = append(summary.RecentClaims, ClaimSummary{
			ID:               c.ID,
			ClaimNumber:      c.ClaimNumber,
			Status:           c.Status,
			ServiceDate:      c.ServiceDate,
			TotalCents:       c.TotalCents,
			PatientOwesCents: c.PatientOwesCents,
			DenialReason:     c.DenialReason,
		})
		// Paid claims are settled; everything else adjudicated still counts.
		if c.Status == claims.StatusAccepted || c.Status == claims.StatusDenied {
			summary.OutstandingCents += c.PatientOwesCents
		}
	}

	policies, err := s.coverage.ListPoliciesByPatient(ctx, practiceID, patientID)
	if err != nil {
		return nil, fmt.Errorf("portal: policies: %w", err)
	}
	for _, p := range policies {
		if p.Status == insurance.PolicyActive {
			summary.ActivePolicies = append(summary.ActivePolicies, p)
		}
	}
	if len(summary.ActivePolicies) > 0 {
		verification, err := s.coverage.LatestVerificationForPolicy(ctx, practiceID, summary.ActivePolicies[0].ID)
		switch {
		case err == nil:
			summary.LastVerification = verification
		case errors.Is(err, insurance.ErrVerificationNotFound):
			// A patient with coverage but no verification yet is normal.
		default:
			return nil, fmt.Errorf("portal: latest verification: %w", err)
		}
	}

	docs, err := s.documents.ListByPatient(ctx, practiceID, patientID)
	if err != nil {
		return nil, fmt.Errorf("portal: documents: %w", err)
	}
	summary.DocumentCount = len(docs)

	return summary, nil
}
