package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Notifier sends billing emails. Implementations log their own failures and
// must not block.
type Notifier interface {
	ClaimDenied(ctx context.Context, claim *Claim)
}

// Service runs the claim lifecycle. Every transition is written together
// with its history row and outbox event in one transaction.
type Service struct {
	store    *Store
	audit    *compliance.AuditService
	metrics  *metrics.ClaimsMetrics
	notifier Notifier
	logger   *logging.Logger
	nowFunc  func() time.Time
}

type ServiceOption func(*Service)

// WithMetrics attaches claim lifecycle counters.
func WithMetrics(m *metrics.ClaimsMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier attaches the billing email notifier.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFunc = now }
}

func NewService(store *Store, audit *compliance.AuditService, logger *logging.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:   store,
		audit:   audit,
		logger:  logger,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a draft claim.
func (s *Service) Create(ctx context.Context, actor string, req CreateClaimRequest) (*Claim, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	serviceDate, _ := time.Parse("2006-01-02", req.ServiceDate)

	claim := &Claim{
		ID:          uuid.New().String(),
		PracticeID:  req.PracticeID,
		PatientID:   req.PatientID,
		ProviderID:  req.ProviderID,
		PolicyID:    req.PolicyID,
		ClaimNumber: NewClaimNumber(),
		Status:      StatusDraft,
		Type:        req.Type,
		ServiceDate: serviceDate,
		Diagnoses:   normalizeDiagnoses(req.Diagnoses),
		Lines:       req.Lines,
	}
	if claim.Lines == nil {
		claim.Lines = []ClaimLine{}
	}
	claim.TotalCents = claim.Total()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Insert(ctx, tx, claim); err != nil {
		return nil, err
	}
	if err := s.appendEvent(ctx, tx, claim, actor, "", StatusDraft, "claim created"); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit create: %w", err)
	}

	s.logger.Info("claim created",
		"practice_id", claim.PracticeID, "claim_id", claim.ID, "claim_number", claim.ClaimNumber)

	if s.audit != nil {
		if err := s.audit.LogRecordModified(ctx, claim.PracticeID, claim.PatientID, actor, "claim", []string{"created"}); err != nil {
			s.logger.Error("audit write failed", "error", err)
		}
	}
	return claim, nil
}

// Update edits a draft claim. Claims past drafting are immutable through
// this path; remittance is the only thing that changes them.
func (s *Service) Update(ctx context.Context, practiceID, id string, req UpdateClaimRequest) (*Claim, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claim, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if claim.Status != StatusDraft {
		return nil, ErrClaimNotDraft
	}
	if err := req.Apply(claim); err != nil {
		return nil, err
	}
	if err := s.store.UpdateDraft(ctx, tx, claim); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit update: %w", err)
	}
	return claim, nil
}

// Submit scrubs a draft and queues it for the clearinghouse. The scrub and
// both transitions happen in one transaction so a claim is never left ready
// but unqueued.
func (s *Service) Submit(ctx context.Context, practiceID, id, actor string) (*Claim, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claim, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}

	fromStatus := claim.Status
	switch claim.Status {
	case StatusDraft, StatusReady:
	default:
		return nil, ErrInvalidTransition
	}

	if claim.Status == StatusDraft {
		if issues := Scrub(claim); len(issues) > 0 {
			for _, issue := range issues {
				s.metrics.ObserveScrubFailure(issue.Field)
			}
			return nil, &ScrubError{Issues: issues}
		}
	}

	if err := s.store.SetStatus(ctx, tx, practiceID, id, StatusQueued); err != nil {
		return nil, err
	}
	if fromStatus == StatusDraft {
		if err := s.appendEvent(ctx, tx, claim, actor, StatusDraft, StatusReady, "scrub passed"); err != nil {
			return nil, err
		}
	}
	if err := s.appendEvent(ctx, tx, claim, actor, StatusReady, StatusQueued, "queued for clearinghouse"); err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	submitted := events.ClaimSubmittedV1{
		ClaimID:      claim.ID,
		ClaimNumber:  claim.ClaimNumber,
		PracticeID:   claim.PracticeID,
		PatientID:    claim.PatientID,
		TotalCents:   claim.TotalCents,
		Currency:     "USD",
		SubmittedAt:  now,
		ServiceLines: len(claim.Lines),
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, claim.PracticeID, "claim:"+claim.ID, claim.ID, submitted); err != nil {
		return nil, fmt.Errorf("claims: append submitted event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit submit: %w", err)
	}

	claim.Status = StatusQueued
	if fromStatus == StatusDraft {
		s.metrics.ObserveTransition(StatusDraft, StatusReady)
	}
	s.metrics.ObserveTransition(StatusReady, StatusQueued)

	s.logger.Info("claim queued",
		"practice_id", claim.PracticeID, "claim_id", claim.ID,
		"claim_number", claim.ClaimNumber, "total_cents", claim.TotalCents)

	if s.audit != nil {
		if err := s.audit.LogClaimSubmitted(ctx, claim.PracticeID, claim.PatientID, actor, claim.ClaimNumber); err != nil {
			s.logger.Error("audit write failed", "error", err)
		}
	}
	return claim, nil
}

// Void cancels a claim that has not left the practice.
func (s *Service) Void(ctx context.Context, practiceID, id, actor, note string) (*Claim, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claim, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(claim.Status, StatusVoided) {
		return nil, ErrInvalidTransition
	}
	if err := s.store.SetStatus(ctx, tx, practiceID, id, StatusVoided); err != nil {
		return nil, err
	}
	if err := s.appendEvent(ctx, tx, claim, actor, claim.Status, StatusVoided, note); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit void: %w", err)
	}

	s.metrics.ObserveTransition(claim.Status, StatusVoided)
	s.logger.Info("claim voided",
		"practice_id", claim.PracticeID, "claim_id", claim.ID, "from", claim.Status)

	claim.Status = StatusVoided
	return claim, nil
}

// MarkSubmitted records the clearinghouse hand-off performed by the
// dispatcher. The payer claim id comes back from the submission call.
func (s *Service) MarkSubmitted(ctx context.Context, practiceID, id, payerClaimID string) (*Claim, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claim, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(claim.Status, StatusSubmitted) {
		return nil, ErrInvalidTransition
	}

	now := s.nowFunc().UTC()
	if err := s.store.MarkSubmitted(ctx, tx, practiceID, id, payerClaimID, now); err != nil {
		return nil, err
	}
	if err := s.appendEvent(ctx, tx, claim, "clearinghouse", claim.Status, StatusSubmitted, "accepted by clearinghouse gateway"); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit mark submitted: %w", err)
	}

	s.metrics.ObserveTransition(claim.Status, StatusSubmitted)
	claim.Status = StatusSubmitted
	claim.PayerClaimID = payerClaimID
	claim.SubmittedAt = now
	return claim, nil
}

// Remittance is one payer decision delivered through the clearinghouse
// webhook.
type Remittance struct {
	Outcome          string
	PaidCents        int64
	PatientOwesCents int64
	Reason           string
}

// ApplyRemittance moves a claim along the post-submission part of the
// lifecycle and emits the adjudication event. Denials notify the practice.
func (s *Service) ApplyRemittance(ctx context.Context, practiceID, id string, rem Remittance) (*Claim, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	claim, err := s.store.GetForUpdate(ctx, tx, practiceID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(claim.Status, rem.Outcome) {
		return nil, ErrInvalidTransition
	}

	now := s.nowFunc().UTC()
	switch rem.Outcome {
	case StatusAccepted:
		if err := s.store.SetStatus(ctx, tx, practiceID, id, StatusAccepted); err != nil {
			return nil, err
		}
	case StatusRejected, StatusDenied:
		if err := s.store.MarkAdjudicated(ctx, tx, practiceID, id, rem.Outcome, 0, rem.PatientOwesCents, rem.Reason, now); err != nil {
			return nil, err
		}
	case StatusPaid:
		if err := s.store.MarkAdjudicated(ctx, tx, practiceID, id, StatusPaid, rem.PaidCents, rem.PatientOwesCents, "", now); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidTransition
	}

	if err := s.appendEvent(ctx, tx, claim, "clearinghouse", claim.Status, rem.Outcome, rem.Reason); err != nil {
		return nil, err
	}

	adjudicated := events.ClaimAdjudicatedV1{
		ClaimID:       claim.ID,
		ClaimNumber:   claim.ClaimNumber,
		PracticeID:    claim.PracticeID,
		Outcome:       rem.Outcome,
		PaidCents:     rem.PaidCents,
		DenialCode:    rem.Reason,
		AdjudicatedAt: now,
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, claim.PracticeID, "claim:"+claim.ID, claim.ID, adjudicated); err != nil {
		return nil, fmt.Errorf("claims: append adjudicated event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claims: commit remittance: %w", err)
	}

	s.metrics.ObserveTransition(claim.Status, rem.Outcome)
	s.logger.Info("remittance applied",
		"practice_id", claim.PracticeID, "claim_id", claim.ID,
		"outcome", rem.Outcome, "paid_cents", rem.PaidCents)

	claim.Status = rem.Outcome
	switch rem.Outcome {
	case StatusPaid:
		claim.AdjudicatedCents = rem.PaidCents
		claim.PatientOwesCents = rem.PatientOwesCents
		claim.AdjudicatedAt = now
	case StatusRejected, StatusDenied:
		claim.DenialReason = rem.Reason
		claim.PatientOwesCents = rem.PatientOwesCents
		claim.AdjudicatedAt = now
	}

	if rem.Outcome == StatusDenied && s.notifier != nil {
		s.notifier.ClaimDenied(context.Background(), claim)
	}
	return claim, nil
}

// Get fetches a single claim.
func (s *Service) Get(ctx context.Context, practiceID, id string) (*Claim, error) {
	return s.store.GetByID(ctx, practiceID, id)
}

// List returns a practice's claims.
func (s *Service) List(ctx context.Context, practiceID string, filter ListFilter) ([]*Claim, error) {
	return s.store.List(ctx, practiceID, filter)
}

// Events returns a claim's transition history.
func (s *Service) Events(ctx context.Context, practiceID, id string) ([]ClaimEvent, error) {
	if _, err := s.store.GetByID(ctx, practiceID, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, practiceID, id)
}

func (s *Service) appendEvent(ctx context.Context, q Querier, claim *Claim, actor, from, to, note string) error {
	return s.store.InsertEvent(ctx, q, &ClaimEvent{
		ID:         uuid.New().String(),
		ClaimID:    claim.ID,
		PracticeID: claim.PracticeID,
		Actor:      actor,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
	})
}
