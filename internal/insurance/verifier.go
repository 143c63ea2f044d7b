package insurance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// CoverageChecker is the clearinghouse surface the verifier depends on.
type CoverageChecker interface {
	CheckCoverage(ctx context.Context, req clearinghouse.CoverageRequest) (*clearinghouse.CoverageResult, error)
}

// Notifier alerts staff about eligibility checks that errored out.
// Implementations log their own failures and must not block.
type Notifier interface {
	VerificationFailed(ctx context.Context, verification *Verification)
}

// Verifier answers "is this patient covered" from cache when fresh,
// otherwise from the payer, persisting every payer response.
type Verifier struct {
	store    *Store
	cache    *VerificationCache
	payer    CoverageChecker
	notifier Notifier
	logger   *logging.Logger
	tracer   trace.Tracer

	ttl     time.Duration
	nowFunc func() time.Time
}

type VerifierOption func(*Verifier)

// WithResultTTL overrides how long results count as fresh.
func WithResultTTL(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.ttl = d
		}
	}
}

// WithVerifierClock overrides the time source for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.nowFunc = now
		}
	}
}

// WithNotifier attaches the staff alert notifier.
func WithNotifier(n Notifier) VerifierOption {
	return func(v *Verifier) { v.notifier = n }
}

func NewVerifier(store *Store, cache *VerificationCache, payer CoverageChecker, logger *logging.Logger, opts ...VerifierOption) *Verifier {
	if logger == nil {
		logger = logging.Default()
	}
	v := &Verifier{
		store:   store,
		cache:   cache,
		payer:   payer,
		logger:  logger,
		tracer:  otel.Tracer("carebridge.internal.insurance.verifier"),
		ttl:     DefaultCacheTTL,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs an eligibility check for a policy. force skips the cache.
func (s *Verifier) Verify(ctx context.Context, practiceID, policyID string, force bool) (*Verification, error) {
	ctx, span := s.tracer.Start(ctx, "insurance.verify")
	defer span.End()

	policy, err := s.store.GetPolicy(ctx, practiceID, policyID)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc().UTC()
	if policy.Expired(now) {
		return nil, ErrPolicyExpired
	}

	if !force {
		cached, err := s.cache.Get(ctx, policyID)
		if err != nil {
			// Redis trouble downgrades to a payer call, never an outage.
			s.logger.Warn("verification cache lookup failed", "policy_id", policyID, "error", err)
		}
		if cached != nil && cached.ExpiresAt.After(now) {
			hit := *cached
			hit.Source = SourceCache
			return &hit, nil
		}
	}

	result, err := s.payer.CheckCoverage(ctx, clearinghouse.CoverageRequest{
		PayerID:        policy.PayerID,
		MemberID:       policy.MemberID,
		GroupNumber:    policy.GroupNumber,
		SubscriberName: policy.SubscriberName,
		ServiceDate:    now,
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("payer eligibility check failed",
			"practice_id", practiceID, "policy_id", policyID, "error", err)
		return s.recordFailure(ctx, policy, now, err)
	}

	verification := &Verification{
		ID:                  uuid.New().String(),
		PracticeID:          policy.PracticeID,
		PolicyID:            policy.ID,
		PatientID:           policy.PatientID,
		Status:              VerificationInactive,
		PayerName:           result.PayerName,
		PlanName:            result.PlanName,
		CopayCents:          result.CopayCents,
		CoinsurancePct:      result.CoinsurancePct,
		DeductibleCents:     result.DeductibleCents,
		DeductibleMetCents:  result.DeductibleMetCents,
		OutOfPocketMaxCents: result.OutOfPocketMaxCents,
		OutOfPocketMetCents: result.OutOfPocketMetCents,
		CheckedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
		RawResponse:         result.Raw,
		Source:              SourcePayer,
	}
	if result.Active {
		verification.Status = VerificationActive
	}
	if verification.PayerName == "" {
		verification.PayerName = policy.PayerName
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("insurance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.InsertVerification(ctx, tx, verification); err != nil {
		return nil, err
	}

	completed := events.VerificationCompletedV1{
		VerificationID: verification.ID,
		PracticeID:     verification.PracticeID,
		PatientID:      verification.PatientID,
		PolicyID:       verification.PolicyID,
		Eligible:       verification.Status == VerificationActive,
		Source:         verification.Source,
		CheckedAt:      verification.CheckedAt,
	}
	if _, err := events.AppendCanonicalEvent(ctx, tx, verification.PracticeID, "policy:"+verification.PolicyID, verification.ID, completed); err != nil {
		return nil, fmt.Errorf("insurance: append verification event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("insurance: commit verification: %w", err)
	}

	if err := s.cache.Set(context.Background(), verification); err != nil {
		s.logger.Warn("verification cache store failed", "policy_id", policyID, "error", err)
	}

	s.logger.Info("eligibility verified",
		"practice_id", practiceID, "policy_id", policyID,
		"status", verification.Status, "source", verification.Source)
	return verification, nil
}

// recordFailure persists an error-status row so the attempt shows up in the
// patient's history. Failed checks are never cached, the next attempt goes
// straight back to the payer.
func (s *Verifier) recordFailure(ctx context.Context, policy *Policy, now time.Time, cause error) (*Verification, error) {
	raw, _ := json.Marshal(map[string]string{"error": cause.Error()})
	verification := &Verification{
		ID:          uuid.New().String(),
		PracticeID:  policy.PracticeID,
		PolicyID:    policy.ID,
		PatientID:   policy.PatientID,
		Status:      VerificationError,
		PayerName:   policy.PayerName,
		CheckedAt:   now,
		ExpiresAt:   now,
		RawResponse: raw,
		Source:      SourcePayer,
	}
	if err := s.store.InsertVerification(ctx, s.store.pool, verification); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.VerificationFailed(context.Background(), verification)
	}
	return verification, nil
}
