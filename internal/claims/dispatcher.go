package claims

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/providers"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Submitter sends an assembled claim to the clearinghouse.
type Submitter interface {
	SubmitClaim(ctx context.Context, sub clearinghouse.ClaimSubmission) (*clearinghouse.ClaimSubmissionResult, error)
}

// PolicySource resolves the insurance policy a submission bills against.
type PolicySource interface {
	GetPolicy(ctx context.Context, practiceID, id string) (*insurance.Policy, error)
}

// ProviderSource resolves the rendering provider for the NPI.
type ProviderSource interface {
	Get(ctx context.Context, practiceID, id string) (*providers.Provider, error)
}

// Dispatcher drains the outbox for the claims worker. Queued claims are
// assembled and handed to the clearinghouse; every other event type is
// considered published once logged. A failed hand-off leaves the entry
// pending so the next tick retries it.
type Dispatcher struct {
	service   *Service
	store     *Store
	policies  PolicySource
	providers ProviderSource
	gateway   Submitter
	logger    *logging.Logger
}

func NewDispatcher(service *Service, store *Store, policies PolicySource, providerSource ProviderSource, gateway Submitter, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		service:   service,
		store:     store,
		policies:  policies,
		providers: providerSource,
		gateway:   gateway,
		logger:    logger,
	}
}

// Handle implements events.DeliveryHandler.
func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != (events.ClaimSubmittedV1{}).EventType() {
		d.logger.Debug("event published", "type", entry.Type, "event_id", entry.ID)
		return nil
	}

	var env events.Envelope
	if err := json.Unmarshal(entry.Payload, &env); err != nil {
		return fmt.Errorf("claims: decode envelope: %w", err)
	}
	var evt events.ClaimSubmittedV1
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return fmt.Errorf("claims: decode submitted event: %w", err)
	}

	claim, err := d.store.GetByID(ctx, entry.PracticeID, evt.ClaimID)
	if err != nil {
		return err
	}
	if claim.Status != StatusQueued {
		d.logger.Info("claim no longer queued, skipping dispatch",
			"claim_id", claim.ID, "status", claim.Status)
		return nil
	}

	sub, err := d.assemble(ctx, claim)
	if err != nil {
		return err
	}
	result, err := d.gateway.SubmitClaim(ctx, *sub)
	if err != nil {
		return fmt.Errorf("claims: dispatch %s: %w", claim.ClaimNumber, err)
	}
	if _, err := d.service.MarkSubmitted(ctx, claim.PracticeID, claim.ID, result.PayerClaimID); err != nil {
		return err
	}

	d.logger.Info("claim dispatched",
		"practice_id", claim.PracticeID, "claim_id", claim.ID,
		"claim_number", claim.ClaimNumber, "payer_claim_id", result.PayerClaimID)
	return nil
}

func (d *Dispatcher) assemble(ctx context.Context, claim *Claim) (*clearinghouse.ClaimSubmission, error) {
	policy, err := d.policies.GetPolicy(ctx, claim.PracticeID, claim.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("claims: resolve policy for %s: %w", claim.ClaimNumber, err)
	}
	provider, err := d.providers.Get(ctx, claim.PracticeID, claim.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("claims: resolve provider for %s: %w", claim.ClaimNumber, err)
	}

	lines := make([]clearinghouse.SubmissionLine, 0, len(claim.Lines))
	for _, line := range claim.Lines {
		lines = append(lines, clearinghouse.SubmissionLine{
			CPTCode:     line.CPTCode,
			Units:       line.Units,
			ChargeCents: line.ChargeCents,
		})
	}
	return &clearinghouse.ClaimSubmission{
		ClaimNumber: claim.ClaimNumber,
		PayerID:     policy.PayerID,
		MemberID:    policy.MemberID,
		ProviderNPI: provider.NPI,
		ServiceDate: claim.ServiceDate.Format("2006-01-02"),
		Diagnoses:   claim.Diagnoses,
		Lines:       lines,
		TotalCents:  claim.TotalCents,
	}, nil
}
