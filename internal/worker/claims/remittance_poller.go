// Package claimsworker runs the background side of the claims lifecycle:
// outbox dispatch into the clearinghouse and remittance polling.
package claimsworker

import (
	"context"
	"errors"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type remittanceStore interface {
	ListAwaitingRemittance(ctx context.Context, limit int32) ([]*claims.Claim, error)
}

type remittanceGateway interface {
	GetRemittance(ctx context.Context, payerClaimID string) (*clearinghouse.RemittanceStatus, error)
}

type remittanceApplier interface {
	ApplyRemittance(ctx context.Context, practiceID, id string, rem claims.Remittance) (*claims.Claim, error)
}

// RemittancePoller periodically asks the clearinghouse for decisions on
// claims still in adjudication. Webhooks carry most remittances; the poller
// catches the ones whose webhook never arrived.
type RemittancePoller struct {
	store    remittanceStore
	gateway  remittanceGateway
	applier  remittanceApplier
	logger   *logging.Logger
	interval time.Duration
	batch    int32
}

func NewRemittancePoller(store remittanceStore, gateway remittanceGateway, applier remittanceApplier, logger *logging.Logger) *RemittancePoller {
	if logger == nil {
		logger = logging.Default()
	}
	return &RemittancePoller{
		store:    store,
		gateway:  gateway,
		applier:  applier,
		logger:   logger,
		interval: 15 * time.Minute,
		batch:    25,
	}
}

func (p *RemittancePoller) WithInterval(d time.Duration) *RemittancePoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

func (p *RemittancePoller) WithBatchSize(n int32) *RemittancePoller {
	if n > 0 {
		p.batch = n
	}
	return p
}

func (p *RemittancePoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *RemittancePoller) drain(ctx context.Context) {
	if p.store == nil || p.gateway == nil || p.applier == nil {
		return
	}
	pending, err := p.store.ListAwaitingRemittance(ctx, p.batch)
	if err != nil {
		p.logger.Error("remittance poll fetch failed", "error", err)
		return
	}
	for _, claim := range pending {
		status, err := p.gateway.GetRemittance(ctx, claim.PayerClaimID)
		if err != nil {
			p.logger.Warn("remittance poll failed", "error", err, "claim_number", claim.ClaimNumber)
			continue
		}
		p.apply(ctx, claim, status)
	}
}

// apply walks the claim through each lifecycle step the payer's answer
// implies. The poller only sees the latest state, so a submitted claim
// whose remittance already says paid passes through accepted first.
func (p *RemittancePoller) apply(ctx context.Context, claim *claims.Claim, status *clearinghouse.RemittanceStatus) {
	steps := remittanceSteps(claim.Status, status)
	if len(steps) == 0 {
		return
	}
	for _, rem := range steps {
		if _, err := p.applier.ApplyRemittance(ctx, claim.PracticeID, claim.ID, rem); err != nil {
			if errors.Is(err, claims.ErrInvalidTransition) {
				// A webhook landed between the fetch and this apply.
				p.logger.Info("remittance already applied",
					"claim_number", claim.ClaimNumber, "outcome", rem.Outcome)
				return
			}
			p.logger.Error("remittance apply failed",
				"error", err, "claim_number", claim.ClaimNumber, "outcome", rem.Outcome)
			return
		}
	}
	p.logger.Info("remittance applied",
		"practice_id", claim.PracticeID,
		"claim_number", claim.ClaimNumber,
		"status", status.Status,
		"paid_cents", status.PaidCents,
	)
}

// remittanceSteps expands a polled payer status into the ordered lifecycle
// transitions from the claim's current status. Amounts and the denial code
// ride on the final step only.
func remittanceSteps(current string, status *clearinghouse.RemittanceStatus) []claims.Remittance {
	final := claims.Remittance{
		PaidCents:        status.PaidCents,
		PatientOwesCents: status.PatientOwesCents,
		Reason:           status.DenialCode,
	}

	switch status.Status {
	case clearinghouse.RemitAccepted:
		if current == claims.StatusSubmitted {
			return []claims.Remittance{{Outcome: claims.StatusAccepted}}
		}
	case clearinghouse.RemitRejected:
		if current == claims.StatusSubmitted {
			final.Outcome = claims.StatusRejected
			return []claims.Remittance{final}
		}
	case clearinghouse.RemitPaid:
		final.Outcome = claims.StatusPaid
		switch current {
		case claims.StatusSubmitted:
			return []claims.Remittance{{Outcome: claims.StatusAccepted}, final}
		case claims.StatusAccepted:
			return []claims.Remittance{final}
		}
	case clearinghouse.RemitDenied:
		final.Outcome = claims.StatusDenied
		switch current {
		case claims.StatusSubmitted:
			return []claims.Remittance{{Outcome: claims.StatusAccepted}, final}
		case claims.StatusAccepted:
			return []claims.Remittance{final}
		}
	}
	return nil
}
