package claimsworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
)

type fakeRemittanceStore struct {
	claims []*claims.Claim
	err    error
}

func (f *fakeRemittanceStore) ListAwaitingRemittance(ctx context.Context, limit int32) ([]*claims.Claim, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

type fakeRemittanceGateway struct {
	status *clearinghouse.RemittanceStatus
	err    error
}

func (f *fakeRemittanceGateway) GetRemittance(ctx context.Context, payerClaimID string) (*clearinghouse.RemittanceStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

type fakeApplier struct {
	applied []claims.Remittance
	err     error
}

func (f *fakeApplier) ApplyRemittance(ctx context.Context, practiceID, id string, rem claims.Remittance) (*claims.Claim, error) {
	f.applied = append(f.applied, rem)
	if f.err != nil {
		return nil, f.err
	}
	return &claims.Claim{ID: id, PracticeID: practiceID, Status: rem.Outcome}, nil
}

func submittedClaim() *claims.Claim {
	return &claims.Claim{
		ID:           "clm-1",
		PracticeID:   "prac-1",
		ClaimNumber:  "CB-A1B2C3D4",
		Status:       claims.StatusSubmitted,
		PayerClaimID: "PCN-991",
	}
}

func TestRemittancePollerAppliesPaid(t *testing.T) {
	store := &fakeRemittanceStore{claims: []*claims.Claim{submittedClaim()}}
	gateway := &fakeRemittanceGateway{status: &clearinghouse.RemittanceStatus{
		Status:           clearinghouse.RemitPaid,
		PaidCents:        10500,
		PatientOwesCents: 2000,
	}}
	applier := &fakeApplier{}

	poller := NewRemittancePoller(store, gateway, applier, nil)
	poller.drain(context.Background())

	if len(applier.applied) != 2 {
		t.Fatalf("expected 2 transitions (accepted then paid), got %d", len(applier.applied))
	}
	if applier.applied[0].Outcome != claims.StatusAccepted {
		t.Fatalf("first outcome = %q", applier.applied[0].Outcome)
	}
	last := applier.applied[1]
	if last.Outcome != claims.StatusPaid {
		t.Fatalf("final outcome = %q", last.Outcome)
	}
	if last.PaidCents != 10500 || last.PatientOwesCents != 2000 {
		t.Fatalf("amounts = %d/%d", last.PaidCents, last.PatientOwesCents)
	}
	if applier.applied[0].PaidCents != 0 {
		t.Fatal("intermediate step must not carry amounts")
	}
}

func TestRemittancePollerAppliesDenialFromAccepted(t *testing.T) {
	claim := submittedClaim()
	claim.Status = claims.StatusAccepted
	store := &fakeRemittanceStore{claims: []*claims.Claim{claim}}
	gateway := &fakeRemittanceGateway{status: &clearinghouse.RemittanceStatus{
		Status:     clearinghouse.RemitDenied,
		DenialCode: "CO-29",
	}}
	applier := &fakeApplier{}

	NewRemittancePoller(store, gateway, applier, nil).drain(context.Background())

	if len(applier.applied) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(applier.applied))
	}
	if applier.applied[0].Outcome != claims.StatusDenied {
		t.Fatalf("outcome = %q", applier.applied[0].Outcome)
	}
	if applier.applied[0].Reason != "CO-29" {
		t.Fatalf("reason = %q", applier.applied[0].Reason)
	}
}

func TestRemittancePollerSkipsPending(t *testing.T) {
	store := &fakeRemittanceStore{claims: []*claims.Claim{submittedClaim()}}
	gateway := &fakeRemittanceGateway{status: &clearinghouse.RemittanceStatus{Status: clearinghouse.RemitPending}}
	applier := &fakeApplier{}

	NewRemittancePoller(store, gateway, applier, nil).drain(context.Background())

	if len(applier.applied) != 0 {
		t.Fatalf("pending remittance must not transition, got %d applies", len(applier.applied))
	}
}

func TestRemittancePollerStopsOnInvalidTransition(t *testing.T) {
	store := &fakeRemittanceStore{claims: []*claims.Claim{submittedClaim()}}
	gateway := &fakeRemittanceGateway{status: &clearinghouse.RemittanceStatus{Status: clearinghouse.RemitPaid}}
	applier := &fakeApplier{err: claims.ErrInvalidTransition}

	NewRemittancePoller(store, gateway, applier, nil).drain(context.Background())

	if len(applier.applied) != 1 {
		t.Fatalf("expected to stop after the first rejected apply, got %d", len(applier.applied))
	}
}

func TestRemittancePollerHandlesStoreErrors(t *testing.T) {
	store := &fakeRemittanceStore{err: errors.New("boom")}
	NewRemittancePoller(store, &fakeRemittanceGateway{}, &fakeApplier{}, nil).drain(context.Background())
}

func TestRemittancePollerHandlesGatewayErrors(t *testing.T) {
	store := &fakeRemittanceStore{claims: []*claims.Claim{submittedClaim()}}
	gateway := &fakeRemittanceGateway{err: errors.New("boom")}
	applier := &fakeApplier{}

	NewRemittancePoller(store, gateway, applier, nil).drain(context.Background())

	if len(applier.applied) != 0 {
		t.Fatalf("gateway errors must skip the claim, got %d applies", len(applier.applied))
	}
}

func TestRemittancePollerRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeRemittanceStore{}
	poller := NewRemittancePoller(store, &fakeRemittanceGateway{}, &fakeApplier{}, nil).
		WithInterval(5 * time.Millisecond).
		WithBatchSize(5)
	go poller.Run(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
}
