package claims

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/providers"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type stubPolicySource struct {
	policy *insurance.Policy
	err    error
}

func (s *stubPolicySource) GetPolicy(_ context.Context, _, _ string) (*insurance.Policy, error) {
	return s.policy, s.err
}

type stubProviderSource struct {
	provider *providers.Provider
	err      error
}

func (s *stubProviderSource) Get(_ context.Context, _, _ string) (*providers.Provider, error) {
	return s.provider, s.err
}

type stubGateway struct {
	result *clearinghouse.ClaimSubmissionResult
	err    error
	subs   []clearinghouse.ClaimSubmission
}

func (s *stubGateway) SubmitClaim(_ context.Context, sub clearinghouse.ClaimSubmission) (*clearinghouse.ClaimSubmissionResult, error) {
	s.subs = append(s.subs, sub)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func submittedEntry(t *testing.T, claimID, practiceID string) events.OutboxEntry {
	t.Helper()
	evt := events.ClaimSubmittedV1{
		ClaimID:     claimID,
		ClaimNumber: "CB-TESTAAAA",
		PracticeID:  practiceID,
		PatientID:   "pat-1",
		TotalCents:  15000,
		Currency:    "USD",
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	env := events.Envelope{
		EventID:    uuid.New(),
		PracticeID: practiceID,
		EventType:  evt.EventType(),
		Aggregate:  "claim:" + claimID,
		Payload:    payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return events.OutboxEntry{
		ID:         env.EventID,
		PracticeID: practiceID,
		Type:       env.EventType,
		Payload:    data,
	}
}

func newTestDispatcher(t *testing.T, now time.Time, gateway *stubGateway) (*Dispatcher, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	store := NewStore(mock)
	svc := NewService(store, nil, logging.Default(), WithClock(func() time.Time { return now }))
	policies := &stubPolicySource{policy: &insurance.Policy{
		ID:       "pol-1",
		PayerID:  "60054",
		MemberID: "W1234567",
	}}
	providerSource := &stubProviderSource{provider: &providers.Provider{
		ID:  "prov-1",
		NPI: "1234567890",
	}}
	return NewDispatcher(svc, store, policies, providerSource, gateway, logging.Default()), mock
}

func TestDispatcherSubmitsQueuedClaim(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gateway := &stubGateway{result: &clearinghouse.ClaimSubmissionResult{
		PayerClaimID: "PCN-991",
		Status:       "received",
	}}
	dispatcher, mock := newTestDispatcher(t, now, gateway)

	claim := testClaim(now)
	claim.Status = StatusQueued

	mock.ExpectQuery("FROM claims WHERE id").
		WithArgs("claim-1", "prac-1").
		WillReturnRows(claimRows(claim))
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("claim-1", "prac-1").
		WillReturnRows(claimRows(claim))
	mock.ExpectExec("UPDATE claims").
		WithArgs("claim-1", "prac-1", StatusSubmitted, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO claim_events").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := dispatcher.Handle(context.Background(), submittedEntry(t, "claim-1", "prac-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if len(gateway.subs) != 1 {
		t.Fatalf("gateway received %d submissions, want 1", len(gateway.subs))
	}
	sub := gateway.subs[0]
	if sub.ClaimNumber != "CB-TESTAAAA" {
		t.Errorf("claim number = %q", sub.ClaimNumber)
	}
	if sub.PayerID != "60054" || sub.MemberID != "W1234567" {
		t.Errorf("payer = %q member = %q", sub.PayerID, sub.MemberID)
	}
	if sub.ProviderNPI != "1234567890" {
		t.Errorf("npi = %q", sub.ProviderNPI)
	}
	if sub.ServiceDate != "2026-03-02" {
		t.Errorf("service date = %q", sub.ServiceDate)
	}
	if len(sub.Lines) != 1 || sub.Lines[0].CPTCode != "99213" {
		t.Errorf("lines = %+v", sub.Lines)
	}
	if sub.TotalCents != 15000 {
		t.Errorf("total = %d", sub.TotalCents)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatcherIgnoresOtherEventTypes(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gateway := &stubGateway{}
	dispatcher, mock := newTestDispatcher(t, now, gateway)

	entry := events.OutboxEntry{
		ID:         uuid.New(),
		PracticeID: "prac-1",
		Type:       "scheduling.appointment.booked.v1",
		Payload:    []byte(`{}`),
	}
	if err := dispatcher.Handle(context.Background(), entry); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(gateway.subs) != 0 {
		t.Fatal("gateway should not have been called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDispatcherSkipsDequeuedClaim(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gateway := &stubGateway{}
	dispatcher, mock := newTestDispatcher(t, now, gateway)

	claim := testClaim(now)
	claim.Status = StatusSubmitted

	mock.ExpectQuery("FROM claims WHERE id").
		WithArgs("claim-1", "prac-1").
		WillReturnRows(claimRows(claim))

	if err := dispatcher.Handle(context.Background(), submittedEntry(t, "claim-1", "prac-1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(gateway.subs) != 0 {
		t.Fatal("gateway should not have been called for a submitted claim")
	}
}

func TestDispatcherGatewayFailureLeavesClaimQueued(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gateway := &stubGateway{err: errors.New("gateway timeout")}
	dispatcher, mock := newTestDispatcher(t, now, gateway)

	claim := testClaim(now)
	claim.Status = StatusQueued

	mock.ExpectQuery("FROM claims WHERE id").
		WithArgs("claim-1", "prac-1").
		WillReturnRows(claimRows(claim))

	err := dispatcher.Handle(context.Background(), submittedEntry(t, "claim-1", "prac-1"))
	if err == nil {
		t.Fatal("expected error from gateway failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
