package clearinghouse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *int64) {
	t.Helper()
	var tokenCalls int64
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&tokenCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Fatalf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "id-1" || r.Form.Get("client_secret") != "secret-1" {
			t.Fatalf("unexpected credentials %q/%q", r.Form.Get("client_id"), r.Form.Get("client_secret"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","token_type":"bearer","expires_in":3600}`))
	})
	mux.Handle("/", handler)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, "id-1", "secret-1", logging.Default()), &tokenCalls
}

func TestCheckCoverage(t *testing.T) {
	client, tokenCalls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eligibility/v1/coverage" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Fatalf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"coverage": {"status": "active", "payer_name": "Aetna", "plan_name": "Open Choice PPO"},
			"benefits": {"copay_cents": 2500, "coinsurance_pct": 20, "deductible_cents": 150000,
				"deductible_met_cents": 40000, "oop_max_cents": 600000, "oop_met_cents": 90000}
		}`))
	}))

	result, err := client.CheckCoverage(context.Background(), CoverageRequest{
		PayerID:     "60054",
		MemberID:    "W1234567",
		GroupNumber: "GRP-88",
		ServiceDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CheckCoverage() error = %v", err)
	}
	if !result.Active {
		t.Fatal("expected active coverage")
	}
	if result.PayerName != "Aetna" {
		t.Fatalf("payer = %q", result.PayerName)
	}
	if result.CopayCents != 2500 {
		t.Fatalf("copay = %d", result.CopayCents)
	}
	if result.DeductibleMetCents != 40000 {
		t.Fatalf("deductible met = %d", result.DeductibleMetCents)
	}
	if len(result.Raw) == 0 {
		t.Fatal("expected raw payload retained")
	}
	if atomic.LoadInt64(tokenCalls) != 1 {
		t.Fatalf("token calls = %d, want 1", atomic.LoadInt64(tokenCalls))
	}
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	client, tokenCalls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coverage":{"status":"active"},"benefits":{}}`))
	}))

	for i := 0; i < 3; i++ {
		if _, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p", MemberID: "m"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if atomic.LoadInt64(tokenCalls) != 1 {
		t.Fatalf("token calls = %d, want 1", atomic.LoadInt64(tokenCalls))
	}
}

func TestTokenRefreshedAfterExpiry(t *testing.T) {
	client, tokenCalls := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coverage":{"status":"active"},"benefits":{}}`))
	}))

	now := time.Now()
	client.now = func() time.Time { return now }

	if _, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p", MemberID: "m"}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// Jump past the one hour expiry the stub token carries.
	now = now.Add(2 * time.Hour)
	if _, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p", MemberID: "m"}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if atomic.LoadInt64(tokenCalls) != 2 {
		t.Fatalf("token calls = %d, want 2", atomic.LoadInt64(tokenCalls))
	}
}

func TestCheckCoverageInactive(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"coverage":{"status":"inactive","payer_name":"Cigna"},"benefits":{}}`))
	}))

	result, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p", MemberID: "m"})
	if err != nil {
		t.Fatalf("CheckCoverage() error = %v", err)
	}
	if result.Active {
		t.Fatal("expected inactive coverage")
	}
}

func TestCheckCoverageServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payer timeout", http.StatusBadGateway)
	}))

	if _, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p", MemberID: "m"}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestCheckCoverageRequiresMember(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "id", "secret", logging.Default())
	if _, err := client.CheckCoverage(context.Background(), CoverageRequest{PayerID: "p"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSubmitClaim(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/claims/v1/submit" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"payer_claim_id":"PCN-991","status":"accepted_for_processing"}`))
	}))

	result, err := client.SubmitClaim(context.Background(), ClaimSubmission{
		ClaimNumber: "CB-A1B2C3D4",
		PayerID:     "60054",
		MemberID:    "W1234567",
		ProviderNPI: "1234567893",
		ServiceDate: "2026-03-02",
		Diagnoses:   []string{"J06.9"},
		Lines:       []SubmissionLine{{CPTCode: "99213", Units: 1, ChargeCents: 12500}},
		TotalCents:  12500,
	})
	if err != nil {
		t.Fatalf("SubmitClaim() error = %v", err)
	}
	if result.PayerClaimID != "PCN-991" {
		t.Fatalf("payer claim id = %q", result.PayerClaimID)
	}
}

func TestSubmitClaimRequiresLines(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "id", "secret", logging.Default())
	if _, err := client.SubmitClaim(context.Background(), ClaimSubmission{ClaimNumber: "CB-X"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetRemittance(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s", r.Method)
		}
		if r.URL.Path != "/claims/v1/remittance/PCN-991" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Fatalf("unexpected content type %q on GET", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"payer_claim_id":"PCN-991","status":"paid","paid_cents":10500,"patient_owes_cents":2000}`))
	}))

	status, err := client.GetRemittance(context.Background(), "PCN-991")
	if err != nil {
		t.Fatalf("GetRemittance() error = %v", err)
	}
	if status.Status != RemitPaid {
		t.Fatalf("status = %q", status.Status)
	}
	if status.PaidCents != 10500 || status.PatientOwesCents != 2000 {
		t.Fatalf("amounts = %d/%d", status.PaidCents, status.PatientOwesCents)
	}
	if !status.Terminal() {
		t.Fatal("paid remittance should be terminal")
	}
}

func TestGetRemittancePending(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}))

	status, err := client.GetRemittance(context.Background(), "PCN-100")
	if err != nil {
		t.Fatalf("GetRemittance() error = %v", err)
	}
	if status.Terminal() {
		t.Fatal("pending remittance should not be terminal")
	}
	if status.PayerClaimID != "PCN-100" {
		t.Fatalf("expected payer claim id to be backfilled, got %q", status.PayerClaimID)
	}
}

func TestGetRemittanceRequiresID(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", "id", "secret", logging.Default())
	if _, err := client.GetRemittance(context.Background(), "  "); err == nil {
		t.Fatal("expected validation error")
	}
}
