package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/documents"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/portal"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/internal/subscription"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const testStaffSecret = "router-test-secret"

func staffToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "staff-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testStaffSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

type staticSubscriptionReader struct {
	sub *subscription.Subscription
}

func (s *staticSubscriptionReader) GetByPractice(_ context.Context, _ string) (*subscription.Subscription, error) {
	if s.sub == nil {
		return nil, subscription.ErrNotFound
	}
	return s.sub, nil
}

func newTestRouter(t *testing.T, gate func(http.Handler) http.Handler) http.Handler {
	t.Helper()
	logger := logging.New("error")
	repo := patients.NewInMemoryRepository()

	cfg := &Config{
		Logger:           logger,
		PatientsHandler:  patients.NewHandler(repo, nil, logger),
		StaffJWTSecret:   testStaffSecret,
		SubscriptionGate: gate,
	}
	return New(cfg)
}

func TestRouterHealthIsPublic(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestRouterTenantRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("X-Practice-Id", "prac-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRouterTenantRoutesRequirePracticeHeader(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without practice header, got %d", rec.Code)
	}
}

func TestRouterServesTenantRoute(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	req.Header.Set("X-Practice-Id", "prac-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /patients, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterSubscriptionGateBlocksClinicalRoutes(t *testing.T) {
	gate := subscription.RequireActiveSubscription(&staticSubscriptionReader{}, true, logging.New("error"))
	r := newTestRouter(t, gate)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	req.Header.Set("X-Practice-Id", "prac-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 with no subscription, got %d", rec.Code)
	}
}

func TestRouterSubscriptionGateAllowsActivePractice(t *testing.T) {
	reader := &staticSubscriptionReader{sub: &subscription.Subscription{
		PracticeID: "prac-1",
		Status:     subscription.StatusActive,
	}}
	gate := subscription.RequireActiveSubscription(reader, true, logging.New("error"))
	r := newTestRouter(t, gate)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	req.Header.Set("X-Practice-Id", "prac-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for subscribed practice, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/definitely-not-a-route", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type emptyAppointments struct{}

func (emptyAppointments) List(_ context.Context, _ string, _ scheduling.ListFilter) ([]scheduling.Appointment, error) {
	return nil, nil
}

type emptyClaims struct{}

func (emptyClaims) List(_ context.Context, _ string, _ claims.ListFilter) ([]*claims.Claim, error) {
	return nil, nil
}

type emptyCoverage struct{}

func (emptyCoverage) ListPoliciesByPatient(_ context.Context, _, _ string) ([]insurance.Policy, error) {
	return nil, nil
}

func (emptyCoverage) LatestVerificationForPolicy(_ context.Context, _, _ string) (*insurance.Verification, error) {
	return nil, insurance.ErrVerificationNotFound
}

type emptyDocuments struct{}

func (emptyDocuments) ListByPatient(_ context.Context, _, _ string) ([]documents.Document, error) {
	return nil, nil
}

func TestRouterPortalSummaryWiring(t *testing.T) {
	logger := logging.New("error")
	svc := portal.NewService(
		emptyAppointments{}, emptyClaims{}, emptyCoverage{}, emptyDocuments{},
		logger,
	)
	cfg := &Config{
		Logger:         logger,
		PortalHandler:  portal.NewHandler(svc, logger),
		StaffJWTSecret: testStaffSecret,
	}
	r := New(cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/portal/summary?patient_id=pat-1", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	req.Header.Set("X-Practice-Id", "prac-1")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /portal/summary, got %d: %s", rec.Code, rec.Body.String())
	}
}
