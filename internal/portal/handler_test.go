package portal

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func withPractice(r *http.Request, practiceID string) *http.Request {
	return r.WithContext(tenancy.WithPracticeID(r.Context(), practiceID))
}

func newSummaryHandler(now time.Time) *Handler {
	appts := &fakeAppointments{appointments: []scheduling.Appointment{{ID: "appt-1", PatientID: "pat-1"}}}
	cl := &fakeClaims{claims: []*claims.Claim{{ID: "clm-1", ClaimNumber: "CLM-2026-000017", Status: claims.StatusAccepted, PatientOwesCents: 3500}}}
	cov := &fakeCoverage{policies: []insurance.Policy{{ID: "pol-1", Status: insurance.PolicyActive}}, verificationErr: insurance.ErrVerificationNotFound}
	svc := newTestSummaryService(now, appts, cl, cov, &fakeDocuments{})
	return NewHandler(svc, logging.New("error"))
}

func TestHandlerSummary(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	h := newSummaryHandler(now)

	req := withPractice(httptest.NewRequest(http.MethodGet, "/portal/summary?patient_id=pat-1", nil), "prac-1")
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if summary.PatientID != "pat-1" {
		t.Errorf("expected patient pat-1, got %q", summary.PatientID)
	}
	if summary.OutstandingCents != 3500 {
		t.Errorf("expected outstanding 3500, got %d", summary.OutstandingCents)
	}
	if len(summary.UpcomingAppointments) != 1 {
		t.Errorf("expected 1 upcoming appointment, got %d", len(summary.UpcomingAppointments))
	}
}

func TestHandlerSummaryFallsBackToTokenSubject(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	h := newSummaryHandler(now)

	// No patient_id query param; the authenticated subject is the patient.
	claims := jwt.RegisteredClaims{
		Subject:   "pat-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := withPractice(httptest.NewRequest(http.MethodGet, "/portal/summary", nil), "prac-1")
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	middleware.StaffJWT("secret")(http.HandlerFunc(h.Summary)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if summary.PatientID != "pat-7" {
		t.Errorf("expected token subject pat-7, got %q", summary.PatientID)
	}
}

func TestHandlerSummaryRequiresPractice(t *testing.T) {
	h := newSummaryHandler(time.Now())

	req := httptest.NewRequest(http.MethodGet, "/portal/summary?patient_id=pat-1", nil)
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHandlerSummaryRequiresPatient(t *testing.T) {
	h := newSummaryHandler(time.Now())

	req := withPractice(httptest.NewRequest(http.MethodGet, "/portal/summary", nil), "prac-1")
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHandlerSummaryServiceFailure(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestSummaryService(now, &fakeAppointments{err: errors.New("db down")}, &fakeClaims{}, &fakeCoverage{}, &fakeDocuments{})
	h := NewHandler(svc, logging.New("error"))

	req := withPractice(httptest.NewRequest(http.MethodGet, "/portal/summary?patient_id=pat-1", nil), "prac-1")
	rec := httptest.NewRecorder()
	h.Summary(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}
