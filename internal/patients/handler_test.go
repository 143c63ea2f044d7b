package patients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func newTestHandler() (*Handler, *InMemoryRepository) {
	repo := NewInMemoryRepository()
	return NewHandler(repo, nil, logging.Default()), repo
}

func withPractice(req *http.Request, practiceID string) *http.Request {
	return req.WithContext(tenancy.WithPracticeID(req.Context(), practiceID))
}

func withPatientParam(req *http.Request, patientID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("patientID", patientID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func validCreateRequest() CreatePatientRequest {
	return CreatePatientRequest{
		FirstName: "Alice",
		LastName:  "Nguyen",
		DOB:       time.Date(1985, 3, 14, 0, 0, 0, 0, time.UTC),
		Email:     "alice@example.com",
		Phone:     "+15550001111",
		Allergies: []string{"penicillin"},
	}
}

func TestCreatePatient_Success(t *testing.T) {
	handler, _ := newTestHandler()

	body, _ := json.Marshal(validCreateRequest())
	req := withPractice(httptest.NewRequest(http.MethodPost, "/patients", bytes.NewReader(body)), "prac-1")
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}

	var patient Patient
	if err := json.NewDecoder(w.Body).Decode(&patient); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if patient.FirstName != "Alice" {
		t.Errorf("expected first name Alice, got %s", patient.FirstName)
	}
	if patient.PracticeID != "prac-1" {
		t.Errorf("expected practice prac-1, got %s", patient.PracticeID)
	}
	if !mrnPattern.MatchString(patient.MRN) {
		t.Errorf("expected generated MRN, got %q", patient.MRN)
	}
	if patient.Status != StatusActive {
		t.Errorf("expected active status, got %s", patient.Status)
	}
}

func TestCreatePatient_MissingPracticeContext(t *testing.T) {
	handler, _ := newTestHandler()

	body, _ := json.Marshal(validCreateRequest())
	req := httptest.NewRequest(http.MethodPost, "/patients", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreatePatient_InvalidRequest(t *testing.T) {
	handler, _ := newTestHandler()

	reqBody := validCreateRequest()
	reqBody.FirstName = ""

	body, _ := json.Marshal(reqBody)
	req := withPractice(httptest.NewRequest(http.MethodPost, "/patients", bytes.NewReader(body)), "prac-1")
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreatePatient_InvalidJSON(t *testing.T) {
	handler, _ := newTestHandler()

	req := withPractice(httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader("{")), "prac-1")
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestCreatePatient_DuplicateMRN(t *testing.T) {
	handler, repo := newTestHandler()

	first := validCreateRequest()
	first.PracticeID = "prac-1"
	first.MRN = "P1234567"
	if _, err := repo.Create(context.Background(), &first); err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	second := validCreateRequest()
	second.MRN = "P1234567"
	body, _ := json.Marshal(second)
	req := withPractice(httptest.NewRequest(http.MethodPost, "/patients", bytes.NewReader(body)), "prac-1")
	w := httptest.NewRecorder()

	handler.Create(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestGetPatient_Success(t *testing.T) {
	handler, repo := newTestHandler()

	seed := validCreateRequest()
	seed.PracticeID = "prac-1"
	created, err := repo.Create(context.Background(), &seed)
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	req := withPatientParam(withPractice(httptest.NewRequest(http.MethodGet, "/patients/"+created.ID, nil), "prac-1"), created.ID)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var patient Patient
	if err := json.NewDecoder(w.Body).Decode(&patient); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if patient.ID != created.ID {
		t.Errorf("expected ID %s, got %s", created.ID, patient.ID)
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	handler, _ := newTestHandler()

	req := withPatientParam(withPractice(httptest.NewRequest(http.MethodGet, "/patients/missing", nil), "prac-1"), "missing")
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestGetPatient_WrongPractice(t *testing.T) {
	handler, repo := newTestHandler()

	seed := validCreateRequest()
	seed.PracticeID = "prac-1"
	created, err := repo.Create(context.Background(), &seed)
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	req := withPatientParam(withPractice(httptest.NewRequest(http.MethodGet, "/patients/"+created.ID, nil), "prac-2"), created.ID)
	w := httptest.NewRecorder()

	handler.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestUpdatePatient_Success(t *testing.T) {
	handler, repo := newTestHandler()

	seed := validCreateRequest()
	seed.PracticeID = "prac-1"
	created, err := repo.Create(context.Background(), &seed)
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	update := UpdatePatientRequest{
		FirstName: "Alice",
		LastName:  "Tran",
		Email:     "alice.tran@example.com",
		Tags:      []string{"vip"},
	}
	body, _ := json.Marshal(update)
	req := withPatientParam(withPractice(httptest.NewRequest(http.MethodPut, "/patients/"+created.ID, bytes.NewReader(body)), "prac-1"), created.ID)
	w := httptest.NewRecorder()

	handler.Update(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var patient Patient
	if err := json.NewDecoder(w.Body).Decode(&patient); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if patient.LastName != "Tran" {
		t.Errorf("expected updated last name, got %s", patient.LastName)
	}
	if len(patient.Tags) != 1 || patient.Tags[0] != "vip" {
		t.Errorf("expected tags updated, got %v", patient.Tags)
	}
}

func TestArchivePatient_ExcludedFromDefaultList(t *testing.T) {
	handler, repo := newTestHandler()
	ctx := context.Background()

	seed := validCreateRequest()
	seed.PracticeID = "prac-1"
	created, err := repo.Create(ctx, &seed)
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	req := withPatientParam(withPractice(httptest.NewRequest(http.MethodDelete, "/patients/"+created.ID, nil), "prac-1"), created.ID)
	w := httptest.NewRecorder()

	handler.Archive(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	remaining, err := repo.List(ctx, "prac-1", ListPatientsFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected archived patient excluded from default list, got %d", len(remaining))
	}

	archived, err := repo.List(ctx, "prac-1", ListPatientsFilter{Status: StatusArchived})
	if err != nil {
		t.Fatalf("list archived failed: %v", err)
	}
	if len(archived) != 1 {
		t.Errorf("expected archived patient when filtering by status, got %d", len(archived))
	}
}

func TestListPatients_QueryAndPagination(t *testing.T) {
	handler, repo := newTestHandler()
	ctx := context.Background()

	names := []struct{ first, last string }{
		{"Alice", "Nguyen"},
		{"Bob", "Nguyen"},
		{"Carol", "Smith"},
	}
	for _, n := range names {
		seed := validCreateRequest()
		seed.PracticeID = "prac-1"
		seed.FirstName = n.first
		seed.LastName = n.last
		if _, err := repo.Create(ctx, &seed); err != nil {
			t.Fatalf("seed create failed: %v", err)
		}
	}

	req := withPractice(httptest.NewRequest(http.MethodGet, "/patients?q=nguyen&limit=1", nil), "prac-1")
	w := httptest.NewRecorder()

	handler.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp ListPatientsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected 1 patient with limit applied, got %d", resp.Count)
	}
	if resp.Limit != 1 {
		t.Errorf("expected limit echoed back, got %d", resp.Limit)
	}
}

func TestRepository_GetByMRN(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	seed := validCreateRequest()
	seed.PracticeID = "prac-1"
	seed.MRN = "P7654321"
	created, err := repo.Create(ctx, &seed)
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	found, err := repo.GetByMRN(ctx, "prac-1", "P7654321")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("expected ID %s, got %s", created.ID, found.ID)
	}

	if _, err := repo.GetByMRN(ctx, "prac-2", "P7654321"); err != ErrPatientNotFound {
		t.Errorf("expected ErrPatientNotFound for other practice, got %v", err)
	}
}

func TestNewMRNFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		mrn := NewMRN()
		if !mrnPattern.MatchString(mrn) {
			t.Fatalf("generated MRN %q does not match format", mrn)
		}
	}
}
