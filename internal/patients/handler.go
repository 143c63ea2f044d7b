package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler handles HTTP requests for the patient registry
type Handler struct {
	repo   Repository
	audit  *compliance.AuditService
	logger *logging.Logger
}

// NewHandler creates a new patients handler
func NewHandler(repo Repository, audit *compliance.AuditService, logger *logging.Logger) *Handler {
	return &Handler{
		repo:   repo,
		audit:  audit,
		logger: logger,
	}
}

// Create handles POST /patients requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePatientRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	req.PracticeID = practiceID

	patient, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		h.writeRepoError(w, err, "failed to create patient")
		return
	}

	h.logger.Info("patient created", "id", patient.ID, "mrn", patient.MRN)
	if h.audit != nil {
		if err := h.audit.LogRecordModified(r.Context(), practiceID, patient.ID, actorID(r), "patient", []string{"created"}); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusCreated, patient)
}

// ListPatientsResponse is the response for listing patients
type ListPatientsResponse struct {
	Patients []*Patient `json:"patients"`
	Count    int        `json:"count"`
	Offset   int        `json:"offset"`
	Limit    int        `json:"limit"`
}

// List handles GET /patients requests
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	filter := ListPatientsFilter{
		Limit:  50,
		Offset: 0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	filter.Query = r.URL.Query().Get("q")
	filter.Status = r.URL.Query().Get("status")

	patients, err := h.repo.List(r.Context(), practiceID, filter)
	if err != nil {
		h.logger.Error("failed to list patients", "error", err, "practice_id", practiceID)
		h.writeError(w, "failed to list patients", http.StatusInternalServerError)
		return
	}

	response := ListPatientsResponse{
		Patients: patients,
		Count:    len(patients),
		Offset:   filter.Offset,
		Limit:    filter.Limit,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// Get handles GET /patients/{patientID} requests
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	patientID := chi.URLParam(r, "patientID")

	patient, err := h.repo.GetByID(r.Context(), practiceID, patientID)
	if err != nil {
		h.writeRepoError(w, err, "failed to get patient")
		return
	}

	if h.audit != nil {
		if err := h.audit.LogRecordAccess(r.Context(), practiceID, patient.ID, actorID(r), "patient"); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, patient)
}

// Update handles PUT /patients/{patientID} requests
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	patientID := chi.URLParam(r, "patientID")

	var req UpdatePatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	patient, err := h.repo.Update(r.Context(), practiceID, patientID, &req)
	if err != nil {
		h.writeRepoError(w, err, "failed to update patient")
		return
	}

	h.logger.Info("patient updated", "id", patient.ID)
	if h.audit != nil {
		if err := h.audit.LogRecordModified(r.Context(), practiceID, patient.ID, actorID(r), "patient", nil); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, patient)
}

// Archive handles DELETE /patients/{patientID} requests
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	patientID := chi.URLParam(r, "patientID")

	if err := h.repo.Archive(r.Context(), practiceID, patientID); err != nil {
		h.writeRepoError(w, err, "failed to archive patient")
		return
	}

	h.logger.Info("patient archived", "id", patientID)
	if h.audit != nil {
		if err := h.audit.LogRecordArchived(r.Context(), practiceID, patientID, actorID(r)); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrDuplicateMRN):
		h.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrMissingPracticeID),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidDOB),
		errors.Is(err, ErrMissingContact),
		errors.Is(err, ErrInvalidMRN),
		errors.Is(err, ErrInvalidStatus):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, logMsg, http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// actorID resolves the authenticated principal for audit rows.
func actorID(r *http.Request) string {
	if claims, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	if claims, ok := middleware.CognitoClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}
