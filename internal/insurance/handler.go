package insurance

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler handles HTTP requests for policies and verifications
type Handler struct {
	store    *Store
	verifier *Verifier
	cache    *VerificationCache
	audit    *compliance.AuditService
	logger   *logging.Logger
}

// NewHandler creates a new insurance handler. audit and cache may be nil.
func NewHandler(store *Store, verifier *Verifier, cache *VerificationCache, audit *compliance.AuditService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:    store,
		verifier: verifier,
		cache:    cache,
		audit:    audit,
		logger:   logger,
	}
}

// CreatePolicy handles POST /insurance/policies requests
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	req.PracticeID = practiceID

	if err := req.Validate(); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	coverageOrder := req.CoverageOrder
	if coverageOrder <= 0 {
		coverageOrder = 1
	}

	policy := &Policy{
		ID:             uuid.New().String(),
		PracticeID:     practiceID,
		PatientID:      req.PatientID,
		PayerID:        req.PayerID,
		PayerName:      req.PayerName,
		MemberID:       req.MemberID,
		GroupNumber:    req.GroupNumber,
		PlanName:       req.PlanName,
		PlanType:       req.PlanType,
		Relationship:   req.Relationship,
		SubscriberName: req.SubscriberName,
		CoverageOrder:  coverageOrder,
		EffectiveDate:  req.EffectiveDate,
		ExpirationDate: req.ExpirationDate,
		Status:         PolicyActive,
	}

	if err := h.store.CreatePolicy(r.Context(), policy); err != nil {
		h.logger.Error("failed to create policy", "error", err)
		h.writeError(w, "failed to create policy", http.StatusInternalServerError)
		return
	}

	if h.audit != nil {
		if err := h.audit.LogRecordModified(r.Context(), practiceID, policy.PatientID, actorID(r), "insurance_policy", []string{"created"}); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusCreated, policy)
}

// ListPoliciesResponse is the payload for GET /insurance/policies.
type ListPoliciesResponse struct {
	Policies []Policy `json:"policies"`
	Count    int      `json:"count"`
}

// ListPolicies handles GET /insurance/policies?patient_id= requests
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		h.writeError(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	policies, err := h.store.ListPoliciesByPatient(r.Context(), practiceID, patientID)
	if err != nil {
		h.logger.Error("failed to list policies", "error", err)
		h.writeError(w, "failed to list policies", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListPoliciesResponse{Policies: policies, Count: len(policies)})
}

// GetPolicy handles GET /insurance/policies/{policyID} requests
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	policy, err := h.store.GetPolicy(r.Context(), practiceID, chi.URLParam(r, "policyID"))
	if err != nil {
		h.writePolicyError(w, err)
		return
	}

	if h.audit != nil {
		if err := h.audit.LogRecordAccess(r.Context(), practiceID, policy.PatientID, actorID(r), "insurance_policy"); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, policy)
}

// UpdatePolicy handles PUT /insurance/policies/{policyID} requests
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	policy, err := h.store.GetPolicy(r.Context(), practiceID, chi.URLParam(r, "policyID"))
	if err != nil {
		h.writePolicyError(w, err)
		return
	}

	if err := req.Apply(policy); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.UpdatePolicy(r.Context(), policy); err != nil {
		h.writePolicyError(w, err)
		return
	}

	// Edited coverage invalidates any cached eligibility result.
	if err := h.cache.Invalidate(r.Context(), policy.ID); err != nil {
		h.logger.Warn("verification cache invalidate failed", "policy_id", policy.ID, "error", err)
	}

	if h.audit != nil {
		if err := h.audit.LogRecordModified(r.Context(), practiceID, policy.PatientID, actorID(r), "insurance_policy", nil); err != nil {
			h.logger.Error("audit write failed", "error", err)
		}
	}

	h.writeJSON(w, http.StatusOK, policy)
}

// Verify handles POST /insurance/verify requests
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PolicyID == "" {
		h.writeError(w, "policy_id is required", http.StatusBadRequest)
		return
	}

	verification, err := h.verifier.Verify(r.Context(), practiceID, req.PolicyID, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, ErrPolicyNotFound):
			h.writeError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrPolicyExpired):
			h.writeError(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("verification failed", "error", err)
			h.writeError(w, "failed to verify coverage", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, verification)
}

// GetVerification handles GET /insurance/verifications/{verificationID} requests
func (h *Handler) GetVerification(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	verification, err := h.store.GetVerification(r.Context(), practiceID, chi.URLParam(r, "verificationID"))
	if err != nil {
		if errors.Is(err, ErrVerificationNotFound) {
			h.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get verification", "error", err)
		h.writeError(w, "failed to get verification", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, verification)
}

// ListVerificationsResponse is the payload for GET /insurance/verifications.
type ListVerificationsResponse struct {
	Verifications []Verification `json:"verifications"`
	Count         int            `json:"count"`
}

// ListVerifications handles GET /insurance/verifications?patient_id= requests
func (h *Handler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	patientID := r.URL.Query().Get("patient_id")
	if patientID == "" {
		h.writeError(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	verifications, err := h.store.ListVerificationsByPatient(r.Context(), practiceID, patientID, 0)
	if err != nil {
		h.logger.Error("failed to list verifications", "error", err)
		h.writeError(w, "failed to list verifications", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListVerificationsResponse{Verifications: verifications, Count: len(verifications)})
}

func (h *Handler) writePolicyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrMissingMemberID),
		errors.Is(err, ErrInvalidPlanType),
		errors.Is(err, ErrInvalidPolicyStatus),
		errors.Is(err, ErrInvalidCoverageDates):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("policy operation failed", "error", err)
		h.writeError(w, "policy operation failed", http.StatusInternalServerError)
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
