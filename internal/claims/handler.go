package claims

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler exposes the claims REST surface.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Create handles POST /claims requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var req CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.PracticeID = practiceID

	claim, err := h.service.Create(r.Context(), actorID(r), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to create claim")
		return
	}
	h.writeJSON(w, http.StatusCreated, claim)
}

// ListClaimsResponse is the payload for GET /claims.
type ListClaimsResponse struct {
	Claims []*Claim `json:"claims"`
	Count  int      `json:"count"`
}

// List handles GET /claims requests
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	filter := ListFilter{
		Status:    q.Get("status"),
		PatientID: q.Get("patient_id"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	claims, err := h.service.List(r.Context(), practiceID, filter)
	if err != nil {
		h.writeServiceError(w, err, "failed to list claims")
		return
	}
	h.writeJSON(w, http.StatusOK, ListClaimsResponse{Claims: claims, Count: len(claims)})
}

// Get handles GET /claims/{claimID} requests
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	claim, err := h.service.Get(r.Context(), practiceID, chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch claim")
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// Update handles PUT /claims/{claimID} requests. Only drafts are editable.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var req UpdateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	claim, err := h.service.Update(r.Context(), practiceID, chi.URLParam(r, "claimID"), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to update claim")
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// ScrubFailureResponse reports every issue the pre-submission scrub found.
type ScrubFailureResponse struct {
	Error  string       `json:"error"`
	Issues []ScrubIssue `json:"issues"`
}

// Submit handles POST /claims/{claimID}/submit requests
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	claim, err := h.service.Submit(r.Context(), practiceID, chi.URLParam(r, "claimID"), actorID(r))
	if err != nil {
		var scrubErr *ScrubError
		if errors.As(err, &scrubErr) {
			h.writeJSON(w, http.StatusBadRequest, ScrubFailureResponse{
				Error:  "claim failed scrub",
				Issues: scrubErr.Issues,
			})
			return
		}
		h.writeServiceError(w, err, "failed to submit claim")
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// Void handles POST /claims/{claimID}/void requests
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var body struct {
		Note string `json:"note"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	claim, err := h.service.Void(r.Context(), practiceID, chi.URLParam(r, "claimID"), actorID(r), body.Note)
	if err != nil {
		h.writeServiceError(w, err, "failed to void claim")
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// ClaimEventsResponse is the payload for GET /claims/{claimID}/events.
type ClaimEventsResponse struct {
	Events []ClaimEvent `json:"events"`
	Count  int          `json:"count"`
}

// Events handles GET /claims/{claimID}/events requests
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	events, err := h.service.Events(r.Context(), practiceID, chi.URLParam(r, "claimID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list claim events")
		return
	}
	h.writeJSON(w, http.StatusOK, ClaimEventsResponse{Events: events, Count: len(events)})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrClaimNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrClaimNotDraft):
		h.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrMissingPracticeID),
		errors.Is(err, ErrMissingPatientID),
		errors.Is(err, ErrMissingClaimType),
		errors.Is(err, ErrInvalidClaimType),
		errors.Is(err, ErrInvalidServiceDate):
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

func actorID(r *http.Request) string {
	if sc, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		return sc.Subject
	}
	if cc, ok := middleware.CognitoClaimsFromContext(r.Context()); ok {
		return cc.Subject
	}
	return ""
}
