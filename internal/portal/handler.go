package portal

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler serves the portal dashboard endpoint.
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

// Summary handles GET /portal/summary?patient_id=. Patient tokens may
// omit the query parameter; their subject is the patient.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))
	if patientID == "" {
		patientID = subjectID(r)
	}
	if patientID == "" {
		h.writeError(w, "patient_id is required", http.StatusBadRequest)
		return
	}

	summary, err := h.service.Summary(r.Context(), practiceID, patientID)
	if err != nil {
		h.logger.Error("portal summary failed", "error", err, "patient_id", patientID)
		h.writeError(w, "failed to build summary", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func subjectID(r *http.Request) string {
	if sc, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		return sc.Subject
	}
	if cc, ok := middleware.CognitoClaimsFromContext(r.Context()); ok {
		return cc.Subject
	}
	return ""
}
