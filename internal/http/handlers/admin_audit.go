package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// AdminAuditHandler serves the compliance audit trail to admins.
type AdminAuditHandler struct {
	audit  *compliance.AuditService
	logger *logging.Logger
}

func NewAdminAuditHandler(audit *compliance.AuditService, logger *logging.Logger) *AdminAuditHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAuditHandler{audit: audit, logger: logger}
}

// AuditEventsResponse is the paginated audit listing.
type AuditEventsResponse struct {
	Events []compliance.AuditEvent `json:"events"`
	Count  int                     `json:"count"`
}

// ListEvents handles GET /admin/practices/{practiceID}/audit-events.
// Optional query params: patient_id, actor_id, event_type, from, to
// (RFC 3339), limit, offset.
func (h *AdminAuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeAdminError(w, "audit trail not configured", http.StatusServiceUnavailable)
		return
	}
	practiceID := chi.URLParam(r, "practiceID")
	if practiceID == "" {
		writeAdminError(w, "practice id is required", http.StatusBadRequest)
		return
	}

	filter := compliance.AuditFilter{
		PracticeID: practiceID,
		PatientID:  r.URL.Query().Get("patient_id"),
		ActorID:    r.URL.Query().Get("actor_id"),
		EventType:  compliance.AuditEventType(r.URL.Query().Get("event_type")),
		Limit:      100,
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeAdminError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		filter.StartTime = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeAdminError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		filter.EndTime = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "practice_id", practiceID, "error", err)
		writeAdminError(w, "failed to query audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuditEventsResponse{Events: events, Count: len(events)})
}

func writeAdminError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
