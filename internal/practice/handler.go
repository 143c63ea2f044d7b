package practice

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler provides HTTP endpoints for practice settings and stats.
type Handler struct {
	store    *Store
	stats    *StatsRepository
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewHandler creates a practice HTTP handler. stats may be nil when the
// database is not configured; the stats endpoint then returns 503.
func NewHandler(store *Store, stats *StatsRepository, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		store:    store,
		stats:    stats,
		gatherer: gatherer,
		logger:   logger,
	}
}

// GetSettings returns the settings for the practice in context.
// GET /practice/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "practice_id required"}`, http.StatusBadRequest)
		return
	}

	settings, err := h.store.Get(r.Context(), practiceID)
	if err != nil {
		h.logger.Error("failed to get practice settings", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(settings); err != nil {
		h.logger.Error("failed to encode practice settings", "practice_id", practiceID, "error", err)
	}
}

// UpdateSettingsRequest is the request body for updating practice settings.
// Absent fields leave the stored value unchanged.
type UpdateSettingsRequest struct {
	DisplayName         string             `json:"display_name,omitempty"`
	Timezone            string             `json:"timezone,omitempty"`
	WorkingHours        *WeekHours         `json:"working_hours,omitempty"`
	DefaultVisitMinutes *int               `json:"default_visit_minutes,omitempty"`
	Notifications       *NotificationPrefs `json:"notifications,omitempty"`
	AgentGreeting       *string            `json:"agent_greeting,omitempty"`
}

// UpdateSettings applies a partial update to the practice settings.
// PUT /practice/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "practice_id required"}`, http.StatusBadRequest)
		return
	}

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			http.Error(w, `{"error": "unknown timezone"}`, http.StatusBadRequest)
			return
		}
	}
	if req.DefaultVisitMinutes != nil && (*req.DefaultVisitMinutes < 5 || *req.DefaultVisitMinutes > 480) {
		http.Error(w, `{"error": "default_visit_minutes must be between 5 and 480"}`, http.StatusBadRequest)
		return
	}

	settings, err := h.store.Get(r.Context(), practiceID)
	if err != nil {
		h.logger.Error("failed to get practice settings", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	if req.DisplayName != "" {
		settings.DisplayName = req.DisplayName
	}
	if req.Timezone != "" {
		settings.Timezone = req.Timezone
	}
	if req.WorkingHours != nil {
		settings.WorkingHours = *req.WorkingHours
	}
	if req.DefaultVisitMinutes != nil {
		settings.DefaultVisitMinutes = *req.DefaultVisitMinutes
	}
	if req.Notifications != nil {
		settings.Notifications = *req.Notifications
	}
	if req.AgentGreeting != nil {
		settings.AgentGreeting = *req.AgentGreeting
	}

	if err := h.store.Set(r.Context(), settings); err != nil {
		h.logger.Error("failed to save practice settings", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "failed to save settings"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("practice settings updated", "practice_id", practiceID, "display_name", settings.DisplayName)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(settings); err != nil {
		h.logger.Error("failed to encode practice settings", "practice_id", practiceID, "error", err)
	}
}

// CreatePracticeRequest is the request body for provisioning a practice.
type CreatePracticeRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

// CreatePractice mints a practice id and seeds default settings.
// POST /admin/practices
func (h *Handler) CreatePractice(w http.ResponseWriter, r *http.Request) {
	var req CreatePracticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, `{"error": "name required"}`, http.StatusBadRequest)
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			http.Error(w, `{"error": "unknown timezone"}`, http.StatusBadRequest)
			return
		}
	}

	practiceID := uuid.New().String()
	settings := DefaultSettings(practiceID)
	settings.DisplayName = strings.TrimSpace(req.Name)
	if req.Timezone != "" {
		settings.Timezone = req.Timezone
	}

	if err := h.store.Set(r.Context(), settings); err != nil {
		h.logger.Error("failed to seed practice settings", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "failed to create practice"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("practice created", "practice_id", practiceID, "name", settings.DisplayName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"practice_id": practiceID,
		"settings":    settings,
	}); err != nil {
		h.logger.Error("failed to encode practice", "practice_id", practiceID, "error", err)
	}
}

// GetStats returns operational counts and agent latency for the practice.
// GET /practice/stats
// Query params:
//   - start: RFC3339 timestamp (optional, requires end)
//   - end: RFC3339 timestamp (optional, requires start)
//   - days: integer window (default 7) when start/end omitted
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error": "practice_id required"}`, http.StatusBadRequest)
		return
	}
	if h.stats == nil {
		http.Error(w, `{"error": "stats disabled (db not configured)"}`, http.StatusServiceUnavailable)
		return
	}

	start, end, err := parseStatsWindow(r)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	appts, err := h.stats.AppointmentCounts(r.Context(), practiceID, start, end)
	if err != nil {
		h.logger.Error("failed to query appointment counts", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	claims, err := h.stats.ClaimCounts(r.Context(), practiceID, start, end)
	if err != nil {
		h.logger.Error("failed to query claim counts", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}
	patients, err := h.stats.ActivePatientCount(r.Context(), practiceID)
	if err != nil {
		h.logger.Error("failed to count patients", "practice_id", practiceID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := Stats{
		PracticeID:     practiceID,
		PeriodStart:    start.UTC().Format(time.RFC3339),
		PeriodEnd:      end.UTC().Format(time.RFC3339),
		ActivePatients: patients,
		Appointments:   appts,
		Claims:         claims,
		AgentLatency:   snapshotAgentLatency(h.gatherer),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func parseStatsWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	startRaw := strings.TrimSpace(q.Get("start"))
	endRaw := strings.TrimSpace(q.Get("end"))
	if (startRaw == "") != (endRaw == "") {
		return time.Time{}, time.Time{}, fmt.Errorf("both start and end must be provided, or neither")
	}
	if startRaw != "" {
		start, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start time, use RFC3339 format")
		}
		end, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end time, use RFC3339 format")
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
		}
		return start.UTC(), end.UTC(), nil
	}

	days := 7
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 90 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid days; must be 1-90")
		}
		days = parsed
	}

	now := time.Now().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -days)
	return start, end, nil
}
