package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler handles HTTP requests for the appointment book
type Handler struct {
	service *Service
	board   *Board
	logger  *logging.Logger
}

// NewHandler creates a new scheduling handler. board may be nil when the
// live board is disabled.
func NewHandler(service *Service, board *Board, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		board:   board,
		logger:  logger,
	}
}

// Create handles POST /appointments requests
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
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

	appt, err := h.service.Book(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to book appointment")
		return
	}

	h.writeJSON(w, http.StatusCreated, appt)
}

// ListAppointmentsResponse is the payload for GET /appointments.
type ListAppointmentsResponse struct {
	Appointments []Appointment `json:"appointments"`
	Count        int           `json:"count"`
}

// List handles GET /appointments requests
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	appts, err := h.service.List(r.Context(), practiceID, filter)
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err)
		h.writeError(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, ListAppointmentsResponse{
		Appointments: appts,
		Count:        len(appts),
	})
}

// Get handles GET /appointments/{appointmentID} requests
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	appt, err := h.service.Get(r.Context(), practiceID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get appointment")
		return
	}

	h.writeJSON(w, http.StatusOK, appt)
}

// Update handles PUT /appointments/{appointmentID} requests (reschedule)
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	appt, err := h.service.Reschedule(r.Context(), practiceID, chi.URLParam(r, "appointmentID"), req)
	if err != nil {
		h.writeServiceError(w, err, "failed to reschedule appointment")
		return
	}

	h.writeJSON(w, http.StatusOK, appt)
}

// Cancel handles POST /appointments/{appointmentID}/cancel requests
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	appt, err := h.service.Cancel(r.Context(), practiceID, chi.URLParam(r, "appointmentID"), body.Reason)
	if err != nil {
		h.writeServiceError(w, err, "failed to cancel appointment")
		return
	}

	h.writeJSON(w, http.StatusOK, appt)
}

// CheckIn handles POST /appointments/{appointmentID}/check-in requests
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.doTransition(w, r, h.service.CheckIn, "failed to check in appointment")
}

// Complete handles POST /appointments/{appointmentID}/complete requests
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.doTransition(w, r, h.service.Complete, "failed to complete appointment")
}

// NoShow handles POST /appointments/{appointmentID}/no-show requests
func (h *Handler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.doTransition(w, r, h.service.MarkNoShow, "failed to mark no-show")
}

func (h *Handler) doTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, practiceID, id string) (*Appointment, error), logMsg string) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	appt, err := fn(r.Context(), practiceID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeServiceError(w, err, logMsg)
		return
	}

	h.writeJSON(w, http.StatusOK, appt)
}

// AvailabilityResponse is the payload for GET /appointments/availability.
type AvailabilityResponse struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Slots      []Slot `json:"slots"`
}

// Availability handles GET /appointments/availability requests
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	providerID := q.Get("provider_id")
	if providerID == "" {
		h.writeError(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	dateRaw := q.Get("date")
	date, err := time.Parse("2006-01-02", dateRaw)
	if err != nil {
		h.writeError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	minutes := 0
	if raw := q.Get("minutes"); raw != "" {
		minutes, err = strconv.Atoi(raw)
		if err != nil || minutes < 5 || minutes > 480 {
			h.writeError(w, "minutes must be between 5 and 480", http.StatusBadRequest)
			return
		}
	}

	slots, err := h.service.Availability(r.Context(), practiceID, providerID, date, minutes)
	if err != nil {
		h.writeServiceError(w, err, "failed to compute availability")
		return
	}

	h.writeJSON(w, http.StatusOK, AvailabilityResponse{
		ProviderID: providerID,
		Date:       dateRaw,
		Slots:      slots,
	})
}

// Board handles GET /appointments/board websocket upgrades
func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	if h.board == nil {
		h.writeError(w, "live board disabled", http.StatusServiceUnavailable)
		return
	}
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	h.board.ServeWS(w, r, practiceID)
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{
		ProviderID: q.Get("provider_id"),
		PatientID:  q.Get("patient_id"),
		Status:     q.Get("status"),
	}

	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("from must be RFC3339")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("to must be RFC3339")
		}
		filter.To = to
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		if limit > 500 {
			limit = 500
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		h.writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSlotConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrCheckInWindow):
		h.writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrPastStart),
		errors.Is(err, ErrMissingPracticeID),
		errors.Is(err, ErrMissingPatientID),
		errors.Is(err, ErrMissingProviderID),
		errors.Is(err, ErrMissingStartTime):
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
