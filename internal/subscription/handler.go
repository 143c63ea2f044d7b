package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type subscriptionReader interface {
	GetByPractice(ctx context.Context, practiceID string) (*Subscription, error)
}

// Handler exposes the authenticated subscription endpoints. The webhook
// lives on WebhookHandler because it is mounted outside the auth group.
type Handler struct {
	checkout *CheckoutService
	subs     subscriptionReader
	logger   *logging.Logger
}

func NewHandler(checkout *CheckoutService, subs subscriptionReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{checkout: checkout, subs: subs, logger: logger}
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// Checkout handles POST /subscription/checkout. Returns the hosted
// Stripe Checkout URL for the requested plan.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	if h.checkout == nil {
		h.writeError(w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	plan, err := ParsePlan(req.Plan)
	if err != nil {
		h.writeError(w, "unknown plan", http.StatusBadRequest)
		return
	}

	sessionURL, err := h.checkout.CreateSession(r.Context(), practiceID, plan)
	if err != nil {
		h.logger.Error("failed to create checkout session", "error", err, "practice_id", practiceID)
		h.writeError(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"url": sessionURL})
}

// StatusResponse describes the practice's current billing state.
// Status is "none" when the practice never completed a checkout.
type StatusResponse struct {
	Status string `json:"status"`
	Plan   string `json:"plan,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Status handles GET /subscription/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	if h.subs == nil {
		h.writeError(w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	sub, err := h.subs.GetByPractice(r.Context(), practiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeJSON(w, http.StatusOK, StatusResponse{Status: "none"})
			return
		}
		h.logger.Error("failed to load subscription", "error", err, "practice_id", practiceID)
		h.writeError(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status: string(sub.Status),
		Plan:   sub.Plan,
		Email:  sub.Email,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
