package providers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
)

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// POST /providers
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing practice context", 400)
		return
	}

	var req CreateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), 400)
		return
	}
	req.PracticeID = practiceID

	p, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidNPI), errors.Is(err, ErrInvalidName):
			http.Error(w, err.Error(), 400)
		case errors.Is(err, ErrDuplicateNPI):
			http.Error(w, err.Error(), 409)
		default:
			http.Error(w, "failed to create provider", 500)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// GET /providers
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing practice context", 400)
		return
	}

	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	list, err := h.repo.List(r.Context(), practiceID, includeInactive)
	if err != nil {
		http.Error(w, "failed to list providers", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"providers": list, "count": len(list)})
}

// GET /providers/{providerID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing practice context", 400)
		return
	}

	p, err := h.repo.Get(r.Context(), practiceID, chi.URLParam(r, "providerID"))
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "failed to get provider", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// POST /providers/{providerID}/deactivate
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing practice context", 400)
		return
	}

	if err := h.repo.Deactivate(r.Context(), practiceID, chi.URLParam(r, "providerID")); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			http.Error(w, "not found", 404)
			return
		}
		http.Error(w, "failed to deactivate provider", 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deactivated"})
}
