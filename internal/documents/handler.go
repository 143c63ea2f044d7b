package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler exposes the document REST surface.
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

// Upload handles POST /patients/{patientID}/documents as multipart form
// data with a "file" part and an optional "category" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+4096)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, "file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	doc, err := h.service.Upload(r.Context(), UploadParams{
		PracticeID:  practiceID,
		PatientID:   chi.URLParam(r, "patientID"),
		Filename:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Category:    r.FormValue("category"),
		UploadedBy:  actorID(r),
		SizeBytes:   header.Size,
		Body:        file,
	})
	if err != nil {
		h.writeServiceError(w, err, "document upload failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, doc)
}

// List handles GET /patients/{patientID}/documents.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	docs, err := h.service.List(r.Context(), practiceID, chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeServiceError(w, err, "document list failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"count":     len(docs),
	})
}

// Download handles GET /documents/{documentID}, streaming the bytes.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	doc, body, err := h.service.Open(r.Context(), practiceID, chi.URLParam(r, "documentID"), actorID(r))
	if err != nil {
		h.writeServiceError(w, err, "document download failed")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("document stream interrupted", "error", err, "document_id", doc.ID)
	}
}

// Delete handles DELETE /documents/{documentID}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	if err := h.service.Delete(r.Context(), practiceID, chi.URLParam(r, "documentID"), actorID(r)); err != nil {
		h.writeServiceError(w, err, "document delete failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, "document not found", http.StatusNotFound)
	case errors.Is(err, ErrStorageDisabled):
		h.writeError(w, "document storage is not configured", http.StatusServiceUnavailable)
	case errors.Is(err, ErrFileTooLarge):
		h.writeError(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrMissingPatientID), errors.Is(err, ErrMissingFilename),
		errors.Is(err, ErrEmptyFile), errors.Is(err, ErrUnknownCategory):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, "internal error", http.StatusInternalServerError)
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
	h.writeJSON(w, status, map[string]string{"error": msg})
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
