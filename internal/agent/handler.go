package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Handler exposes the assistant chat REST surface.
type Handler struct {
	service   Service
	publisher *Publisher
	jobs      JobRecorder
	logger    *logging.Logger
}

// NewHandler creates a chat handler. Publisher and jobs may be nil when
// the async path is not deployed; those endpoints then return 503.
func NewHandler(service Service, publisher *Publisher, jobs JobRecorder, logger *logging.Logger) *Handler {
	if service == nil {
		panic("agent: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:   service,
		publisher: publisher,
		jobs:      jobs,
		logger:    logger,
	}
}

// Chat handles POST /agent/chat, the synchronous path.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	reply, err := h.service.Chat(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, reply)
}

// AsyncChatResponse acknowledges an enqueued chat job.
type AsyncChatResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ChatAsync handles POST /agent/chat/async. The reply is produced by the
// worker; clients poll GET /agent/jobs/{jobID}.
func (h *Handler) ChatAsync(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil || h.jobs == nil {
		h.writeError(w, "async chat is not available", http.StatusServiceUnavailable)
		return
	}

	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, "message is required", http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	record := &JobRecord{
		JobID:       jobID,
		PracticeID:  req.PracticeID,
		SessionID:   req.SessionID,
		ChatRequest: &req,
	}
	if err := h.jobs.PutPending(r.Context(), record); err != nil {
		h.logger.Error("failed to persist chat job", "error", err, "job_id", jobID)
		h.writeError(w, "failed to accept chat job", http.StatusInternalServerError)
		return
	}

	if err := h.publisher.EnqueueChat(r.Context(), jobID, req); err != nil {
		h.logger.Error("failed to enqueue chat job", "error", err, "job_id", jobID)
		h.writeError(w, "failed to accept chat job", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, AsyncChatResponse{JobID: jobID, Status: string(JobStatusPending)})
}

// Job handles GET /agent/jobs/{jobID}.
func (h *Handler) Job(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}
	if h.jobs == nil {
		h.writeError(w, "async chat is not available", http.StatusServiceUnavailable)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	record, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			h.writeError(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to fetch chat job", "error", err, "job_id", jobID)
		h.writeError(w, "failed to fetch job", http.StatusInternalServerError)
		return
	}

	// Jobs are tenant-scoped; an ID from another practice looks absent.
	if record.PracticeID != "" && record.PracticeID != practiceID {
		h.writeError(w, "job not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

// HistoryResponse lists the visible turns of a chat session.
type HistoryResponse struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Count     int       `json:"count"`
}

// ChatHistory handles GET /agent/chat/history?session_id=...
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		h.writeError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	messages, err := h.service.History(r.Context(), practiceID, sessionID)
	if err != nil {
		h.logger.Error("failed to load chat history", "error", err, "session_id", sessionID)
		h.writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, HistoryResponse{
		SessionID: sessionID,
		Messages:  messages,
		Count:     len(messages),
	})
}

func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	practiceID, ok := tenancy.PracticeIDFromContext(r.Context())
	if !ok {
		h.writeError(w, "missing practice context", http.StatusBadRequest)
		return ChatRequest{}, false
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "invalid request body", http.StatusBadRequest)
		return ChatRequest{}, false
	}

	// The token, not the body, decides tenancy and identity.
	req.PracticeID = practiceID
	if req.PatientID == "" {
		req.PatientID = subjectID(r)
	}
	return req, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingPractice), errors.Is(err, ErrEmptyMessage):
		h.writeError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("chat turn failed", "error", err)
		h.writeError(w, "assistant is unavailable, please try again", http.StatusInternalServerError)
	}
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

func subjectID(r *http.Request) string {
	if sc, ok := middleware.StaffClaimsFromContext(r.Context()); ok {
		return sc.Subject
	}
	if cc, ok := middleware.CognitoClaimsFromContext(r.Context()); ok {
		return cc.Subject
	}
	return ""
}
