package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/carebridgehq/carebridge-platform/internal/tenancy"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

type stubAgentService struct {
	reply      *ChatReply
	chatErr    error
	history    []Message
	historyErr error
	lastReq    ChatRequest
}

func (s *stubAgentService) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	s.lastReq = req
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	if s.reply != nil {
		return s.reply, nil
	}
	return &ChatReply{SessionID: req.SessionID, Reply: "ok"}, nil
}

func (s *stubAgentService) History(ctx context.Context, practiceID, sessionID string) ([]Message, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

type stubJobRecorder struct {
	records []*JobRecord
	putErr  error
	record  *JobRecord
	getErr  error
}

func (s *stubJobRecorder) PutPending(ctx context.Context, job *JobRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records = append(s.records, job)
	return nil
}

func (s *stubJobRecorder) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.record == nil {
		return nil, ErrJobNotFound
	}
	return s.record, nil
}

func withPractice(r *http.Request, practiceID string) *http.Request {
	return r.WithContext(tenancy.WithPracticeID(r.Context(), practiceID))
}

func withJobParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandlerChat(t *testing.T) {
	service := &stubAgentService{reply: &ChatReply{SessionID: "sess-1", Reply: "We're open weekdays 8 to 5."}}
	h := NewHandler(service, nil, nil, logging.Default())

	body := `{"message": "What are your office hours?", "session_id": "sess-1", "practice_id": "spoofed"}`
	req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat", strings.NewReader(body)), "prac-1")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var reply ChatReply
	if err := json.NewDecoder(rec.Body).Decode(&reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply.Reply != "We're open weekdays 8 to 5." {
		t.Fatalf("unexpected reply: %q", reply.Reply)
	}
	if service.lastReq.PracticeID != "prac-1" {
		t.Fatalf("expected the token practice to win over the body, got %q", service.lastReq.PracticeID)
	}
}

func TestHandlerChatMissingPracticeContext(t *testing.T) {
	h := NewHandler(&stubAgentService{}, nil, nil, logging.Default())

	req := httptest.NewRequest(http.MethodPost, "/agent/chat", strings.NewReader(`{"message": "hi"}`))
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlerChatInvalidBody(t *testing.T) {
	h := NewHandler(&stubAgentService{}, nil, nil, logging.Default())

	req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat", strings.NewReader("{not json")), "prac-1")
	rec := httptest.NewRecorder()
	h.Chat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlerChatMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"empty message", ErrEmptyMessage, http.StatusBadRequest},
		{"missing practice", ErrMissingPractice, http.StatusBadRequest},
		{"llm failure", errors.New("bedrock is down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubAgentService{chatErr: tt.err}, nil, nil, logging.Default())

			req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat", strings.NewReader(`{"message": "hi"}`)), "prac-1")
			rec := httptest.NewRecorder()
			h.Chat(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandlerChatAsync(t *testing.T) {
	queue := &stubQueue{}
	recorder := &stubJobRecorder{}
	h := NewHandler(&stubAgentService{}, NewPublisher(queue, logging.Default()), recorder, logging.Default())

	body := `{"message": "What are your office hours?", "session_id": "sess-1"}`
	req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat/async", strings.NewReader(body)), "prac-1")
	rec := httptest.NewRecorder()
	h.ChatAsync(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp AsyncChatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != string(JobStatusPending) {
		t.Fatalf("unexpected response: %#v", resp)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("expected a pending record, got %d", len(recorder.records))
	}
	record := recorder.records[0]
	if record.JobID != resp.JobID || record.PracticeID != "prac-1" {
		t.Fatalf("unexpected record: %#v", record)
	}
	if record.ChatRequest == nil || record.ChatRequest.Message != "What are your office hours?" {
		t.Fatalf("expected the chat request on the record, got %#v", record.ChatRequest)
	}

	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(queue.sent))
	}
	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != resp.JobID {
		t.Fatalf("expected the queue payload to carry the job ID, got %q", payload.ID)
	}
	if payload.Chat.PracticeID != "prac-1" {
		t.Fatalf("expected the practice to round-trip, got %q", payload.Chat.PracticeID)
	}
}

func TestHandlerChatAsyncRequiresMessage(t *testing.T) {
	queue := &stubQueue{}
	h := NewHandler(&stubAgentService{}, NewPublisher(queue, logging.Default()), &stubJobRecorder{}, logging.Default())

	req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat/async", strings.NewReader(`{"message": "  "}`)), "prac-1")
	rec := httptest.NewRecorder()
	h.ChatAsync(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(queue.sent) != 0 {
		t.Fatalf("expected nothing queued, got %d", len(queue.sent))
	}
}

func TestHandlerChatAsyncUnavailableWithoutQueue(t *testing.T) {
	h := NewHandler(&stubAgentService{}, nil, nil, logging.Default())

	req := withPractice(httptest.NewRequest(http.MethodPost, "/agent/chat/async", strings.NewReader(`{"message": "hi"}`)), "prac-1")
	rec := httptest.NewRecorder()
	h.ChatAsync(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlerJob(t *testing.T) {
	recorder := &stubJobRecorder{record: &JobRecord{
		JobID:      "job-1",
		Status:     JobStatusCompleted,
		PracticeID: "prac-1",
		Reply:      &ChatReply{SessionID: "sess-1", Reply: "done"},
	}}
	h := NewHandler(&stubAgentService{}, nil, recorder, logging.Default())

	req := withJobParam(withPractice(httptest.NewRequest(http.MethodGet, "/agent/jobs/job-1", nil), "prac-1"), "job-1")
	rec := httptest.NewRecorder()
	h.Job(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var record JobRecord
	if err := json.NewDecoder(rec.Body).Decode(&record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.Status != JobStatusCompleted || record.Reply == nil || record.Reply.Reply != "done" {
		t.Fatalf("unexpected record: %#v", record)
	}
}

func TestHandlerJobNotFound(t *testing.T) {
	h := NewHandler(&stubAgentService{}, nil, &stubJobRecorder{}, logging.Default())

	req := withJobParam(withPractice(httptest.NewRequest(http.MethodGet, "/agent/jobs/missing", nil), "prac-1"), "missing")
	rec := httptest.NewRecorder()
	h.Job(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlerJobHidesOtherPractices(t *testing.T) {
	recorder := &stubJobRecorder{record: &JobRecord{
		JobID:      "job-1",
		Status:     JobStatusCompleted,
		PracticeID: "prac-2",
	}}
	h := NewHandler(&stubAgentService{}, nil, recorder, logging.Default())

	req := withJobParam(withPractice(httptest.NewRequest(http.MethodGet, "/agent/jobs/job-1", nil), "prac-1"), "job-1")
	rec := httptest.NewRecorder()
	h.Job(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected cross-practice jobs to look absent, got %d", rec.Code)
	}
}

func TestHandlerChatHistory(t *testing.T) {
	service := &stubAgentService{history: []Message{
		{Role: "user", Content: "What are your office hours?"},
		{Role: "assistant", Content: "Weekdays 8 to 5."},
	}}
	h := NewHandler(service, nil, nil, logging.Default())

	req := withPractice(httptest.NewRequest(http.MethodGet, "/agent/chat/history?session_id=sess-1", nil), "prac-1")
	rec := httptest.NewRecorder()
	h.ChatHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "sess-1" || resp.Count != 2 || len(resp.Messages) != 2 {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestHandlerChatHistoryRequiresSession(t *testing.T) {
	h := NewHandler(&stubAgentService{}, nil, nil, logging.Default())

	req := withPractice(httptest.NewRequest(http.MethodGet, "/agent/chat/history", nil), "prac-1")
	rec := httptest.NewRecorder()
	h.ChatHistory(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
