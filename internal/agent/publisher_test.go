package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func TestPublisher_EnqueueChat(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	jobID := "job-123"
	req := ChatRequest{
		PracticeID: "prac-1",
		PatientID:  "pat-1",
		SessionID:  "sess-1",
		Message:    "What are your office hours?",
	}
	if err := publisher.EnqueueChat(context.Background(), jobID, req); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}
	if len(queue.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(queue.sent))
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.Kind != jobTypeChat {
		t.Fatalf("expected jobType chat, got %s", payload.Kind)
	}
	if payload.ID != jobID {
		t.Fatalf("expected job ID %s, got %s", jobID, payload.ID)
	}
	if !payload.TrackStatus {
		t.Fatal("expected status tracking on by default")
	}
	if payload.Chat.PracticeID != "prac-1" || payload.Chat.Message != "What are your office hours?" {
		t.Fatalf("unexpected chat payload: %#v", payload.Chat)
	}
	if payload.EnqueuedAt.IsZero() {
		t.Fatal("expected the enqueue time to be stamped")
	}
}

func TestPublisher_EnqueueChatWithoutTracking(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	if err := publisher.EnqueueChat(context.Background(), "job-9", ChatRequest{PracticeID: "prac-1", Message: "hi"}, WithoutJobTracking()); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.TrackStatus {
		t.Fatal("expected status tracking to be disabled")
	}
}

func TestPublisher_GeneratesJobIDWhenEmpty(t *testing.T) {
	queue := &stubQueue{}
	publisher := NewPublisher(queue, logging.Default())

	if err := publisher.EnqueueChat(context.Background(), "", ChatRequest{PracticeID: "prac-1", Message: "hi"}); err != nil {
		t.Fatalf("enqueue returned error: %v", err)
	}

	var payload queuePayload
	if err := json.Unmarshal([]byte(queue.sent[0]), &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.ID == "" {
		t.Fatal("expected a generated job ID")
	}
}

type stubQueue struct {
	sent []string
}

func (s *stubQueue) Send(ctx context.Context, body string) error {
	s.sent = append(s.sent, body)
	return nil
}

func (s *stubQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	return nil, context.Canceled
}

func (s *stubQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}
