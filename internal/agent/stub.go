package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StubService answers chat turns with canned copy and keeps no history.
// It stands in for the real engine in environments without an LLM.
type StubService struct{}

// NewStubService returns the stub implementation.
func NewStubService() *StubService {
	return &StubService{}
}

// Chat returns a canned acknowledgement for a valid turn.
func (s *StubService) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if strings.TrimSpace(req.PracticeID) == "" {
		return nil, ErrMissingPractice
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &ChatReply{
		SessionID: sessionID,
		Reply:     "Thanks for reaching out! Our front desk team will follow up with you shortly.",
		Timestamp: time.Now().UTC(),
	}, nil
}

// History returns an empty transcript; the stub keeps none.
func (s *StubService) History(ctx context.Context, practiceID, sessionID string) ([]Message, error) {
	return []Message{}, nil
}
