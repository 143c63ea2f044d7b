package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const jobTypeChat jobType = "chat"

type queuePayload struct {
	ID          string      `json:"id"`
	Kind        jobType     `json:"kind"`
	Chat        ChatRequest `json:"chat,omitempty"`
	TrackStatus bool        `json:"track_status"`
	EnqueuedAt  time.Time   `json:"enqueued_at,omitempty"`
}

// PublishOption customizes an enqueued job.
type PublishOption func(*queuePayload)

// WithoutJobTracking disables job status persistence for fire-and-forget work.
func WithoutJobTracking() PublishOption {
	return func(p *queuePayload) {
		p.TrackStatus = false
	}
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("agent: failed to encode payload: %w", err)
	}

	return payload, string(body), nil
}
