package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// Publisher enqueues chat jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("agent: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueChat publishes a chat job. Status tracking is on unless
// disabled with WithoutJobTracking.
func (p *Publisher) EnqueueChat(ctx context.Context, jobID string, req ChatRequest, opts ...PublishOption) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload := queuePayload{
		ID:          jobID,
		Kind:        jobTypeChat,
		Chat:        req,
		TrackStatus: true,
		EnqueuedAt:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&payload)
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("agent: failed to enqueue job: %w", err)
	}

	p.logger.Debug("chat job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
