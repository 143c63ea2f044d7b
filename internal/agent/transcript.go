package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const transcriptKeyPrefix = "agent:transcript:"

// TranscriptMessage is one entry in the patient-visible chat transcript.
// The stored body is the redacted form when PHI was detected.
type TranscriptMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind,omitempty"`
}

// TranscriptStore keeps a rolling per-conversation transcript in redis.
// A nil store is safe to call and drops everything.
type TranscriptStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
}

func NewTranscriptStore(redisClient *redis.Client) *TranscriptStore {
	if redisClient == nil {
		return nil
	}
	return &TranscriptStore{
		redis:       redisClient,
		tracer:      otel.Tracer("carebridge.internal.agent.transcript"),
		maxMessages: 250,
	}
}

func (s *TranscriptStore) Append(ctx context.Context, conversationID string, msg TranscriptMessage) error {
	if s == nil || s.redis == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == "" {
		return errors.New("agent: transcript conversationID required")
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("agent: marshal transcript message: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "agent.transcript.append")
	defer span.End()

	key := transcriptKey(conversationID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, conversationTTL)
	if s.maxMessages > 0 {
		pipe.LTrim(ctx, key, -s.maxMessages, -1)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("agent: append transcript message: %w", err)
	}
	return nil
}

func (s *TranscriptStore) List(ctx context.Context, conversationID string, limit int64) ([]TranscriptMessage, error) {
	if s == nil || s.redis == nil {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if conversationID == "" {
		return nil, errors.New("agent: transcript conversationID required")
	}

	ctx, span := s.tracer.Start(ctx, "agent.transcript.list")
	defer span.End()

	start := int64(0)
	end := int64(-1)
	if limit > 0 {
		start = -limit
	}

	key := transcriptKey(conversationID)
	raw, err := s.redis.LRange(ctx, key, start, end).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []TranscriptMessage{}, nil
		}
		return nil, fmt.Errorf("agent: list transcript: %w", err)
	}

	out := make([]TranscriptMessage, 0, len(raw))
	for _, item := range raw {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func transcriptKey(conversationID string) string {
	return transcriptKeyPrefix + conversationID
}
