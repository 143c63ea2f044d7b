package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// conversationTTL bounds how long an idle chat session survives in redis.
const conversationTTL = 24 * time.Hour

type historyStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func newHistoryStore(redis *redis.Client, tracer trace.Tracer) *historyStore {
	if redis == nil {
		panic("agent: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("carebridge.internal.agent.history")
	}
	return &historyStore{
		redis:  redis,
		tracer: tracer,
	}
}

func (s *historyStore) Save(ctx context.Context, conversationID string, history []ChatMessage) error {
	ctx, span := s.tracer.Start(ctx, "agent.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("agent: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(conversationID), data, conversationTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("agent: failed to persist history: %w", err)
	}
	return nil
}

func (s *historyStore) Load(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "agent.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(conversationID)).Bytes()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return nil, fmt.Errorf("agent: unknown conversation %s", conversationID)
		}
		return nil, fmt.Errorf("agent: failed to load history: %w", err)
	}

	var history []ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("agent: failed to decode history: %w", err)
	}
	return history, nil
}

func conversationKey(id string) string {
	return fmt.Sprintf("agent:history:%s", id)
}
