package insurance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const verifyCacheKeyPrefix = "insurance:verify:"

// DefaultCacheTTL is how long an eligibility result stays fresh before the
// payer is asked again.
const DefaultCacheTTL = 24 * time.Hour

// VerificationCache keeps recent eligibility results in redis so repeat
// checks within the TTL never hit the payer.
type VerificationCache struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewVerificationCache(redisClient *redis.Client, ttl time.Duration) *VerificationCache {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &VerificationCache{
		redis:  redisClient,
		tracer: otel.Tracer("carebridge.internal.insurance.verify_cache"),
		ttl:    ttl,
	}
}

func verifyCacheKey(policyID string) string {
	return verifyCacheKeyPrefix + policyID
}

// Get returns the cached verification for a policy, or nil on a miss.
func (c *VerificationCache) Get(ctx context.Context, policyID string) (*Verification, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}

	ctx, span := c.tracer.Start(ctx, "insurance.verify_cache.get")
	defer span.End()

	raw, err := c.redis.Get(ctx, verifyCacheKey(policyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("insurance: cache get: %w", err)
	}

	var v Verification
	if err := json.Unmarshal(raw, &v); err != nil {
		// A corrupt entry is treated as a miss so the payer gets asked.
		span.RecordError(err)
		return nil, nil
	}
	return &v, nil
}

// Set stores a verification under its policy for the cache TTL.
func (c *VerificationCache) Set(ctx context.Context, v *Verification) error {
	if c == nil || c.redis == nil || v == nil {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "insurance.verify_cache.set")
	defer span.End()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("insurance: marshal cached verification: %w", err)
	}
	if err := c.redis.Set(ctx, verifyCacheKey(v.PolicyID), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insurance: cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached result for a policy, used after policy edits.
func (c *VerificationCache) Invalidate(ctx context.Context, policyID string) error {
	if c == nil || c.redis == nil {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "insurance.verify_cache.invalidate")
	defer span.End()

	if err := c.redis.Del(ctx, verifyCacheKey(policyID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insurance: cache invalidate: %w", err)
	}
	return nil
}
