package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carebridgehq/carebridge-platform/internal/agent"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

const redisPingTimeout = 3 * time.Second

// BuildRedisClient returns a configured Redis client, or nil when no address
// is set. With verify on, the client is pinged and a failed ping also yields
// nil so callers degrade instead of carrying a dead connection.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil {
		return nil
	}
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	if !verify {
		return client
	}

	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if logger == nil {
			logger = logging.Default()
		}
		logger.Warn("redis unreachable, running without cache", "addr", addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPracticeStore returns the practice settings store when Redis is available.
func BuildPracticeStore(redisClient *redis.Client) *practice.Store {
	if redisClient == nil {
		return nil
	}
	return practice.NewStore(redisClient)
}

// BuildTranscriptStore returns the Redis-backed chat transcript store.
// It is nil, and safe to pass around, when Redis is disabled.
func BuildTranscriptStore(redisClient *redis.Client) *agent.TranscriptStore {
	return agent.NewTranscriptStore(redisClient)
}
