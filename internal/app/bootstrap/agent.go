package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"github.com/carebridgehq/carebridge-platform/cmd/mainconfig"
	"github.com/carebridgehq/carebridge-platform/internal/agent"
	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// BuildAgentService wires the guarded chat engine from config: Bedrock as
// the primary model, Gemini as the fallback, Redis-backed history and
// transcripts. Without any model configured it returns the stub service.
func BuildAgentService(
	ctx context.Context,
	cfg *appconfig.Config,
	redisClient *redis.Client,
	practiceStore *practice.Store,
	audit *compliance.AuditService,
	agentMetrics *metrics.AgentMetrics,
	logger *logging.Logger,
) (agent.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, model := buildLLMClient(ctx, cfg, logger)
	if client == nil {
		logger.Warn("no LLM configured; using stub agent service")
		return agent.NewStubService(), nil
	}

	// Avoid handing the service a typed-nil settings source.
	var settings agent.SettingsSource
	if practiceStore != nil {
		settings = practiceStore
	}

	opts := []agent.AgentOption{
		agent.WithMaxTokens(cfg.AgentMaxTokens),
		agent.WithReplyDeadline(cfg.AgentReplyDeadline),
	}
	if audit != nil {
		opts = append(opts,
			agent.WithAuditService(audit),
			agent.WithDisclaimerService(compliance.NewDisclaimerService(audit, compliance.DisclaimerConfig{
				Level:            compliance.DisclaimerShort,
				Enabled:          true,
				FirstMessageOnly: true,
			})),
		)
	}
	if transcript := agent.NewTranscriptStore(redisClient); transcript != nil {
		opts = append(opts, agent.WithTranscriptStore(transcript))
	}
	if agentMetrics != nil {
		opts = append(opts, agent.WithAgentMetrics(agentMetrics))
	}

	logger.Info("using LLM agent service", "model", model, "redis", cfg.RedisAddr)
	return agent.NewAgentService(client, redisClient, settings, model, logger, opts...), nil
}

// buildLLMClient selects the completion backend from config. Bedrock is the
// primary when a model ID is set; Gemini serves as fallback, or stands alone
// when Bedrock is absent. Returns nil when neither is configured.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (agent.LLMClient, string) {
	var primary agent.LLMClient
	model := strings.TrimSpace(cfg.BedrockModelID)
	if model != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load aws config for bedrock", "error", err)
		} else {
			primary = agent.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		}
	}

	var fallback agent.LLMClient
	geminiModel := strings.TrimSpace(cfg.GeminiModelID)
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		geminiClient, err := agent.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, geminiModel)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
		} else {
			fallback = geminiClient
			if geminiModel == "" {
				geminiModel = "gemini-2.5-flash"
			}
		}
	}

	switch {
	case primary != nil && fallback != nil:
		logger.Info("gemini fallback enabled for agent completions", "model", geminiModel)
		return agent.NewFallbackLLMClient(primary, fallback, logger), model
	case primary != nil:
		return primary, model
	case fallback != nil:
		logger.Info("bedrock not configured; using gemini for agent completions", "model", geminiModel)
		return fallback, geminiModel
	default:
		return nil, ""
	}
}
