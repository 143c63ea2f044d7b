package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the binaries read at startup.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Multi-tenant API
	CORSAllowedOrigins []string
	StaffJWTSecret     string
	CognitoRegion      string
	CognitoUserPoolID  string
	CognitoClientID    string
	EnforceBilling     bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS / LocalStack
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Agent chat pipeline
	UseMemoryQueue     bool
	WorkerCount        int
	AgentQueueURL      string
	AgentJobsTable     string
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModelID      string
	AgentMaxTokens     int
	AgentReplyDeadline time.Duration
	AgentChatRate      float64
	AgentChatBurst     int

	// Insurance eligibility
	ClearinghouseBaseURL      string
	ClearinghouseClientID     string
	ClearinghouseClientSecret string
	ClearinghouseWebhookKey   string
	VerificationCacheTTL      time.Duration
	VerifyQueueURL            string

	// Claims
	ClaimsOutboxInterval   time.Duration
	ClaimsOutboxBatchSize  int
	RemittancePollInterval time.Duration

	// Subscription billing (Stripe)
	StripeSecretKey        string
	StripeWebhookSecret    string
	StripePriceStarter     string
	StripePricePractice    string
	StripePriceEnterprise  string
	SubscriptionSuccessURL string
	SubscriptionCancelURL  string

	// Email notifications
	EmailProvider     string
	SendGridAPIKey    string
	NotifyFromEmail   string
	NotifyFromName    string
	NotifyReplyEmail  string
	NotifySuppressAll bool

	// Patient documents
	DocumentsBucket string

	// Scheduling
	DefaultVisitMinutes int
	BookingGracePeriod  time.Duration
}

// Load builds a Config from the environment, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		StaffJWTSecret:     getEnv("STAFF_JWT_SECRET", ""),
		CognitoRegion:      getEnv("COGNITO_REGION", ""),
		CognitoUserPoolID:  getEnv("COGNITO_USER_POOL_ID", ""),
		CognitoClientID:    getEnv("COGNITO_CLIENT_ID", ""),
		EnforceBilling:     getEnvAsBool("ENFORCE_BILLING", false),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		AgentQueueURL:      getEnv("AGENT_QUEUE_URL", ""),
		AgentJobsTable:     getEnv("AGENT_JOBS_TABLE", "agent_jobs"),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", ""),
		AgentMaxTokens:     getEnvAsInt("AGENT_MAX_TOKENS", 512),
		AgentReplyDeadline: getEnvAsDuration("AGENT_REPLY_DEADLINE", 25*time.Second),
		AgentChatRate:      getEnvAsFloat("AGENT_CHAT_RATE", 2),
		AgentChatBurst:     getEnvAsInt("AGENT_CHAT_BURST", 10),

		ClearinghouseBaseURL:      getEnv("CLEARINGHOUSE_BASE_URL", ""),
		ClearinghouseClientID:     getEnv("CLEARINGHOUSE_CLIENT_ID", ""),
		ClearinghouseClientSecret: getEnv("CLEARINGHOUSE_CLIENT_SECRET", ""),
		ClearinghouseWebhookKey:   getEnv("CLEARINGHOUSE_WEBHOOK_KEY", ""),
		VerificationCacheTTL:      getEnvAsDuration("VERIFICATION_CACHE_TTL", 24*time.Hour),
		VerifyQueueURL:            getEnv("VERIFY_QUEUE_URL", ""),

		ClaimsOutboxInterval:   getEnvAsDuration("CLAIMS_OUTBOX_INTERVAL", 5*time.Second),
		ClaimsOutboxBatchSize:  getEnvAsInt("CLAIMS_OUTBOX_BATCH_SIZE", 25),
		RemittancePollInterval: getEnvAsDuration("REMITTANCE_POLL_INTERVAL", 15*time.Minute),

		StripeSecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceStarter:     getEnv("STRIPE_PRICE_STARTER", ""),
		StripePricePractice:    getEnv("STRIPE_PRICE_PRACTICE", ""),
		StripePriceEnterprise:  getEnv("STRIPE_PRICE_ENTERPRISE", ""),
		SubscriptionSuccessURL: getEnv("SUBSCRIPTION_SUCCESS_URL", ""),
		SubscriptionCancelURL:  getEnv("SUBSCRIPTION_CANCEL_URL", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		NotifyFromEmail:   getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName:    getEnv("NOTIFY_FROM_NAME", "CareBridge"),
		NotifyReplyEmail:  getEnv("NOTIFY_REPLY_EMAIL", ""),
		NotifySuppressAll: getEnvAsBool("NOTIFY_SUPPRESS_ALL", false),

		DocumentsBucket: getEnv("DOCUMENTS_BUCKET", ""),

		DefaultVisitMinutes: getEnvAsInt("DEFAULT_VISIT_MINUTES", 30),
		BookingGracePeriod:  getEnvAsDuration("BOOKING_GRACE_PERIOD", 15*time.Minute),
	}
}

// The getEnv* helpers read one variable each, falling back to the given
// default when the variable is unset or does not parse.

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
