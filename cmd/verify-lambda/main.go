package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridgehq/carebridge-platform/internal/app/bootstrap"
	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// eligibilityVerifier is the insurance surface the handler depends on.
type eligibilityVerifier interface {
	Verify(ctx context.Context, practiceID, policyID string, force bool) (*insurance.Verification, error)
}

type verifyMessage struct {
	PracticeID string `json:"practice_id"`
	PolicyID   string `json:"policy_id"`
	Force      bool   `json:"force,omitempty"`
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx := context.Background()

	if cfg.DatabaseURL == "" || cfg.ClearinghouseBaseURL == "" {
		logger.Error("verify lambda requires DATABASE_URL and CLEARINGHOUSE_BASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, false)
	notifier := bootstrap.BuildNotifyService(ctx, cfg, redisClient, patients.NewPostgresRepository(pool), logger)

	payer := clearinghouse.NewClient(cfg.ClearinghouseBaseURL, cfg.ClearinghouseClientID, cfg.ClearinghouseClientSecret, logger)
	verifier := insurance.NewVerifier(
		insurance.NewStore(pool),
		insurance.NewVerificationCache(redisClient, cfg.VerificationCacheTTL),
		payer,
		logger,
		insurance.WithResultTTL(cfg.VerificationCacheTTL),
		insurance.WithNotifier(notifier),
	)

	lambda.Start(func(ctx context.Context, evt awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
		return handle(ctx, verifier, logger, evt)
	})
}

// handle re-runs eligibility for every policy in the batch. Failed records
// come back as batch item failures so SQS redelivers only those; malformed
// messages and gone policies are dropped because a retry cannot fix them.
func handle(ctx context.Context, verifier eligibilityVerifier, logger *logging.Logger, evt awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var failures []awsevents.SQSBatchItemFailure
	for _, record := range evt.Records {
		msg, err := parseMessage(record.Body)
		if err != nil {
			logger.Warn("dropping malformed verify message",
				"message_id", record.MessageId, "error", err)
			continue
		}

		if _, err := verifier.Verify(ctx, msg.PracticeID, msg.PolicyID, msg.Force); err != nil {
			if errors.Is(err, insurance.ErrPolicyNotFound) || errors.Is(err, insurance.ErrPolicyExpired) {
				logger.Warn("skipping verify message",
					"practice_id", msg.PracticeID, "policy_id", msg.PolicyID, "error", err)
				continue
			}
			logger.Error("eligibility re-check failed",
				"practice_id", msg.PracticeID, "policy_id", msg.PolicyID, "error", err)
			failures = append(failures, awsevents.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		logger.Info("eligibility re-checked",
			"practice_id", msg.PracticeID, "policy_id", msg.PolicyID)
	}
	return awsevents.SQSEventResponse{BatchItemFailures: failures}, nil
}

func parseMessage(body string) (verifyMessage, error) {
	var msg verifyMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return verifyMessage{}, fmt.Errorf("decode: %w", err)
	}
	if strings.TrimSpace(msg.PracticeID) == "" || strings.TrimSpace(msg.PolicyID) == "" {
		return verifyMessage{}, errors.New("practice_id and policy_id are required")
	}
	return msg, nil
}
