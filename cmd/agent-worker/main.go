package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/carebridgehq/carebridge-platform/cmd/mainconfig"
	"github.com/carebridgehq/carebridge-platform/internal/agent"
	"github.com/carebridgehq/carebridge-platform/internal/app/bootstrap"
	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agent worker", "env", cfg.Env)

	if cfg.AgentQueueURL == "" || cfg.AgentJobsTable == "" {
		logger.Error("agent worker requires AGENT_QUEUE_URL and AGENT_JOBS_TABLE")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsConfig)
	queue := agent.NewSQSQueue(sqsClient, cfg.AgentQueueURL)
	dynamoClient := dynamodb.NewFromConfig(awsConfig)
	jobStore := agent.NewJobStore(dynamoClient, cfg.AgentJobsTable, logger)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required; set REDIS_ADDR")
		os.Exit(1)
	}
	defer redisClient.Close()

	// The audit trail is best effort here; the worker still runs when the
	// database is not reachable from its network segment.
	var audit *compliance.AuditService
	if sqlDB := openSQLDB(cfg.DatabaseURL, logger); sqlDB != nil {
		defer sqlDB.Close()
		audit = compliance.NewAuditService(sqlDB)
	}

	agentMetrics := metrics.NewAgentMetrics(nil)

	processor, err := bootstrap.BuildAgentService(ctx, cfg, redisClient, bootstrap.BuildPracticeStore(redisClient), audit, agentMetrics, logger)
	if err != nil {
		logger.Error("failed to build agent service", "error", err)
		os.Exit(1)
	}

	workerOpts := []agent.WorkerOption{agent.WithWorkerMetrics(agentMetrics)}
	if cfg.WorkerCount > 0 {
		workerOpts = append(workerOpts, agent.WithWorkerCount(cfg.WorkerCount))
	}
	worker := agent.NewWorker(processor, queue, jobStore, logger, workerOpts...)
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down agent worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("agent worker stopped")
	case <-doneCtx.Done():
		logger.Error("agent worker shutdown timed out", "error", doneCtx.Err())
	}
}

func openSQLDB(databaseURL string, logger *logging.Logger) *sql.DB {
	if databaseURL == "" {
		return nil
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("failed to open sql connection", "error", err)
		return nil
	}
	return db
}
