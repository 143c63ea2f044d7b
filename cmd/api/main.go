package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridgehq/carebridge-platform/cmd/mainconfig"
	"github.com/carebridgehq/carebridge-platform/internal/agent"
	"github.com/carebridgehq/carebridge-platform/internal/api/router"
	"github.com/carebridgehq/carebridge-platform/internal/app/bootstrap"
	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/documents"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/http/handlers"
	httpmiddleware "github.com/carebridgehq/carebridge-platform/internal/http/middleware"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/portal"
	"github.com/carebridgehq/carebridge-platform/internal/practice"
	"github.com/carebridgehq/carebridge-platform/internal/providers"
	"github.com/carebridgehq/carebridge-platform/internal/scheduling"
	"github.com/carebridgehq/carebridge-platform/internal/subscription"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting carebridge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("postgres is required; set DATABASE_URL")
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB := openSQLDB(cfg.DatabaseURL, logger)
	if sqlDB == nil {
		logger.Error("failed to open sql connection")
		os.Exit(1)
	}
	defer sqlDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required; set REDIS_ADDR")
		os.Exit(1)
	}
	defer redisClient.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, httpMetrics, agentMetrics, claimsMetrics, registry := setupMetrics()

	// Shared infrastructure
	audit := compliance.NewAuditService(sqlDB)
	processed := events.NewProcessedStore(pool)
	practiceStore := bootstrap.BuildPracticeStore(redisClient)
	patientsRepo := patients.NewPostgresRepository(pool)
	notifier := bootstrap.BuildNotifyService(ctx, cfg, redisClient, patientsRepo, logger)
	payerGateway := clearinghouse.NewClient(
		cfg.ClearinghouseBaseURL,
		cfg.ClearinghouseClientID,
		cfg.ClearinghouseClientSecret,
		logger,
	)

	// Scheduling
	schedStore := scheduling.NewStore(pool)
	board := scheduling.NewBoard(logger)
	schedService := scheduling.NewService(schedStore, practiceStore, logger,
		scheduling.WithNotifier(notifier),
		scheduling.WithBroadcaster(board),
		scheduling.WithGracePeriod(cfg.BookingGracePeriod),
	)

	// Insurance
	insuranceStore := insurance.NewStore(pool)
	verificationCache := insurance.NewVerificationCache(redisClient, cfg.VerificationCacheTTL)
	verifier := insurance.NewVerifier(insuranceStore, verificationCache, payerGateway, logger,
		insurance.WithNotifier(notifier),
	)

	// Claims
	claimsStore := claims.NewStore(pool)
	claimsService := claims.NewService(claimsStore, audit, logger,
		claims.WithMetrics(claimsMetrics),
		claims.WithNotifier(notifier),
	)

	// Documents
	docStore := documents.NewStore(pool)
	blobStore := documents.NewBlobStore(s3.NewFromConfig(awsCfg), cfg.DocumentsBucket, logger)
	docService := documents.NewService(docStore, blobStore, audit, logger)

	// Assistant chat
	agentService, err := bootstrap.BuildAgentService(ctx, cfg, redisClient, practiceStore, audit, agentMetrics, logger)
	if err != nil {
		logger.Error("failed to build agent service", "error", err)
		os.Exit(1)
	}
	publisher, jobRecorder, jobUpdater, memoryQueue := setupAgentQueue(ctx, cfg, logger)
	inlineWorker := setupInlineWorker(ctx, cfg, agentService, jobUpdater, memoryQueue, agentMetrics, logger)

	// Subscription billing
	subsStore := subscription.NewStore(pool)
	checkout := subscription.NewCheckoutService(subscription.CheckoutConfig{
		StripeSecretKey: cfg.StripeSecretKey,
		Prices: subscription.PlanPrices{
			Starter:    cfg.StripePriceStarter,
			Practice:   cfg.StripePricePractice,
			Enterprise: cfg.StripePriceEnterprise,
		},
		SuccessURL: cfg.SubscriptionSuccessURL,
		CancelURL:  cfg.SubscriptionCancelURL,
		Logger:     logger,
	})

	routerCfg := &router.Config{
		Logger: logger,

		PatientsHandler:   patients.NewHandler(patientsRepo, audit, logger),
		ProvidersHandler:  providers.NewHandler(providers.NewRepository(sqlDB)),
		SchedulingHandler: scheduling.NewHandler(schedService, board, logger),
		InsuranceHandler:  insurance.NewHandler(insuranceStore, verifier, verificationCache, audit, logger),
		ClaimsHandler:     claims.NewHandler(claimsService, logger),
		ClaimsWebhook: claims.NewWebhookHandler(claims.WebhookConfig{
			Secret:    cfg.ClearinghouseWebhookKey,
			Service:   claimsService,
			Store:     claimsStore,
			Processed: processed,
			Metrics:   claimsMetrics,
			Logger:    logger,
		}),
		DocumentsHandler:    documents.NewHandler(docService, logger),
		AgentHandler:        agent.NewHandler(agentService, publisher, jobRecorder, logger),
		AgentWS:             agent.NewWSHandler(agentService, logger),
		PortalHandler:       portal.NewHandler(portal.NewService(schedStore, claimsStore, insuranceStore, docStore, logger), logger),
		PracticeHandler:     practice.NewHandler(practiceStore, practice.NewStatsRepository(pool), registry, logger),
		SubscriptionHandler: subscription.NewHandler(checkout, subsStore, logger),
		SubscriptionWebhook: subscription.NewWebhookHandler(cfg.StripeWebhookSecret, subsStore, processed, logger),
		AdminAudit:          handlers.NewAdminAuditHandler(audit, logger),

		SubscriptionGate: subscription.RequireActiveSubscription(subsStore, cfg.EnforceBilling, logger),
		AgentRateLimit:   httpmiddleware.RateLimitPerPractice(cfg.AgentChatRate, cfg.AgentChatBurst),

		StaffJWTSecret:    cfg.StaffJWTSecret,
		CognitoRegion:     cfg.CognitoRegion,
		CognitoUserPoolID: cfg.CognitoUserPoolID,
		CognitoClientID:   cfg.CognitoClientID,

		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler:     metricsHandler,
		HTTPMetrics:        httpMetrics,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancel()
	waitForInlineWorker(inlineWorker, logger)

	logger.Info("server stopped")
}

// connectPostgresPool returns nil when no database is configured or the URL
// cannot be parsed. Connections are established lazily by pgxpool.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	return pool
}

// openSQLDB opens a database/sql handle over the pgx stdlib driver for the
// stores that speak database/sql.
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

// setupMetrics builds the process-local registry and the /metrics handler.
func setupMetrics() (http.Handler, *metrics.HTTPMetrics, *metrics.AgentMetrics, *metrics.ClaimsMetrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	agent.RegisterMetrics(registry)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return handler,
		metrics.NewHTTPMetrics(registry),
		metrics.NewAgentMetrics(registry),
		metrics.NewClaimsMetrics(registry),
		registry
}

// setupAgentQueue wires the async chat path: SQS and DynamoDB in AWS mode,
// an in-process queue with the same contract in memory mode. All returns
// are nil when async chat is not configured; the handler then serves 503
// on the async endpoints.
func setupAgentQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*agent.Publisher, agent.JobRecorder, agent.JobUpdater, *agent.MemoryQueue) {
	if cfg.UseMemoryQueue {
		memoryQueue := agent.NewMemoryQueue(64)
		jobs := agent.NewMemoryJobStore()
		logger.Info("async chat using in-memory queue")
		return agent.NewPublisher(memoryQueue, logger), jobs, jobs, memoryQueue
	}

	if cfg.AgentQueueURL == "" || cfg.AgentJobsTable == "" {
		logger.Warn("agent queue not configured; async chat disabled")
		return nil, nil, nil, nil
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config for agent queue", "error", err)
		return nil, nil, nil, nil
	}
	queue := agent.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.AgentQueueURL)
	jobs := agent.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.AgentJobsTable, logger)
	return agent.NewPublisher(queue, logger), jobs, jobs, nil
}

// setupInlineWorker runs the chat worker inside the API process when the
// in-memory queue is active. SQS deployments run cmd/agent-worker instead.
func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, svc agent.Service, updater agent.JobUpdater, memoryQueue *agent.MemoryQueue, agentMetrics *metrics.AgentMetrics, logger *logging.Logger) *agent.Worker {
	if memoryQueue == nil {
		return nil
	}

	opts := []agent.WorkerOption{agent.WithReceiveWaitSeconds(1)}
	if cfg.WorkerCount > 0 {
		opts = append(opts, agent.WithWorkerCount(cfg.WorkerCount))
	}
	if agentMetrics != nil {
		opts = append(opts, agent.WithWorkerMetrics(agentMetrics))
	}

	worker := agent.NewWorker(svc, memoryQueue, updater, logger, opts...)
	worker.Start(ctx)
	logger.Info("inline chat worker started", "workers", cfg.WorkerCount)
	return worker
}

// waitForInlineWorker blocks until the inline worker drains or the grace
// period runs out.
func waitForInlineWorker(worker *agent.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline chat worker stopped")
	case <-time.After(10 * time.Second):
		logger.Error("inline chat worker shutdown timed out")
	}
}
