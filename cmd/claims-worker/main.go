package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/carebridgehq/carebridge-platform/internal/app/bootstrap"
	"github.com/carebridgehq/carebridge-platform/internal/claims"
	"github.com/carebridgehq/carebridge-platform/internal/clearinghouse"
	"github.com/carebridgehq/carebridge-platform/internal/compliance"
	"github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/events"
	"github.com/carebridgehq/carebridge-platform/internal/insurance"
	"github.com/carebridgehq/carebridge-platform/internal/observability/metrics"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/internal/providers"
	claimsworker "github.com/carebridgehq/carebridge-platform/internal/worker/claims"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL == "" || cfg.ClearinghouseBaseURL == "" {
		logger.Error("claims worker requires DATABASE_URL and CLEARINGHOUSE_BASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sql connection", "error", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, false)
	if redisClient != nil {
		defer redisClient.Close()
	}
	notifier := bootstrap.BuildNotifyService(ctx, cfg, redisClient, patients.NewPostgresRepository(pool), logger)

	store := claims.NewStore(pool)
	service := claims.NewService(store, compliance.NewAuditService(sqlDB), logger,
		claims.WithMetrics(metrics.NewClaimsMetrics(nil)),
		claims.WithNotifier(notifier),
	)
	gateway := clearinghouse.NewClient(cfg.ClearinghouseBaseURL, cfg.ClearinghouseClientID, cfg.ClearinghouseClientSecret, logger)

	dispatcher := claims.NewDispatcher(service, store, insurance.NewStore(pool), providers.NewRepository(sqlDB), gateway, logger)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), dispatcher, logger.Component("outbox")).
		WithBatchSize(int32(cfg.ClaimsOutboxBatchSize)).
		WithInterval(cfg.ClaimsOutboxInterval)

	poller := claimsworker.NewRemittancePoller(store, gateway, service, logger.Component("remittance")).
		WithInterval(cfg.RemittancePollInterval).
		WithBatchSize(int32(cfg.ClaimsOutboxBatchSize))

	go deliverer.Start(ctx)
	go poller.Run(ctx)

	logger.Info("claims worker started",
		"outbox_interval", cfg.ClaimsOutboxInterval,
		"remittance_interval", cfg.RemittancePollInterval,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("claims worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
