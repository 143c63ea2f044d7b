package bootstrap

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"

	"github.com/carebridgehq/carebridge-platform/cmd/mainconfig"
	appconfig "github.com/carebridgehq/carebridge-platform/internal/config"
	"github.com/carebridgehq/carebridge-platform/internal/notify"
	"github.com/carebridgehq/carebridge-platform/internal/patients"
	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// BuildEmailSender selects the outbound email provider from config. An
// unconfigured or suppressed setup falls back to the stub sender, which
// logs instead of sending.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil || cfg.NotifySuppressAll {
		logger.Info("email delivery suppressed; using stub sender")
		return notify.NewStubEmailSender(logger)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	switch cfg.EmailProvider {
	case "ses":
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load aws config for ses; using stub sender", "error", err)
			return notify.NewStubEmailSender(logger)
		}
		sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
		if sender == nil {
			return notify.NewStubEmailSender(logger)
		}
		logger.Info("email delivery via SES", "from", cfg.NotifyFromEmail)
		return sender
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
		if sender == nil {
			logger.Warn("sendgrid selected but no API key configured; using stub sender")
			return notify.NewStubEmailSender(logger)
		}
		logger.Info("email delivery via SendGrid", "from", cfg.NotifyFromEmail)
		return sender
	default:
		logger.Info("no email provider configured; using stub sender", "provider", cfg.EmailProvider)
		return notify.NewStubEmailSender(logger)
	}
}

// BuildNotifyService assembles the notification service over the selected
// email sender, practice settings, and the patient directory.
func BuildNotifyService(
	ctx context.Context,
	cfg *appconfig.Config,
	redisClient *redis.Client,
	patientRepo patients.Repository,
	logger *logging.Logger,
) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}

	email := BuildEmailSender(ctx, cfg, logger)

	var settings notify.SettingsSource
	if store := BuildPracticeStore(redisClient); store != nil {
		settings = store
	}
	var directory notify.PatientDirectory
	if patientRepo != nil {
		directory = patientRepo
	}

	return notify.NewService(email, settings, directory, logger)
}
