package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// SESAPI is the slice of the SES client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through AWS SES.
type SESSender struct {
	client    SESAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds the from identity for SES mail.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESSender returns nil when no client is provided so callers can
// treat email as disabled.
func NewSESSender(client SESAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "CareBridge"
	}
	return &SESSender{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	output, err := s.client.SendEmail(ctx, s.buildInput(msg))
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("email sent", "provider", "ses", "to", msg.To,
		"subject", msg.Subject, "message_id", aws.ToString(output.MessageId))
	return nil
}

func (s *SESSender) buildInput(msg EmailMessage) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.Body != "" {
		body.Text = sesContent(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = sesContent(msg.HTML)
	}
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: sesContent(msg.Subject),
				Body:    body,
			},
		},
	}
}

func sesContent(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}
