package notify

import (
	"context"

	"github.com/carebridgehq/carebridge-platform/pkg/logging"
)

// EmailSender sends one message. Implementations can be swapped
// (SendGrid, SES) without changing callers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one outbound email.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // plain text body
	HTML    string // optional HTML body
}

// StubEmailSender logs instead of sending. Used in development and when
// no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*SESSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
