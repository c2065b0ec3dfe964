// Package email holds receipt delivery transports. Production SMTP lives with
// the notification collaborator; the log sender here is what local and demo
// deployments run with.
package email

import (
	"context"

	"github.com/prontopos/pronto-core/internal/application/lifecycle"
	"github.com/prontopos/pronto-core/internal/observability"
)

// LogSender logs receipts instead of sending them.
type LogSender struct {
	log observability.Logger
}

func NewLogSender(log observability.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, to, subject string, html []byte, attachments []lifecycle.Attachment) error {
	s.log.Info("receipt_email_logged",
		observability.F("to", to),
		observability.F("subject", subject),
		observability.F("html_bytes", len(html)),
		observability.F("attachments", len(attachments)),
	)
	return nil
}
