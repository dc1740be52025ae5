package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/github-sentinel/sentinel/pkg/config"
)

const (
	emailTimeout    = 30 * time.Second
	emailMaxRetries = 2
	emailRetryDelay = 2 * time.Second
)

// EmailNotifier submits messages over SMTP with STARTTLS. Transient
// SMTP failures are retried up to emailMaxRetries times.
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier builds the email channel.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: slog.With("component", "email_notifier"),
	}
}

// Send submits one HTML message to the recipients.
func (e *EmailNotifier) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}

	opts := []mail.Option{
		mail.WithPort(e.cfg.SMTPPort),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithTimeout(emailTimeout),
	}
	if e.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.cfg.Username),
			mail.WithPassword(e.cfg.Password),
		)
	}

	client, err := mail.NewClient(e.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(e.cfg.From); err != nil {
		return fmt.Errorf("invalid sender %q: %w", e.cfg.From, err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	var lastErr error
	for attempt := 0; attempt <= emailMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(emailRetryDelay):
			}
		}

		lastErr = client.DialAndSendWithContext(ctx, msg)
		if lastErr == nil {
			e.logger.Info("Email delivered",
				"recipients", len(to), "subject", subject)
			return nil
		}
		if !isTemporarySMTPError(lastErr) {
			break
		}
		e.logger.Warn("Transient SMTP failure, retrying",
			"attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("email delivery failed: %w", lastErr)
}

func isTemporarySMTPError(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return false
}
