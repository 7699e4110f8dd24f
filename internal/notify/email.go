// Package notify delivers fraud notifications: email over SMTP and alert events over Kafka.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"fraud-detection-pipeline/internal/appcontext"
	"fraud-detection-pipeline/internal/config"
)

const dialTimeout = 30 * time.Second

// Sender delivers a plain-text message. Failures are logged, never returned.
type Sender interface {
	Send(ctx context.Context, subject, body string)
}

// EmailSender sends mail through an authenticated SMTP relay with mandatory STARTTLS.
type EmailSender struct {
	cfg config.SMTPConfig
	// deliver is swapped out in tests.
	deliver func(ctx context.Context, msg *mail.Msg) error
}

// NewEmailSender creates a sender for the given relay settings.
func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	e := &EmailSender{cfg: cfg}
	e.deliver = e.dialAndSend
	return e
}

// Send emails subject and body from the configured sender to the configured receiver.
// Missing credentials or any delivery failure are logged and the message is dropped.
func (e *EmailSender) Send(ctx context.Context, subject, body string) {
	logger := appcontext.LoggerFromContext(ctx)

	if !e.cfg.Configured() {
		logger.ErrorContext(ctx, "email settings are incomplete, notification not sent",
			"sender_set", e.cfg.Sender != "",
			"receiver_set", e.cfg.Receiver != "",
			"password_set", e.cfg.Password != "")
		return
	}

	msg, err := e.message(subject, body)
	if err != nil {
		logger.ErrorContext(ctx, "failed to build email", "error", err)
		return
	}

	if err := e.deliver(ctx, msg); err != nil {
		logger.ErrorContext(ctx, "failed to send email", "subject", subject, "error", err)
		return
	}

	logger.InfoContext(ctx, "email sent", "subject", subject, "to", e.cfg.Receiver)
}

func (e *EmailSender) message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.cfg.Sender); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(e.cfg.Receiver); err != nil {
		return nil, fmt.Errorf("invalid receiver address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (e *EmailSender) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(e.cfg.Host,
		mail.WithPort(e.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Sender),
		mail.WithPassword(e.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(dialTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
