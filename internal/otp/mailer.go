package otp

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	mail "github.com/wneessen/go-mail"

	"telehealth-portal-server/internal/config"
)

// Mailer delivers plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer picks the transport named in the configuration.
func NewMailer(cfg config.MailerConfig, log *logrus.Logger) (Mailer, error) {
	switch cfg.Transport {
	case "", "log":
		return &LogMailer{log: log}, nil
	case "smtp":
		if cfg.Host == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp mailer")
		}
		return NewSMTPMailer(cfg)
	}
	return nil, fmt.Errorf("unsupported MAILER_TRANSPORT %q", cfg.Transport)
}

// LogMailer writes messages to the log instead of sending them. Development only.
type LogMailer struct {
	log *logrus.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info(body)
	return nil
}

// SMTPMailer sends through an SMTP relay. STARTTLS is used when the relay
// offers it; PLAIN auth when a username is configured.
type SMTPMailer struct {
	from string
	send func(ctx context.Context, msgs ...*mail.Msg) error
}

func NewSMTPMailer(cfg config.MailerConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{from: cfg.DefaultFrom, send: client.DialAndSendWithContext}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender %q: %w", m.from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
