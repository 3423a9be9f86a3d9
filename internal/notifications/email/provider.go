// Package email delivers reminder notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"

	"habitly/internal/config"
	"habitly/internal/types"
)

const dialTimeout = 10 * time.Second

// Sender abstracts the SMTP transport for testability.
// *mail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*mail.Message) error
}

var _ types.NotificationProvider = (*Provider)(nil)

// Provider sends reminder emails. It never returns errors past Send.
type Provider struct {
	sender   Sender
	from     string
	fallback string
	logger   types.Logger
}

// NewProvider creates a Provider backed by an SMTP dialer. Port 465 uses
// implicit TLS; other ports upgrade with STARTTLS when the server offers it.
// Authentication is skipped when no user is configured.
func NewProvider(cfg config.SMTPConfig, logger types.Logger) *Provider {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass.Unmask())
	d.SSL = cfg.Port == 465
	d.Timeout = dialTimeout
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.TLSInsecure, //nolint:gosec // self-hosted relays commonly use private certs
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return NewProviderWithSender(d, from, cfg.DevFallbackEmail, logger)
}

// NewProviderWithSender creates a Provider over an explicit transport.
func NewProviderWithSender(sender Sender, from, fallback string, logger types.Logger) *Provider {
	return &Provider{
		sender:   sender,
		from:     from,
		fallback: fallback,
		logger:   logger.With("component", "email_provider"),
	}
}

// Channel implements types.NotificationProvider.
func (p *Provider) Channel() types.Channel { return types.ChannelEmail }

// Send delivers the payload to payload.Email, or to the configured
// fallback recipient when the payload carries none.
func (p *Provider) Send(ctx context.Context, payload *types.NotificationPayload) types.SendResult {
	to := payload.Email
	if to == "" {
		to = p.fallback
	}
	if to == "" {
		p.logger.Warn("no recipient for email", "reminder_id", payload.ReminderID)
		return types.Failed("No recipient email available", "no_recipient")
	}
	if err := ctx.Err(); err != nil {
		return types.Failed(err.Error(), "cancelled")
	}

	subject := payload.Subject
	if subject == "" {
		title := payload.HabitTitle
		if title == "" {
			title = "Your habit"
		}
		subject = "Habit reminder: " + title
	}
	text := payload.Text
	if text == "" {
		text = payload.Note
	}
	html := payload.HTML
	if html == "" {
		html = "<p>" + text + "</p>"
	}

	messageID := fmt.Sprintf("<%s@habitly>", uuid.NewString())
	m := mail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	log := p.logger.With("reminder_id", payload.ReminderID, "to", RedactEmail(to))
	if err := p.sender.DialAndSend(m); err != nil {
		log.Error("email send failed", "error", err)
		return types.SendResult{OK: false, Error: err.Error(), Code: "smtp_error"}
	}

	log.Info("email sent", "message_id", messageID)
	return types.SendResult{
		OK:        true,
		MessageID: messageID,
		Info:      map[string]any{"to": RedactEmail(to)},
	}
}
