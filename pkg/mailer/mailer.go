// Package mailer delivers transactional email through SendGrid, falling back to SMTP.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/muzafey/storefront-backend/pkg/config"
	"github.com/muzafey/storefront-backend/pkg/logger"
)

// Message is one outbound email.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("subject required")
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("body required")
	}
	return nil
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks SendGrid when an API key is configured, SMTP when a host is, and otherwise a
// sender that only logs.
func New(cfg config.EmailConfig, logg *logger.Logger) Sender {
	switch {
	case cfg.SendgridAPIKey != "":
		return NewSendgridSender(cfg.SendgridAPIKey, "", cfg.FromAddress, cfg.FromName)
	case cfg.SMTPHost != "":
		return NewSMTPSender(cfg)
	default:
		return &logSender{logg: logg}
	}
}

type logSender struct {
	logg *logger.Logger
}

func (s *logSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"to": msg.To, "subject": msg.Subject})
		s.logg.Info(ctx, "email transport not configured; message dropped")
	}
	return nil
}
