package mailer

import (
	"context"
	"regexp"
	"strings"

	"github.com/diagnosis/slotgrid/pkg/config"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

// Service delivers a single HTML email.
type Service interface {
	Send(ctx context.Context, to, subject, html string) error
}

// New picks the delivery backend from configuration: the log-only mailer in
// dev mode, MailerSend when an API key is set, SMTP otherwise.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.DevMode:
		return DevMailer{}
	case cfg.MailerSendKey != "":
		return NewMailer(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}

// DevMailer writes emails to the log instead of sending them.
type DevMailer struct{}

func (DevMailer) Send(ctx context.Context, to, subject, html string) error {
	logger.InfoContext(ctx, "dev mailer: email not sent", "to", to, "subject", subject, "body", html)
	return nil
}

var tagRegex = regexp.MustCompile(`<[^>]*>`)

// plainText is a crude HTML to text fallback for multipart bodies.
func plainText(html string) string {
	return strings.TrimSpace(tagRegex.ReplaceAllString(html, ""))
}
