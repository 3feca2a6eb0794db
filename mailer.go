package auth

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	mail "github.com/wneessen/go-mail"
)

// Mailer is the outbound email port. Implementations deliver HTML bodies.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPConfig configures the production mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ReplyTo  string
}

// SMTPMailer delivers through an authenticated SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	logger Logger
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: defLogger{}}
}

func (m *SMTPMailer) WithLogger(logger Logger) *SMTPMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mail sender address")
	}
	if err := msg.To(to); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mail recipient address")
	}
	if m.cfg.ReplyTo != "" {
		if err := msg.ReplyTo(m.cfg.ReplyTo); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid reply-to address")
		}
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build smtp client")
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		m.logger.Error("smtp delivery failed", "to", to, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "smtp delivery failed")
	}

	return nil
}

func verificationEmailHTML(link string, ttlHours int) string {
	return fmt.Sprintf(`<div style="font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif;line-height:1.5">
  <h2>Confirm your email</h2>
  <p>To activate your account, click here:</p>
  <p><a href="%s" style="display:inline-block;padding:10px 16px;background:#2563eb;color:#fff;text-decoration:none;border-radius:6px">Verify email</a></p>
  <p>If the button does not work, copy and paste this link into your browser:<br><code>%s</code></p>
  <p>The link expires in %d hours.</p>
</div>`, link, link, ttlHours)
}

func resetEmailHTML(token string, expirationMinutes int) string {
	return fmt.Sprintf(`<div style="font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif;line-height:1.5">
  <h2>Password reset</h2>
  <p>Use this code to reset your password:</p>
  <p><code>%s</code></p>
  <p>It expires in %d minutes. If you did not request a reset, ignore this email.</p>
</div>`, token, expirationMinutes)
}
