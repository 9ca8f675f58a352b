package notify

import (
	"context"
	"net/smtp"
	"os"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"github.com/jordan-wright/email"
)

// EmailChannel announces the release by SMTP mail, with the release notes
// rendered as HTML and the plain text fallback alongside.
type EmailChannel struct {
	cfg config.EmailConfig
}

// NewEmailChannel creates the channel from configuration.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (e *EmailChannel) Name() string { return "email" }

// Send delivers the announcement mail to every configured recipient.
func (e *EmailChannel) Send(ctx context.Context, msg Message) error {
	m := email.NewEmail()
	m.From = e.cfg.From
	m.To = e.cfg.To
	m.Subject = msg.Subject
	m.Text = []byte(msg.Text)
	m.HTML = []byte(msg.HTML)

	var auth smtp.Auth
	if e.cfg.UserEnv != "" {
		user := os.Getenv(e.cfg.UserEnv)
		pass := os.Getenv(e.cfg.PasswordEnv)
		host := e.cfg.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", user, pass, host)
	}

	if err := m.Send(e.cfg.SMTPAddr, auth); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "email delivery failed").Build()
	}
	return nil
}
