package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/t77yq/biomed-maint/internal/model"
)

// SMTPConfig holds mail server settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport emails notifications that carry email recipients
type SMTPTransport struct {
	config   SMTPConfig
	sendMail sendMailFunc
}

// NewSMTPTransport creates an SMTP transport
func NewSMTPTransport(config SMTPConfig) *SMTPTransport {
	return &SMTPTransport{
		config:   config,
		sendMail: smtp.SendMail,
	}
}

// Name implements Transport
func (t *SMTPTransport) Name() string {
	return "smtp"
}

// Send implements Transport. Notifications without email recipients are skipped.
func (t *SMTPTransport) Send(ctx context.Context, n *model.Notification) error {
	if len(n.EmailRecipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if t.config.Username != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	}

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		t.config.From,
		strings.Join(n.EmailRecipients, ", "),
		subject(n),
		n.Message)

	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	if err := t.sendMail(addr, auth, t.config.From, n.EmailRecipients, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
