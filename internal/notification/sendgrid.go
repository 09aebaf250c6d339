package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/t77yq/biomed-maint/internal/model"
)

// SendGridConfig holds SendGrid API settings
type SendGridConfig struct {
	APIKey   string `mapstructure:"api_key"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridTransport emails notifications through the SendGrid API
type SendGridTransport struct {
	config SendGridConfig
	client mailSender
}

// NewSendGridTransport creates a SendGrid transport
func NewSendGridTransport(config SendGridConfig) *SendGridTransport {
	return &SendGridTransport{
		config: config,
		client: sendgrid.NewSendClient(config.APIKey),
	}
}

// Name implements Transport
func (t *SendGridTransport) Name() string {
	return "sendgrid"
}

// Send implements Transport. Notifications without email recipients are skipped.
func (t *SendGridTransport) Send(ctx context.Context, n *model.Notification) error {
	if len(n.EmailRecipients) == 0 {
		return nil
	}

	fromName := t.config.FromName
	if fromName == "" {
		fromName = "Biomed Maintenance"
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(fromName, t.config.From))
	message.Subject = subject(n)

	p := mail.NewPersonalization()
	for _, addr := range n.EmailRecipients {
		p.AddTos(mail.NewEmail("", addr))
	}
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", n.Message))

	response, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
