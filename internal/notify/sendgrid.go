package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/iliyamo/grant-search-mailer/internal/config"
	"github.com/iliyamo/grant-search-mailer/internal/model"
)

// SendGridNotifier mails results through the SendGrid v3 API.
type SendGridNotifier struct {
	client *sendgrid.Client
	from   *mail.Email
	log    *zap.Logger
}

// New returns a SendGrid notifier, or Disabled when no API key is set.
func New(cfg config.MailConfig, log *zap.Logger) Notifier {
	if !cfg.Enabled() {
		return Disabled{}
	}
	return NewSendGridNotifier(cfg.SendGridAPIKey, cfg.FromAddress, cfg.FromName, log)
}

func NewSendGridNotifier(apiKey, fromAddress, fromName string, log *zap.Logger) *SendGridNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendGridNotifier{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
		log:    log,
	}
}

// Notify renders the result set and sends it to the given address.
func (n *SendGridNotifier) Notify(ctx context.Context, to string, projects []model.Project, criteria model.Criteria) error {
	msg, err := Render(projects, criteria)
	if err != nil {
		return err
	}
	email := mail.NewSingleEmail(n.from, msg.Subject, mail.NewEmail("", to), msg.Text, msg.HTML)

	resp, err := n.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	n.log.Info("results mailed",
		zap.String("to", to),
		zap.Int("projects", len(projects)),
		zap.Int("status", resp.StatusCode))
	return nil
}
