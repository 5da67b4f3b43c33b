package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const sendEndpoint = "/v3/mail/send"

type EmailNotifier struct {
	client *sendgrid.Client
	from   *mail.Email
	to     string
	logger *zap.SugaredLogger
}

// NewEmailNotifier sends through SendGrid. host overrides the API base URL
// and may be empty.
func NewEmailNotifier(apiKey, host, fromName, fromAddress, to string, logger *zap.SugaredLogger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &EmailNotifier{
		client: &sendgrid.Client{Request: sendgrid.GetRequest(apiKey, sendEndpoint, host)},
		from:   mail.NewEmail(fromName, fromAddress),
		to:     to,
		logger: logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, ev Event) error {
	body := Body(ev)
	email := mail.NewSingleEmail(n.from, Subject(ev), mail.NewEmail("", n.to), body, body)

	response, err := n.client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	n.logger.Infow("email sent", "task_id", ev.TaskID, "to", n.to, "status", response.StatusCode)
	return nil
}
