package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendgridEndpoint = "/v3/mail/send"

// SendgridSender posts messages to the SendGrid v3 API.
type SendgridSender struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendgridSender builds a sender. host overrides the API host and is empty in
// production.
func NewSendgridSender(apiKey, host, fromAddress, fromName string) *SendgridSender {
	request := sendgrid.GetRequest(apiKey, sendgridEndpoint, host)
	request.Method = "POST"
	return &SendgridSender{
		client: &sendgrid.Client{Request: request},
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (s *SendgridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}

	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	html := msg.HTML
	if html == "" {
		html = text
	}

	message := mail.NewSingleEmail(s.from, msg.Subject, mail.NewEmail(msg.ToName, msg.To), text, html)
	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
