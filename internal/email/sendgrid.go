package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// sendgridClient is a Sender backed by the SendGrid v3 API. It is wired as the
// fallback behind Postmark when SENDGRID_API_KEY is set.
type sendgridClient struct {
	client   *sendgrid.Client
	fromAddr string
	fromName string
}

// NewSendGridClient returns a Sender that delivers email via SendGrid.
func NewSendGridClient(apiKey, fromAddr, fromName string) Sender {
	return &sendgridClient{
		client:   sendgrid.NewSendClient(apiKey),
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

func (c *sendgridClient) Send(ctx context.Context, msg Message) (string, error) {
	from := mail.NewEmail(c.fromName, c.fromAddr)
	to := mail.NewEmail(msg.ToName, msg.To)

	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.Tag != "" {
		m.AddCategories(msg.Tag)
	}
	for k, v := range msg.Metadata {
		m.SetCustomArg(k, v)
	}

	resp, err := c.client.SendWithContext(ctx, m)
	if err != nil {
		return "", fmt.Errorf("email: sendgrid request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email: sendgrid status %d: %.200s", resp.StatusCode, resp.Body)
	}

	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
