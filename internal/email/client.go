// Package email defines the interface for transactional email delivery and
// provides Postmark and SendGrid implementations.
package email

import "context"

// Message is a fully rendered email.
type Message struct {
	To       string // recipient email address
	ToName   string // optional display name
	Subject  string
	HTML     string
	Text     string // optional plain-text part
	Tag      string // provider-side grouping, e.g. the notification type
	Metadata map[string]string
}

// Sender is the interface the notify package uses to send email.
// Tests inject a stub that records calls without hitting the network.
type Sender interface {
	// Send delivers msg and returns the provider's message id.
	Send(ctx context.Context, msg Message) (string, error)
}
