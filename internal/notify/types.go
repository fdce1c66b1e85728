// Package notify schedules and delivers booking notifications over email,
// push and in-app channels, and drains the notification queue.
package notify

import (
	"errors"
	"fmt"
)

// Type is a notification kind. Its value is stored in notifications.type and
// forms the prefix of the email template key.
type Type string

const (
	TypeBookingConfirmation Type = "booking_confirmation"
	TypeBookingReminder24h  Type = "booking_reminder_24h"
	TypeBookingReminder1h   Type = "booking_reminder_1h"
	TypeBookingCompletion   Type = "booking_completion"
	TypeBookingModified     Type = "booking_modified"
	TypeBookingCancelled    Type = "booking_cancelled"

	// In-app only; created by the payments service.
	TypePaymentReserved Type = "payment_reserved"
)

// ParseType validates a schedulable notification type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeBookingConfirmation, TypeBookingReminder24h, TypeBookingReminder1h,
		TypeBookingCompletion, TypeBookingModified, TypeBookingCancelled:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Channel is a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
	ChannelSMS   Channel = "sms"
)

// Recipient selects which side of a booking receives a notification.
type Recipient string

const (
	RecipientUser Recipient = "user"
	RecipientChef Recipient = "chef"
	RecipientBoth Recipient = "both"
)

// ParseRecipient validates a recipient selector.
func ParseRecipient(s string) (Recipient, error) {
	switch r := Recipient(s); r {
	case RecipientUser, RecipientChef, RecipientBoth:
		return r, nil
	}
	return "", fmt.Errorf("notify: unknown recipient type %q", s)
}

func (r Recipient) expand() []Recipient {
	if r == RecipientBoth {
		return []Recipient{RecipientUser, RecipientChef}
	}
	return []Recipient{r}
}

// Notification statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var (
	ErrUnknownType     = errors.New("notify: unknown notification type")
	ErrNoRecipient     = errors.New("notify: recipient email not specified")
	ErrMissingContent  = errors.New("notify: email subject and content must be provided")
	ErrNoTargetUsers   = errors.New("notify: no target users specified")
	ErrReceiptLimit    = errors.New("notify: maximum receipt sends reached for this booking")
	ErrNotBookingOwner = errors.New("notify: booking belongs to another user")
	ErrNotFound        = errors.New("notify: not found")
)
