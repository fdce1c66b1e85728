// Package stripe defines the interface for Stripe API calls and webhook
// verification, and provides helpers used by the api and payments packages.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// PaymentIntent statuses the service branches on.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusRequiresAction        = "requires_action"
	StatusRequiresCapture       = "requires_capture"
	StatusProcessing            = "processing"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

// CreatePaymentIntentParams holds the inputs for a manual-capture destination
// charge on behalf of a connected account.
type CreatePaymentIntentParams struct {
	Amount               int64
	Currency             string
	ApplicationFeeAmount int64
	DestinationAccount   string
	CustomerID           string // optional
	Metadata             map[string]string
	IdempotencyKey       string
}

// CapturePaymentIntentParams captures Amount, or the full capturable amount
// when Amount is zero. A non-zero ApplicationFeeAmount replaces the fee set
// at creation.
type CapturePaymentIntentParams struct {
	ID                   string
	Amount               int64
	ApplicationFeeAmount int64
	IdempotencyKey       string
}

// PaymentIntent is the subset of a Stripe PaymentIntent that callers need.
type PaymentIntent struct {
	ID               string
	Status           string
	Amount           int64
	AmountCapturable int64
	AmountReceived   int64
	ClientSecret     string
	LastPaymentError string
	Metadata         map[string]string
}

// CreateRefundParams describes a refund against a captured PaymentIntent.
type CreateRefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

// Refund is the subset of a Stripe Refund that callers need.
type Refund struct {
	ID     string
	Amount int64
	Status string
}

// Account summarises a connected account's readiness to take payments.
type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	CurrentlyDue     []string
	EventuallyDue    []string
	PastDue          []string
	DisabledReason   string
	Country          string
	DefaultCurrency  string
}

// CreateCustomerParams holds the inputs for a new Stripe Customer.
type CreateCustomerParams struct {
	Email          string
	Name           string
	UserID         string
	IdempotencyKey string
}

// SetupIntent is the subset of a Stripe SetupIntent that callers need.
type SetupIntent struct {
	ID              string
	ClientSecret    string
	Status          string
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]string
}

// PaymentMethod is a saved card.
type PaymentMethod struct {
	ID       string
	Type     string
	Brand    string
	Last4    string
	ExpMonth int32
	ExpYear  int32
}

// Event is a parsed Stripe webhook event. DataRaw contains the raw JSON of the
// event's data.object so handlers can unmarshal only what they need.
type Event struct {
	ID      string
	Type    string
	DataRaw json.RawMessage
}

// ─── CLIENT INTERFACE ─────────────────────────────────────────────────────────

// Client is the interface the payments package uses for all Stripe calls.
// The concrete implementation wraps the official stripe-go SDK.
// Tests inject a stub.
type Client interface {
	CreatePaymentIntent(ctx context.Context, p CreatePaymentIntentParams) (PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error)
	// ConfirmPaymentIntent confirms with paymentMethodID, or with the
	// method already attached when it is empty.
	ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, p CapturePaymentIntentParams) (PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (PaymentIntent, error)

	CreateRefund(ctx context.Context, p CreateRefundParams) (Refund, error)

	GetAccount(ctx context.Context, accountID string) (Account, error)

	CreateCustomer(ctx context.Context, p CreateCustomerParams) (string, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateSetupIntent(ctx context.Context, customerID, userID string) (SetupIntent, error)
	GetSetupIntent(ctx context.Context, id string) (SetupIntent, error)

	ListCardPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, id string) error

	// VerifyWebhook validates the Stripe-Signature header and returns the
	// parsed event. Returns an error if the signature is invalid or expired.
	VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error)
}

// ─── EVENT HELPERS ────────────────────────────────────────────────────────────

// PaymentIntentObject is the part of a payment_intent.* data.object the
// webhook handler reads.
type PaymentIntentObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	AmountCapturable int64             `json:"amount_capturable"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// DecodePaymentIntent unmarshals a payment_intent.* event's data.object.
func DecodePaymentIntent(event Event) (PaymentIntentObject, error) {
	var obj PaymentIntentObject
	if err := json.Unmarshal(event.DataRaw, &obj); err != nil {
		return obj, fmt.Errorf("stripe: unmarshal payment intent: %w", err)
	}
	if obj.ID == "" {
		return obj, fmt.Errorf("stripe: payment intent id is empty in event %s", event.ID)
	}
	return obj, nil
}

// ChargeObject is the part of a charge.* data.object the webhook handler reads.
type ChargeObject struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Refunded       bool   `json:"refunded"`
}

// DecodeCharge unmarshals a charge.* event's data.object. Works for
// charge.succeeded and charge.refunded.
func DecodeCharge(event Event) (ChargeObject, error) {
	var obj ChargeObject
	if err := json.Unmarshal(event.DataRaw, &obj); err != nil {
		return obj, fmt.Errorf("stripe: unmarshal charge: %w", err)
	}
	if obj.PaymentIntent == "" {
		return obj, fmt.Errorf("stripe: no payment_intent on charge in event %s", event.ID)
	}
	return obj, nil
}
