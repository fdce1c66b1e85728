package stripe

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/setupintent"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Options tunes the concrete client. Zero values take the defaults.
type Options struct {
	// CallTimeout bounds a single HTTP round trip to Stripe.
	CallTimeout time.Duration
	// MaxAttempts counts the first try. Only retryable failures are retried.
	MaxAttempts int
	BaseDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 15 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 250 * time.Millisecond
	}
	return o
}

// stripeClient is the concrete implementation of Client backed by the
// official stripe-go SDK. Construct it with NewClient.
type stripeClient struct {
	secretKey string
	opts      Options
}

// NewClient returns a Client backed by the Stripe SDK.
// secretKey is your STRIPE_SECRET_KEY env var.
func NewClient(secretKey string, opts Options) Client {
	stripe.Key = secretKey
	return &stripeClient{secretKey: secretKey, opts: opts.withDefaults()}
}

// ─── PAYMENT INTENTS ──────────────────────────────────────────────────────────

func (c *stripeClient) CreatePaymentIntent(ctx context.Context, p CreatePaymentIntentParams) (PaymentIntent, error) {
	return call(ctx, c, "create payment intent", func(ctx context.Context) (PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{
			Amount:                    stripe.Int64(p.Amount),
			Currency:                  stripe.String(p.Currency),
			CaptureMethod:             stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			PaymentMethodTypes:        stripe.StringSlice([]string{"card"}),
			ApplicationFeeAmount:      stripe.Int64(p.ApplicationFeeAmount),
			StatementDescriptorSuffix: stripe.String("DINNERHELP"),
			TransferData: &stripe.PaymentIntentTransferDataParams{
				Destination: stripe.String(p.DestinationAccount),
			},
		}
		if p.CustomerID != "" {
			params.Customer = stripe.String(p.CustomerID)
		}
		for k, v := range p.Metadata {
			params.AddMetadata(k, v)
		}
		if p.IdempotencyKey != "" {
			params.SetIdempotencyKey(p.IdempotencyKey)
		}
		params.Context = ctx

		pi, err := paymentintent.New(params)
		if err != nil {
			return PaymentIntent{}, err
		}
		return toPaymentIntent(pi), nil
	})
}

func (c *stripeClient) GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	return call(ctx, c, "get payment intent "+id, func(ctx context.Context) (PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := paymentintent.Get(id, params)
		if err != nil {
			return PaymentIntent{}, err
		}
		return toPaymentIntent(pi), nil
	})
}

func (c *stripeClient) ConfirmPaymentIntent(ctx context.Context, id, paymentMethodID string) (PaymentIntent, error) {
	return callOnce(ctx, c, "confirm payment intent "+id, func(ctx context.Context) (PaymentIntent, error) {
		params := &stripe.PaymentIntentConfirmParams{}
		if paymentMethodID != "" {
			params.PaymentMethod = stripe.String(paymentMethodID)
		}
		params.Context = ctx
		pi, err := paymentintent.Confirm(id, params)
		if err != nil {
			return PaymentIntent{}, err
		}
		return toPaymentIntent(pi), nil
	})
}

func (c *stripeClient) CapturePaymentIntent(ctx context.Context, p CapturePaymentIntentParams) (PaymentIntent, error) {
	return call(ctx, c, "capture payment intent "+p.ID, func(ctx context.Context) (PaymentIntent, error) {
		params := &stripe.PaymentIntentCaptureParams{}
		if p.Amount > 0 {
			params.AmountToCapture = stripe.Int64(p.Amount)
		}
		if p.ApplicationFeeAmount > 0 {
			params.ApplicationFeeAmount = stripe.Int64(p.ApplicationFeeAmount)
		}
		if p.IdempotencyKey != "" {
			params.SetIdempotencyKey(p.IdempotencyKey)
		}
		params.Context = ctx
		pi, err := paymentintent.Capture(p.ID, params)
		if err != nil {
			return PaymentIntent{}, err
		}
		return toPaymentIntent(pi), nil
	})
}

func (c *stripeClient) CancelPaymentIntent(ctx context.Context, id, idempotencyKey string) (PaymentIntent, error) {
	return call(ctx, c, "cancel payment intent "+id, func(ctx context.Context) (PaymentIntent, error) {
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
		}
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}
		params.Context = ctx
		pi, err := paymentintent.Cancel(id, params)
		if err != nil {
			return PaymentIntent{}, err
		}
		return toPaymentIntent(pi), nil
	})
}

func toPaymentIntent(pi *stripe.PaymentIntent) PaymentIntent {
	out := PaymentIntent{
		ID:               pi.ID,
		Status:           string(pi.Status),
		Amount:           pi.Amount,
		AmountCapturable: pi.AmountCapturable,
		AmountReceived:   pi.AmountReceived,
		ClientSecret:     pi.ClientSecret,
		Metadata:         pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.LastPaymentError = pi.LastPaymentError.Msg
	}
	return out
}

// ─── REFUNDS ──────────────────────────────────────────────────────────────────

func (c *stripeClient) CreateRefund(ctx context.Context, p CreateRefundParams) (Refund, error) {
	return call(ctx, c, "create refund for "+p.PaymentIntentID, func(ctx context.Context) (Refund, error) {
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(p.PaymentIntentID),
			Amount:        stripe.Int64(p.Amount),
		}
		if p.Reason != "" {
			params.Reason = stripe.String(p.Reason)
		}
		for k, v := range p.Metadata {
			params.AddMetadata(k, v)
		}
		if p.IdempotencyKey != "" {
			params.SetIdempotencyKey(p.IdempotencyKey)
		}
		params.Context = ctx
		r, err := refund.New(params)
		if err != nil {
			return Refund{}, err
		}
		return Refund{ID: r.ID, Amount: r.Amount, Status: string(r.Status)}, nil
	})
}

// ─── CONNECTED ACCOUNTS ───────────────────────────────────────────────────────

func (c *stripeClient) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return call(ctx, c, "get account "+accountID, func(ctx context.Context) (Account, error) {
		params := &stripe.AccountParams{}
		params.Context = ctx
		acct, err := account.GetByID(accountID, params)
		if err != nil {
			return Account{}, err
		}
		out := Account{
			ID:               acct.ID,
			ChargesEnabled:   acct.ChargesEnabled,
			PayoutsEnabled:   acct.PayoutsEnabled,
			DetailsSubmitted: acct.DetailsSubmitted,
			Country:          acct.Country,
			DefaultCurrency:  string(acct.DefaultCurrency),
		}
		if req := acct.Requirements; req != nil {
			out.CurrentlyDue = req.CurrentlyDue
			out.EventuallyDue = req.EventuallyDue
			out.PastDue = req.PastDue
			out.DisabledReason = string(req.DisabledReason)
		}
		return out, nil
	})
}

// ─── CUSTOMERS ────────────────────────────────────────────────────────────────

func (c *stripeClient) CreateCustomer(ctx context.Context, p CreateCustomerParams) (string, error) {
	return call(ctx, c, "create customer", func(ctx context.Context) (string, error) {
		params := &stripe.CustomerParams{
			Email: stripe.String(p.Email),
		}
		if p.Name != "" {
			params.Name = stripe.String(p.Name)
		}
		params.AddMetadata("user_id", p.UserID)
		if p.IdempotencyKey != "" {
			params.SetIdempotencyKey(p.IdempotencyKey)
		}
		params.Context = ctx
		cust, err := customer.New(params)
		if err != nil {
			return "", err
		}
		return cust.ID, nil
	})
}

func (c *stripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := call(ctx, c, "set default payment method", func(ctx context.Context) (struct{}, error) {
		params := &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentMethodID),
			},
		}
		params.Context = ctx
		_, err := customer.Update(customerID, params)
		return struct{}{}, err
	})
	return err
}

// ─── SETUP INTENTS ────────────────────────────────────────────────────────────

func (c *stripeClient) CreateSetupIntent(ctx context.Context, customerID, userID string) (SetupIntent, error) {
	return callOnce(ctx, c, "create setup intent", func(ctx context.Context) (SetupIntent, error) {
		params := &stripe.SetupIntentParams{
			Customer:           stripe.String(customerID),
			PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
			Usage:              stripe.String(string(stripe.SetupIntentUsageOffSession)),
		}
		params.AddMetadata("user_id", userID)
		params.Context = ctx
		si, err := setupintent.New(params)
		if err != nil {
			return SetupIntent{}, err
		}
		return toSetupIntent(si), nil
	})
}

func (c *stripeClient) GetSetupIntent(ctx context.Context, id string) (SetupIntent, error) {
	return call(ctx, c, "get setup intent "+id, func(ctx context.Context) (SetupIntent, error) {
		params := &stripe.SetupIntentParams{}
		params.Context = ctx
		si, err := setupintent.Get(id, params)
		if err != nil {
			return SetupIntent{}, err
		}
		return toSetupIntent(si), nil
	})
}

func toSetupIntent(si *stripe.SetupIntent) SetupIntent {
	out := SetupIntent{
		ID:           si.ID,
		ClientSecret: si.ClientSecret,
		Status:       string(si.Status),
		Metadata:     si.Metadata,
	}
	if si.Customer != nil {
		out.CustomerID = si.Customer.ID
	}
	if si.PaymentMethod != nil {
		out.PaymentMethodID = si.PaymentMethod.ID
	}
	return out
}

// ─── PAYMENT METHODS ──────────────────────────────────────────────────────────

func (c *stripeClient) ListCardPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error) {
	return call(ctx, c, "list payment methods", func(ctx context.Context) ([]PaymentMethod, error) {
		params := &stripe.PaymentMethodListParams{
			Customer: stripe.String(customerID),
			Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
		}
		params.Context = ctx
		it := paymentmethod.List(params)
		var out []PaymentMethod
		for it.Next() {
			out = append(out, toPaymentMethod(it.PaymentMethod()))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return out, nil
	})
}

func (c *stripeClient) GetPaymentMethod(ctx context.Context, id string) (PaymentMethod, error) {
	return call(ctx, c, "get payment method "+id, func(ctx context.Context) (PaymentMethod, error) {
		params := &stripe.PaymentMethodParams{}
		params.Context = ctx
		pm, err := paymentmethod.Get(id, params)
		if err != nil {
			return PaymentMethod{}, err
		}
		return toPaymentMethod(pm), nil
	})
}

func (c *stripeClient) DetachPaymentMethod(ctx context.Context, id string) error {
	_, err := call(ctx, c, "detach payment method "+id, func(ctx context.Context) (struct{}, error) {
		params := &stripe.PaymentMethodDetachParams{}
		params.Context = ctx
		_, err := paymentmethod.Detach(id, params)
		return struct{}{}, err
	})
	return err
}

func toPaymentMethod(pm *stripe.PaymentMethod) PaymentMethod {
	out := PaymentMethod{ID: pm.ID, Type: string(pm.Type)}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int32(pm.Card.ExpMonth)
		out.ExpYear = int32(pm.Card.ExpYear)
	}
	return out
}

// ─── WEBHOOKS ─────────────────────────────────────────────────────────────────

// VerifyWebhook validates the Stripe-Signature header and returns the parsed
// event. Returns an error if the signature is invalid or the tolerance window
// (300 seconds by default in the Stripe SDK) has expired.
func (c *stripeClient) VerifyWebhook(payload []byte, sigHeader string, secret string) (Event, error) {
	stripeEvent, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("stripe: webhook verification failed: %w", err)
	}

	return Event{
		ID:      stripeEvent.ID,
		Type:    string(stripeEvent.Type),
		DataRaw: stripeEvent.Data.Raw,
	}, nil
}

// ─── CALL WRAPPER ─────────────────────────────────────────────────────────────

// call runs fn with a per-attempt timeout and retries retryable failures with
// exponential backoff. Mutating calls carry idempotency keys, so a retry after
// a lost response cannot double-apply.
func call[T any](ctx context.Context, c *stripeClient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, classify(op, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}

		lastErr = classify(op, err)
		if !IsRetryable(lastErr) {
			return zero, lastErr
		}

		if attempt < c.opts.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return zero, lastErr
			case <-time.After(backoff(c.opts.BaseDelay, attempt)):
			}
		}
	}
	return zero, lastErr
}

// callOnce is call without retries, for requests sent without an
// idempotency key.
func callOnce[T any](ctx context.Context, c *stripeClient, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	once := *c
	once.opts.MaxAttempts = 1
	return call(ctx, &once, op, fn)
}

// backoff doubles base per attempt and adds up to base of jitter so
// replicas retrying the same outage spread out.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(1<<attempt)
	if base > 0 {
		d += time.Duration(rand.Int63n(int64(base)))
	}
	return d
}
