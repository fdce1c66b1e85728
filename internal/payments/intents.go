package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/events"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
)

// authorizableFrom are the booking payment statuses an authorization may move
// a booking out of.
var authorizableFrom = []string{
	PaymentPending,
	PaymentPendingSetup,
	PaymentAuthorizationPending,
	PaymentProcessing,
	"failed",
}

// Intent is a stored payment intent as the API returns it.
type Intent struct {
	PaymentIntentID  string    `json:"payment_intent_id"`
	BookingID        uuid.UUID `json:"booking_id"`
	Status           string    `json:"status"`
	Amount           int64     `json:"amount"`
	ServiceFeeAmount int64     `json:"service_fee_amount"`
	VATAmount        int64     `json:"vat_amount"`
	Currency         string    `json:"currency"`
	ClientSecret     string    `json:"client_secret,omitempty"`
	LastPaymentError string    `json:"last_payment_error,omitempty"`
	Existing         bool      `json:"existing,omitempty"`
}

func toIntent(r db.PaymentIntent) Intent {
	return Intent{
		PaymentIntentID:  r.StripePaymentIntentID,
		BookingID:        r.BookingID,
		Status:           r.Status,
		Amount:           r.Amount,
		ServiceFeeAmount: r.ServiceFeeAmount,
		VATAmount:        r.VatAmount,
		Currency:         r.Currency,
		ClientSecret:     r.ClientSecret.String,
		LastPaymentError: r.LastPaymentError.String,
	}
}

// ─── CREATE ───────────────────────────────────────────────────────────────────

// CreateIntentParams describes a new manual-capture intent for a booking.
type CreateIntentParams struct {
	BookingID uuid.UUID
	// ChefStripeAccountID overrides the account stored on the chef.
	ChefStripeAccountID string
	// Amount overrides the booking total plus tip, in øre.
	Amount int64
}

// CreateIntent returns the booking's payment intent, creating it on Stripe
// when the booking has none. The connected account must be able to take
// charges.
func (s *Service) CreateIntent(ctx context.Context, p CreateIntentParams) (_ Intent, err error) {
	ctx, span := telemetry.Start(ctx, "payments.CreateIntent", attribute.String("booking.id", p.BookingID.String()))
	defer func() { telemetry.End(span, err) }()

	existing, err := s.q.GetPaymentIntentByBooking(ctx, p.BookingID)
	if err == nil {
		in := toIntent(existing)
		in.Existing = true
		return in, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Intent{}, fmt.Errorf("payments: get payment intent: %w", err)
	}

	details, err := s.bookingDetails(ctx, p.BookingID)
	if err != nil {
		return Intent{}, err
	}

	account := p.ChefStripeAccountID
	if account == "" {
		account = details.ChefStripeAccountID.String
	}
	if account == "" {
		return Intent{}, ErrChefNotOnboarded
	}

	acct, err := s.stripe.GetAccount(ctx, account)
	if err != nil {
		return Intent{}, fmt.Errorf("payments: retrieve chef account: %w", err)
	}
	if !acct.ChargesEnabled || !acct.DetailsSubmitted {
		return Intent{}, ErrAccountNotReady
	}

	row, err := s.newIntent(ctx, details, account, p.Amount)
	if err != nil {
		return Intent{}, err
	}
	return toIntent(row), nil
}

// newIntent creates the Stripe intent, stores it and points the booking at it.
// When the local insert fails the Stripe intent is cancelled so no orphan
// authorization is left behind.
func (s *Service) newIntent(ctx context.Context, d db.GetBookingDetailsRow, account string, amount int64) (db.PaymentIntent, error) {
	b := d.Booking
	if amount <= 0 {
		amount = b.TotalAmount + b.TipAmount
	}
	if amount <= 0 {
		return db.PaymentIntent{}, fmt.Errorf("%w: booking %s has no amount", ErrInvalidAmount, b.ID)
	}

	split, err := policy.SplitFees(amount, s.rates(d.ChefVatRegistered))
	if err != nil {
		return db.PaymentIntent{}, fmt.Errorf("payments: split fees: %w", err)
	}

	var customerID string
	if profile, err := s.q.GetProfile(ctx, b.UserID); err == nil {
		customerID = profile.StripeCustomerID.String
	} else if !errors.Is(err, sql.ErrNoRows) {
		return db.PaymentIntent{}, fmt.Errorf("payments: get profile: %w", err)
	}

	pi, err := s.stripe.CreatePaymentIntent(ctx, stripeinternal.CreatePaymentIntentParams{
		Amount:               amount,
		Currency:             s.opts.Currency,
		ApplicationFeeAmount: split.PlatformRevenue,
		DestinationAccount:   account,
		CustomerID:           customerID,
		Metadata: map[string]string{
			"booking_id":   b.ID.String(),
			"chef_id":      b.ChefID.String(),
			"user_id":      b.UserID.String(),
			"booking_date": b.Date.Format("2006-01-02"),
			"service_type": "dining_experience",
		},
		IdempotencyKey: "pi-create-" + b.ID.String(),
	})
	if err != nil {
		return db.PaymentIntent{}, fmt.Errorf("payments: create payment intent: %w", err)
	}

	row, err := s.q.CreatePaymentIntent(ctx, db.CreatePaymentIntentParams{
		ID:                  pi.ID,
		BookingID:           b.ID,
		ChefStripeAccountID: account,
		Amount:              amount,
		ServiceFeeAmount:    split.PlatformRevenue,
		VatAmount:           split.VAT,
		Currency:            strings.ToUpper(s.opts.Currency),
		Status:              pi.Status,
		CaptureMethod:       "manual",
		ClientSecret:        nullString(pi.ClientSecret),
	})
	if err != nil {
		if _, cErr := s.stripe.CancelPaymentIntent(ctx, pi.ID, "pi-cancel-"+pi.ID); cErr != nil {
			s.logger.Error("payments: cancel orphaned payment intent", "payment_intent_id", pi.ID, "error", cErr)
		}
		return db.PaymentIntent{}, fmt.Errorf("payments: store payment intent: %w", err)
	}

	if _, err := s.q.SetBookingPaymentIntent(ctx, db.SetBookingPaymentIntentParams{
		ID:                    b.ID,
		StripePaymentIntentID: pi.ID,
	}); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return db.PaymentIntent{}, fmt.Errorf("payments: link booking to intent: %w", err)
	}

	s.publish(ctx, events.Event{
		Type:            events.PaymentIntentCreated,
		BookingID:       b.ID,
		PaymentIntentID: pi.ID,
		Amount:          amount,
		Status:          pi.Status,
	})
	return row, nil
}

// ─── AUTHORIZE BOOKING ────────────────────────────────────────────────────────

// AuthorizeResult reports the outcome of an authorization attempt.
type AuthorizeResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	PaymentStatus   string `json:"payment_status"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Amount          int64  `json:"amount"`
}

// AuthorizeBookingParams selects the booking and the card to reserve funds on.
type AuthorizeBookingParams struct {
	BookingID uuid.UUID
	// PaymentMethodID is the card to confirm with. Empty confirms with the
	// method already attached to the intent.
	PaymentMethodID string
}

// AuthorizeBooking reserves the booking amount on the customer's card. A chef
// without a connected account leaves the booking in pending_setup and returns
// ErrChefNotOnboarded.
func (s *Service) AuthorizeBooking(ctx context.Context, p AuthorizeBookingParams) (_ AuthorizeResult, err error) {
	ctx, span := telemetry.Start(ctx, "payments.AuthorizeBooking", attribute.String("booking.id", p.BookingID.String()))
	defer func() {
		metrics.PaymentOperations.WithLabelValues("authorize", metrics.Outcome(err)).Inc()
		telemetry.End(span, err)
	}()

	details, err := s.bookingDetails(ctx, p.BookingID)
	if err != nil {
		return AuthorizeResult{}, err
	}
	account := details.ChefStripeAccountID.String
	if account == "" {
		if _, tErr := s.q.TransitionBookingPaymentStatus(ctx, db.TransitionBookingPaymentStatusParams{
			ID:           p.BookingID,
			FromStatuses: authorizableFrom,
			ToStatus:     PaymentPendingSetup,
		}); tErr != nil && !errors.Is(tErr, sql.ErrNoRows) {
			s.logger.Error("payments: mark booking pending_setup", "booking_id", p.BookingID, "error", tErr)
		}
		s.writeLog(ctx, p.BookingID, paymentLog{
			Action:      "payment_authorization_failed",
			Status:      "failed",
			Description: "Chef Stripe Connect account not configured",
		})
		return AuthorizeResult{}, ErrChefNotOnboarded
	}

	pi, err := s.confirmForBooking(ctx, details, account, p.PaymentMethodID)
	if err != nil {
		s.writeLog(ctx, p.BookingID, paymentLog{
			Action:      "payment_authorization_error",
			Status:      "error",
			Description: err.Error(),
		})
		return AuthorizeResult{}, err
	}

	return s.recordAuthorization(ctx, details, pi)
}

// confirmForBooking confirms the booking's intent, creating it first when the
// booking has none. An intent that is already past confirmation is only read.
func (s *Service) confirmForBooking(ctx context.Context, d db.GetBookingDetailsRow, account, paymentMethodID string) (stripeinternal.PaymentIntent, error) {
	existing, err := s.q.GetPaymentIntentByBooking(ctx, d.Booking.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		row, err := s.newIntent(ctx, d, account, 0)
		if err != nil {
			return stripeinternal.PaymentIntent{}, err
		}
		existing = row
	case err != nil:
		return stripeinternal.PaymentIntent{}, fmt.Errorf("payments: get payment intent: %w", err)
	}

	switch existing.Status {
	case stripeinternal.StatusRequiresPaymentMethod, stripeinternal.StatusRequiresConfirmation:
		pi, err := s.stripe.ConfirmPaymentIntent(ctx, existing.StripePaymentIntentID, paymentMethodID)
		if err != nil {
			return stripeinternal.PaymentIntent{}, fmt.Errorf("payments: confirm payment intent: %w", err)
		}
		return pi, nil
	default:
		pi, err := s.stripe.GetPaymentIntent(ctx, existing.StripePaymentIntentID)
		if err != nil {
			return stripeinternal.PaymentIntent{}, fmt.Errorf("payments: retrieve payment intent: %w", err)
		}
		return pi, nil
	}
}

// recordAuthorization mirrors a confirmed intent onto the intent and booking
// rows. The in-app "Payment Reserved" notice and the event only follow the
// transition that moved the booking to authorized.
func (s *Service) recordAuthorization(ctx context.Context, d db.GetBookingDetailsRow, pi stripeinternal.PaymentIntent) (AuthorizeResult, error) {
	bookingID := d.Booking.ID
	if _, err := s.q.UpdatePaymentIntentStatus(ctx, db.UpdatePaymentIntentStatusParams{
		StripePaymentIntentID: pi.ID,
		Status:                pi.Status,
		LastPaymentError:      nullString(pi.LastPaymentError),
		FromStatuses:          intentFromStatuses(pi.Status),
	}); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return AuthorizeResult{}, fmt.Errorf("payments: update payment intent status: %w", err)
	}

	paymentStatus := BookingPaymentStatus(pi.Status)
	moved := true
	if _, err := s.q.TransitionBookingPaymentStatus(ctx, db.TransitionBookingPaymentStatusParams{
		ID:                    bookingID,
		FromStatuses:          authorizableFrom,
		ToStatus:              paymentStatus,
		StripePaymentIntentID: nullString(pi.ID),
	}); errors.Is(err, sql.ErrNoRows) {
		moved = false
	} else if err != nil {
		return AuthorizeResult{}, fmt.Errorf("payments: update booking payment status: %w", err)
	}

	s.writeLog(ctx, bookingID, paymentLog{
		Action: "payment_authorization_completed",
		Amount: pi.Amount,
		Metadata: map[string]any{
			"payment_intent_id": pi.ID,
			"payment_status":    pi.Status,
		},
	})

	if moved && pi.Status == stripeinternal.StatusRequiresCapture {
		if _, err := s.notifier.CreateInApp(ctx, notify.InAppParams{
			UserID:    d.Booking.UserID,
			BookingID: bookingID,
			Type:      notify.TypePaymentReserved,
			Title:     "Payment Reserved",
			Content: fmt.Sprintf("Payment of %s kr has been reserved for your booking with %s.",
				notify.FormatKr(pi.Amount), d.ChefFirstName),
			Data: map[string]any{"booking_id": bookingID.String()},
		}); err != nil {
			s.logger.Warn("payments: payment reserved notification", "booking_id", bookingID, "error", err)
		}
		s.publish(ctx, events.Event{
			Type:            events.PaymentAuthorized,
			BookingID:       bookingID,
			PaymentIntentID: pi.ID,
			Amount:          pi.Amount,
			Status:          pi.Status,
		})
	}

	return AuthorizeResult{
		PaymentIntentID: pi.ID,
		Status:          pi.Status,
		PaymentStatus:   paymentStatus,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
	}, nil
}

// BookingPaymentStatus maps a Stripe intent status onto a booking's
// payment_status.
func BookingPaymentStatus(intentStatus string) string {
	switch intentStatus {
	case stripeinternal.StatusRequiresCapture:
		return PaymentAuthorized
	case stripeinternal.StatusProcessing:
		return PaymentProcessing
	default:
		return PaymentAuthorizationPending
	}
}

// ─── AUTHORIZE INTENT ─────────────────────────────────────────────────────────

// Authorize confirms an existing intent by id and records the result. An
// intent that reaches requires_capture confirms the booking.
func (s *Service) Authorize(ctx context.Context, paymentIntentID string) (_ Intent, err error) {
	ctx, span := telemetry.Start(ctx, "payments.Authorize", attribute.String("payment_intent.id", paymentIntentID))
	defer func() {
		metrics.PaymentOperations.WithLabelValues("authorize", metrics.Outcome(err)).Inc()
		telemetry.End(span, err)
	}()

	row, err := s.q.GetPaymentIntentByStripeID(ctx, paymentIntentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Intent{}, fmt.Errorf("%w: payment intent %s", ErrNotFound, paymentIntentID)
	}
	if err != nil {
		return Intent{}, fmt.Errorf("payments: get payment intent: %w", err)
	}

	pi, err := s.stripe.ConfirmPaymentIntent(ctx, row.StripePaymentIntentID, "")
	if err != nil {
		return Intent{}, fmt.Errorf("payments: confirm payment intent: %w", err)
	}

	updated, err := s.q.UpdatePaymentIntentStatus(ctx, db.UpdatePaymentIntentStatusParams{
		StripePaymentIntentID: pi.ID,
		Status:                pi.Status,
		LastPaymentError:      nullString(pi.LastPaymentError),
		FromStatuses:          intentFromStatuses(pi.Status),
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		updated = row
	case err != nil:
		return Intent{}, fmt.Errorf("payments: update payment intent status: %w", err)
	}

	if pi.Status == stripeinternal.StatusRequiresCapture {
		_, err := s.q.TransitionBookingPaymentStatus(ctx, db.TransitionBookingPaymentStatusParams{
			ID:            row.BookingID,
			FromStatuses:  authorizableFrom,
			ToStatus:      PaymentAuthorized,
			BookingStatus: nullString("confirmed"),
		})
		switch {
		case err == nil:
			s.publish(ctx, events.Event{
				Type:            events.PaymentAuthorized,
				BookingID:       row.BookingID,
				PaymentIntentID: pi.ID,
				Amount:          pi.Amount,
				Status:          pi.Status,
			})
		case !errors.Is(err, sql.ErrNoRows):
			return Intent{}, fmt.Errorf("payments: confirm booking: %w", err)
		}
	}
	return toIntent(updated), nil
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

func (s *Service) bookingDetails(ctx context.Context, id uuid.UUID) (db.GetBookingDetailsRow, error) {
	d, err := s.q.GetBookingDetails(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return db.GetBookingDetailsRow{}, fmt.Errorf("%w: booking %s", ErrNotFound, id)
	}
	if err != nil {
		return db.GetBookingDetailsRow{}, fmt.Errorf("payments: get booking: %w", err)
	}
	return d, nil
}
