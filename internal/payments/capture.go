package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/events"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
)

// CaptureParams selects the booking to capture. ActualAmount, when set,
// captures less than was authorized and recomputes the platform fee.
type CaptureParams struct {
	BookingID uuid.UUID
	// Actor is the requesting user; it must be the booking's customer or
	// chef. uuid.Nil means a backend caller.
	Actor        uuid.UUID
	ActualAmount int64
}

// CaptureResult reports a capture. AlreadyCaptured is set when another call
// captured the payment first; nothing was charged by this one.
type CaptureResult struct {
	BookingID       uuid.UUID `json:"booking_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	ApplicationFee  int64     `json:"application_fee_amount"`
	ChefPayout      int64     `json:"chef_payout"`
	AlreadyCaptured bool      `json:"already_captured,omitempty"`
}

// Capture charges an authorized booking and records the chef's payout.
//
// The intent is claimed (requires_capture → capturing) before Stripe is
// called, so concurrent captures charge once. A Stripe failure releases the
// claim for a later retry.
func (s *Service) Capture(ctx context.Context, p CaptureParams) (_ CaptureResult, err error) {
	ctx, span := telemetry.Start(ctx, "payments.Capture", attribute.String("booking.id", p.BookingID.String()))
	defer func() {
		metrics.PaymentOperations.WithLabelValues("capture", metrics.Outcome(err)).Inc()
		telemetry.End(span, err)
	}()

	if p.ActualAmount < 0 {
		return CaptureResult{}, fmt.Errorf("%w: actual_amount must not be negative", ErrInvalidAmount)
	}

	if p.Actor != uuid.Nil {
		if err := s.checkParticipant(ctx, p.BookingID, p.Actor); err != nil {
			return CaptureResult{}, err
		}
	}

	intent, err := s.q.GetPaymentIntentByBooking(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return CaptureResult{}, ErrNotCapturable
	}
	if err != nil {
		return CaptureResult{}, fmt.Errorf("payments: get payment intent: %w", err)
	}
	switch intent.Status {
	case stripeinternal.StatusRequiresCapture:
	case stripeinternal.StatusSucceeded, statusCapturing:
		return alreadyCaptured(intent), nil
	default:
		return CaptureResult{}, ErrNotCapturable
	}

	details, err := s.bookingDetails(ctx, p.BookingID)
	if err != nil {
		return CaptureResult{}, err
	}

	amount, fee := intent.Amount, intent.ServiceFeeAmount
	if p.ActualAmount > 0 && p.ActualAmount != intent.Amount {
		if p.ActualAmount > intent.Amount {
			return CaptureResult{}, fmt.Errorf("%w: cannot capture %d, only %d was authorized",
				ErrInvalidAmount, p.ActualAmount, intent.Amount)
		}
		split, err := policy.SplitFees(p.ActualAmount, s.rates(details.ChefVatRegistered))
		if err != nil {
			return CaptureResult{}, fmt.Errorf("payments: split fees: %w", err)
		}
		amount, fee = p.ActualAmount, split.PlatformRevenue
	}

	piID := intent.StripePaymentIntentID
	if _, err := s.q.ClaimPaymentIntentCapture(ctx, piID); errors.Is(err, sql.ErrNoRows) {
		return alreadyCaptured(intent), nil
	} else if err != nil {
		return CaptureResult{}, fmt.Errorf("payments: claim capture: %w", err)
	}

	pi, err := s.stripe.CapturePaymentIntent(ctx, stripeinternal.CapturePaymentIntentParams{
		ID:                   piID,
		Amount:               amount,
		ApplicationFeeAmount: fee,
		IdempotencyKey:       idempotencyKey("pi-capture", piID, amount),
	})
	if err != nil {
		if rErr := s.q.ReleasePaymentIntentCapture(ctx, piID, nullString(err.Error())); rErr != nil {
			s.logger.Error("payments: release capture claim", "payment_intent_id", piID, "error", rErr)
		}
		s.writeLog(ctx, p.BookingID, paymentLog{
			Action:      "payment_capture_failed",
			Status:      "failed",
			Amount:      amount,
			Description: err.Error(),
		})
		return CaptureResult{}, fmt.Errorf("payments: capture payment intent: %w", err)
	}
	if pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}

	if _, err := s.store.CompleteCapture(ctx, store.CompleteCaptureParams{
		BookingID:             p.BookingID,
		ChefID:                details.Booking.ChefID,
		StripePaymentIntentID: piID,
		Amount:                amount,
		ApplicationFee:        fee,
	}); errors.Is(err, store.ErrCaptureNotClaimed) {
		s.logger.Warn("payments: capture completed elsewhere", "payment_intent_id", piID)
	} else if err != nil {
		// Stripe holds the money at this point; charge.succeeded still marks
		// the booking paid.
		s.logger.Error("payments: record capture", "payment_intent_id", piID, "booking_id", p.BookingID, "error", err)
		return CaptureResult{}, fmt.Errorf("payments: record capture: %w", err)
	}

	s.writeLog(ctx, p.BookingID, paymentLog{
		Action: "payment_captured",
		Amount: amount,
		Metadata: map[string]any{
			"payment_intent_id":      piID,
			"application_fee_amount": fee,
		},
	})
	s.publish(ctx, events.Event{
		Type:            events.PaymentCaptured,
		BookingID:       p.BookingID,
		PaymentIntentID: piID,
		Amount:          amount,
		Status:          stripeinternal.StatusSucceeded,
	})

	return CaptureResult{
		BookingID:       p.BookingID,
		PaymentIntentID: piID,
		Status:          stripeinternal.StatusSucceeded,
		Amount:          amount,
		ApplicationFee:  fee,
		ChefPayout:      amount - fee,
	}, nil
}

// checkParticipant returns ErrNotOwner unless actor is the booking's
// customer or chef.
func (s *Service) checkParticipant(ctx context.Context, bookingID, actor uuid.UUID) error {
	b, err := s.q.GetBookingByID(ctx, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	if err != nil {
		return fmt.Errorf("payments: get booking: %w", err)
	}
	if actor != b.UserID && actor != b.ChefID {
		return fmt.Errorf("%w: booking %s", ErrNotOwner, bookingID)
	}
	return nil
}

// statusCapturing is the local claim state between requires_capture and
// succeeded. Stripe never reports it.
const statusCapturing = "capturing"

func alreadyCaptured(intent db.PaymentIntent) CaptureResult {
	return CaptureResult{
		BookingID:       intent.BookingID,
		PaymentIntentID: intent.StripePaymentIntentID,
		Status:          intent.Status,
		Amount:          intent.Amount,
		ApplicationFee:  intent.ServiceFeeAmount,
		ChefPayout:      intent.Amount - intent.ServiceFeeAmount,
		AlreadyCaptured: true,
	}
}
