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
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	"github.com/nyashahama/dinnerhelp-backend/internal/push"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
)

// Booking refund statuses.
const (
	RefundNone       = "none"
	RefundProcessing = "processing"
	RefundProcessed  = "processed"
	RefundFailed     = "failed"
)

// RefundParams describes a cancellation.
type RefundParams struct {
	BookingID uuid.UUID
	// Actor is the user making the request. uuid.Nil means a backend caller,
	// which may cancel on behalf of any party and override the amount. A user
	// cancels as the booking's customer or chef, whichever they are.
	Actor uuid.UUID
	// CancelledBy, when set, must match the party Actor resolves to. It
	// defaults to the customer for backend callers.
	CancelledBy policy.CancelledBy
	Reason      string
	// Amount replaces the policy's refund amount when positive. It is still
	// checked against what the payment holds.
	Amount int64
}

// RefundResult reports a cancellation. AlreadyProcessed is set when another
// call holds or finished the refund; nothing was done by this one.
type RefundResult struct {
	BookingID        uuid.UUID `json:"booking_id"`
	Refunded         bool      `json:"refunded"`
	RefundAmount     int64     `json:"refund_amount"`
	FeeRetained      int64     `json:"fee_retained"`
	RefundID         string    `json:"refund_id,omitempty"`
	Policy           string    `json:"policy,omitempty"`
	Message          string    `json:"message"`
	AlreadyProcessed bool      `json:"already_processed,omitempty"`
}

// Refund cancels a booking under the payment refund policy.
func (s *Service) Refund(ctx context.Context, p RefundParams) (RefundResult, error) {
	return s.cancel(ctx, "refund", s.opts.PaymentPolicy, p)
}

// CancelBooking cancels a booking under the booking cancellation policy.
func (s *Service) CancelBooking(ctx context.Context, p RefundParams) (RefundResult, error) {
	return s.cancel(ctx, "cancel", s.opts.BookingPolicy, p)
}

// cancel decides the refund, claims the booking, moves the money and records
// the outcome.
//
// A definite Stripe failure leaves refund_status=failed, and the next claim
// starts a new attempt with new idempotency keys. A retryable failure
// (timeout, 5xx) returns the claim within the same attempt, so a retry reuses
// the keys and cannot pay out twice.
func (s *Service) cancel(ctx context.Context, op string, pol policy.Policy, p RefundParams) (_ RefundResult, err error) {
	ctx, span := telemetry.Start(ctx, "payments."+op,
		attribute.String("booking.id", p.BookingID.String()),
		attribute.String("refund.policy", pol.Name()),
	)
	defer func() {
		metrics.PaymentOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
		telemetry.End(span, err)
	}()

	booking, err := s.q.GetBookingByID(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return RefundResult{}, fmt.Errorf("%w: booking %s", ErrNotFound, p.BookingID)
	}
	if err != nil {
		return RefundResult{}, fmt.Errorf("payments: get booking: %w", err)
	}

	by, err := cancellingParty(booking, p)
	if err != nil {
		return RefundResult{}, err
	}
	p.CancelledBy = by
	span.SetAttributes(attribute.String("refund.cancelled_by", string(by)))

	if booking.Status == "cancelled" || booking.Status == "refunded" || booking.RefundStatus == RefundProcessed {
		return RefundResult{}, ErrAlreadyCancelled
	}

	intent, err := s.q.GetPaymentIntentByBooking(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && intent.StripePaymentIntentID == "") {
		return RefundResult{}, ErrNoPayment
	}
	if err != nil {
		return RefundResult{}, fmt.Errorf("payments: get payment intent: %w", err)
	}

	start, err := policy.ServiceStart(booking.Date, booking.StartTime, s.opts.Location)
	if err != nil {
		return RefundResult{}, fmt.Errorf("payments: booking start: %w", err)
	}
	hours := policy.HoursUntil(start, s.opts.Now())

	decision := pol.Decide(policy.Request{
		CancelledBy:       p.CancelledBy,
		Reason:            p.Reason,
		HoursUntilService: hours,
		OriginalAmount:    intent.Amount,
	})
	if p.Amount > 0 {
		decision = policy.Decision{
			RefundAmount: p.Amount,
			FeeRetained:  intent.Amount - p.Amount,
			Description:  "Partial refund.",
		}
	}
	if err := policy.ValidateRefundAmount(decision.RefundAmount, intent.Amount, intent.RefundedAmount); err != nil {
		return RefundResult{}, fmt.Errorf("payments: %w", err)
	}

	claimed, err := s.q.ClaimBookingRefund(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return RefundResult{
			BookingID:        p.BookingID,
			Policy:           pol.Name(),
			Message:          "Refund already in progress or processed",
			AlreadyProcessed: true,
		}, nil
	}
	if err != nil {
		return RefundResult{}, fmt.Errorf("payments: claim refund: %w", err)
	}

	out, err := s.settle(ctx, booking, intent, decision, p, claimed.RefundAttempts)
	if err != nil {
		// A retryable failure may have reached Stripe, so the next claim must
		// keep this attempt's keys; only a failed claim starts a new attempt.
		release := RefundFailed
		if stripeinternal.IsRetryable(err) {
			release = booking.RefundStatus
			if release == RefundFailed {
				release = RefundNone
			}
		}
		if _, rErr := s.q.ReleaseBookingRefund(ctx, db.ReleaseBookingRefundParams{
			ID:           p.BookingID,
			RefundStatus: release,
		}); rErr != nil {
			s.logger.Error("payments: release refund claim", "booking_id", p.BookingID, "error", rErr)
		}
		if release == RefundFailed {
			s.writeLog(ctx, p.BookingID, paymentLog{
				LogType:     "refund_failed",
				Status:      "failed",
				Amount:      decision.RefundAmount,
				Description: err.Error(),
			})
		}
		return RefundResult{}, fmt.Errorf("payments: process refund: %w", err)
	}

	refundStatus := RefundNone
	if decision.RefundAmount > 0 {
		refundStatus = RefundProcessed
	}
	refundedTotal := intent.RefundedAmount + decision.RefundAmount
	if _, err := s.q.FinishBookingRefund(ctx, db.FinishBookingRefundParams{
		ID:                 p.BookingID,
		PaymentStatus:      out.paymentStatus,
		RefundStatus:       refundStatus,
		RefundedAmount:     refundedTotal,
		CancelledBy:        nullString(string(p.CancelledBy)),
		CancellationReason: nullString(p.Reason),
	}); err != nil {
		s.logger.Error("payments: finish refund", "booking_id", p.BookingID, "refund_id", out.refundID, "error", err)
		return RefundResult{}, fmt.Errorf("payments: finish refund: %w", err)
	}
	if err := s.q.MarkPaymentIntentRefunded(ctx, db.MarkPaymentIntentRefundedParams{
		StripePaymentIntentID: intent.StripePaymentIntentID,
		Status:                out.intentStatus,
		RefundedAmount:        refundedTotal,
	}); err != nil {
		s.logger.Error("payments: mark intent refunded", "payment_intent_id", intent.StripePaymentIntentID, "error", err)
	}

	refunded := decision.RefundAmount > 0
	logType, desc := "cancellation_no_refund",
		fmt.Sprintf("Booking cancelled by %s. No refund. %s", p.CancelledBy, decision.Description)
	if refunded {
		logType = "refund_processed"
		desc = fmt.Sprintf("Booking cancelled by %s. Refund of %s DKK processed. %s",
			p.CancelledBy, notify.FormatKr(decision.RefundAmount), decision.Description)
	}
	s.writeLog(ctx, p.BookingID, paymentLog{
		LogType:     logType,
		Amount:      decision.RefundAmount,
		Description: desc,
		Metadata: map[string]any{
			"cancelled_by":        string(p.CancelledBy),
			"reason":              p.Reason,
			"hours_until_service": hours,
			"refund_id":           out.refundID,
			"fee_retained":        decision.FeeRetained,
			"policy":              pol.Name(),
		},
	})

	if refunded {
		s.publish(ctx, events.Event{
			Type:            events.PaymentRefunded,
			BookingID:       p.BookingID,
			PaymentIntentID: intent.StripePaymentIntentID,
			Amount:          decision.RefundAmount,
			Status:          out.paymentStatus,
		})
	}
	s.publish(ctx, events.Event{
		Type:            events.BookingCancelled,
		BookingID:       p.BookingID,
		PaymentIntentID: intent.StripePaymentIntentID,
		Amount:          decision.RefundAmount,
		Status:          "cancelled",
		Data: map[string]any{
			"cancelled_by": string(p.CancelledBy),
			"fee_retained": decision.FeeRetained,
		},
	})

	s.notifyCancellation(ctx, booking, p.CancelledBy, decision.RefundAmount)

	msg := "Booking cancelled. No refund due to cancellation policy."
	if refunded {
		msg = fmt.Sprintf("Refund of %s DKK has been processed", notify.FormatKr(decision.RefundAmount))
	}
	return RefundResult{
		BookingID:    p.BookingID,
		Refunded:     refunded,
		RefundAmount: decision.RefundAmount,
		FeeRetained:  decision.FeeRetained,
		RefundID:     out.refundID,
		Policy:       pol.Name(),
		Message:      msg,
	}, nil
}

type settlement struct {
	refundID      string
	paymentStatus string
	intentStatus  string
}

// settle moves the money for a decision. A captured payment is refunded. An
// uncaptured authorization is released in full, or captured for just the
// retained part. attempt scopes the idempotency keys, so a retry after a
// definite failure is a new request to Stripe.
func (s *Service) settle(ctx context.Context, b db.Booking, intent db.PaymentIntent, d policy.Decision, p RefundParams, attempt int32) (settlement, error) {
	piID := intent.StripePaymentIntentID

	if intent.Status == stripeinternal.StatusSucceeded || intent.CapturedAt.Valid {
		if d.RefundAmount == 0 {
			return settlement{paymentStatus: b.PaymentStatus, intentStatus: intent.Status}, nil
		}
		reason := p.Reason
		if reason == "" {
			reason = "No reason provided"
		}
		refund, err := s.stripe.CreateRefund(ctx, stripeinternal.CreateRefundParams{
			PaymentIntentID: piID,
			Amount:          d.RefundAmount,
			Reason:          policy.ReasonRequestedByCustomer,
			Metadata: map[string]string{
				"booking_id":          b.ID.String(),
				"cancelled_by":        string(p.CancelledBy),
				"cancellation_reason": reason,
			},
			IdempotencyKey: idempotencyKey("refund", b.ID, attempt),
		})
		if err != nil {
			return settlement{}, err
		}
		st := PaymentPartiallyRefunded
		if d.RefundAmount+intent.RefundedAmount >= intent.Amount {
			st = PaymentRefunded
		}
		return settlement{refundID: refund.ID, paymentStatus: st, intentStatus: st}, nil
	}

	switch {
	case intent.Status != stripeinternal.StatusRequiresCapture || d.FeeRetained == 0:
		if intent.Status != stripeinternal.StatusCanceled {
			if _, err := s.stripe.CancelPaymentIntent(ctx, piID, idempotencyKey("pi-cancel", piID, attempt)); err != nil {
				return settlement{}, err
			}
		}
		return settlement{paymentStatus: PaymentCancelled, intentStatus: stripeinternal.StatusCanceled}, nil

	default:
		// A zero refund captures everything; a partial one captures only what
		// the platform and chef keep.
		capture := stripeinternal.CapturePaymentIntentParams{ID: piID}
		kept := intent.Amount
		st := PaymentSucceeded
		if d.RefundAmount > 0 {
			kept = d.FeeRetained
			capture.Amount = d.FeeRetained
			capture.ApplicationFeeAmount = min(intent.ServiceFeeAmount, d.FeeRetained)
			st = PaymentPartiallyRefunded
		}
		capture.IdempotencyKey = idempotencyKey("pi-capture-retained", piID, kept, attempt)
		if _, err := s.stripe.CapturePaymentIntent(ctx, capture); err != nil {
			return settlement{}, err
		}
		return settlement{paymentStatus: st, intentStatus: stripeinternal.StatusSucceeded}, nil
	}
}

// cancellingParty resolves who is cancelling b.
func cancellingParty(b db.Booking, p RefundParams) (policy.CancelledBy, error) {
	if p.Actor == uuid.Nil {
		if p.CancelledBy == "" {
			return policy.ByUser, nil
		}
		return p.CancelledBy, nil
	}
	if p.Amount > 0 {
		return "", fmt.Errorf("%w: only a backend caller can set the refund amount", ErrForbidden)
	}
	var by policy.CancelledBy
	switch p.Actor {
	case b.UserID:
		by = policy.ByUser
	case b.ChefID:
		by = policy.ByChef
	default:
		return "", fmt.Errorf("%w: booking %s", ErrNotOwner, b.ID)
	}
	if p.CancelledBy != "" && p.CancelledBy != by {
		return "", fmt.Errorf("%w: cannot cancel as %s", ErrForbidden, p.CancelledBy)
	}
	return by, nil
}

// notifyCancellation pushes the outcome to the customer, and to the chef when
// the customer cancelled. Push failures never fail the cancellation.
func (s *Service) notifyCancellation(ctx context.Context, b db.Booking, by policy.CancelledBy, refund int64) {
	refunded := refund > 0
	kr := notify.FormatKr(refund)

	var title, content string
	switch by {
	case policy.ByChef:
		title = "Booking Cancelled by Chef"
		content = "Your booking has been cancelled by the chef."
		if refunded {
			content = fmt.Sprintf("Your booking has been cancelled by the chef. A refund of %s kr is being processed.", kr)
		}
	case policy.ByUser:
		title, content = "Booking Cancelled",
			"Your booking has been cancelled. No refund due to cancellation within 48 hours of service."
		if refunded {
			title = "Booking Cancelled - Refund Processing"
			content = fmt.Sprintf("Your cancellation has been confirmed. A refund of %s kr is being processed.", kr)
		}
	default:
		title, content = "Booking Cancelled", "Your booking has been cancelled."
		if refunded {
			content = fmt.Sprintf("Your booking has been cancelled. A refund of %s kr is being processed.", kr)
		}
	}

	link := push.DeepLink(string(notify.TypeBookingCancelled), b.ID.String())
	if _, err := s.notifier.SendPush(ctx, notify.PushRequest{
		UserIDs: []uuid.UUID{b.UserID},
		Title:   title,
		Content: content,
		Data: map[string]any{
			"type":          string(notify.TypeBookingCancelled),
			"booking_id":    b.ID.String(),
			"cancelled_by":  string(by),
			"refunded":      refunded,
			"refund_amount": refund,
		},
		DeepLink: link,
	}); err != nil {
		s.logger.Warn("payments: cancellation push to user", "booking_id", b.ID, "error", err)
	}

	if by != policy.ByUser {
		return
	}
	if _, err := s.notifier.SendPush(ctx, notify.PushRequest{
		UserIDs: []uuid.UUID{b.ChefID},
		Title:   "Booking Cancelled",
		Content: fmt.Sprintf("Your booking for %s at %s has been cancelled by the customer.",
			b.Date.Format("2006-01-02"), b.StartTime),
		Data: map[string]any{
			"type":         string(notify.TypeBookingCancelled),
			"booking_id":   b.ID.String(),
			"cancelled_by": string(policy.ByUser),
		},
		DeepLink: link,
	}); err != nil {
		s.logger.Warn("payments: cancellation push to chef", "booking_id", b.ID, "error", err)
	}
}
