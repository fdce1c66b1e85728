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
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
)

// Webhook outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// WebhookResult reports what HandleEvent did with a delivery.
type WebhookResult struct {
	EventID string `json:"event_id"`
	Type    string `json:"event_type"`
	Outcome string `json:"outcome"`
}

// HandleEvent applies a verified Stripe event exactly once.
//
// Delivery ids are checked against the cache first, then by the unique
// stripe_event_id column, which is authoritative. An id is cached only after
// Postgres has recorded it. A failure while applying
// the event is written to system_logs and the event row is marked failed; it
// is not returned, so Stripe does not redeliver. Only a failure to record the
// delivery at all is returned.
func (s *Service) HandleEvent(ctx context.Context, event stripeinternal.Event, payload []byte) (res WebhookResult, err error) {
	ctx, span := telemetry.Start(ctx, "payments.HandleEvent",
		attribute.String("stripe.event_id", event.ID),
		attribute.String("stripe.event_type", event.Type),
	)
	res = WebhookResult{EventID: event.ID, Type: event.Type}
	defer func() {
		outcome := res.Outcome
		if err != nil {
			outcome = metrics.OutcomeError
		}
		metrics.WebhookEvents.WithLabelValues(event.Type, outcome).Inc()
		telemetry.End(span, err)
	}()

	seen, cErr := s.dedup.Seen(ctx, event.ID)
	if cErr != nil {
		s.logger.Warn("payments: webhook dedup cache unavailable", "event_id", event.ID, "error", cErr)
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		return res, nil
	}

	row, err := s.q.InsertStripeEvent(ctx, db.InsertStripeEventParams{
		StripeEventID: event.ID,
		Type:          event.Type,
		Payload:       payload,
	})
	if errors.Is(err, sql.ErrNoRows) {
		s.markSeen(ctx, event.ID)
		res.Outcome = OutcomeDuplicate
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("payments: record webhook event: %w", err)
	}
	s.markSeen(ctx, event.ID)

	handled, applyErr := s.apply(ctx, event)
	if applyErr != nil {
		s.logger.Error("payments: webhook processing failed", "event_id", event.ID, "type", event.Type, "error", applyErr)
		s.systemLog(ctx, "error", "stripe_webhook", "webhook_processing_error", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"error":      applyErr.Error(),
		})
		if mErr := s.q.MarkStripeEventFailed(ctx, row.ID, nullString(applyErr.Error())); mErr != nil {
			s.logger.Error("payments: mark webhook event failed", "event_id", event.ID, "error", mErr)
		}
		res.Outcome = OutcomeFailed
		return res, nil
	}

	if mErr := s.q.MarkStripeEventProcessed(ctx, row.ID); mErr != nil {
		s.logger.Error("payments: mark webhook event processed", "event_id", event.ID, "error", mErr)
	}
	res.Outcome = OutcomeProcessed
	if !handled {
		res.Outcome = OutcomeIgnored
	}
	return res, nil
}

// markSeen caches a recorded event id. The cache only short-circuits
// redeliveries; the event row in Postgres decides what is a duplicate.
func (s *Service) markSeen(ctx context.Context, eventID string) {
	if _, err := s.dedup.Claim(context.WithoutCancel(ctx), eventID, s.opts.DedupTTL); err != nil {
		s.logger.Warn("payments: cache webhook event id", "event_id", eventID, "error", err)
	}
}

// apply dispatches on the event type. handled is false for types the service
// does not act on.
func (s *Service) apply(ctx context.Context, event stripeinternal.Event) (handled bool, err error) {
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.amount_capturable_updated":
		obj, err := stripeinternal.DecodePaymentIntent(event)
		if err != nil {
			return true, err
		}
		return true, s.ApplyIntentAuthorized(ctx, obj)

	case "payment_intent.canceled", "payment_intent.payment_failed":
		obj, err := stripeinternal.DecodePaymentIntent(event)
		if err != nil {
			return true, err
		}
		return true, s.ApplyIntentCancelled(ctx, obj)

	case "charge.succeeded":
		obj, err := stripeinternal.DecodeCharge(event)
		if err != nil {
			return true, err
		}
		return true, s.ApplyChargeSucceeded(ctx, obj)

	case "charge.refunded":
		obj, err := stripeinternal.DecodeCharge(event)
		if err != nil {
			return true, err
		}
		return true, s.ApplyChargeRefunded(ctx, obj)
	}
	s.logger.Debug("payments: unhandled webhook event type", "type", event.Type, "event_id", event.ID)
	return false, nil
}

// ApplyIntentAuthorized converts the reservation behind an authorized or
// captured intent into a booking and mirrors the intent status. The event is
// published by the delivery that moved the stored status; booking
// confirmations go out once per booking, whichever path authorized it.
func (s *Service) ApplyIntentAuthorized(ctx context.Context, obj stripeinternal.PaymentIntentObject) error {
	converted, err := s.q.ConvertReservationToBooking(ctx, obj.ID, obj.Status)
	if err != nil {
		return fmt.Errorf("convert reservation to booking: %w", err)
	}

	var lastErr string
	if obj.LastPaymentError != nil {
		lastErr = obj.LastPaymentError.Message
	}
	intent, err := s.q.UpdatePaymentIntentStatus(ctx, db.UpdatePaymentIntentStatusParams{
		StripePaymentIntentID: obj.ID,
		Status:                obj.Status,
		LastPaymentError:      nullString(lastErr),
		FromStatuses:          intentFromStatuses(obj.Status),
	})
	mirrored := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		mirrored = false
	case err != nil:
		return fmt.Errorf("update payment intent status: %w", err)
	}

	bookingID, err := s.intentBookingID(ctx, obj, converted, intent)
	if err != nil {
		return err
	}
	if bookingID == uuid.Nil {
		return nil
	}

	if mirrored {
		typ := events.PaymentAuthorized
		if obj.Status == stripeinternal.StatusSucceeded {
			typ = events.PaymentCaptured
		}
		s.publish(ctx, events.Event{
			Type:            typ,
			BookingID:       bookingID,
			PaymentIntentID: obj.ID,
			Amount:          obj.Amount,
			Status:          obj.Status,
		})
	}

	n, err := s.q.ClaimBookingConfirmation(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("claim booking confirmation: %w", err)
	}
	if n == 0 {
		return nil
	}
	if _, err := s.notifier.SendBookingNotification(ctx, notify.TriggerBookingConfirmed, bookingID); err != nil {
		s.logger.Warn("payments: booking confirmation notifications", "booking_id", bookingID, "error", err)
	}
	return nil
}

// intentBookingID resolves the booking behind an intent: the converted
// reservation, then the stored intent row, then the intent metadata.
func (s *Service) intentBookingID(ctx context.Context, obj stripeinternal.PaymentIntentObject, converted string, mirrored db.PaymentIntent) (uuid.UUID, error) {
	if id, err := uuid.Parse(converted); err == nil {
		return id, nil
	}
	if mirrored.BookingID != uuid.Nil {
		return mirrored.BookingID, nil
	}
	row, err := s.q.GetPaymentIntentByStripeID(ctx, obj.ID)
	switch {
	case err == nil && row.BookingID != uuid.Nil:
		return row.BookingID, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return uuid.Nil, fmt.Errorf("get payment intent: %w", err)
	}
	id, _ := uuid.Parse(obj.Metadata["booking_id"])
	return id, nil
}

// ApplyIntentCancelled releases the reservation held by a cancelled or failed
// intent.
func (s *Service) ApplyIntentCancelled(ctx context.Context, obj stripeinternal.PaymentIntentObject) error {
	n, err := s.q.CancelReservationByIntent(ctx, obj.ID, obj.Status)
	if err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	if n == 0 {
		return nil
	}
	bookingID, _ := uuid.Parse(obj.Metadata["booking_id"])
	s.publish(ctx, events.Event{
		Type:            events.ReservationCancelled,
		BookingID:       bookingID,
		PaymentIntentID: obj.ID,
		Status:          obj.Status,
	})
	return nil
}

// ApplyChargeSucceeded marks the booking paid.
func (s *Service) ApplyChargeSucceeded(ctx context.Context, obj stripeinternal.ChargeObject) error {
	if _, err := s.q.MarkBookingPaymentSucceededByIntent(ctx, obj.PaymentIntent); err != nil {
		return fmt.Errorf("mark booking paid: %w", err)
	}
	return nil
}

// ApplyChargeRefunded mirrors a refund made on Stripe, including ones issued
// from the dashboard. A partial refund only updates the intent's refunded
// amount; a full one also refunds the booking and closes the reservation.
func (s *Service) ApplyChargeRefunded(ctx context.Context, obj stripeinternal.ChargeObject) error {
	status := PaymentPartiallyRefunded
	if obj.Refunded {
		status = PaymentRefunded
	}
	if err := s.q.MarkPaymentIntentRefunded(ctx, db.MarkPaymentIntentRefundedParams{
		StripePaymentIntentID: obj.PaymentIntent,
		Status:                status,
		RefundedAmount:        obj.AmountRefunded,
	}); err != nil {
		return fmt.Errorf("mark intent refunded: %w", err)
	}
	if !obj.Refunded {
		return nil
	}

	if _, err := s.q.MarkBookingRefundedByIntent(ctx, obj.PaymentIntent); err != nil {
		return fmt.Errorf("mark booking refunded: %w", err)
	}
	if _, err := s.q.CancelReservationByIntent(ctx, obj.PaymentIntent, status); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}
	return nil
}
