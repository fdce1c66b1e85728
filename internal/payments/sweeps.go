package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

// Pending payment actions returned by process_pending_payment_actions().
const (
	ActionAuthorize = "authorize"
	ActionCapture   = "capture"
	ActionRefund    = "refund"
)

// pendingLogActions maps a queued action to the booking_payment_logs action
// that requested it.
var pendingLogActions = map[string]string{
	ActionAuthorize: "payment_authorization_requested",
	ActionCapture:   "payment_capture_requested",
	ActionRefund:    "refund_evaluation",
}

// CleanupResult reports one reservation cleanup run.
type CleanupResult struct {
	ExpiredCount int64 `json:"expired_count"`
}

// CleanupExpiredReservations expires stale reservations and reports how many
// expired within the lookback window.
func (s *Service) CleanupExpiredReservations(ctx context.Context) (CleanupResult, error) {
	if err := s.q.CleanupExpiredReservations(ctx); err != nil {
		return CleanupResult{}, fmt.Errorf("payments: cleanup expired reservations: %w", err)
	}
	since := s.opts.Now().Add(-s.opts.ExpiredLookback)
	n, err := s.q.CountRecentlyExpiredReservations(ctx, since)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("payments: count expired reservations: %w", err)
	}

	s.systemLog(ctx, "info", "reservation_cleanup", "expired reservations cleaned up", map[string]any{
		"expired_count": n,
		"since":         since.UTC(),
	})
	if n > 0 {
		s.logger.Info("payments: expired reservations cleaned up", "count", n)
	}
	return CleanupResult{ExpiredCount: n}, nil
}

// ActionError is one queued action that failed.
type ActionError struct {
	BookingID uuid.UUID `json:"booking_id"`
	Action    string    `json:"action"`
	Error     string    `json:"error"`
}

// ActionsResult reports one payment-actions run.
type ActionsResult struct {
	Processed    int           `json:"processed"`
	AutoCaptured int           `json:"auto_captured"`
	Errors       []ActionError `json:"errors"`
}

// ProcessActions runs the queued payment actions, then captures bookings that
// were completed more than AutoCaptureAfter ago and are still authorized.
// A failing action is reported in the result and does not stop the run.
func (s *Service) ProcessActions(ctx context.Context) (ActionsResult, error) {
	res := ActionsResult{Errors: []ActionError{}}

	actions, err := s.q.ProcessPendingPaymentActions(ctx)
	if err != nil {
		return res, fmt.Errorf("payments: read pending payment actions: %w", err)
	}
	for _, a := range actions {
		if err := s.runAction(ctx, a); err != nil {
			s.logger.Error("payments: pending action failed", "booking_id", a.BookingID, "action", a.Action, "error", err)
			res.Errors = append(res.Errors, ActionError{BookingID: a.BookingID, Action: a.Action, Error: err.Error()})
			continue
		}
		res.Processed++
	}

	n, errs := s.autoCapture(ctx)
	res.AutoCaptured = n
	res.Errors = append(res.Errors, errs...)
	return res, nil
}

func (s *Service) runAction(ctx context.Context, a db.PendingPaymentAction) error {
	var err error
	switch a.Action {
	case ActionAuthorize:
		_, err = s.AuthorizeBooking(ctx, AuthorizeBookingParams{BookingID: a.BookingID})
	case ActionCapture:
		_, err = s.Capture(ctx, CaptureParams{BookingID: a.BookingID, ActualAmount: a.TotalAmount + a.TipAmount})
	case ActionRefund:
		_, err = s.Refund(ctx, RefundParams{
			BookingID:   a.BookingID,
			CancelledBy: policy.ByUser,
			Reason:      "requested_by_customer",
		})
	default:
		return fmt.Errorf("unknown action %q", a.Action)
	}
	if err != nil {
		return err
	}
	if err := s.q.CompletePendingPaymentLogs(ctx, a.BookingID, []string{pendingLogActions[a.Action]}); err != nil {
		return fmt.Errorf("complete pending logs: %w", err)
	}
	return nil
}

func (s *Service) autoCapture(ctx context.Context) (int, []ActionError) {
	bookings, err := s.q.ListBookingsToAutoCapture(ctx, db.ListBookingsToAutoCaptureParams{
		CompletedBefore: s.opts.Now().Add(-s.opts.AutoCaptureAfter),
		Limit:           s.opts.AutoCaptureBatch,
	})
	if err != nil {
		s.logger.Error("payments: list bookings to auto-capture", "error", err)
		return 0, []ActionError{{Action: "auto_capture", Error: err.Error()}}
	}

	var (
		captured int
		errs     []ActionError
	)
	for _, b := range bookings {
		res, err := s.Capture(ctx, CaptureParams{BookingID: b.ID})
		if err != nil {
			s.logger.Error("payments: auto-capture failed", "booking_id", b.ID, "error", err)
			errs = append(errs, ActionError{BookingID: b.ID, Action: "auto_capture", Error: err.Error()})
			continue
		}
		if res.AlreadyCaptured {
			continue
		}
		captured++
		s.writeLog(ctx, b.ID, paymentLog{
			Action: "auto_capture_completed",
			Status: "completed",
			Amount: res.Amount,
			Metadata: map[string]any{
				"trigger":           "24_hour_auto_capture",
				"payment_intent_id": res.PaymentIntentID,
			},
		})
	}
	return captured, errs
}
