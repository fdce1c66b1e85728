package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
)

// ErrCaptureNotClaimed is returned when the payment intent is not in the
// capturing state, i.e. nobody holds the capture claim this call would finish.
var ErrCaptureNotClaimed = errors.New("store: payment intent capture not claimed")

// CompleteCaptureParams describes a capture the processor has accepted.
type CompleteCaptureParams struct {
	BookingID             uuid.UUID
	ChefID                uuid.UUID
	StripePaymentIntentID string
	// Amount is what was captured, in øre.
	Amount int64
	// ApplicationFee is the platform's cut of Amount.
	ApplicationFee int64
}

// CaptureResult holds the rows written by CompleteCapture.
type CaptureResult struct {
	Intent  db.PaymentIntent
	Booking db.Booking
}

// CompleteCapture records a successful capture: the payment intent moves from
// capturing to succeeded, the chef's payout row is inserted, and the booking
// becomes completed. The three writes commit or roll back together.
//
// A booking that is already marked succeeded (e.g. by charge.succeeded
// arriving first) is not an error; its current row is returned.
func (s *Store) CompleteCapture(ctx context.Context, p CompleteCaptureParams) (CaptureResult, error) {
	var res CaptureResult

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		intent, err := q.CompletePaymentIntentCapture(ctx, db.CompletePaymentIntentCaptureParams{
			StripePaymentIntentID: p.StripePaymentIntentID,
			Amount:                p.Amount,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCaptureNotClaimed
		}
		if err != nil {
			return fmt.Errorf("CompleteCapture: complete intent: %w", err)
		}
		res.Intent = intent

		if err := q.CreateChefPayout(ctx, db.CreateChefPayoutParams{
			ChefID:          p.ChefID,
			BookingID:       p.BookingID,
			PaymentIntentID: p.StripePaymentIntentID,
			Amount:          p.Amount - p.ApplicationFee,
		}); err != nil {
			return fmt.Errorf("CompleteCapture: create payout: %w", err)
		}

		booking, err := q.CompleteBookingCapture(ctx, db.CompleteBookingCaptureParams{
			ID:          p.BookingID,
			TotalAmount: p.Amount,
		})
		if errors.Is(err, sql.ErrNoRows) {
			booking, err = q.GetBookingByID(ctx, p.BookingID)
		}
		if err != nil {
			return fmt.Errorf("CompleteCapture: complete booking: %w", err)
		}
		res.Booking = booking
		return nil
	})
	if err != nil {
		return CaptureResult{}, err
	}
	return res, nil
}
