package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

func TestCaptureAuthorizedBooking(t *testing.T) {
	f := newFixture(t)
	d := f.addBooking(2, stripeinternal.StatusRequiresCapture)
	piID := f.intent(d.Booking.ID).StripePaymentIntentID

	res, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
	require.NoError(t, err)

	assert.Equal(t, CaptureResult{
		BookingID:       d.Booking.ID,
		PaymentIntentID: piID,
		Status:          stripeinternal.StatusSucceeded,
		Amount:          100000,
		ApplicationFee:  12000,
		ChefPayout:      88000,
	}, res)

	require.Len(t, f.stripe.captures, 1)
	assert.Equal(t, "pi-capture-"+piID+"-100000", f.stripe.captures[0].IdempotencyKey)
	assert.Equal(t, int64(12000), f.stripe.captures[0].ApplicationFeeAmount)

	require.Len(t, f.store.captures, 1)
	assert.Equal(t, store.CompleteCaptureParams{
		BookingID:             d.Booking.ID,
		ChefID:                d.Booking.ChefID,
		StripePaymentIntentID: piID,
		Amount:                100000,
		ApplicationFee:        12000,
	}, f.store.captures[0])

	assert.Contains(t, f.q.logKinds(), "payment_captured")
	assert.Contains(t, f.events.types(), "payment.captured")
}

func TestCaptureLowerActualAmountRecomputesFee(t *testing.T) {
	f := newFixture(t)
	d := f.addBooking(2, stripeinternal.StatusRequiresCapture)

	res, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID, ActualAmount: 80000})
	require.NoError(t, err)

	split, err := policy.SplitFees(80000, policy.DefaultFeeRates())
	require.NoError(t, err)
	assert.Equal(t, int64(80000), res.Amount)
	assert.Equal(t, split.PlatformRevenue, res.ApplicationFee)
	assert.Equal(t, int64(80000), f.stripe.captures[0].Amount)
}

func TestCaptureRejections(t *testing.T) {
	t.Run("more than authorized", func(t *testing.T) {
		f := newFixture(t)
		d := f.addBooking(2, stripeinternal.StatusRequiresCapture)

		_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID, ActualAmount: 150000})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Empty(t, f.stripe.captures)
	})

	t.Run("negative amount", func(t *testing.T) {
		f := newFixture(t)
		d := f.addBooking(2, stripeinternal.StatusRequiresCapture)

		_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID, ActualAmount: -1})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("not yet authorized", func(t *testing.T) {
		f := newFixture(t)
		d := f.addBooking(2, stripeinternal.StatusRequiresPaymentMethod)

		_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
		assert.ErrorIs(t, err, ErrNotCapturable)
	})

	t.Run("no intent", func(t *testing.T) {
		f := newFixture(t)
		d := f.addBooking(2, "")

		_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
		assert.ErrorIs(t, err, ErrNotCapturable)
	})
}

func TestCaptureTwiceChargesOnce(t *testing.T) {
	f := newFixture(t)
	d := f.addBooking(2, stripeinternal.StatusRequiresCapture)

	_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
	require.NoError(t, err)

	res, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
	require.NoError(t, err)
	assert.True(t, res.AlreadyCaptured)
	assert.Len(t, f.stripe.captures, 1)
}

func TestCaptureRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	d := f.addBooking(2, stripeinternal.StatusRequiresCapture)

	_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID, Actor: uuid.New()})
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.Empty(t, f.stripe.captures)
	assert.Equal(t, stripeinternal.StatusRequiresCapture, f.intent(d.Booking.ID).Status)

	res, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID, Actor: d.Booking.ChefID})
	require.NoError(t, err)
	assert.False(t, res.AlreadyCaptured)
	assert.Len(t, f.stripe.captures, 1)
}

func TestCaptureFailureReleasesClaim(t *testing.T) {
	f := newFixture(t)
	d := f.addBooking(2, stripeinternal.StatusRequiresCapture)
	f.stripe.captureErr = &stripeinternal.APIError{Op: "capture", Status: 402, Message: "card declined"}

	_, err := f.svc.Capture(context.Background(), CaptureParams{BookingID: d.Booking.ID})
	require.Error(t, err)

	pi := f.intent(d.Booking.ID)
	assert.Equal(t, stripeinternal.StatusRequiresCapture, pi.Status)
	assert.Equal(t, "stripe: capture: card declined", pi.LastPaymentError.String)
	assert.Contains(t, f.q.logKinds(), "payment_capture_failed")
	assert.Empty(t, f.store.captures)
}
