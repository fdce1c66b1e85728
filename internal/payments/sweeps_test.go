package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

func TestCleanupExpiredReservations(t *testing.T) {
	f := newFixture(t)
	f.q.expiredCount = 3

	res, err := f.svc.CleanupExpiredReservations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.ExpiredCount)
	assert.Equal(t, 1, f.q.cleanupCalls)
	require.Len(t, f.q.systemLogs, 1)
	assert.Equal(t, "reservation_cleanup", f.q.systemLogs[0].Source)
}

func TestProcessActions(t *testing.T) {
	f := newFixture(t)
	capture := f.addBooking(-3, stripeinternal.StatusRequiresCapture)
	refund := f.addBooking(72, stripeinternal.StatusSucceeded)
	auto := f.addBooking(-30, stripeinternal.StatusRequiresCapture)

	f.q.pending = []db.PendingPaymentAction{
		{BookingID: capture.Booking.ID, Action: ActionCapture, TotalAmount: 90000, TipAmount: 5000},
		{BookingID: refund.Booking.ID, Action: ActionRefund},
		{BookingID: capture.Booking.ID, Action: "teleport"},
	}
	f.q.autoCapture = []db.Booking{auto.Booking}

	res, err := f.svc.ProcessActions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.AutoCaptured)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "teleport", res.Errors[0].Action)

	// Capture takes the booking total plus tip.
	require.Len(t, f.stripe.captures, 2)
	assert.Equal(t, int64(95000), f.stripe.captures[0].Amount)
	assert.Equal(t, []string{"payment_capture_requested"}, f.q.completed[capture.Booking.ID])

	// Queued refunds are customer requests under the tiered policy.
	require.Len(t, f.stripe.refunds, 1)
	assert.Equal(t, int64(100000), f.stripe.refunds[0].Amount)
	assert.Equal(t, "user", f.q.finished[0].CancelledBy.String)
	assert.Equal(t, []string{"refund_evaluation"}, f.q.completed[refund.Booking.ID])

	assert.Equal(t, testNow.Add(-24*time.Hour), f.q.autoCaptureQuery.CompletedBefore)
	assert.Equal(t, int32(10), f.q.autoCaptureQuery.Limit)
	assert.Contains(t, f.q.logKinds(), "auto_capture_completed")
}
