package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const bookingColumns = `id, user_id, chef_id, date, start_time::text, end_time::text, number_of_guests,
       address, notes, total_amount, tip_amount, status, payment_status, stripe_payment_intent_id,
       refund_status, refunded_amount, cancelled_by, cancellation_reason, cancelled_at,
       payment_reserved_at, payment_captured_at, receipt_sent_count, last_receipt_sent_at,
       refund_attempts, confirmation_notified_at, created_at, updated_at`

func scanBooking(row scanner, i *Booking) error {
	return row.Scan(
		&i.ID,
		&i.UserID,
		&i.ChefID,
		&i.Date,
		&i.StartTime,
		&i.EndTime,
		&i.NumberOfGuests,
		&i.Address,
		&i.Notes,
		&i.TotalAmount,
		&i.TipAmount,
		&i.Status,
		&i.PaymentStatus,
		&i.StripePaymentIntentID,
		&i.RefundStatus,
		&i.RefundedAmount,
		&i.CancelledBy,
		&i.CancellationReason,
		&i.CancelledAt,
		&i.PaymentReservedAt,
		&i.PaymentCapturedAt,
		&i.ReceiptSentCount,
		&i.LastReceiptSentAt,
		&i.RefundAttempts,
		&i.ConfirmationNotifiedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const getBookingByID = `-- name: GetBookingByID :one
SELECT ` + bookingColumns + `
FROM bookings
WHERE id = $1
`

func (q *Queries) GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error) {
	row := q.db.QueryRowContext(ctx, getBookingByID, id)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const getBookingByPaymentIntent = `-- name: GetBookingByPaymentIntent :one
SELECT ` + bookingColumns + `
FROM bookings
WHERE stripe_payment_intent_id = $1
LIMIT 1
`

func (q *Queries) GetBookingByPaymentIntent(ctx context.Context, stripePaymentIntentID string) (Booking, error) {
	row := q.db.QueryRowContext(ctx, getBookingByPaymentIntent, stripePaymentIntentID)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const getBookingDetails = `-- name: GetBookingDetails :one
SELECT b.id, b.user_id, b.chef_id, b.date, b.start_time::text, b.end_time::text, b.number_of_guests,
       b.address, b.notes, b.total_amount, b.tip_amount, b.status, b.payment_status,
       b.stripe_payment_intent_id, b.refund_status, b.refunded_amount, b.cancelled_by,
       b.cancellation_reason, b.cancelled_at, b.payment_reserved_at, b.payment_captured_at,
       b.receipt_sent_count, b.last_receipt_sent_at, b.refund_attempts, b.confirmation_notified_at,
       b.created_at, b.updated_at,
       u.first_name, u.last_name, u.email,
       cp.first_name, cp.last_name, cp.email,
       c.stripe_account_id, c.is_vat_registered, c.vat_number
FROM bookings b
JOIN profiles u  ON u.id = b.user_id
JOIN chefs c     ON c.id = b.chef_id
JOIN profiles cp ON cp.id = c.id
WHERE b.id = $1
`

type GetBookingDetailsRow struct {
	Booking             Booking
	UserFirstName       string
	UserLastName        string
	UserEmail           string
	ChefFirstName       string
	ChefLastName        string
	ChefEmail           string
	ChefStripeAccountID sql.NullString
	ChefVatRegistered   bool
	ChefVatNumber       sql.NullString
}

func (q *Queries) GetBookingDetails(ctx context.Context, id uuid.UUID) (GetBookingDetailsRow, error) {
	row := q.db.QueryRowContext(ctx, getBookingDetails, id)
	var i GetBookingDetailsRow
	b := &i.Booking
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.ChefID,
		&b.Date,
		&b.StartTime,
		&b.EndTime,
		&b.NumberOfGuests,
		&b.Address,
		&b.Notes,
		&b.TotalAmount,
		&b.TipAmount,
		&b.Status,
		&b.PaymentStatus,
		&b.StripePaymentIntentID,
		&b.RefundStatus,
		&b.RefundedAmount,
		&b.CancelledBy,
		&b.CancellationReason,
		&b.CancelledAt,
		&b.PaymentReservedAt,
		&b.PaymentCapturedAt,
		&b.ReceiptSentCount,
		&b.LastReceiptSentAt,
		&b.RefundAttempts,
		&b.ConfirmationNotifiedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
		&i.UserFirstName,
		&i.UserLastName,
		&i.UserEmail,
		&i.ChefFirstName,
		&i.ChefLastName,
		&i.ChefEmail,
		&i.ChefStripeAccountID,
		&i.ChefVatRegistered,
		&i.ChefVatNumber,
	)
	return i, err
}

const setBookingPaymentIntent = `-- name: SetBookingPaymentIntent :one
UPDATE bookings
SET payment_status           = 'pending',
    stripe_payment_intent_id = $2,
    updated_at               = now()
WHERE id = $1
  AND (stripe_payment_intent_id IS NULL OR stripe_payment_intent_id = $2)
RETURNING ` + bookingColumns

type SetBookingPaymentIntentParams struct {
	ID                    uuid.UUID
	StripePaymentIntentID string
}

func (q *Queries) SetBookingPaymentIntent(ctx context.Context, arg SetBookingPaymentIntentParams) (Booking, error) {
	row := q.db.QueryRowContext(ctx, setBookingPaymentIntent, arg.ID, arg.StripePaymentIntentID)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const transitionBookingPaymentStatus = `-- name: TransitionBookingPaymentStatus :one
UPDATE bookings
SET payment_status           = $3,
    status                   = COALESCE($4, status),
    stripe_payment_intent_id = COALESCE($5, stripe_payment_intent_id),
    payment_reserved_at      = CASE WHEN $3 = 'authorized' THEN now() ELSE payment_reserved_at END,
    updated_at               = now()
WHERE id = $1
  AND payment_status = ANY($2::text[])
RETURNING ` + bookingColumns

type TransitionBookingPaymentStatusParams struct {
	ID                    uuid.UUID
	FromStatuses          []string
	ToStatus              string
	BookingStatus         sql.NullString
	StripePaymentIntentID sql.NullString
}

// TransitionBookingPaymentStatus moves payment_status to ToStatus only when it
// currently holds one of FromStatuses. sql.ErrNoRows means the booking was
// already moved by someone else.
func (q *Queries) TransitionBookingPaymentStatus(ctx context.Context, arg TransitionBookingPaymentStatusParams) (Booking, error) {
	row := q.db.QueryRowContext(ctx, transitionBookingPaymentStatus,
		arg.ID,
		pq.Array(arg.FromStatuses),
		arg.ToStatus,
		arg.BookingStatus,
		arg.StripePaymentIntentID,
	)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const markBookingPaymentSucceededByIntent = `-- name: MarkBookingPaymentSucceededByIntent :execrows
UPDATE bookings
SET payment_status      = 'succeeded',
    payment_captured_at = now(),
    updated_at          = now()
WHERE stripe_payment_intent_id = $1
  AND payment_status NOT IN ('succeeded', 'refunded', 'partially_refunded')
`

func (q *Queries) MarkBookingPaymentSucceededByIntent(ctx context.Context, stripePaymentIntentID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markBookingPaymentSucceededByIntent, stripePaymentIntentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markBookingRefundedByIntent = `-- name: MarkBookingRefundedByIntent :execrows
UPDATE bookings
SET status         = 'refunded',
    payment_status = 'refunded',
    updated_at     = now()
WHERE stripe_payment_intent_id = $1
  AND payment_status <> 'refunded'
`

func (q *Queries) MarkBookingRefundedByIntent(ctx context.Context, stripePaymentIntentID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, markBookingRefundedByIntent, stripePaymentIntentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const completeBookingCapture = `-- name: CompleteBookingCapture :one
UPDATE bookings
SET status              = 'completed',
    payment_status      = 'succeeded',
    total_amount        = $2,
    payment_captured_at = now(),
    updated_at          = now()
WHERE id = $1
  AND payment_status <> 'succeeded'
RETURNING ` + bookingColumns

type CompleteBookingCaptureParams struct {
	ID          uuid.UUID
	TotalAmount int64
}

func (q *Queries) CompleteBookingCapture(ctx context.Context, arg CompleteBookingCaptureParams) (Booking, error) {
	row := q.db.QueryRowContext(ctx, completeBookingCapture, arg.ID, arg.TotalAmount)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const claimBookingRefund = `-- name: ClaimBookingRefund :one
UPDATE bookings
SET refund_status   = 'processing',
    refund_attempts = refund_attempts + CASE WHEN refund_status = 'failed' THEN 1 ELSE 0 END,
    updated_at      = now()
WHERE id = $1
  AND status NOT IN ('cancelled', 'refunded')
  AND refund_status NOT IN ('processed', 'processing')
RETURNING ` + bookingColumns

// ClaimBookingRefund marks the booking as having a refund in flight. Only one
// caller can hold the claim; everyone else gets sql.ErrNoRows. Claiming after
// a definite failure starts a new attempt, so the returned RefundAttempts
// changes; claiming after a released retryable failure keeps it.
func (q *Queries) ClaimBookingRefund(ctx context.Context, id uuid.UUID) (Booking, error) {
	row := q.db.QueryRowContext(ctx, claimBookingRefund, id)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const finishBookingRefund = `-- name: FinishBookingRefund :one
UPDATE bookings
SET status              = 'cancelled',
    payment_status      = $2,
    refund_status       = $3,
    refunded_amount     = $4,
    cancelled_by        = $5,
    cancellation_reason = $6,
    cancelled_at        = now(),
    updated_at          = now()
WHERE id = $1
  AND refund_status = 'processing'
RETURNING ` + bookingColumns

type FinishBookingRefundParams struct {
	ID                 uuid.UUID
	PaymentStatus      string
	RefundStatus       string
	RefundedAmount     int64
	CancelledBy        sql.NullString
	CancellationReason sql.NullString
}

func (q *Queries) FinishBookingRefund(ctx context.Context, arg FinishBookingRefundParams) (Booking, error) {
	row := q.db.QueryRowContext(ctx, finishBookingRefund,
		arg.ID,
		arg.PaymentStatus,
		arg.RefundStatus,
		arg.RefundedAmount,
		arg.CancelledBy,
		arg.CancellationReason,
	)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const releaseBookingRefund = `-- name: ReleaseBookingRefund :one
UPDATE bookings
SET refund_status = $2,
    updated_at    = now()
WHERE id = $1
  AND refund_status = 'processing'
RETURNING ` + bookingColumns

type ReleaseBookingRefundParams struct {
	ID           uuid.UUID
	RefundStatus string
}

func (q *Queries) ReleaseBookingRefund(ctx context.Context, arg ReleaseBookingRefundParams) (Booking, error) {
	row := q.db.QueryRowContext(ctx, releaseBookingRefund, arg.ID, arg.RefundStatus)
	var i Booking
	err := scanBooking(row, &i)
	return i, err
}

const claimReceiptSend = `-- name: ClaimReceiptSend :one
UPDATE bookings
SET receipt_sent_count   = receipt_sent_count + 1,
    last_receipt_sent_at = now()
WHERE id = $1
  AND receipt_sent_count < $2
RETURNING receipt_sent_count
`

type ClaimReceiptSendParams struct {
	ID       uuid.UUID
	MaxSends int32
}

func (q *Queries) ClaimReceiptSend(ctx context.Context, arg ClaimReceiptSendParams) (int32, error) {
	row := q.db.QueryRowContext(ctx, claimReceiptSend, arg.ID, arg.MaxSends)
	var receipt_sent_count int32
	err := row.Scan(&receipt_sent_count)
	return receipt_sent_count, err
}

const releaseReceiptSend = `-- name: ReleaseReceiptSend :exec
UPDATE bookings
SET receipt_sent_count = GREATEST(receipt_sent_count - 1, 0)
WHERE id = $1
`

func (q *Queries) ReleaseReceiptSend(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, releaseReceiptSend, id)
	return err
}

const listBookingsToAutoCapture = `-- name: ListBookingsToAutoCapture :many
SELECT ` + bookingColumns + `
FROM bookings
WHERE status = 'completed'
  AND payment_status = 'authorized'
  AND updated_at < $1
ORDER BY updated_at
LIMIT $2
`

type ListBookingsToAutoCaptureParams struct {
	CompletedBefore time.Time
	Limit           int32
}

func (q *Queries) ListBookingsToAutoCapture(ctx context.Context, arg ListBookingsToAutoCaptureParams) ([]Booking, error) {
	rows, err := q.db.QueryContext(ctx, listBookingsToAutoCapture, arg.CompletedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Booking
	for rows.Next() {
		var i Booking
		if err := scanBooking(rows, &i); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const claimBookingConfirmation = `-- name: ClaimBookingConfirmation :execrows
UPDATE bookings
SET confirmation_notified_at = now(),
    updated_at               = now()
WHERE id = $1
  AND confirmation_notified_at IS NULL
`

// ClaimBookingConfirmation records that the booking confirmation went out.
// It affects one row only for the first caller.
func (q *Queries) ClaimBookingConfirmation(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, claimBookingConfirmation, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
