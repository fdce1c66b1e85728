package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const paymentIntentColumns = `id, booking_id, chef_stripe_account_id, stripe_payment_intent_id, amount,
       service_fee_amount, vat_amount, refunded_amount, currency, status, capture_method,
       client_secret, reservation_status, last_payment_error, authorized_at, captured_at,
       created_at, updated_at`

func scanPaymentIntent(row scanner, i *PaymentIntent) error {
	return row.Scan(
		&i.ID,
		&i.BookingID,
		&i.ChefStripeAccountID,
		&i.StripePaymentIntentID,
		&i.Amount,
		&i.ServiceFeeAmount,
		&i.VatAmount,
		&i.RefundedAmount,
		&i.Currency,
		&i.Status,
		&i.CaptureMethod,
		&i.ClientSecret,
		&i.ReservationStatus,
		&i.LastPaymentError,
		&i.AuthorizedAt,
		&i.CapturedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const createPaymentIntent = `-- name: CreatePaymentIntent :one
INSERT INTO payment_intents (
    id, booking_id, chef_stripe_account_id, stripe_payment_intent_id, amount,
    service_fee_amount, vat_amount, currency, status, capture_method, client_secret
) VALUES ($1, $2, $3, $1, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (booking_id) DO UPDATE
SET id                       = EXCLUDED.id,
    stripe_payment_intent_id = EXCLUDED.stripe_payment_intent_id,
    amount                   = EXCLUDED.amount,
    service_fee_amount       = EXCLUDED.service_fee_amount,
    vat_amount               = EXCLUDED.vat_amount,
    status                   = EXCLUDED.status,
    client_secret            = EXCLUDED.client_secret,
    reservation_status       = 'active',
    updated_at               = now()
RETURNING ` + paymentIntentColumns

type CreatePaymentIntentParams struct {
	ID                  string
	BookingID           uuid.UUID
	ChefStripeAccountID string
	Amount              int64
	ServiceFeeAmount    int64
	VatAmount           int64
	Currency            string
	Status              string
	CaptureMethod       string
	ClientSecret        sql.NullString
}

func (q *Queries) CreatePaymentIntent(ctx context.Context, arg CreatePaymentIntentParams) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, createPaymentIntent,
		arg.ID,
		arg.BookingID,
		arg.ChefStripeAccountID,
		arg.Amount,
		arg.ServiceFeeAmount,
		arg.VatAmount,
		arg.Currency,
		arg.Status,
		arg.CaptureMethod,
		arg.ClientSecret,
	)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const getPaymentIntentByBooking = `-- name: GetPaymentIntentByBooking :one
SELECT ` + paymentIntentColumns + `
FROM payment_intents
WHERE booking_id = $1
`

func (q *Queries) GetPaymentIntentByBooking(ctx context.Context, bookingID uuid.UUID) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, getPaymentIntentByBooking, bookingID)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const getPaymentIntentByStripeID = `-- name: GetPaymentIntentByStripeID :one
SELECT ` + paymentIntentColumns + `
FROM payment_intents
WHERE stripe_payment_intent_id = $1
`

func (q *Queries) GetPaymentIntentByStripeID(ctx context.Context, stripePaymentIntentID string) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, getPaymentIntentByStripeID, stripePaymentIntentID)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const updatePaymentIntentStatus = `-- name: UpdatePaymentIntentStatus :one
UPDATE payment_intents
SET status             = $2,
    last_payment_error = $3,
    authorized_at      = CASE WHEN $2 = 'requires_capture' THEN COALESCE(authorized_at, now()) ELSE authorized_at END,
    updated_at         = now()
WHERE stripe_payment_intent_id = $1
  AND status = ANY($4::text[])
RETURNING ` + paymentIntentColumns

type UpdatePaymentIntentStatusParams struct {
	StripePaymentIntentID string
	Status                string
	LastPaymentError      sql.NullString
	// FromStatuses lists the statuses the row may move out of.
	FromStatuses []string
}

// UpdatePaymentIntentStatus mirrors the processor status. sql.ErrNoRows means
// the row is not in one of FromStatuses: it already holds the status, is
// further along, or is claimed locally.
func (q *Queries) UpdatePaymentIntentStatus(ctx context.Context, arg UpdatePaymentIntentStatusParams) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, updatePaymentIntentStatus,
		arg.StripePaymentIntentID,
		arg.Status,
		arg.LastPaymentError,
		pq.Array(arg.FromStatuses),
	)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const claimPaymentIntentCapture = `-- name: ClaimPaymentIntentCapture :one
UPDATE payment_intents
SET status     = 'capturing',
    updated_at = now()
WHERE stripe_payment_intent_id = $1
  AND status = 'requires_capture'
RETURNING ` + paymentIntentColumns

func (q *Queries) ClaimPaymentIntentCapture(ctx context.Context, stripePaymentIntentID string) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, claimPaymentIntentCapture, stripePaymentIntentID)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const completePaymentIntentCapture = `-- name: CompletePaymentIntentCapture :one
UPDATE payment_intents
SET status      = 'succeeded',
    amount      = $2,
    captured_at = now(),
    updated_at  = now()
WHERE stripe_payment_intent_id = $1
  AND status = 'capturing'
RETURNING ` + paymentIntentColumns

type CompletePaymentIntentCaptureParams struct {
	StripePaymentIntentID string
	Amount                int64
}

func (q *Queries) CompletePaymentIntentCapture(ctx context.Context, arg CompletePaymentIntentCaptureParams) (PaymentIntent, error) {
	row := q.db.QueryRowContext(ctx, completePaymentIntentCapture, arg.StripePaymentIntentID, arg.Amount)
	var i PaymentIntent
	err := scanPaymentIntent(row, &i)
	return i, err
}

const releasePaymentIntentCapture = `-- name: ReleasePaymentIntentCapture :exec
UPDATE payment_intents
SET status             = 'requires_capture',
    last_payment_error = $2,
    updated_at         = now()
WHERE stripe_payment_intent_id = $1
  AND status = 'capturing'
`

func (q *Queries) ReleasePaymentIntentCapture(ctx context.Context, stripePaymentIntentID string, lastPaymentError sql.NullString) error {
	_, err := q.db.ExecContext(ctx, releasePaymentIntentCapture, stripePaymentIntentID, lastPaymentError)
	return err
}

const markPaymentIntentRefunded = `-- name: MarkPaymentIntentRefunded :exec
UPDATE payment_intents
SET status          = $2,
    refunded_amount = $3,
    updated_at      = now()
WHERE stripe_payment_intent_id = $1
`

type MarkPaymentIntentRefundedParams struct {
	StripePaymentIntentID string
	Status                string
	RefundedAmount        int64
}

func (q *Queries) MarkPaymentIntentRefunded(ctx context.Context, arg MarkPaymentIntentRefundedParams) error {
	_, err := q.db.ExecContext(ctx, markPaymentIntentRefunded, arg.StripePaymentIntentID, arg.Status, arg.RefundedAmount)
	return err
}

const cancelReservationByIntent = `-- name: CancelReservationByIntent :execrows
UPDATE payment_intents
SET reservation_status = 'cancelled',
    status             = $2,
    updated_at         = now()
WHERE stripe_payment_intent_id = $1
  AND reservation_status = 'active'
`

func (q *Queries) CancelReservationByIntent(ctx context.Context, stripePaymentIntentID, status string) (int64, error) {
	result, err := q.db.ExecContext(ctx, cancelReservationByIntent, stripePaymentIntentID, status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countRecentlyExpiredReservations = `-- name: CountRecentlyExpiredReservations :one
SELECT count(*)
FROM payment_intents
WHERE reservation_status = 'expired'
  AND updated_at >= $1
`

func (q *Queries) CountRecentlyExpiredReservations(ctx context.Context, since time.Time) (int64, error) {
	row := q.db.QueryRowContext(ctx, countRecentlyExpiredReservations, since)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const cleanupExpiredReservations = `-- name: CleanupExpiredReservations :exec
SELECT cleanup_expired_reservations()
`

func (q *Queries) CleanupExpiredReservations(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, cleanupExpiredReservations)
	return err
}

const convertReservationToBooking = `-- name: ConvertReservationToBooking :one
SELECT COALESCE(convert_reservation_to_booking($1, $2)::text, '')
`

// ConvertReservationToBooking returns the id of the booking the reservation
// was converted into, or "" when the procedure found nothing to convert.
func (q *Queries) ConvertReservationToBooking(ctx context.Context, stripePaymentIntentID, status string) (string, error) {
	row := q.db.QueryRowContext(ctx, convertReservationToBooking, stripePaymentIntentID, status)
	var bookingID string
	err := row.Scan(&bookingID)
	return bookingID, err
}

const processPendingPaymentActions = `-- name: ProcessPendingPaymentActions :many
SELECT booking_id, action, COALESCE(amount, 0), COALESCE(total_amount, 0),
       COALESCE(tip_amount, 0), COALESCE(reason, '')
FROM process_pending_payment_actions()
`

type PendingPaymentAction struct {
	BookingID   uuid.UUID
	Action      string
	Amount      int64
	TotalAmount int64
	TipAmount   int64
	Reason      string
}

func (q *Queries) ProcessPendingPaymentActions(ctx context.Context) ([]PendingPaymentAction, error) {
	rows, err := q.db.QueryContext(ctx, processPendingPaymentActions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PendingPaymentAction
	for rows.Next() {
		var i PendingPaymentAction
		if err := rows.Scan(
			&i.BookingID,
			&i.Action,
			&i.Amount,
			&i.TotalAmount,
			&i.TipAmount,
			&i.Reason,
		); err != nil {
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

const createChefPayout = `-- name: CreateChefPayout :exec
INSERT INTO chef_payouts (chef_id, booking_id, payment_intent_id, amount, status)
VALUES ($1, $2, $3, $4, 'pending')
ON CONFLICT (booking_id) DO NOTHING
`

type CreateChefPayoutParams struct {
	ChefID          uuid.UUID
	BookingID       uuid.UUID
	PaymentIntentID string
	Amount          int64
}

func (q *Queries) CreateChefPayout(ctx context.Context, arg CreateChefPayoutParams) error {
	_, err := q.db.ExecContext(ctx, createChefPayout, arg.ChefID, arg.BookingID, arg.PaymentIntentID, arg.Amount)
	return err
}
