package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const paymentMethodColumns = `id, user_id, stripe_payment_method_id, type, card_brand, card_last4,
       card_exp_month, card_exp_year, is_default, created_at, updated_at`

func scanPaymentMethod(row scanner, i *PaymentMethod) error {
	return row.Scan(
		&i.ID,
		&i.UserID,
		&i.StripePaymentMethodID,
		&i.Type,
		&i.CardBrand,
		&i.CardLast4,
		&i.CardExpMonth,
		&i.CardExpYear,
		&i.IsDefault,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

const listPaymentMethodsByUser = `-- name: ListPaymentMethodsByUser :many
SELECT ` + paymentMethodColumns + `
FROM payment_methods
WHERE user_id = $1
ORDER BY is_default DESC, created_at DESC
`

func (q *Queries) ListPaymentMethodsByUser(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error) {
	rows, err := q.db.QueryContext(ctx, listPaymentMethodsByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PaymentMethod
	for rows.Next() {
		var i PaymentMethod
		if err := scanPaymentMethod(rows, &i); err != nil {
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

const getPaymentMethod = `-- name: GetPaymentMethod :one
SELECT ` + paymentMethodColumns + `
FROM payment_methods
WHERE user_id = $1
  AND stripe_payment_method_id = $2
`

type GetPaymentMethodParams struct {
	UserID                uuid.UUID
	StripePaymentMethodID string
}

func (q *Queries) GetPaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (PaymentMethod, error) {
	row := q.db.QueryRowContext(ctx, getPaymentMethod, arg.UserID, arg.StripePaymentMethodID)
	var i PaymentMethod
	err := scanPaymentMethod(row, &i)
	return i, err
}

const upsertPaymentMethod = `-- name: UpsertPaymentMethod :one
INSERT INTO payment_methods (
    user_id, stripe_payment_method_id, type, card_brand, card_last4,
    card_exp_month, card_exp_year, is_default
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, stripe_payment_method_id) DO UPDATE
SET card_brand     = EXCLUDED.card_brand,
    card_last4     = EXCLUDED.card_last4,
    card_exp_month = EXCLUDED.card_exp_month,
    card_exp_year  = EXCLUDED.card_exp_year,
    updated_at     = now()
RETURNING ` + paymentMethodColumns

type UpsertPaymentMethodParams struct {
	UserID                uuid.UUID
	StripePaymentMethodID string
	Type                  string
	CardBrand             sql.NullString
	CardLast4             sql.NullString
	CardExpMonth          sql.NullInt32
	CardExpYear           sql.NullInt32
	IsDefault             bool
}

func (q *Queries) UpsertPaymentMethod(ctx context.Context, arg UpsertPaymentMethodParams) (PaymentMethod, error) {
	row := q.db.QueryRowContext(ctx, upsertPaymentMethod,
		arg.UserID,
		arg.StripePaymentMethodID,
		arg.Type,
		arg.CardBrand,
		arg.CardLast4,
		arg.CardExpMonth,
		arg.CardExpYear,
		arg.IsDefault,
	)
	var i PaymentMethod
	err := scanPaymentMethod(row, &i)
	return i, err
}

const deletePaymentMethod = `-- name: DeletePaymentMethod :execrows
DELETE FROM payment_methods
WHERE user_id = $1
  AND stripe_payment_method_id = $2
`

func (q *Queries) DeletePaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePaymentMethod, arg.UserID, arg.StripePaymentMethodID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const clearDefaultPaymentMethods = `-- name: ClearDefaultPaymentMethods :exec
UPDATE payment_methods
SET is_default = false,
    updated_at = now()
WHERE user_id = $1
  AND is_default
`

func (q *Queries) ClearDefaultPaymentMethods(ctx context.Context, userID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, clearDefaultPaymentMethods, userID)
	return err
}

const setDefaultPaymentMethod = `-- name: SetDefaultPaymentMethod :one
UPDATE payment_methods
SET is_default = true,
    updated_at = now()
WHERE user_id = $1
  AND stripe_payment_method_id = $2
RETURNING ` + paymentMethodColumns

func (q *Queries) SetDefaultPaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (PaymentMethod, error) {
	row := q.db.QueryRowContext(ctx, setDefaultPaymentMethod, arg.UserID, arg.StripePaymentMethodID)
	var i PaymentMethod
	err := scanPaymentMethod(row, &i)
	return i, err
}

const countPaymentMethods = `-- name: CountPaymentMethods :one
SELECT count(*) FROM payment_methods WHERE user_id = $1
`

func (q *Queries) CountPaymentMethods(ctx context.Context, userID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPaymentMethods, userID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
