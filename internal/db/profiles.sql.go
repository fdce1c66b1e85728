package db

import (
	"context"

	"github.com/google/uuid"
)

const getProfile = `-- name: GetProfile :one
SELECT id, email, first_name, last_name, role, stripe_customer_id, created_at
FROM profiles
WHERE id = $1
`

func (q *Queries) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	row := q.db.QueryRowContext(ctx, getProfile, id)
	var i Profile
	err := row.Scan(
		&i.ID,
		&i.Email,
		&i.FirstName,
		&i.LastName,
		&i.Role,
		&i.StripeCustomerID,
		&i.CreatedAt,
	)
	return i, err
}

const setStripeCustomerID = `-- name: SetStripeCustomerID :one
UPDATE profiles
SET stripe_customer_id = $2
WHERE id = $1
  AND stripe_customer_id IS NULL
RETURNING stripe_customer_id
`

type SetStripeCustomerIDParams struct {
	ID               uuid.UUID
	StripeCustomerID string
}

// SetStripeCustomerID only fills an empty column. sql.ErrNoRows means a
// concurrent request already linked a customer and the caller should re-read.
func (q *Queries) SetStripeCustomerID(ctx context.Context, arg SetStripeCustomerIDParams) (string, error) {
	row := q.db.QueryRowContext(ctx, setStripeCustomerID, arg.ID, arg.StripeCustomerID)
	var stripe_customer_id string
	err := row.Scan(&stripe_customer_id)
	return stripe_customer_id, err
}

const getChef = `-- name: GetChef :one
SELECT id, stripe_account_id, is_vat_registered, vat_number
FROM chefs
WHERE id = $1
`

func (q *Queries) GetChef(ctx context.Context, id uuid.UUID) (Chef, error) {
	row := q.db.QueryRowContext(ctx, getChef, id)
	var i Chef
	err := row.Scan(
		&i.ID,
		&i.StripeAccountID,
		&i.IsVatRegistered,
		&i.VatNumber,
	)
	return i, err
}
