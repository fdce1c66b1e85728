package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const createBookingPaymentLog = `-- name: CreateBookingPaymentLog :exec
INSERT INTO booking_payment_logs (booking_id, log_type, action, status, amount, description, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

type CreateBookingPaymentLogParams struct {
	BookingID   uuid.UUID
	LogType     sql.NullString
	Action      sql.NullString
	Status      string
	Amount      int64
	Description sql.NullString
	Metadata    pqtype.NullRawMessage
}

func (q *Queries) CreateBookingPaymentLog(ctx context.Context, arg CreateBookingPaymentLogParams) error {
	_, err := q.db.ExecContext(ctx, createBookingPaymentLog,
		arg.BookingID,
		arg.LogType,
		arg.Action,
		arg.Status,
		arg.Amount,
		arg.Description,
		arg.Metadata,
	)
	return err
}

const completePendingPaymentLogs = `-- name: CompletePendingPaymentLogs :exec
UPDATE booking_payment_logs
SET status = 'completed'
WHERE booking_id = $1
  AND status = 'pending'
  AND action = ANY($2::text[])
`

func (q *Queries) CompletePendingPaymentLogs(ctx context.Context, bookingID uuid.UUID, actions []string) error {
	_, err := q.db.ExecContext(ctx, completePendingPaymentLogs, bookingID, pq.Array(actions))
	return err
}

const createSystemLog = `-- name: CreateSystemLog :exec
INSERT INTO system_logs (level, source, message, metadata)
VALUES ($1, $2, $3, $4)
`

type CreateSystemLogParams struct {
	Level    string
	Source   string
	Message  string
	Metadata pqtype.NullRawMessage
}

func (q *Queries) CreateSystemLog(ctx context.Context, arg CreateSystemLogParams) error {
	_, err := q.db.ExecContext(ctx, createSystemLog, arg.Level, arg.Source, arg.Message, arg.Metadata)
	return err
}
