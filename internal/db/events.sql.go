package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
)

const insertStripeEvent = `-- name: InsertStripeEvent :one
INSERT INTO stripe_webhook_events (stripe_event_id, type, payload)
VALUES ($1, $2, $3)
ON CONFLICT (stripe_event_id) DO NOTHING
RETURNING id, stripe_event_id, type, payload, status, error, received_at, processed_at
`

type InsertStripeEventParams struct {
	StripeEventID string
	Type          string
	Payload       json.RawMessage
}

// InsertStripeEvent records a delivery. It returns sql.ErrNoRows when the
// event id was seen before.
func (q *Queries) InsertStripeEvent(ctx context.Context, arg InsertStripeEventParams) (StripeWebhookEvent, error) {
	row := q.db.QueryRowContext(ctx, insertStripeEvent, arg.StripeEventID, arg.Type, []byte(arg.Payload))
	var i StripeWebhookEvent
	err := row.Scan(
		&i.ID,
		&i.StripeEventID,
		&i.Type,
		&i.Payload,
		&i.Status,
		&i.Error,
		&i.ReceivedAt,
		&i.ProcessedAt,
	)
	return i, err
}

const markStripeEventProcessed = `-- name: MarkStripeEventProcessed :exec
UPDATE stripe_webhook_events
SET status       = 'processed',
    error        = NULL,
    processed_at = now()
WHERE id = $1
`

func (q *Queries) MarkStripeEventProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markStripeEventProcessed, id)
	return err
}

const markStripeEventFailed = `-- name: MarkStripeEventFailed :exec
UPDATE stripe_webhook_events
SET status       = 'failed',
    error        = $2,
    processed_at = now()
WHERE id = $1
`

func (q *Queries) MarkStripeEventFailed(ctx context.Context, id uuid.UUID, errMsg sql.NullString) error {
	_, err := q.db.ExecContext(ctx, markStripeEventFailed, id, errMsg)
	return err
}
