package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const notificationColumns = `id, user_id, booking_id, chef_id, type, channel, status, title, content, data,
       template_id, scheduled_at, sent_at, failed_at, failure_reason, external_id,
       retry_count, max_retries, created_at, updated_at`

func scanNotification(row scanner, i *Notification) error {
	return row.Scan(
		&i.ID,
		&i.UserID,
		&i.BookingID,
		&i.ChefID,
		&i.Type,
		&i.Channel,
		&i.Status,
		&i.Title,
		&i.Content,
		&i.Data,
		&i.TemplateID,
		&i.ScheduledAt,
		&i.SentAt,
		&i.FailedAt,
		&i.FailureReason,
		&i.ExternalID,
		&i.RetryCount,
		&i.MaxRetries,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
}

func collectNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		var i Notification
		if err := scanNotification(rows, &i); err != nil {
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

const createNotification = `-- name: CreateNotification :one
INSERT INTO notifications (
    user_id, booking_id, chef_id, type, channel, status, title, content, data, template_id, scheduled_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + notificationColumns

type CreateNotificationParams struct {
	UserID      uuid.UUID
	BookingID   uuid.NullUUID
	ChefID      uuid.NullUUID
	Type        string
	Channel     string
	Status      string
	Title       string
	Content     string
	Data        pqtype.NullRawMessage
	TemplateID  sql.NullString
	ScheduledAt sql.NullTime
}

func (q *Queries) CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error) {
	row := q.db.QueryRowContext(ctx, createNotification,
		arg.UserID,
		arg.BookingID,
		arg.ChefID,
		arg.Type,
		arg.Channel,
		arg.Status,
		arg.Title,
		arg.Content,
		arg.Data,
		arg.TemplateID,
		arg.ScheduledAt,
	)
	var i Notification
	err := scanNotification(row, &i)
	return i, err
}

const getNotification = `-- name: GetNotification :one
SELECT ` + notificationColumns + `
FROM notifications
WHERE id = $1
`

func (q *Queries) GetNotification(ctx context.Context, id uuid.UUID) (Notification, error) {
	row := q.db.QueryRowContext(ctx, getNotification, id)
	var i Notification
	err := scanNotification(row, &i)
	return i, err
}

const claimNotification = `-- name: ClaimNotification :one
UPDATE notifications
SET status     = 'processing',
    updated_at = now()
WHERE id = $1
  AND status = 'pending'
RETURNING ` + notificationColumns

// ClaimNotification moves a pending notification to processing. A second
// worker racing on the same row gets sql.ErrNoRows.
func (q *Queries) ClaimNotification(ctx context.Context, id uuid.UUID) (Notification, error) {
	row := q.db.QueryRowContext(ctx, claimNotification, id)
	var i Notification
	err := scanNotification(row, &i)
	return i, err
}

const markNotificationSent = `-- name: MarkNotificationSent :exec
UPDATE notifications
SET status         = 'sent',
    sent_at        = now(),
    external_id    = COALESCE($2, external_id),
    failure_reason = NULL,
    updated_at     = now()
WHERE id = $1
`

func (q *Queries) MarkNotificationSent(ctx context.Context, id uuid.UUID, externalID sql.NullString) error {
	_, err := q.db.ExecContext(ctx, markNotificationSent, id, externalID)
	return err
}

const markNotificationFailed = `-- name: MarkNotificationFailed :exec
UPDATE notifications
SET status         = 'failed',
    failure_reason = $2,
    failed_at      = now(),
    retry_count    = retry_count + 1,
    updated_at     = now()
WHERE id = $1
`

func (q *Queries) MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := q.db.ExecContext(ctx, markNotificationFailed, id, reason)
	return err
}

const cancelNotification = `-- name: CancelNotification :exec
UPDATE notifications
SET status         = 'cancelled',
    failure_reason = $2,
    updated_at     = now()
WHERE id = $1
`

func (q *Queries) CancelNotification(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := q.db.ExecContext(ctx, cancelNotification, id, reason)
	return err
}

const enqueueNotification = `-- name: EnqueueNotification :exec
INSERT INTO notification_queue (notification_id, scheduled_for)
VALUES ($1, $2)
`

func (q *Queries) EnqueueNotification(ctx context.Context, notificationID uuid.UUID, scheduledFor time.Time) error {
	_, err := q.db.ExecContext(ctx, enqueueNotification, notificationID, scheduledFor)
	return err
}

const listDueQueueItems = `-- name: ListDueQueueItems :many
SELECT q.id, q.scheduled_for,
       n.id, n.user_id, n.booking_id, n.chef_id, n.type, n.channel, n.status, n.title, n.content,
       n.data, n.template_id, n.scheduled_at, n.sent_at, n.failed_at, n.failure_reason,
       n.external_id, n.retry_count, n.max_retries, n.created_at, n.updated_at
FROM notification_queue q
JOIN notifications n ON n.id = q.notification_id
WHERE NOT q.is_processed
  AND q.scheduled_for <= $1
ORDER BY q.scheduled_for
LIMIT $2
`

type ListDueQueueItemsRow struct {
	QueueID      uuid.UUID
	ScheduledFor time.Time
	Notification Notification
}

func (q *Queries) ListDueQueueItems(ctx context.Context, now time.Time, limit int32) ([]ListDueQueueItemsRow, error) {
	rows, err := q.db.QueryContext(ctx, listDueQueueItems, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListDueQueueItemsRow
	for rows.Next() {
		var i ListDueQueueItemsRow
		n := &i.Notification
		if err := rows.Scan(
			&i.QueueID,
			&i.ScheduledFor,
			&n.ID,
			&n.UserID,
			&n.BookingID,
			&n.ChefID,
			&n.Type,
			&n.Channel,
			&n.Status,
			&n.Title,
			&n.Content,
			&n.Data,
			&n.TemplateID,
			&n.ScheduledAt,
			&n.SentAt,
			&n.FailedAt,
			&n.FailureReason,
			&n.ExternalID,
			&n.RetryCount,
			&n.MaxRetries,
			&n.CreatedAt,
			&n.UpdatedAt,
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

const markQueueItemProcessed = `-- name: MarkQueueItemProcessed :exec
UPDATE notification_queue
SET is_processed = true,
    processed_at = now()
WHERE id = $1
`

func (q *Queries) MarkQueueItemProcessed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markQueueItemProcessed, id)
	return err
}

const listRetryableNotifications = `-- name: ListRetryableNotifications :many
SELECT ` + notificationColumns + `
FROM notifications
WHERE status = 'failed'
  AND retry_count < max_retries
ORDER BY failed_at
LIMIT $1
`

func (q *Queries) ListRetryableNotifications(ctx context.Context, limit int32) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, listRetryableNotifications, limit)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

const requeueNotification = `-- name: RequeueNotification :one
UPDATE notifications
SET status       = 'pending',
    scheduled_at = $3,
    updated_at   = now()
WHERE id = $1
  AND status = 'failed'
  AND retry_count = $2
RETURNING ` + notificationColumns

type RequeueNotificationParams struct {
	ID           uuid.UUID
	RetryCount   int32
	ScheduledFor time.Time
}

func (q *Queries) RequeueNotification(ctx context.Context, arg RequeueNotificationParams) (Notification, error) {
	row := q.db.QueryRowContext(ctx, requeueNotification, arg.ID, arg.RetryCount, arg.ScheduledFor)
	var i Notification
	err := scanNotification(row, &i)
	return i, err
}

const getNotificationPreferences = `-- name: GetNotificationPreferences :one
SELECT user_id, email_enabled, push_enabled, language_preference,
       booking_confirmations, booking_reminders, booking_updates
FROM notification_preferences
WHERE user_id = $1
`

func (q *Queries) GetNotificationPreferences(ctx context.Context, userID uuid.UUID) (NotificationPreference, error) {
	row := q.db.QueryRowContext(ctx, getNotificationPreferences, userID)
	var i NotificationPreference
	err := row.Scan(
		&i.UserID,
		&i.EmailEnabled,
		&i.PushEnabled,
		&i.LanguagePreference,
		&i.BookingConfirmations,
		&i.BookingReminders,
		&i.BookingUpdates,
	)
	return i, err
}

const listPushDisabledUsers = `-- name: ListPushDisabledUsers :many
SELECT user_id
FROM notification_preferences
WHERE user_id = ANY($1::uuid[])
  AND NOT push_enabled
`

func (q *Queries) ListPushDisabledUsers(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	rows, err := q.db.QueryContext(ctx, listPushDisabledUsers, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getEmailTemplate = `-- name: GetEmailTemplate :one
SELECT id, template_key, subject_da, subject_en, html_content_da, html_content_en,
       text_content_da, text_content_en, is_active
FROM email_templates
WHERE template_key = $1
  AND is_active
`

func (q *Queries) GetEmailTemplate(ctx context.Context, templateKey string) (EmailTemplate, error) {
	row := q.db.QueryRowContext(ctx, getEmailTemplate, templateKey)
	var i EmailTemplate
	err := row.Scan(
		&i.ID,
		&i.TemplateKey,
		&i.SubjectDa,
		&i.SubjectEn,
		&i.HtmlContentDa,
		&i.HtmlContentEn,
		&i.TextContentDa,
		&i.TextContentEn,
		&i.IsActive,
	)
	return i, err
}
