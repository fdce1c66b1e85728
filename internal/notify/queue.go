package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
)

// retryDelays is the back-off before a failed notification is requeued,
// indexed by retry_count - 1.
var retryDelays = []time.Duration{5 * time.Minute, 30 * time.Minute, 2 * time.Hour}

const (
	reasonMaxRetries  = "Maximum retries exceeded"
	reasonSMS         = "SMS not implemented"
	maxReportedErrors = 10
)

// QueueResult summarises one ProcessQueue run.
type QueueResult struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Requeued  int      `json:"requeued"`
	Errors    []string `json:"errors"`
}

func (r *QueueResult) addError(msg string) {
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// ProcessQueue drains due queue items, then requeues failed notifications
// whose back-off has elapsed. Every taken queue item is marked processed,
// whatever the outcome, so a poison row cannot wedge the queue.
func (s *Service) ProcessQueue(ctx context.Context) (QueueResult, error) {
	now := s.opts.Now()
	res := QueueResult{Errors: []string{}}

	items, err := s.q.ListDueQueueItems(ctx, now, s.opts.QueueBatchSize)
	if err != nil {
		return res, fmt.Errorf("notify: list due queue items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := s.processItem(ctx, item)
		if err != nil {
			res.addError(fmt.Sprintf("notification %s: %v", item.Notification.ID, err))
		}
		switch {
		case ok:
			res.Succeeded++
		case err != nil:
			res.Failed++
		}

		if mErr := s.q.MarkQueueItemProcessed(ctx, item.QueueID); mErr != nil {
			s.logger.Error("notify: mark queue item processed", "queue_id", item.QueueID, "error", mErr)
		}
		res.Processed++
	}

	requeued, err := s.requeueFailed(ctx, now)
	res.Requeued = requeued
	if err != nil {
		s.logger.Warn("notify: requeue failed notifications", "error", err)
	}

	if res.Processed > 0 || res.Requeued > 0 {
		s.logger.Info("notify: queue processed",
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
			"requeued", res.Requeued,
		)
	}
	return res, nil
}

// processItem delivers one queued notification. ok reports a successful
// delivery; (false, nil) means the item needed no delivery.
func (s *Service) processItem(ctx context.Context, item db.ListDueQueueItemsRow) (ok bool, err error) {
	n := item.Notification
	if n.Status != StatusPending {
		return false, nil
	}

	if n.RetryCount >= n.MaxRetries {
		if err := s.q.CancelNotification(ctx, n.ID, reasonMaxRetries); err != nil {
			return false, fmt.Errorf("cancel: %w", err)
		}
		return false, errors.New(reasonMaxRetries)
	}

	claimed, err := s.q.ClaimNotification(ctx, n.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Another run took it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}

	externalID, skipped, sendErr := s.dispatch(ctx, &claimed)
	metrics.Notifications.WithLabelValues(claimed.Channel, metrics.Outcome(sendErr)).Inc()

	switch {
	case sendErr != nil:
		if err := s.q.MarkNotificationFailed(ctx, claimed.ID, sendErr.Error()); err != nil {
			s.logger.Error("notify: mark failed", "notification_id", claimed.ID, "error", err)
		}
		return false, sendErr
	case skipped:
		if err := s.q.CancelNotification(ctx, claimed.ID, reasonPushDisabled); err != nil {
			s.logger.Error("notify: cancel skipped push", "notification_id", claimed.ID, "error", err)
		}
		return false, nil
	default:
		if err := s.q.MarkNotificationSent(ctx, claimed.ID, nullString(externalID)); err != nil {
			s.logger.Error("notify: mark sent", "notification_id", claimed.ID, "error", err)
		}
		return true, nil
	}
}

func (s *Service) dispatch(ctx context.Context, n *db.Notification) (externalID string, skipped bool, err error) {
	switch Channel(n.Channel) {
	case ChannelEmail:
		res, err := s.deliverEmail(ctx, EmailRequest{}, n)
		return res.MessageID, false, err
	case ChannelPush:
		res, err := s.deliverPush(ctx, PushRequest{}, n)
		return res.ID, res.Skipped, err
	case ChannelInApp:
		return "", false, nil
	case ChannelSMS:
		return "", false, errors.New(reasonSMS)
	default:
		return "", false, fmt.Errorf("unknown channel %q", n.Channel)
	}
}

// RetryDelay is the back-off after the retryCount-th failure.
func RetryDelay(retryCount int32) time.Duration {
	i := int(retryCount) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(retryDelays) {
		i = len(retryDelays) - 1
	}
	return retryDelays[i]
}

// requeueFailed moves failed notifications whose back-off has elapsed back to
// pending and queues them for now. The conditional update on retry_count
// keeps two overlapping runs from queueing the same retry twice.
func (s *Service) requeueFailed(ctx context.Context, now time.Time) (int, error) {
	failed, err := s.q.ListRetryableNotifications(ctx, s.opts.RetryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("notify: list retryable: %w", err)
	}

	requeued := 0
	for _, n := range failed {
		failedAt := n.UpdatedAt
		if n.FailedAt.Valid {
			failedAt = n.FailedAt.Time
		}
		if failedAt.Add(RetryDelay(n.RetryCount)).After(now) {
			continue
		}

		_, err := s.q.RequeueNotification(ctx, db.RequeueNotificationParams{
			ID:           n.ID,
			RetryCount:   n.RetryCount,
			ScheduledFor: now,
		})
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			s.logger.Error("notify: requeue", "notification_id", n.ID, "error", err)
			continue
		}
		if err := s.q.EnqueueNotification(ctx, n.ID, now); err != nil {
			s.logger.Error("notify: enqueue retry", "notification_id", n.ID, "error", err)
			continue
		}
		requeued++
	}
	return requeued, nil
}
