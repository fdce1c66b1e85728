package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/payments"
)

// Sweep names.
const (
	SweepNotificationQueue  = "notification-queue"
	SweepReservationCleanup = "reservation-cleanup"
	SweepPaymentActions     = "payment-actions"
)

const (
	defaultQueueInterval   = time.Minute
	defaultCleanupInterval = 5 * time.Minute
	defaultActionsInterval = 10 * time.Minute
)

// QueueProcessor is the part of notify.Service the queue sweep calls.
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (notify.QueueResult, error)
}

// PaymentSweeper is the part of payments.Service the payment sweeps call.
type PaymentSweeper interface {
	CleanupExpiredReservations(ctx context.Context) (payments.CleanupResult, error)
	ProcessActions(ctx context.Context) (payments.ActionsResult, error)
}

// Intervals sets how often each sweep runs. Zero takes the default; a
// negative interval disables the sweep.
type Intervals struct {
	NotificationQueue  time.Duration
	ReservationCleanup time.Duration
	PaymentActions     time.Duration
}

func pick(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}

// Sweeps builds the standard sweep set.
func Sweeps(q QueueProcessor, p PaymentSweeper, iv Intervals, logger *slog.Logger) []Sweep {
	return []Sweep{
		{
			Name:     SweepNotificationQueue,
			Interval: pick(iv.NotificationQueue, defaultQueueInterval),
			Run: func(ctx context.Context) error {
				res, err := q.ProcessQueue(ctx)
				if err != nil {
					return err
				}
				if res.Processed > 0 || res.Failed > 0 {
					logger.Info("worker: notification queue processed",
						"processed", res.Processed, "failed", res.Failed, "requeued", res.Requeued)
				}
				return nil
			},
		},
		{
			Name:     SweepReservationCleanup,
			Interval: pick(iv.ReservationCleanup, defaultCleanupInterval),
			Run: func(ctx context.Context) error {
				_, err := p.CleanupExpiredReservations(ctx)
				return err
			},
		},
		{
			Name:     SweepPaymentActions,
			Interval: pick(iv.PaymentActions, defaultActionsInterval),
			Run: func(ctx context.Context) error {
				res, err := p.ProcessActions(ctx)
				if err != nil {
					return err
				}
				if res.Processed > 0 || res.AutoCaptured > 0 || len(res.Errors) > 0 {
					logger.Info("worker: payment actions processed",
						"processed", res.Processed, "auto_captured", res.AutoCaptured, "errors", len(res.Errors))
				}
				return nil
			},
		},
	}
}
