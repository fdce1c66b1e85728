package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Booking lifecycle triggers accepted by SendBookingNotification.
const (
	TriggerBookingConfirmed = "booking_confirmed"
	TriggerReminder24h      = "reminder_24h"
	TriggerRatingRequest    = "rating_request"
)

// SendBookingNotification maps a lifecycle trigger onto the scheduler.
// booking_confirmed also queues the 24h reminder while it is still ahead.
// reminder_24h and rating_request only fire for bookings in the confirmed and
// completed states; for any other state sent is false.
func (s *Service) SendBookingNotification(ctx context.Context, trigger string, bookingID uuid.UUID) (sent bool, err error) {
	switch trigger {
	case TriggerBookingConfirmed:
		res, err := s.Schedule(ctx, ScheduleParams{
			BookingID: bookingID,
			Type:      TypeBookingConfirmation,
			Recipient: RecipientUser,
		})
		if err != nil {
			return false, err
		}
		if _, err := s.Schedule(ctx, ScheduleParams{
			BookingID:  bookingID,
			Type:       TypeBookingReminder24h,
			Recipient:  RecipientUser,
			SkipIfPast: true,
		}); err != nil {
			s.logger.Warn("notify: schedule 24h reminder", "booking_id", bookingID, "error", err)
		}
		return len(res.NotificationIDs) > 0, nil

	case TriggerReminder24h:
		return s.sendIfStatus(ctx, bookingID, "confirmed", TypeBookingReminder24h)

	case TriggerRatingRequest:
		return s.sendIfStatus(ctx, bookingID, "completed", TypeBookingCompletion)
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownType, trigger)
}

func (s *Service) sendIfStatus(ctx context.Context, bookingID uuid.UUID, status string, t Type) (bool, error) {
	b, err := s.q.GetBookingByID(ctx, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify: get booking: %w", err)
	}
	if b.Status != status {
		return false, nil
	}
	res, err := s.Schedule(ctx, ScheduleParams{
		BookingID: bookingID,
		Type:      t,
		Recipient: RecipientUser,
		Immediate: true,
	})
	if err != nil {
		return false, err
	}
	return len(res.NotificationIDs) > 0, nil
}
