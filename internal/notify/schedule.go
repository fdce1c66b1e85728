package notify

import (
	"fmt"
	"time"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

const (
	defaultServiceDuration = 3 * time.Hour
	completionDelay        = 2 * time.Hour
)

// SendTime returns when a notification of type t should go out for a booking
// running from start to end. A zero end means start plus three hours.
// scheduled is false when the notification should be delivered immediately,
// either because the type is immediate or because the time has passed.
func SendTime(t Type, start, end, now time.Time) (at time.Time, scheduled bool) {
	switch t {
	case TypeBookingReminder24h:
		at = start.Add(-24 * time.Hour)
	case TypeBookingReminder1h:
		at = start.Add(-time.Hour)
	case TypeBookingCompletion:
		if end.IsZero() {
			end = start.Add(defaultServiceDuration)
		}
		at = end.Add(completionDelay)
	default:
		return time.Time{}, false
	}
	if !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}

// bookingWindow resolves a booking's start and end instants in loc. End is
// zero when the booking has no end time.
func bookingWindow(b db.Booking, loc *time.Location) (start, end time.Time, err error) {
	start, err = policy.ServiceStart(b.Date, b.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if b.EndTime.Valid && b.EndTime.String != "" {
		end, err = policy.ServiceStart(b.Date, b.EndTime.String, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("notify: end time: %w", err)
		}
		// A dinner that runs past midnight ends on the next day.
		if end.Before(start) {
			end = end.AddDate(0, 0, 1)
		}
	}
	return start, end, nil
}
