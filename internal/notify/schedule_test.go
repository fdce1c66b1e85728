package notify

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
)

func TestSendTime(t *testing.T) {
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		typ           Type
		end           time.Time
		now           time.Time
		wantAt        time.Time
		wantScheduled bool
	}{
		{"confirmation is immediate", TypeBookingConfirmation, end, now, time.Time{}, false},
		{"modified is immediate", TypeBookingModified, end, now, time.Time{}, false},
		{"cancelled is immediate", TypeBookingCancelled, end, now, time.Time{}, false},
		{"24h reminder", TypeBookingReminder24h, end, now, start.Add(-24 * time.Hour), true},
		{"1h reminder", TypeBookingReminder1h, end, now, start.Add(-time.Hour), true},
		{"completion two hours after end", TypeBookingCompletion, end, now, end.Add(2 * time.Hour), true},
		{"completion without end assumes three hours", TypeBookingCompletion, time.Time{}, now, start.Add(5 * time.Hour), true},
		{"past reminder goes out immediately", TypeBookingReminder24h, end, start.Add(-2 * time.Hour), time.Time{}, false},
		{"exactly now is immediate", TypeBookingReminder1h, end, start.Add(-time.Hour), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, scheduled := SendTime(tt.typ, start, tt.end, tt.now)
			assert.Equal(t, tt.wantScheduled, scheduled)
			assert.True(t, tt.wantAt.Equal(at), "got %v want %v", at, tt.wantAt)
		})
	}
}

func TestBookingWindow(t *testing.T) {
	b := db.Booking{
		Date:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		StartTime: "18:30:00",
		EndTime:   sql.NullString{String: "22:00", Valid: true},
	}
	start, end, err := bookingWindow(b, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC), end)

	b.EndTime = sql.NullString{String: "01:00:00", Valid: true}
	_, end, err = bookingWindow(b, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC), end)

	b.EndTime = sql.NullString{}
	_, end, err = bookingWindow(b, time.UTC)
	require.NoError(t, err)
	assert.True(t, end.IsZero())

	b.StartTime = "evening"
	_, _, err = bookingWindow(b, time.UTC)
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Minute, RetryDelay(0))
	assert.Equal(t, 5*time.Minute, RetryDelay(1))
	assert.Equal(t, 30*time.Minute, RetryDelay(2))
	assert.Equal(t, 2*time.Hour, RetryDelay(3))
	assert.Equal(t, 2*time.Hour, RetryDelay(9))
}
