package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage(t *testing.T) {
	bookingID := uuid.New()
	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600))

	msg, err := message(Event{
		Type:            PaymentCaptured,
		BookingID:       bookingID,
		PaymentIntentID: "pi_1",
		Amount:          95000,
		Data:            map[string]any{"trigger": "24_hour_auto_capture"},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, bookingID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, PaymentCaptured, string(msg.Headers[0].Value))

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "pi_1", got.PaymentIntentID)
	assert.Equal(t, int64(95000), got.Amount)
	assert.True(t, got.OccurredAt.Equal(now))
	assert.Equal(t, time.UTC, got.OccurredAt.Location())
}

func TestMessage_KeepsOccurredAt(t *testing.T) {
	at := time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC)
	msg, err := message(Event{Type: BookingCancelled, OccurredAt: at}, time.Now())
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.True(t, got.OccurredAt.Equal(at))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Type: PaymentAuthorized}))
	assert.NoError(t, p.Close())
}
