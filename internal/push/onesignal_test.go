package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *oneSignalClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewOneSignalClient("app-1", "key-1").(*oneSignalClient)
	c.endpoint = srv.URL
	return c
}

func TestSend_Payload(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"os-1","recipients":2}`))
	})

	sendAfter := time.Date(2025, 1, 2, 17, 0, 0, 0, time.UTC)
	res, err := c.Send(context.Background(), Notification{
		UserIDs:   []string{"u-1", "u-2"},
		Title:     "Booking bekræftet!",
		Content:   "Med Mette på 2. januar 2025",
		Data:      map[string]any{"booking_id": "b-1"},
		DeepLink:  "dinnerhelp://booking/b-1",
		SendAfter: sendAfter,
	})

	require.NoError(t, err)
	assert.Equal(t, Result{ID: "os-1", Recipients: 2}, res)

	assert.Equal(t, "app-1", got["app_id"])
	assert.Equal(t, "Booking bekræftet!", got["headings"].(map[string]any)["da"])
	assert.Equal(t, "dinnerhelp://booking/b-1", got["url"])
	assert.Equal(t, "Increase", got["ios_badgeType"])
	assert.Equal(t, "FF2E7D32", got["android_accent_color"])
	assert.Equal(t, "2025-01-02T17:00:00Z", got["send_after"])

	filters := got["filters"].([]any)
	require.Len(t, filters, 3)
	assert.Equal(t, "external_user_id", filters[0].(map[string]any)["field"])
	assert.Equal(t, "OR", filters[1].(map[string]any)["operator"])
	assert.Equal(t, "u-2", filters[2].(map[string]any)["value"])
}

func TestSend_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":["Invalid app_id"]}`))
	})

	_, err := c.Send(context.Background(), Notification{UserIDs: []string{"u-1"}, Title: "t", Content: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid app_id")
}

func TestSend_NoRecipients(t *testing.T) {
	c := NewOneSignalClient("app", "key")
	_, err := c.Send(context.Background(), Notification{Title: "t"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestDeepLink(t *testing.T) {
	tests := []struct {
		typ, booking, want string
	}{
		{"booking_confirmation", "b-1", "dinnerhelp://booking/b-1"},
		{"booking_cancelled", "", "dinnerhelp://bookings"},
		{"payment_failed", "b-2", "dinnerhelp://booking/b-2/payment"},
		{"chef_message", "b-3", "dinnerhelp://chat/b-3"},
		{"chef_message", "", "dinnerhelp://messages"},
		{"something_else", "b-4", "dinnerhelp://home"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeepLink(tt.typ, tt.booking), "type=%s", tt.typ)
	}
}
