// Package push delivers mobile push notifications through OneSignal.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const oneSignalURL = "https://onesignal.com/api/v1/notifications"

// Notification is one push message fanned out to a set of users. Users are
// matched on the external_user_id the mobile app registers at login.
type Notification struct {
	UserIDs  []string
	Title    string
	Content  string
	Data     map[string]any
	DeepLink string
	// SendAfter, when non-zero, asks OneSignal to hold delivery.
	SendAfter time.Time
}

// Result is OneSignal's reply to a create-notification call.
type Result struct {
	ID         string
	Recipients int
}

// Sender is the interface the notify package uses for push delivery.
type Sender interface {
	Send(ctx context.Context, n Notification) (Result, error)
}

// ErrNoRecipients is returned when a notification has no target users.
var ErrNoRecipients = errors.New("push: no target users")

type oneSignalClient struct {
	appID      string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewOneSignalClient returns a Sender backed by the OneSignal REST API.
func NewOneSignalClient(appID, apiKey string) Sender {
	return &oneSignalClient{
		appID:    appID,
		apiKey:   apiKey,
		endpoint: oneSignalURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ─── ONESIGNAL API SHAPES ─────────────────────────────────────────────────────

type filter struct {
	Field    string `json:"field"`
	Relation string `json:"relation"`
	Value    string `json:"value"`
}

type oneSignalRequest struct {
	AppID              string            `json:"app_id"`
	Headings           map[string]string `json:"headings"`
	Contents           map[string]string `json:"contents"`
	Data               map[string]any    `json:"data,omitempty"`
	Filters            []any             `json:"filters"`
	URL                string            `json:"url,omitempty"`
	IOSBadgeType       string            `json:"ios_badgeType"`
	IOSBadgeCount      int               `json:"ios_badgeCount"`
	AndroidAccentColor string            `json:"android_accent_color"`
	SmallIcon          string            `json:"small_icon"`
	LargeIcon          string            `json:"large_icon"`
	SendAfter          string            `json:"send_after,omitempty"`
}

type oneSignalResponse struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
	Errors     any    `json:"errors"`
}

// ─── HTTP SEND ────────────────────────────────────────────────────────────────

func (c *oneSignalClient) Send(ctx context.Context, n Notification) (Result, error) {
	if len(n.UserIDs) == 0 {
		return Result{}, ErrNoRecipients
	}

	payload := oneSignalRequest{
		AppID:              c.appID,
		Headings:           map[string]string{"en": n.Title, "da": n.Title},
		Contents:           map[string]string{"en": n.Content, "da": n.Content},
		Data:               n.Data,
		Filters:            userFilters(n.UserIDs),
		URL:                n.DeepLink,
		IOSBadgeType:       "Increase",
		IOSBadgeCount:      1,
		AndroidAccentColor: "FF2E7D32",
		SmallIcon:          "ic_stat_dinnerhelp",
		LargeIcon:          "ic_notification_large",
	}
	if !n.SendAfter.IsZero() {
		payload.SendAfter = n.SendAfter.UTC().Format(time.RFC3339)
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("push: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Result{}, fmt.Errorf("push: read response: %w", err)
	}

	var parsed oneSignalResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Result{}, fmt.Errorf("push: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("push: OneSignal error (status %d): %v", resp.StatusCode, firstError(parsed.Errors))
	}

	return Result{ID: parsed.ID, Recipients: parsed.Recipients}, nil
}

// userFilters ORs one external_user_id filter per user.
func userFilters(userIDs []string) []any {
	out := make([]any, 0, 2*len(userIDs))
	for i, id := range userIDs {
		if i > 0 {
			out = append(out, map[string]string{"operator": "OR"})
		}
		out = append(out, filter{Field: "external_user_id", Relation: "=", Value: id})
	}
	return out
}

// firstError pulls a readable message out of OneSignal's errors field, which
// is either a list of strings or an object.
func firstError(v any) any {
	if list, ok := v.([]any); ok && len(list) > 0 {
		return list[0]
	}
	if v == nil {
		return "unknown error"
	}
	return v
}

// ─── DEEP LINKS ───────────────────────────────────────────────────────────────

const deepLinkBase = "dinnerhelp://"

// DeepLink returns the in-app route for a notification type.
func DeepLink(notificationType, bookingID string) string {
	switch notificationType {
	case "chef_message":
		if bookingID != "" {
			return deepLinkBase + "chat/" + bookingID
		}
		return deepLinkBase + "messages"
	case "booking_confirmation", "booking_reminder_24h", "booking_reminder_1h",
		"booking_completion", "booking_modified", "booking_cancelled":
		if bookingID != "" {
			return deepLinkBase + "booking/" + bookingID
		}
		return deepLinkBase + "bookings"
	case "payment_success", "payment_failed":
		if bookingID != "" {
			return deepLinkBase + "booking/" + bookingID + "/payment"
		}
		return deepLinkBase + "bookings"
	default:
		return deepLinkBase + "home"
	}
}
