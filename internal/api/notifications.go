package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
)

// ─── POST /api/notifications/schedule ─────────────────────────────────────────

type scheduleRequest struct {
	BookingID        uuid.UUID      `json:"booking_id" validate:"required"`
	NotificationType string         `json:"notification_type" validate:"required"`
	RecipientType    string         `json:"recipient_type" validate:"omitempty,oneof=user chef both"`
	CustomData       map[string]any `json:"custom_data"`
}

func (s *Server) handleScheduleNotification(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	t, err := notify.ParseType(req.NotificationType)
	if err != nil {
		respondErr(w, http.StatusBadRequest, errMessage(err))
		return
	}
	recipient := notify.RecipientUser
	if req.RecipientType != "" {
		recipient = notify.Recipient(req.RecipientType)
	}

	res, err := s.notify.Schedule(r.Context(), notify.ScheduleParams{
		BookingID:  req.BookingID,
		Type:       t,
		Recipient:  recipient,
		CustomData: req.CustomData,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"success":          true,
		"notification_ids": nonNilIDs(res.NotificationIDs),
		"scheduled_at":     res.ScheduledAt,
	})
}

// ─── POST /api/notifications/email ────────────────────────────────────────────

type sendEmailRequest struct {
	NotificationID    uuid.UUID      `json:"notification_id"`
	UserEmail         string         `json:"user_email" validate:"omitempty,email"`
	TemplateKey       string         `json:"template_key"`
	TemplateVariables map[string]any `json:"template_variables"`
	Subject           string         `json:"subject"`
	HTMLContent       string         `json:"html_content"`
	TextContent       string         `json:"text_content"`
	Language          string         `json:"language" validate:"omitempty,oneof=da en"`
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.notify.SendEmail(r.Context(), notify.EmailRequest{
		NotificationID:    req.NotificationID,
		UserEmail:         req.UserEmail,
		TemplateKey:       req.TemplateKey,
		TemplateVariables: req.TemplateVariables,
		Subject:           req.Subject,
		HTMLContent:       req.HTMLContent,
		TextContent:       req.TextContent,
		Language:          req.Language,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": res.MessageID,
		"to":         res.To,
	})
}

// ─── POST /api/notifications/push ─────────────────────────────────────────────

type sendPushRequest struct {
	NotificationID uuid.UUID      `json:"notification_id"`
	UserIDs        []uuid.UUID    `json:"user_ids"`
	Title          string         `json:"title"`
	Content        string         `json:"content"`
	Data           map[string]any `json:"data"`
	DeepLink       string         `json:"deep_link"`
	SendAfter      *time.Time     `json:"send_after"`
}

// handleSendPush delivers a push. Skipped pushes (every target has push
// disabled) are still a 200 so callers do not retry them.
func (s *Server) handleSendPush(w http.ResponseWriter, r *http.Request) {
	var req sendPushRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.NotificationID == uuid.Nil && (req.Title == "" || req.Content == "") {
		respondErr(w, http.StatusBadRequest, "title and content are required without notification_id")
		return
	}

	p := notify.PushRequest{
		NotificationID: req.NotificationID,
		UserIDs:        req.UserIDs,
		Title:          req.Title,
		Content:        req.Content,
		Data:           req.Data,
		DeepLink:       req.DeepLink,
	}
	if req.SendAfter != nil {
		p.SendAfter = *req.SendAfter
	}

	res, err := s.notify.SendPush(r.Context(), p)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	if res.Skipped {
		respond(w, http.StatusOK, map[string]any{
			"success": true,
			"skipped": true,
			"reason":  "push notifications disabled for all target users",
		})
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"success":      true,
		"id":           res.ID,
		"recipients":   res.Recipients,
		"target_users": res.TargetUsers,
	})
}

// ─── POST /api/notifications/booking ──────────────────────────────────────────

type bookingNotificationRequest struct {
	BookingID uuid.UUID `json:"booking_id" validate:"required"`
	Type      string    `json:"type" validate:"required,oneof=booking_confirmed reminder_24h rating_request"`
}

func (s *Server) handleBookingNotification(w http.ResponseWriter, r *http.Request) {
	var req bookingNotificationRequest
	if !s.decode(w, r, &req) {
		return
	}

	sent, err := s.notify.SendBookingNotification(r.Context(), req.Type, req.BookingID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "sent": sent})
}

// ─── POST /api/bookings/{bookingID}/receipt ───────────────────────────────────

type sendReceiptRequest struct {
	RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
}

// handleSendReceipt emails a receipt to the booking owner. Only the owner may
// ask, and at most three receipts go out per booking.
func (s *Server) handleSendReceipt(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookingID, ok := urlUUID(w, r, "bookingID")
	if !ok {
		return
	}
	var req sendReceiptRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	res, err := s.notify.SendReceipt(r.Context(), notify.ReceiptParams{
		BookingID:      bookingID,
		CallerID:       userID,
		RecipientEmail: req.RecipientEmail,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"success":       true,
		"message_id":    res.MessageID,
		"receipt_count": res.ReceiptCount,
	})
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
