package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/email"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	"github.com/nyashahama/dinnerhelp-backend/internal/push"
)

// Options tunes the service. Zero values take the defaults.
type Options struct {
	// Location interprets booking dates and start times.
	Location *time.Location
	// FeeRates drive the receipt's payment breakdown.
	FeeRates policy.FeeRates
	// QueueBatchSize caps how many due queue items one ProcessQueue call takes.
	QueueBatchSize int32
	// RetryBatchSize caps how many failed notifications one call requeues.
	RetryBatchSize int32
	// MaxReceiptSends caps receipt emails per booking.
	MaxReceiptSends int32
	// Now is the clock. Tests pin it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.FeeRates.VAT.IsZero() && o.FeeRates.Commission.IsZero() {
		o.FeeRates = policy.DefaultFeeRates()
	}
	if o.QueueBatchSize <= 0 {
		o.QueueBatchSize = 50
	}
	if o.RetryBatchSize <= 0 {
		o.RetryBatchSize = 20
	}
	if o.MaxReceiptSends <= 0 {
		o.MaxReceiptSends = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service creates notification rows and delivers them through the email and
// push providers.
type Service struct {
	q      db.Querier
	mailer email.Sender
	pusher push.Sender
	logger *slog.Logger
	opts   Options
}

// NewService constructs a Service.
func NewService(q db.Querier, mailer email.Sender, pusher push.Sender, logger *slog.Logger, opts Options) *Service {
	return &Service{
		q:      q,
		mailer: mailer,
		pusher: pusher,
		logger: logger.With("component", "notify"),
		opts:   opts.withDefaults(),
	}
}

// ─── SCHEDULE ─────────────────────────────────────────────────────────────────

// ScheduleParams describes one scheduling request for a booking.
type ScheduleParams struct {
	BookingID  uuid.UUID
	Type       Type
	Recipient  Recipient
	CustomData map[string]any
	// Immediate delivers now regardless of the type's send time.
	Immediate bool
	// SkipIfPast creates nothing when the computed send time has passed,
	// instead of delivering immediately.
	SkipIfPast bool
}

// ScheduleResult lists the notifications a Schedule call created.
type ScheduleResult struct {
	NotificationIDs []uuid.UUID
	ScheduledAt     *time.Time
}

// Schedule creates one email and one push notification per recipient,
// honouring their preferences. Future sends are queued; immediate sends are
// delivered inline and a delivery failure does not fail the call.
func (s *Service) Schedule(ctx context.Context, p ScheduleParams) (ScheduleResult, error) {
	details, err := s.q.GetBookingDetails(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleResult{}, fmt.Errorf("%w: booking %s", ErrNotFound, p.BookingID)
	}
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("notify: get booking: %w", err)
	}

	start, end, err := bookingWindow(details.Booking, s.opts.Location)
	if err != nil {
		return ScheduleResult{}, fmt.Errorf("notify: booking time: %w", err)
	}

	now := s.opts.Now()
	var scheduledAt time.Time
	scheduled := false
	if !p.Immediate {
		scheduledAt, scheduled = SendTime(p.Type, start, end, now)
		if !scheduled && p.SkipIfPast && isTimed(p.Type) {
			return ScheduleResult{}, nil
		}
	}

	log := s.logger.With("booking_id", p.BookingID, "type", p.Type)
	data := bookingData(details, start, p.CustomData)

	var created []db.Notification
	for _, r := range p.Recipient.expand() {
		isUser := r == RecipientUser
		userID := details.Booking.ChefID
		recipientEmail := details.ChefEmail
		if isUser {
			userID = details.Booking.UserID
			recipientEmail = details.UserEmail
		}

		prefs := s.preferences(ctx, userID)
		if !prefs.allows(p.Type) {
			continue
		}

		base := db.CreateNotificationParams{
			UserID:    userID,
			BookingID: uuid.NullUUID{UUID: p.BookingID, Valid: true},
			Type:      string(p.Type),
			Status:    StatusPending,
		}
		if isUser {
			base.ChefID = uuid.NullUUID{UUID: details.Booking.ChefID, Valid: true}
		}
		if scheduled {
			base.ScheduledAt = sql.NullTime{Time: scheduledAt, Valid: true}
		}

		recipientData := withValues(data, map[string]any{
			"recipient_email": recipientEmail,
			"language":        prefs.Language,
		})
		raw, err := json.Marshal(recipientData)
		if err != nil {
			return ScheduleResult{}, fmt.Errorf("notify: marshal data: %w", err)
		}
		base.Data = pqtype.NullRawMessage{RawMessage: raw, Valid: true}

		if prefs.EmailEnabled {
			n := base
			n.Channel = string(ChannelEmail)
			n.Title = Title(p.Type, prefs.Language, isUser)
			n.Content = Content(p.Type, prefs.Language, isUser, recipientData)
			n.TemplateID = sql.NullString{String: fmt.Sprintf("%s_%s", p.Type, r), Valid: true}
			if row, ok := s.create(ctx, log, n); ok {
				created = append(created, row)
			}
		}
		if prefs.PushEnabled {
			n := base
			n.Channel = string(ChannelPush)
			n.Title = PushTitle(p.Type, prefs.Language, isUser)
			n.Content = PushContent(p.Type, prefs.Language, isUser, recipientData)
			if row, ok := s.create(ctx, log, n); ok {
				created = append(created, row)
			}
		}
	}

	res := ScheduleResult{NotificationIDs: make([]uuid.UUID, 0, len(created))}
	for _, n := range created {
		res.NotificationIDs = append(res.NotificationIDs, n.ID)
	}

	if scheduled {
		res.ScheduledAt = &scheduledAt
		for _, n := range created {
			if err := s.q.EnqueueNotification(ctx, n.ID, scheduledAt); err != nil {
				log.Error("notify: enqueue failed", "notification_id", n.ID, "error", err)
			}
		}
		log.Info("notify: scheduled", "count", len(created), "scheduled_at", scheduledAt)
		return res, nil
	}

	for _, n := range created {
		if err := s.deliverNow(ctx, n); err != nil {
			log.Warn("notify: immediate delivery failed",
				"notification_id", n.ID,
				"channel", n.Channel,
				"error", err,
			)
		}
	}
	log.Info("notify: sent immediately", "count", len(created))
	return res, nil
}

func (s *Service) create(ctx context.Context, log *slog.Logger, p db.CreateNotificationParams) (db.Notification, bool) {
	n, err := s.q.CreateNotification(ctx, p)
	if err != nil {
		log.Error("notify: create notification failed", "channel", p.Channel, "error", err)
		return db.Notification{}, false
	}
	return n, true
}

func (s *Service) deliverNow(ctx context.Context, n db.Notification) error {
	switch Channel(n.Channel) {
	case ChannelEmail:
		_, err := s.SendEmail(ctx, EmailRequest{NotificationID: n.ID})
		return err
	case ChannelPush:
		_, err := s.SendPush(ctx, PushRequest{NotificationID: n.ID})
		return err
	}
	return nil
}

func isTimed(t Type) bool {
	return t == TypeBookingReminder24h || t == TypeBookingReminder1h || t == TypeBookingCompletion
}

// bookingData is the variable set that templates and push payloads draw on.
func bookingData(d db.GetBookingDetailsRow, start time.Time, custom map[string]any) map[string]any {
	b := d.Booking
	data := map[string]any{
		"booking_id":       b.ID.String(),
		"user_name":        strings.TrimSpace(d.UserFirstName + " " + d.UserLastName),
		"user_email":       d.UserEmail,
		"chef_name":        strings.TrimSpace(d.ChefFirstName + " " + d.ChefLastName),
		"chef_email":       d.ChefEmail,
		"booking_date":     FormatDate(start, LangDa),
		"booking_date_en":  FormatDate(start, LangEn),
		"booking_time":     b.StartTime,
		"booking_datetime": start.UTC().Format(time.RFC3339),
		"guest_count":      fmt.Sprintf("%d", b.NumberOfGuests),
		"address":          b.Address,
		"total_amount":     fmt.Sprintf("%d", b.TotalAmount),
	}
	if b.Notes.Valid {
		data["notes"] = b.Notes.String
	}
	for k, v := range custom {
		data[k] = v
	}
	return data
}

func withValues(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// ─── PREFERENCES ──────────────────────────────────────────────────────────────

type userPrefs struct {
	EmailEnabled         bool
	PushEnabled          bool
	Language             string
	BookingConfirmations bool
	BookingReminders     bool
	BookingUpdates       bool
}

var defaultPreferences = userPrefs{
	EmailEnabled:         true,
	PushEnabled:          true,
	Language:             LangDa,
	BookingConfirmations: true,
	BookingReminders:     true,
	BookingUpdates:       true,
}

// preferences loads a user's settings. A missing row, or a failed read,
// yields the defaults.
func (s *Service) preferences(ctx context.Context, userID uuid.UUID) userPrefs {
	row, err := s.q.GetNotificationPreferences(ctx, userID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("notify: load preferences failed, using defaults", "user_id", userID, "error", err)
		}
		return defaultPreferences
	}
	lang := row.LanguagePreference
	if lang == "" {
		lang = LangDa
	}
	return userPrefs{
		EmailEnabled:         row.EmailEnabled,
		PushEnabled:          row.PushEnabled,
		Language:             lang,
		BookingConfirmations: row.BookingConfirmations,
		BookingReminders:     row.BookingReminders,
		BookingUpdates:       row.BookingUpdates,
	}
}

func (p userPrefs) allows(t Type) bool {
	switch t {
	case TypeBookingConfirmation:
		return p.BookingConfirmations
	case TypeBookingReminder24h, TypeBookingReminder1h:
		return p.BookingReminders
	case TypeBookingCompletion, TypeBookingModified, TypeBookingCancelled:
		return p.BookingUpdates
	}
	return true
}

// ─── EMAIL ────────────────────────────────────────────────────────────────────

// EmailRequest sends an email either for a stored notification, or ad hoc
// when NotificationID is nil. Explicit fields override the notification's.
type EmailRequest struct {
	NotificationID    uuid.UUID
	UserEmail         string
	TemplateKey       string
	TemplateVariables map[string]any
	Subject           string
	HTMLContent       string
	TextContent       string
	Language          string
}

// EmailResult reports a delivered email.
type EmailResult struct {
	MessageID string
	To        string
}

// SendEmail delivers an email and records the outcome on the notification.
func (s *Service) SendEmail(ctx context.Context, req EmailRequest) (EmailResult, error) {
	var n *db.Notification
	if req.NotificationID != uuid.Nil {
		row, err := s.q.GetNotification(ctx, req.NotificationID)
		if errors.Is(err, sql.ErrNoRows) {
			return EmailResult{}, fmt.Errorf("%w: notification %s", ErrNotFound, req.NotificationID)
		}
		if err != nil {
			return EmailResult{}, fmt.Errorf("notify: get notification: %w", err)
		}
		n = &row
	}

	res, err := s.deliverEmail(ctx, req, n)
	metrics.Notifications.WithLabelValues(string(ChannelEmail), metrics.Outcome(err)).Inc()
	if n == nil {
		return res, err
	}

	if err != nil {
		if mErr := s.q.MarkNotificationFailed(ctx, n.ID, err.Error()); mErr != nil {
			s.logger.Error("notify: mark email failed", "notification_id", n.ID, "error", mErr)
		}
		return EmailResult{}, err
	}
	if mErr := s.q.MarkNotificationSent(ctx, n.ID, nullString(res.MessageID)); mErr != nil {
		// The email went out; only the bookkeeping is lost.
		s.logger.Error("notify: mark email sent", "notification_id", n.ID, "error", mErr)
	}
	return res, nil
}

func (s *Service) deliverEmail(ctx context.Context, req EmailRequest, n *db.Notification) (EmailResult, error) {
	var data map[string]any
	if n != nil {
		data = decodeData(n.Data)
	}

	to := firstNonEmpty(req.UserEmail, str(data["recipient_email"]), str(data["user_email"]))
	if to == "" && n != nil {
		if profile, err := s.q.GetProfile(ctx, n.UserID); err == nil {
			to = profile.Email
		}
	}
	if to == "" {
		return EmailResult{}, ErrNoRecipient
	}

	lang := firstNonEmpty(req.Language, str(data["language"]), LangDa)
	subject, htmlBody, textBody := req.Subject, req.HTMLContent, req.TextContent

	key := req.TemplateKey
	explicitKey := key != ""
	if !explicitKey && n != nil && n.TemplateID.Valid {
		key = n.TemplateID.String
	}

	rendered := false
	if key != "" {
		tmpl, err := s.q.GetEmailTemplate(ctx, key)
		switch {
		case err == nil:
			vars := withValues(req.TemplateVariables, data)
			subject, htmlBody, textBody = localize(tmpl, lang)
			subject = Render(subject, vars)
			htmlBody = Render(htmlBody, vars)
			textBody = Render(textBody, vars)
			rendered = true
		case errors.Is(err, sql.ErrNoRows) && !explicitKey:
			// No stored template for this type; use the notification's own copy.
		case errors.Is(err, sql.ErrNoRows):
			return EmailResult{}, fmt.Errorf("notify: email template %q not found", key)
		default:
			return EmailResult{}, fmt.Errorf("notify: get email template: %w", err)
		}
	}

	if !rendered && n != nil {
		subject = firstNonEmpty(subject, n.Title)
		textBody = firstNonEmpty(textBody, n.Content)
		if htmlBody == "" && n.Content != "" {
			htmlBody = "<p>" + html.EscapeString(n.Content) + "</p>"
		}
	}
	if subject == "" || htmlBody == "" {
		return EmailResult{}, ErrMissingContent
	}

	meta := map[string]string{"language": lang}
	tag := ""
	if n != nil {
		meta["notification_id"] = n.ID.String()
		tag = n.Type
	}
	if key != "" {
		meta["template_key"] = key
	}

	id, err := s.mailer.Send(ctx, email.Message{
		To:       to,
		Subject:  subject,
		HTML:     htmlBody,
		Text:     textBody,
		Tag:      tag,
		Metadata: meta,
	})
	if err != nil {
		return EmailResult{}, err
	}
	return EmailResult{MessageID: id, To: to}, nil
}

func localize(t db.EmailTemplate, lang string) (subject, htmlBody, textBody string) {
	if lang == LangDa {
		return t.SubjectDa, t.HtmlContentDa, t.TextContentDa.String
	}
	return t.SubjectEn, t.HtmlContentEn, t.TextContentEn.String
}

// ─── PUSH ─────────────────────────────────────────────────────────────────────

// PushRequest sends a push either for a stored notification or ad hoc.
type PushRequest struct {
	NotificationID uuid.UUID
	UserIDs        []uuid.UUID
	Title          string
	Content        string
	Data           map[string]any
	DeepLink       string
	SendAfter      time.Time
}

// PushResult reports a push delivery. Skipped is set when every target user
// has push disabled.
type PushResult struct {
	ID          string
	Recipients  int
	TargetUsers int
	Skipped     bool
}

const reasonPushDisabled = "Push notifications disabled for all target users"

// SendPush delivers a push notification and records the outcome on the
// notification.
func (s *Service) SendPush(ctx context.Context, req PushRequest) (PushResult, error) {
	var n *db.Notification
	if req.NotificationID != uuid.Nil {
		row, err := s.q.GetNotification(ctx, req.NotificationID)
		if errors.Is(err, sql.ErrNoRows) {
			return PushResult{}, fmt.Errorf("%w: notification %s", ErrNotFound, req.NotificationID)
		}
		if err != nil {
			return PushResult{}, fmt.Errorf("notify: get notification: %w", err)
		}
		n = &row
	}

	res, err := s.deliverPush(ctx, req, n)
	switch {
	case err != nil:
		metrics.Notifications.WithLabelValues(string(ChannelPush), metrics.OutcomeError).Inc()
	case res.Skipped:
		metrics.Notifications.WithLabelValues(string(ChannelPush), metrics.OutcomeSkipped).Inc()
	default:
		metrics.Notifications.WithLabelValues(string(ChannelPush), metrics.OutcomeOK).Inc()
	}
	if n == nil {
		return res, err
	}

	switch {
	case err != nil:
		if mErr := s.q.MarkNotificationFailed(ctx, n.ID, err.Error()); mErr != nil {
			s.logger.Error("notify: mark push failed", "notification_id", n.ID, "error", mErr)
		}
		return PushResult{}, err
	case res.Skipped:
		if mErr := s.q.CancelNotification(ctx, n.ID, reasonPushDisabled); mErr != nil {
			s.logger.Error("notify: cancel push", "notification_id", n.ID, "error", mErr)
		}
	default:
		if mErr := s.q.MarkNotificationSent(ctx, n.ID, nullString(res.ID)); mErr != nil {
			s.logger.Error("notify: mark push sent", "notification_id", n.ID, "error", mErr)
		}
	}
	return res, nil
}

func (s *Service) deliverPush(ctx context.Context, req PushRequest, n *db.Notification) (PushResult, error) {
	targets := req.UserIDs
	if len(targets) == 0 && n != nil {
		targets = []uuid.UUID{n.UserID}
	}
	if len(targets) == 0 {
		return PushResult{}, ErrNoTargetUsers
	}

	enabled := targets
	disabled, err := s.q.ListPushDisabledUsers(ctx, targets)
	if err != nil {
		// Sending anyway leaves the user in control through the OS settings.
		s.logger.Warn("notify: check push preferences failed", "error", err)
	} else if len(disabled) > 0 {
		enabled = without(targets, disabled)
	}
	if len(enabled) == 0 {
		return PushResult{Skipped: true}, nil
	}

	title, content := req.Title, req.Content
	data := make(map[string]any, len(req.Data)+4)
	for k, v := range req.Data {
		data[k] = v
	}
	deepLink := req.DeepLink
	if n != nil {
		title = firstNonEmpty(title, n.Title)
		content = firstNonEmpty(content, n.Content)
		for k, v := range decodeData(n.Data) {
			data[k] = v
		}
		data["notification_id"] = n.ID.String()
		if deepLink == "" {
			bookingID := str(data["booking_id"])
			if n.BookingID.Valid {
				bookingID = n.BookingID.UUID.String()
			}
			deepLink = push.DeepLink(n.Type, bookingID)
		}
	}

	userIDs := make([]string, len(enabled))
	for i, id := range enabled {
		userIDs[i] = id.String()
	}

	out, err := s.pusher.Send(ctx, push.Notification{
		UserIDs:   userIDs,
		Title:     title,
		Content:   content,
		Data:      data,
		DeepLink:  deepLink,
		SendAfter: req.SendAfter,
	})
	if err != nil {
		return PushResult{}, err
	}
	return PushResult{ID: out.ID, Recipients: out.Recipients, TargetUsers: len(enabled)}, nil
}

func without(ids, drop []uuid.UUID) []uuid.UUID {
	skip := make(map[uuid.UUID]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// ─── IN-APP ───────────────────────────────────────────────────────────────────

// InAppParams describes an in-app notification. In-app rows are final on
// insert; the app reads them straight from the table.
type InAppParams struct {
	UserID    uuid.UUID
	BookingID uuid.UUID
	Type      Type
	Title     string
	Content   string
	Data      map[string]any
}

// CreateInApp stores an in-app notification.
func (s *Service) CreateInApp(ctx context.Context, p InAppParams) (db.Notification, error) {
	params := db.CreateNotificationParams{
		UserID:  p.UserID,
		Type:    string(p.Type),
		Channel: string(ChannelInApp),
		Status:  StatusSent,
		Title:   p.Title,
		Content: p.Content,
	}
	if p.BookingID != uuid.Nil {
		params.BookingID = uuid.NullUUID{UUID: p.BookingID, Valid: true}
	}
	if len(p.Data) > 0 {
		raw, err := json.Marshal(p.Data)
		if err != nil {
			return db.Notification{}, fmt.Errorf("notify: marshal in-app data: %w", err)
		}
		params.Data = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}
	n, err := s.q.CreateNotification(ctx, params)
	if err != nil {
		return db.Notification{}, fmt.Errorf("notify: create in-app notification: %w", err)
	}
	metrics.Notifications.WithLabelValues(string(ChannelInApp), metrics.OutcomeOK).Inc()
	return n, nil
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

func decodeData(raw pqtype.NullRawMessage) map[string]any {
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw.RawMessage, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
