package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/email"
	"github.com/nyashahama/dinnerhelp-backend/internal/push"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	details       map[uuid.UUID]db.GetBookingDetailsRow
	prefs         map[uuid.UUID]db.NotificationPreference
	notifications map[uuid.UUID]db.Notification
	queue         []db.ListDueQueueItemsRow
	enqueued      map[uuid.UUID]time.Time
	processed     map[uuid.UUID]bool
	templates     map[string]db.EmailTemplate
	pushDisabled  map[uuid.UUID]bool
	receiptCount  map[uuid.UUID]int32
	released      int
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		details:       map[uuid.UUID]db.GetBookingDetailsRow{},
		prefs:         map[uuid.UUID]db.NotificationPreference{},
		notifications: map[uuid.UUID]db.Notification{},
		enqueued:      map[uuid.UUID]time.Time{},
		processed:     map[uuid.UUID]bool{},
		templates:     map[string]db.EmailTemplate{},
		pushDisabled:  map[uuid.UUID]bool{},
		receiptCount:  map[uuid.UUID]int32{},
	}
}

func (q *stubQuerier) GetBookingDetails(_ context.Context, id uuid.UUID) (db.GetBookingDetailsRow, error) {
	d, ok := q.details[id]
	if !ok {
		return db.GetBookingDetailsRow{}, sql.ErrNoRows
	}
	return d, nil
}

func (q *stubQuerier) GetBookingByID(_ context.Context, id uuid.UUID) (db.Booking, error) {
	d, ok := q.details[id]
	if !ok {
		return db.Booking{}, sql.ErrNoRows
	}
	return d.Booking, nil
}

func (q *stubQuerier) GetNotificationPreferences(_ context.Context, userID uuid.UUID) (db.NotificationPreference, error) {
	p, ok := q.prefs[userID]
	if !ok {
		return db.NotificationPreference{}, sql.ErrNoRows
	}
	return p, nil
}

func (q *stubQuerier) GetProfile(_ context.Context, id uuid.UUID) (db.Profile, error) {
	return db.Profile{ID: id, Email: "profile@example.com"}, nil
}

func (q *stubQuerier) CreateNotification(_ context.Context, p db.CreateNotificationParams) (db.Notification, error) {
	n := db.Notification{
		ID:          uuid.New(),
		UserID:      p.UserID,
		BookingID:   p.BookingID,
		ChefID:      p.ChefID,
		Type:        p.Type,
		Channel:     p.Channel,
		Status:      p.Status,
		Title:       p.Title,
		Content:     p.Content,
		Data:        p.Data,
		TemplateID:  p.TemplateID,
		ScheduledAt: p.ScheduledAt,
		MaxRetries:  3,
	}
	q.notifications[n.ID] = n
	return n, nil
}

func (q *stubQuerier) GetNotification(_ context.Context, id uuid.UUID) (db.Notification, error) {
	n, ok := q.notifications[id]
	if !ok {
		return db.Notification{}, sql.ErrNoRows
	}
	return n, nil
}

func (q *stubQuerier) ClaimNotification(_ context.Context, id uuid.UUID) (db.Notification, error) {
	n, ok := q.notifications[id]
	if !ok || n.Status != StatusPending {
		return db.Notification{}, sql.ErrNoRows
	}
	n.Status = StatusProcessing
	q.notifications[id] = n
	return n, nil
}

func (q *stubQuerier) MarkNotificationSent(_ context.Context, id uuid.UUID, externalID sql.NullString) error {
	n := q.notifications[id]
	n.Status = StatusSent
	n.ExternalID = externalID
	q.notifications[id] = n
	return nil
}

func (q *stubQuerier) MarkNotificationFailed(_ context.Context, id uuid.UUID, reason string) error {
	n := q.notifications[id]
	n.Status = StatusFailed
	n.FailureReason = sql.NullString{String: reason, Valid: true}
	n.RetryCount++
	q.notifications[id] = n
	return nil
}

func (q *stubQuerier) CancelNotification(_ context.Context, id uuid.UUID, reason string) error {
	n := q.notifications[id]
	n.Status = StatusCancelled
	n.FailureReason = sql.NullString{String: reason, Valid: true}
	q.notifications[id] = n
	return nil
}

func (q *stubQuerier) EnqueueNotification(_ context.Context, id uuid.UUID, at time.Time) error {
	q.enqueued[id] = at
	return nil
}

func (q *stubQuerier) ListDueQueueItems(_ context.Context, _ time.Time, _ int32) ([]db.ListDueQueueItemsRow, error) {
	return q.queue, nil
}

func (q *stubQuerier) MarkQueueItemProcessed(_ context.Context, id uuid.UUID) error {
	q.processed[id] = true
	return nil
}

func (q *stubQuerier) ListRetryableNotifications(_ context.Context, _ int32) ([]db.Notification, error) {
	var out []db.Notification
	for _, n := range q.notifications {
		if n.Status == StatusFailed && n.RetryCount < n.MaxRetries {
			out = append(out, n)
		}
	}
	return out, nil
}

func (q *stubQuerier) RequeueNotification(_ context.Context, p db.RequeueNotificationParams) (db.Notification, error) {
	n, ok := q.notifications[p.ID]
	if !ok || n.Status != StatusFailed || n.RetryCount != p.RetryCount {
		return db.Notification{}, sql.ErrNoRows
	}
	n.Status = StatusPending
	q.notifications[p.ID] = n
	return n, nil
}

func (q *stubQuerier) ListPushDisabledUsers(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range ids {
		if q.pushDisabled[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (q *stubQuerier) GetEmailTemplate(_ context.Context, key string) (db.EmailTemplate, error) {
	t, ok := q.templates[key]
	if !ok {
		return db.EmailTemplate{}, sql.ErrNoRows
	}
	return t, nil
}

func (q *stubQuerier) ClaimReceiptSend(_ context.Context, p db.ClaimReceiptSendParams) (int32, error) {
	if q.receiptCount[p.ID] >= p.MaxSends {
		return 0, sql.ErrNoRows
	}
	q.receiptCount[p.ID]++
	return q.receiptCount[p.ID], nil
}

func (q *stubQuerier) ReleaseReceiptSend(_ context.Context, id uuid.UUID) error {
	q.receiptCount[id]--
	q.released++
	return nil
}

type stubMailer struct {
	sent []email.Message
	err  error
}

func (m *stubMailer) Send(_ context.Context, msg email.Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "msg-" + msg.To, nil
}

type stubPusher struct {
	sent []push.Notification
	err  error
}

func (p *stubPusher) Send(_ context.Context, n push.Notification) (push.Result, error) {
	if p.err != nil {
		return push.Result{}, p.err
	}
	p.sent = append(p.sent, n)
	return push.Result{ID: "os-1", Recipients: len(n.UserIDs)}, nil
}

// ─── FIXTURES ─────────────────────────────────────────────────────────────────

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	q      *stubQuerier
	mailer *stubMailer
	pusher *stubPusher
	svc    *Service
}

func newFixture() *fixture {
	f := &fixture{q: newStubQuerier(), mailer: &stubMailer{}, pusher: &stubPusher{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.q, f.mailer, f.pusher, logger, Options{
		Now: func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) addBooking(status string) db.GetBookingDetailsRow {
	d := db.GetBookingDetailsRow{
		Booking: db.Booking{
			ID:             uuid.New(),
			UserID:         uuid.New(),
			ChefID:         uuid.New(),
			Date:           time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
			StartTime:      "18:00:00",
			NumberOfGuests: 4,
			Address:        "Nørrebrogade 1, København",
			TotalAmount:    125000,
			Status:         status,
			CreatedAt:      time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC),
		},
		UserFirstName: "Anna",
		UserLastName:  "Jensen",
		UserEmail:     "anna@example.com",
		ChefFirstName: "Mette",
		ChefLastName:  "Holm",
		ChefEmail:     "mette@example.com",

		ChefVatRegistered: true,
	}
	f.q.details[d.Booking.ID] = d
	return d
}

func (f *fixture) byChannel(channel Channel) []db.Notification {
	var out []db.Notification
	for _, n := range f.q.notifications {
		if n.Channel == string(channel) {
			out = append(out, n)
		}
	}
	return out
}

// ─── SCHEDULE ─────────────────────────────────────────────────────────────────

func TestSchedule_ImmediateSendsEmailAndPush(t *testing.T) {
	f := newFixture()
	d := f.addBooking("confirmed")

	res, err := f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: d.Booking.ID,
		Type:      TypeBookingConfirmation,
		Recipient: RecipientUser,
	})
	require.NoError(t, err)
	assert.Len(t, res.NotificationIDs, 2)
	assert.Nil(t, res.ScheduledAt)
	assert.Empty(t, f.q.enqueued)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "anna@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "Din booking er bekræftet! 🎉", f.mailer.sent[0].Subject)

	require.Len(t, f.pusher.sent, 1)
	assert.Equal(t, []string{d.Booking.UserID.String()}, f.pusher.sent[0].UserIDs)
	assert.Equal(t, "dinnerhelp://booking/"+d.Booking.ID.String(), f.pusher.sent[0].DeepLink)

	for _, n := range f.q.notifications {
		assert.Equal(t, StatusSent, n.Status, n.Channel)
	}
	emails := f.byChannel(ChannelEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, "booking_confirmation_user", emails[0].TemplateID.String)
}

func TestSchedule_FutureReminderIsQueued(t *testing.T) {
	f := newFixture()
	d := f.addBooking("confirmed")

	res, err := f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: d.Booking.ID,
		Type:      TypeBookingReminder24h,
		Recipient: RecipientBoth,
	})
	require.NoError(t, err)

	want := time.Date(2025, 1, 9, 18, 0, 0, 0, time.UTC)
	require.NotNil(t, res.ScheduledAt)
	assert.Equal(t, want, *res.ScheduledAt)
	assert.Len(t, res.NotificationIDs, 4)
	assert.Len(t, f.q.enqueued, 4)
	assert.Empty(t, f.mailer.sent)
	assert.Empty(t, f.pusher.sent)

	for _, n := range f.q.notifications {
		assert.Equal(t, StatusPending, n.Status)
		assert.True(t, n.ScheduledAt.Valid)
	}
}

func TestSchedule_RespectsPreferences(t *testing.T) {
	f := newFixture()
	d := f.addBooking("confirmed")
	f.q.prefs[d.Booking.UserID] = db.NotificationPreference{
		UserID:               d.Booking.UserID,
		EmailEnabled:         false,
		PushEnabled:          true,
		LanguagePreference:   LangEn,
		BookingConfirmations: true,
		BookingReminders:     false,
		BookingUpdates:       true,
	}

	res, err := f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: d.Booking.ID,
		Type:      TypeBookingReminder24h,
		Recipient: RecipientUser,
	})
	require.NoError(t, err)
	assert.Empty(t, res.NotificationIDs, "reminders are switched off")

	res, err = f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: d.Booking.ID,
		Type:      TypeBookingConfirmation,
		Recipient: RecipientUser,
	})
	require.NoError(t, err)
	require.Len(t, res.NotificationIDs, 1)
	assert.Empty(t, f.mailer.sent)
	require.Len(t, f.pusher.sent, 1)
	assert.Equal(t, "Booking confirmed!", f.pusher.sent[0].Title)
}

func TestSchedule_UnknownBooking(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: uuid.New(),
		Type:      TypeBookingConfirmation,
		Recipient: RecipientUser,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSchedule_ChefEmailGoesToChef(t *testing.T) {
	f := newFixture()
	d := f.addBooking("confirmed")

	_, err := f.svc.Schedule(context.Background(), ScheduleParams{
		BookingID: d.Booking.ID,
		Type:      TypeBookingConfirmation,
		Recipient: RecipientChef,
	})
	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "mette@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "Ny booking bekræftet! 👨‍🍳", f.mailer.sent[0].Subject)
}

// ─── EMAIL ────────────────────────────────────────────────────────────────────

func TestSendEmail_RendersStoredTemplate(t *testing.T) {
	f := newFixture()
	f.q.templates["booking_confirmation_user"] = db.EmailTemplate{
		TemplateKey:   "booking_confirmation_user",
		SubjectDa:     "Hej {{user_name}}",
		HtmlContentDa: "<p>{{chef_name}} kommer {{booking_date}}</p>",
		SubjectEn:     "Hi {{user_name}}",
		HtmlContentEn: "<p>{{chef_name}} arrives {{booking_date_en}}</p>",
	}
	raw, _ := json.Marshal(map[string]any{
		"user_name":       "Anna",
		"chef_name":       "Mette",
		"booking_date":    "10. januar 2025",
		"recipient_email": "anna@example.com",
	})
	n, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{
		UserID:     uuid.New(),
		Type:       string(TypeBookingConfirmation),
		Channel:    string(ChannelEmail),
		Status:     StatusPending,
		Title:      "fallback",
		Content:    "fallback",
		Data:       nullRaw(raw),
		TemplateID: sql.NullString{String: "booking_confirmation_user", Valid: true},
	})

	res, err := f.svc.SendEmail(context.Background(), EmailRequest{NotificationID: n.ID})
	require.NoError(t, err)
	assert.Equal(t, "msg-anna@example.com", res.MessageID)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "Hej Anna", f.mailer.sent[0].Subject)
	assert.Equal(t, "<p>Mette kommer 10. januar 2025</p>", f.mailer.sent[0].HTML)
	assert.Equal(t, StatusSent, f.q.notifications[n.ID].Status)
	assert.Equal(t, "msg-anna@example.com", f.q.notifications[n.ID].ExternalID.String)
}

func TestSendEmail_FallsBackToProfileEmail(t *testing.T) {
	f := newFixture()
	n, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{
		UserID:  uuid.New(),
		Type:    string(TypeBookingModified),
		Channel: string(ChannelEmail),
		Status:  StatusPending,
		Title:   "Din booking er blevet opdateret",
		Content: "Opdatering <3",
	})

	_, err := f.svc.SendEmail(context.Background(), EmailRequest{NotificationID: n.ID})
	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "profile@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "<p>Opdatering &lt;3</p>", f.mailer.sent[0].HTML)
	assert.Equal(t, "Opdatering <3", f.mailer.sent[0].Text)
}

func TestSendEmail_ProviderFailureMarksFailed(t *testing.T) {
	f := newFixture()
	f.mailer.err = errors.New("postmark down")
	n, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{
		UserID:  uuid.New(),
		Channel: string(ChannelEmail),
		Status:  StatusPending,
		Title:   "t",
		Content: "c",
	})

	_, err := f.svc.SendEmail(context.Background(), EmailRequest{NotificationID: n.ID, UserEmail: "a@b.dk"})
	require.Error(t, err)
	got := f.q.notifications[n.ID]
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, int32(1), got.RetryCount)
}

func TestSendEmail_AdHocRequiresContent(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SendEmail(context.Background(), EmailRequest{UserEmail: "a@b.dk", Subject: "s"})
	assert.ErrorIs(t, err, ErrMissingContent)

	_, err = f.svc.SendEmail(context.Background(), EmailRequest{Subject: "s", HTMLContent: "h"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

// ─── PUSH ─────────────────────────────────────────────────────────────────────

func TestSendPush_AllDisabledCancels(t *testing.T) {
	f := newFixture()
	user := uuid.New()
	f.q.pushDisabled[user] = true
	n, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{
		UserID:  user,
		Channel: string(ChannelPush),
		Status:  StatusPending,
		Title:   "t",
		Content: "c",
	})

	res, err := f.svc.SendPush(context.Background(), PushRequest{NotificationID: n.ID})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.pusher.sent)
	assert.Equal(t, StatusCancelled, f.q.notifications[n.ID].Status)
	assert.Equal(t, reasonPushDisabled, f.q.notifications[n.ID].FailureReason.String)
}

func TestSendPush_FiltersDisabledUsers(t *testing.T) {
	f := newFixture()
	on, off := uuid.New(), uuid.New()
	f.q.pushDisabled[off] = true

	res, err := f.svc.SendPush(context.Background(), PushRequest{
		UserIDs: []uuid.UUID{on, off},
		Title:   "Hej",
		Content: "Besked",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TargetUsers)
	require.Len(t, f.pusher.sent, 1)
	assert.Equal(t, []string{on.String()}, f.pusher.sent[0].UserIDs)
}

func TestSendPush_NoTargets(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SendPush(context.Background(), PushRequest{Title: "t"})
	assert.ErrorIs(t, err, ErrNoTargetUsers)
}

// ─── QUEUE ────────────────────────────────────────────────────────────────────

func (f *fixture) queueNotification(channel Channel, mutate func(*db.Notification)) db.Notification {
	raw, _ := json.Marshal(map[string]any{"recipient_email": "anna@example.com"})
	n, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{
		UserID:  uuid.New(),
		Type:    string(TypeBookingReminder1h),
		Channel: string(channel),
		Status:  StatusPending,
		Title:   "t",
		Content: "c",
		Data:    nullRaw(raw),
	})
	if mutate != nil {
		mutate(&n)
		f.q.notifications[n.ID] = n
	}
	f.q.queue = append(f.q.queue, db.ListDueQueueItemsRow{QueueID: uuid.New(), ScheduledFor: testNow, Notification: n})
	return n
}

func TestProcessQueue_Channels(t *testing.T) {
	f := newFixture()
	emailN := f.queueNotification(ChannelEmail, nil)
	pushN := f.queueNotification(ChannelPush, nil)
	inApp := f.queueNotification(ChannelInApp, nil)
	sms := f.queueNotification(ChannelSMS, nil)

	res, err := f.svc.ProcessQueue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "SMS not implemented")

	assert.Equal(t, StatusSent, f.q.notifications[emailN.ID].Status)
	assert.Equal(t, StatusSent, f.q.notifications[pushN.ID].Status)
	assert.Equal(t, StatusSent, f.q.notifications[inApp.ID].Status)
	assert.Equal(t, StatusFailed, f.q.notifications[sms.ID].Status)
	assert.Len(t, f.q.processed, 4)
}

func TestProcessQueue_SkipsNonPendingAndCancelsExhausted(t *testing.T) {
	f := newFixture()
	sent := f.queueNotification(ChannelEmail, func(n *db.Notification) { n.Status = StatusSent })
	exhausted := f.queueNotification(ChannelEmail, func(n *db.Notification) { n.RetryCount = 3 })

	res, err := f.svc.ProcessQueue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.mailer.sent)
	assert.Equal(t, StatusSent, f.q.notifications[sent.ID].Status)
	assert.Equal(t, StatusCancelled, f.q.notifications[exhausted.ID].Status)
	assert.Equal(t, reasonMaxRetries, f.q.notifications[exhausted.ID].FailureReason.String)
}

func TestProcessQueue_RequeuesAfterBackoff(t *testing.T) {
	f := newFixture()

	due, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{UserID: uuid.New(), Channel: string(ChannelEmail)})
	due.Status = StatusFailed
	due.RetryCount = 1
	due.FailedAt = sql.NullTime{Time: testNow.Add(-6 * time.Minute), Valid: true}
	f.q.notifications[due.ID] = due

	early, _ := f.q.CreateNotification(context.Background(), db.CreateNotificationParams{UserID: uuid.New(), Channel: string(ChannelEmail)})
	early.Status = StatusFailed
	early.RetryCount = 2
	early.FailedAt = sql.NullTime{Time: testNow.Add(-10 * time.Minute), Valid: true}
	f.q.notifications[early.ID] = early

	res, err := f.svc.ProcessQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)

	assert.Equal(t, StatusPending, f.q.notifications[due.ID].Status)
	assert.Equal(t, testNow, f.q.enqueued[due.ID])
	assert.Equal(t, StatusFailed, f.q.notifications[early.ID].Status, "30 minute back-off not yet elapsed")
}

// ─── BOOKING TRIGGERS ─────────────────────────────────────────────────────────

func TestSendBookingNotification_ConfirmedAlsoQueuesReminder(t *testing.T) {
	f := newFixture()
	d := f.addBooking("confirmed")

	sent, err := f.svc.SendBookingNotification(context.Background(), TriggerBookingConfirmed, d.Booking.ID)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, f.mailer.sent, 1)
	assert.Len(t, f.q.enqueued, 2, "24h reminder email and push")
}

func TestSendBookingNotification_StatusGuards(t *testing.T) {
	f := newFixture()
	d := f.addBooking("pending")

	sent, err := f.svc.SendBookingNotification(context.Background(), TriggerReminder24h, d.Booking.ID)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = f.svc.SendBookingNotification(context.Background(), TriggerRatingRequest, d.Booking.ID)
	require.NoError(t, err)
	assert.False(t, sent)

	done := f.addBooking("completed")
	sent, err = f.svc.SendBookingNotification(context.Background(), TriggerRatingRequest, done.Booking.ID)
	require.NoError(t, err)
	assert.True(t, sent)
	require.NotEmpty(t, f.mailer.sent)
	assert.Equal(t, "Hvordan var din madoplevelse? ⭐", f.mailer.sent[0].Subject)
}

func TestSendBookingNotification_UnknownTrigger(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SendBookingNotification(context.Background(), "new_message", uuid.New())
	assert.ErrorIs(t, err, ErrUnknownType)
}

// ─── RECEIPT ──────────────────────────────────────────────────────────────────

func TestSendReceipt(t *testing.T) {
	f := newFixture()
	d := f.addBooking("completed")

	res, err := f.svc.SendReceipt(context.Background(), ReceiptParams{BookingID: d.Booking.ID, CallerID: d.Booking.UserID})
	require.NoError(t, err)
	assert.Equal(t, int32(1), res.ReceiptCount)

	require.Len(t, f.mailer.sent, 1)
	msg := f.mailer.sent[0]
	assert.Equal(t, "anna@example.com", msg.To)
	assert.Equal(t, "Kvittering - Booking #"+BookingRef(d.Booking.ID), msg.Subject)
	assert.Contains(t, msg.Text, "Total betalt: 1.250,00 kr")
	assert.Contains(t, msg.Text, "Moms (25%): 250,00 kr")
	assert.Contains(t, msg.HTML, "CVR: 45721647")
	assert.Contains(t, msg.HTML, "Nørrebrogade 1, København")
}

func TestSendReceipt_OnlyOwner(t *testing.T) {
	f := newFixture()
	d := f.addBooking("completed")

	_, err := f.svc.SendReceipt(context.Background(), ReceiptParams{BookingID: d.Booking.ID, CallerID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotBookingOwner)
	assert.Empty(t, f.mailer.sent)
}

func TestSendReceipt_Limit(t *testing.T) {
	f := newFixture()
	d := f.addBooking("completed")
	p := ReceiptParams{BookingID: d.Booking.ID, CallerID: d.Booking.UserID}

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendReceipt(context.Background(), p)
		require.NoError(t, err)
	}
	_, err := f.svc.SendReceipt(context.Background(), p)
	assert.ErrorIs(t, err, ErrReceiptLimit)
	assert.Len(t, f.mailer.sent, 3)
}

func TestSendReceipt_ReleasesClaimOnFailure(t *testing.T) {
	f := newFixture()
	d := f.addBooking("completed")
	f.mailer.err = errors.New("postmark down")

	_, err := f.svc.SendReceipt(context.Background(), ReceiptParams{BookingID: d.Booking.ID, CallerID: d.Booking.UserID})
	require.Error(t, err)
	assert.Equal(t, 1, f.q.released)
	assert.Equal(t, int32(0), f.q.receiptCount[d.Booking.ID])
}

// ─── IN-APP ───────────────────────────────────────────────────────────────────

func TestCreateInApp(t *testing.T) {
	f := newFixture()
	booking := uuid.New()
	n, err := f.svc.CreateInApp(context.Background(), InAppParams{
		UserID:    uuid.New(),
		BookingID: booking,
		Type:      TypePaymentReserved,
		Title:     "Payment Reserved",
		Content:   "Your payment has been reserved.",
		Data:      map[string]any{"amount": 125000},
	})
	require.NoError(t, err)
	assert.Equal(t, string(ChannelInApp), n.Channel)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, booking, n.BookingID.UUID)
	assert.JSONEq(t, `{"amount":125000}`, string(n.Data.RawMessage))
}

func nullRaw(b []byte) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: b, Valid: true}
}
