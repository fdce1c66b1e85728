package payments

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/events"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

// ─── STUB QUERIER ─────────────────────────────────────────────────────────────

type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	details  map[uuid.UUID]db.GetBookingDetailsRow
	intents  map[uuid.UUID]db.PaymentIntent
	profiles map[uuid.UUID]db.Profile
	methods  map[string]db.PaymentMethod

	logs        []db.CreateBookingPaymentLogParams
	systemLogs  []db.CreateSystemLogParams
	finished    []db.FinishBookingRefundParams
	released    []db.ReleaseBookingRefundParams
	refundMarks []db.MarkPaymentIntentRefundedParams
	completed   map[uuid.UUID][]string

	events         map[string]db.StripeWebhookEvent
	insertEventErr error
	afterInsert    func()
	processedIDs   []uuid.UUID
	failedIDs      []uuid.UUID

	converted        []string
	convertResult    string
	convertErr       error
	cancelledByPI    []string
	cancelRows       int64
	paidByPI         []string
	refundedByPI     []string
	expiredCount     int64
	cleanupCalls     int
	pending          []db.PendingPaymentAction
	autoCapture      []db.Booking
	autoCaptureQuery db.ListBookingsToAutoCaptureParams
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		details:    map[uuid.UUID]db.GetBookingDetailsRow{},
		intents:    map[uuid.UUID]db.PaymentIntent{},
		profiles:   map[uuid.UUID]db.Profile{},
		methods:    map[string]db.PaymentMethod{},
		completed:  map[uuid.UUID][]string{},
		events:     map[string]db.StripeWebhookEvent{},
		cancelRows: 1,
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

func (q *stubQuerier) updateBooking(id uuid.UUID, fn func(b *db.Booking)) db.Booking {
	d := q.details[id]
	fn(&d.Booking)
	q.details[id] = d
	return d.Booking
}

func (q *stubQuerier) TransitionBookingPaymentStatus(_ context.Context, p db.TransitionBookingPaymentStatusParams) (db.Booking, error) {
	d, ok := q.details[p.ID]
	if !ok || !slices.Contains(p.FromStatuses, d.Booking.PaymentStatus) {
		return db.Booking{}, sql.ErrNoRows
	}
	return q.updateBooking(p.ID, func(b *db.Booking) {
		b.PaymentStatus = p.ToStatus
		if p.BookingStatus.Valid {
			b.Status = p.BookingStatus.String
		}
	}), nil
}

func (q *stubQuerier) ClaimBookingRefund(_ context.Context, id uuid.UUID) (db.Booking, error) {
	d, ok := q.details[id]
	if !ok || d.Booking.RefundStatus == RefundProcessing || d.Booking.RefundStatus == RefundProcessed {
		return db.Booking{}, sql.ErrNoRows
	}
	return q.updateBooking(id, func(b *db.Booking) {
		if b.RefundStatus == RefundFailed {
			b.RefundAttempts++
		}
		b.RefundStatus = RefundProcessing
	}), nil
}

func (q *stubQuerier) ClaimBookingConfirmation(_ context.Context, id uuid.UUID) (int64, error) {
	d, ok := q.details[id]
	if !ok || d.Booking.ConfirmationNotifiedAt.Valid {
		return 0, nil
	}
	q.updateBooking(id, func(b *db.Booking) { b.ConfirmationNotifiedAt = sql.NullTime{Time: testNow, Valid: true} })
	return 1, nil
}

func (q *stubQuerier) ReleaseBookingRefund(_ context.Context, p db.ReleaseBookingRefundParams) (db.Booking, error) {
	q.released = append(q.released, p)
	return q.updateBooking(p.ID, func(b *db.Booking) { b.RefundStatus = p.RefundStatus }), nil
}

func (q *stubQuerier) FinishBookingRefund(_ context.Context, p db.FinishBookingRefundParams) (db.Booking, error) {
	q.finished = append(q.finished, p)
	return q.updateBooking(p.ID, func(b *db.Booking) {
		b.Status = "cancelled"
		b.PaymentStatus = p.PaymentStatus
		b.RefundStatus = p.RefundStatus
		b.RefundedAmount = p.RefundedAmount
	}), nil
}

func (q *stubQuerier) SetBookingPaymentIntent(_ context.Context, p db.SetBookingPaymentIntentParams) (db.Booking, error) {
	return q.updateBooking(p.ID, func(b *db.Booking) {
		b.StripePaymentIntentID = sql.NullString{String: p.StripePaymentIntentID, Valid: true}
	}), nil
}

func (q *stubQuerier) MarkBookingPaymentSucceededByIntent(_ context.Context, pi string) (int64, error) {
	q.paidByPI = append(q.paidByPI, pi)
	return 1, nil
}

func (q *stubQuerier) MarkBookingRefundedByIntent(_ context.Context, pi string) (int64, error) {
	q.refundedByPI = append(q.refundedByPI, pi)
	return 1, nil
}

func (q *stubQuerier) ListBookingsToAutoCapture(_ context.Context, p db.ListBookingsToAutoCaptureParams) ([]db.Booking, error) {
	q.autoCaptureQuery = p
	return q.autoCapture, nil
}

// payment intents

func (q *stubQuerier) GetPaymentIntentByBooking(_ context.Context, bookingID uuid.UUID) (db.PaymentIntent, error) {
	pi, ok := q.intents[bookingID]
	if !ok {
		return db.PaymentIntent{}, sql.ErrNoRows
	}
	return pi, nil
}

func (q *stubQuerier) intentByStripeID(id string) (db.PaymentIntent, bool) {
	for _, pi := range q.intents {
		if pi.StripePaymentIntentID == id {
			return pi, true
		}
	}
	return db.PaymentIntent{}, false
}

func (q *stubQuerier) GetPaymentIntentByStripeID(_ context.Context, id string) (db.PaymentIntent, error) {
	pi, ok := q.intentByStripeID(id)
	if !ok {
		return db.PaymentIntent{}, sql.ErrNoRows
	}
	return pi, nil
}

func (q *stubQuerier) CreatePaymentIntent(_ context.Context, p db.CreatePaymentIntentParams) (db.PaymentIntent, error) {
	pi := db.PaymentIntent{
		ID:                    p.ID,
		BookingID:             p.BookingID,
		ChefStripeAccountID:   p.ChefStripeAccountID,
		StripePaymentIntentID: p.ID,
		Amount:                p.Amount,
		ServiceFeeAmount:      p.ServiceFeeAmount,
		VatAmount:             p.VatAmount,
		Currency:              p.Currency,
		Status:                p.Status,
		CaptureMethod:         p.CaptureMethod,
		ClientSecret:          p.ClientSecret,
	}
	q.intents[p.BookingID] = pi
	return pi, nil
}

func (q *stubQuerier) UpdatePaymentIntentStatus(_ context.Context, p db.UpdatePaymentIntentStatusParams) (db.PaymentIntent, error) {
	pi, ok := q.intentByStripeID(p.StripePaymentIntentID)
	if !ok || !slices.Contains(p.FromStatuses, pi.Status) {
		return db.PaymentIntent{}, sql.ErrNoRows
	}
	pi.Status = p.Status
	pi.LastPaymentError = p.LastPaymentError
	q.intents[pi.BookingID] = pi
	return pi, nil
}

func (q *stubQuerier) ClaimPaymentIntentCapture(_ context.Context, id string) (db.PaymentIntent, error) {
	pi, ok := q.intentByStripeID(id)
	if !ok || pi.Status != stripeinternal.StatusRequiresCapture {
		return db.PaymentIntent{}, sql.ErrNoRows
	}
	pi.Status = statusCapturing
	q.intents[pi.BookingID] = pi
	return pi, nil
}

func (q *stubQuerier) ReleasePaymentIntentCapture(_ context.Context, id string, lastErr sql.NullString) error {
	pi, ok := q.intentByStripeID(id)
	if !ok {
		return sql.ErrNoRows
	}
	pi.Status = stripeinternal.StatusRequiresCapture
	pi.LastPaymentError = lastErr
	q.intents[pi.BookingID] = pi
	return nil
}

func (q *stubQuerier) MarkPaymentIntentRefunded(_ context.Context, p db.MarkPaymentIntentRefundedParams) error {
	q.refundMarks = append(q.refundMarks, p)
	return nil
}

func (q *stubQuerier) CancelReservationByIntent(_ context.Context, pi, status string) (int64, error) {
	q.cancelledByPI = append(q.cancelledByPI, pi+":"+status)
	return q.cancelRows, nil
}

func (q *stubQuerier) CountRecentlyExpiredReservations(context.Context, time.Time) (int64, error) {
	return q.expiredCount, nil
}

func (q *stubQuerier) CleanupExpiredReservations(context.Context) error {
	q.cleanupCalls++
	return nil
}

func (q *stubQuerier) ConvertReservationToBooking(_ context.Context, pi, status string) (string, error) {
	if q.convertErr != nil {
		return "", q.convertErr
	}
	q.converted = append(q.converted, pi+":"+status)
	return q.convertResult, nil
}

func (q *stubQuerier) ProcessPendingPaymentActions(context.Context) ([]db.PendingPaymentAction, error) {
	return q.pending, nil
}

// profiles / methods

func (q *stubQuerier) GetProfile(_ context.Context, id uuid.UUID) (db.Profile, error) {
	p, ok := q.profiles[id]
	if !ok {
		return db.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (q *stubQuerier) SetStripeCustomerID(_ context.Context, p db.SetStripeCustomerIDParams) (string, error) {
	prof, ok := q.profiles[p.ID]
	if !ok || prof.StripeCustomerID.Valid {
		return "", sql.ErrNoRows
	}
	prof.StripeCustomerID = sql.NullString{String: p.StripeCustomerID, Valid: true}
	q.profiles[p.ID] = prof
	return p.StripeCustomerID, nil
}

func (q *stubQuerier) GetPaymentMethod(_ context.Context, p db.GetPaymentMethodParams) (db.PaymentMethod, error) {
	pm, ok := q.methods[p.StripePaymentMethodID]
	if !ok || pm.UserID != p.UserID {
		return db.PaymentMethod{}, sql.ErrNoRows
	}
	return pm, nil
}

// webhook events

func (q *stubQuerier) InsertStripeEvent(_ context.Context, p db.InsertStripeEventParams) (db.StripeWebhookEvent, error) {
	if q.insertEventErr != nil {
		return db.StripeWebhookEvent{}, q.insertEventErr
	}
	if _, seen := q.events[p.StripeEventID]; seen {
		return db.StripeWebhookEvent{}, sql.ErrNoRows
	}
	ev := db.StripeWebhookEvent{ID: uuid.New(), StripeEventID: p.StripeEventID, Type: p.Type, Payload: p.Payload, Status: "received"}
	q.events[p.StripeEventID] = ev
	if q.afterInsert != nil {
		q.afterInsert()
	}
	return ev, nil
}

func (q *stubQuerier) MarkStripeEventProcessed(_ context.Context, id uuid.UUID) error {
	q.processedIDs = append(q.processedIDs, id)
	return nil
}

func (q *stubQuerier) MarkStripeEventFailed(_ context.Context, id uuid.UUID, _ sql.NullString) error {
	q.failedIDs = append(q.failedIDs, id)
	return nil
}

// logs

func (q *stubQuerier) CreateBookingPaymentLog(_ context.Context, p db.CreateBookingPaymentLogParams) error {
	q.logs = append(q.logs, p)
	return nil
}

func (q *stubQuerier) CompletePendingPaymentLogs(_ context.Context, bookingID uuid.UUID, actions []string) error {
	q.completed[bookingID] = append(q.completed[bookingID], actions...)
	return nil
}

func (q *stubQuerier) CreateSystemLog(_ context.Context, p db.CreateSystemLogParams) error {
	q.systemLogs = append(q.systemLogs, p)
	return nil
}

// logKinds lists every payment log's action, or its log type when it has no
// action.
func (q *stubQuerier) logKinds() []string {
	var out []string
	for _, l := range q.logs {
		if l.Action.Valid {
			out = append(out, l.Action.String)
			continue
		}
		out = append(out, l.LogType.String)
	}
	return out
}

// ─── STUB STRIPE ──────────────────────────────────────────────────────────────

type stubStripe struct {
	stripeinternal.Client

	account       stripeinternal.Account
	created       []stripeinternal.CreatePaymentIntentParams
	remote        map[string]stripeinternal.PaymentIntent
	confirmStatus string
	confirmed     []string
	captures      []stripeinternal.CapturePaymentIntentParams
	captureErr    error
	duringCapture func()
	cancels       []string
	cancelErr     error
	refunds       []stripeinternal.CreateRefundParams
	refundErr     error

	setupIntent stripeinternal.SetupIntent
	card        stripeinternal.PaymentMethod
	detached    []string
	defaults    []string
}

func newStubStripe() *stubStripe {
	return &stubStripe{
		account:       stripeinternal.Account{ID: "acct_chef", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true},
		remote:        map[string]stripeinternal.PaymentIntent{},
		confirmStatus: stripeinternal.StatusRequiresCapture,
	}
}

func (s *stubStripe) CreatePaymentIntent(_ context.Context, p stripeinternal.CreatePaymentIntentParams) (stripeinternal.PaymentIntent, error) {
	s.created = append(s.created, p)
	pi := stripeinternal.PaymentIntent{
		ID:           "pi_new",
		Status:       stripeinternal.StatusRequiresPaymentMethod,
		Amount:       p.Amount,
		ClientSecret: "pi_new_secret",
		Metadata:     p.Metadata,
	}
	s.remote[pi.ID] = pi
	return pi, nil
}

func (s *stubStripe) GetPaymentIntent(_ context.Context, id string) (stripeinternal.PaymentIntent, error) {
	pi, ok := s.remote[id]
	if !ok {
		return stripeinternal.PaymentIntent{}, errors.New("no such payment intent")
	}
	return pi, nil
}

func (s *stubStripe) ConfirmPaymentIntent(_ context.Context, id, pm string) (stripeinternal.PaymentIntent, error) {
	s.confirmed = append(s.confirmed, id+":"+pm)
	pi := s.remote[id]
	pi.ID = id
	pi.Status = s.confirmStatus
	s.remote[id] = pi
	return pi, nil
}

func (s *stubStripe) CapturePaymentIntent(_ context.Context, p stripeinternal.CapturePaymentIntentParams) (stripeinternal.PaymentIntent, error) {
	s.captures = append(s.captures, p)
	if s.duringCapture != nil {
		s.duringCapture()
	}
	if s.captureErr != nil {
		return stripeinternal.PaymentIntent{}, s.captureErr
	}
	return stripeinternal.PaymentIntent{ID: p.ID, Status: stripeinternal.StatusSucceeded, AmountReceived: p.Amount}, nil
}

func (s *stubStripe) CancelPaymentIntent(_ context.Context, id, key string) (stripeinternal.PaymentIntent, error) {
	s.cancels = append(s.cancels, key)
	if s.cancelErr != nil {
		return stripeinternal.PaymentIntent{}, s.cancelErr
	}
	return stripeinternal.PaymentIntent{ID: id, Status: stripeinternal.StatusCanceled}, nil
}

func (s *stubStripe) CreateRefund(_ context.Context, p stripeinternal.CreateRefundParams) (stripeinternal.Refund, error) {
	s.refunds = append(s.refunds, p)
	if s.refundErr != nil {
		return stripeinternal.Refund{}, s.refundErr
	}
	return stripeinternal.Refund{ID: "re_1", Amount: p.Amount, Status: "succeeded"}, nil
}

func (s *stubStripe) GetAccount(_ context.Context, id string) (stripeinternal.Account, error) {
	a := s.account
	a.ID = id
	return a, nil
}

func (s *stubStripe) CreateCustomer(context.Context, stripeinternal.CreateCustomerParams) (string, error) {
	return "cus_new", nil
}

func (s *stubStripe) CreateSetupIntent(_ context.Context, customerID, userID string) (stripeinternal.SetupIntent, error) {
	return stripeinternal.SetupIntent{
		ID:           "seti_1",
		ClientSecret: "seti_1_secret",
		CustomerID:   customerID,
		Metadata:     map[string]string{"user_id": userID},
	}, nil
}

func (s *stubStripe) GetSetupIntent(context.Context, string) (stripeinternal.SetupIntent, error) {
	return s.setupIntent, nil
}

func (s *stubStripe) GetPaymentMethod(context.Context, string) (stripeinternal.PaymentMethod, error) {
	return s.card, nil
}

func (s *stubStripe) DetachPaymentMethod(_ context.Context, id string) error {
	s.detached = append(s.detached, id)
	return nil
}

func (s *stubStripe) SetDefaultPaymentMethod(_ context.Context, customerID, pm string) error {
	s.defaults = append(s.defaults, customerID+":"+pm)
	return nil
}

// ─── STUB STORE / NOTIFIER / DEDUP / EVENTS ───────────────────────────────────

type stubStore struct {
	Store

	q        *stubQuerier
	captures []store.CompleteCaptureParams
	saveErr  error
	saved    []store.Card
	created  bool
	switched []string
}

// CompleteCapture finishes only a claimed capture, like the real store.
func (s *stubStore) CompleteCapture(_ context.Context, p store.CompleteCaptureParams) (store.CaptureResult, error) {
	pi, ok := s.q.intentByStripeID(p.StripePaymentIntentID)
	if !ok || pi.Status != statusCapturing {
		return store.CaptureResult{}, store.ErrCaptureNotClaimed
	}
	pi.Status = stripeinternal.StatusSucceeded
	s.q.intents[pi.BookingID] = pi
	s.captures = append(s.captures, p)
	return store.CaptureResult{Intent: pi}, nil
}

func (s *stubStore) SavePaymentMethod(_ context.Context, userID uuid.UUID, card store.Card) (db.PaymentMethod, bool, error) {
	if s.saveErr != nil {
		return db.PaymentMethod{}, false, s.saveErr
	}
	s.saved = append(s.saved, card)
	return db.PaymentMethod{
		UserID:                userID,
		StripePaymentMethodID: card.StripePaymentMethodID,
		Type:                  card.Type,
		IsDefault:             s.created,
	}, s.created, nil
}

func (s *stubStore) SwitchDefaultPaymentMethod(_ context.Context, userID uuid.UUID, pm string) (db.PaymentMethod, error) {
	s.switched = append(s.switched, pm)
	return db.PaymentMethod{UserID: userID, StripePaymentMethodID: pm, IsDefault: true}, nil
}

type stubNotifier struct {
	triggers []string
	pushes   []notify.PushRequest
	inApp    []notify.InAppParams
}

func (n *stubNotifier) SendBookingNotification(_ context.Context, trigger string, bookingID uuid.UUID) (bool, error) {
	n.triggers = append(n.triggers, trigger+":"+bookingID.String())
	return true, nil
}

func (n *stubNotifier) SendPush(_ context.Context, req notify.PushRequest) (notify.PushResult, error) {
	n.pushes = append(n.pushes, req)
	return notify.PushResult{}, nil
}

func (n *stubNotifier) CreateInApp(_ context.Context, p notify.InAppParams) (db.Notification, error) {
	n.inApp = append(n.inApp, p)
	return db.Notification{ID: uuid.New()}, nil
}

type stubDedup struct {
	seen map[string]bool
	// claimCtxErrs holds ctx.Err() as seen by each Claim.
	claimCtxErrs []error
}

func (d *stubDedup) Claim(ctx context.Context, key string, _ time.Duration) (bool, error) {
	d.claimCtxErrs = append(d.claimCtxErrs, ctx.Err())
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *stubDedup) Seen(_ context.Context, key string) (bool, error) {
	return d.seen[key], nil
}

type recordingPublisher struct {
	published []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.published = append(p.published, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	var out []string
	for _, e := range p.published {
		out = append(out, e.Type)
	}
	return out
}

// ─── FIXTURE ──────────────────────────────────────────────────────────────────

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	q        *stubQuerier
	stripe   *stubStripe
	store    *stubStore
	notifier *stubNotifier
	dedup    *stubDedup
	events   *recordingPublisher
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	q := newStubQuerier()
	f := &fixture{
		q:        q,
		stripe:   newStubStripe(),
		store:    &stubStore{q: q},
		notifier: &stubNotifier{},
		dedup:    &stubDedup{seen: map[string]bool{}},
		events:   &recordingPublisher{},
	}
	f.svc = NewService(f.q, f.store, f.stripe, f.notifier, f.events, f.dedup,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{Now: func() time.Time { return testNow }})
	return f
}

// addBooking seeds a booking starting hoursAhead from testNow with a stored
// intent in intentStatus. An empty intentStatus seeds no intent.
func (f *fixture) addBooking(hoursAhead float64, intentStatus string) db.GetBookingDetailsRow {
	start := testNow.Add(time.Duration(hoursAhead * float64(time.Hour)))
	b := db.Booking{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		ChefID:        uuid.New(),
		Date:          time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:     start.Format("15:04"),
		TotalAmount:   100000,
		TipAmount:     0,
		Status:        "confirmed",
		PaymentStatus: PaymentAuthorized,
		RefundStatus:  RefundNone,
	}
	d := db.GetBookingDetailsRow{
		Booking:             b,
		ChefFirstName:       "Mette",
		ChefStripeAccountID: sql.NullString{String: "acct_chef", Valid: true},
		ChefVatRegistered:   true,
	}
	f.q.details[b.ID] = d
	if intentStatus != "" {
		piID := "pi_" + b.ID.String()[:8]
		f.q.intents[b.ID] = db.PaymentIntent{
			ID:                    piID,
			BookingID:             b.ID,
			ChefStripeAccountID:   "acct_chef",
			StripePaymentIntentID: piID,
			Amount:                100000,
			ServiceFeeAmount:      12000,
			Currency:              "DKK",
			Status:                intentStatus,
		}
		f.stripe.remote[piID] = stripeinternal.PaymentIntent{ID: piID, Status: intentStatus, Amount: 100000}
	}
	return d
}

func (f *fixture) intent(bookingID uuid.UUID) db.PaymentIntent {
	return f.q.intents[bookingID]
}
