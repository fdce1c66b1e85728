// Package payments runs the booking payment lifecycle against Stripe:
// intent creation, authorization, capture, refunds and cancellation, saved
// payment methods, connected-account checks, webhook application and the
// periodic sweeps.
//
// Every status-driven side effect sits behind one conditional update in
// Postgres. When that update touches no row, another caller already made the
// transition and the operation returns success without repeating the side
// effects.
package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/nyashahama/dinnerhelp-backend/internal/cache"
	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/events"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

var (
	ErrNotFound                = errors.New("payments: not found")
	ErrNoPayment               = errors.New("payments: no payment found for this booking")
	ErrAlreadyCancelled        = errors.New("payments: booking is already cancelled or refunded")
	ErrChefNotOnboarded        = errors.New("payments: chef has not set up a payment account")
	ErrAccountNotReady         = errors.New("payments: chef Stripe account is not ready to receive payments")
	ErrNotCapturable           = errors.New("payments: payment intent not found or not authorized")
	ErrInvalidAmount           = errors.New("payments: invalid amount")
	ErrSetupIntentNotSucceeded = errors.New("payments: setup intent has not succeeded")
	ErrNotOwner                = errors.New("payments: resource belongs to another user")
	ErrForbidden               = errors.New("payments: not permitted")
	ErrNoCustomer              = errors.New("payments: no Stripe customer on profile")

	// ErrRefundExceedsRecorded is policy.ErrRefundExceedsRecorded, re-exported
	// so handlers only match on payments errors.
	ErrRefundExceedsRecorded = policy.ErrRefundExceedsRecorded
)

// Booking payment statuses.
const (
	PaymentPending              = "pending"
	PaymentPendingSetup         = "pending_setup"
	PaymentAuthorizationPending = "authorization_pending"
	PaymentProcessing           = "processing"
	PaymentAuthorized           = "authorized"
	PaymentSucceeded            = "succeeded"
	PaymentRefunded             = "refunded"
	PaymentPartiallyRefunded    = "partially_refunded"
	PaymentCancelled            = "cancelled"
)

// Store is the transactional half of the persistence layer.
type Store interface {
	CompleteCapture(ctx context.Context, p store.CompleteCaptureParams) (store.CaptureResult, error)
	SavePaymentMethod(ctx context.Context, userID uuid.UUID, card store.Card) (db.PaymentMethod, bool, error)
	SwitchDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripePaymentMethodID string) (db.PaymentMethod, error)
	RemovePaymentMethod(ctx context.Context, userID uuid.UUID, stripePaymentMethodID string) (*db.PaymentMethod, error)
	SyncPaymentMethods(ctx context.Context, userID uuid.UUID, cards []store.Card) ([]db.PaymentMethod, error)
}

// Notifier is the part of notify.Service the payment flows trigger.
type Notifier interface {
	SendBookingNotification(ctx context.Context, trigger string, bookingID uuid.UUID) (bool, error)
	SendPush(ctx context.Context, req notify.PushRequest) (notify.PushResult, error)
	CreateInApp(ctx context.Context, p notify.InAppParams) (db.Notification, error)
}

var (
	_ Store    = (*store.Store)(nil)
	_ Notifier = (*notify.Service)(nil)
)

// Options tunes the service. Zero values take the defaults.
type Options struct {
	// Location interprets booking dates and start times.
	Location *time.Location
	FeeRates policy.FeeRates
	Currency string
	// BookingPolicy decides booking cancellations, PaymentPolicy decides
	// payment refunds and queued refund actions.
	BookingPolicy policy.Policy
	PaymentPolicy policy.Policy
	// AutoCaptureAfter is how long a completed, authorized booking waits
	// before the sweep captures it.
	AutoCaptureAfter time.Duration
	AutoCaptureBatch int32
	// ExpiredLookback is the window the cleanup sweep reports expirations for.
	ExpiredLookback time.Duration
	// DedupTTL is how long the cache remembers a webhook event id.
	DedupTTL time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.FeeRates.VAT.IsZero() && o.FeeRates.Commission.IsZero() {
		o.FeeRates = policy.DefaultFeeRates()
	}
	if o.Currency == "" {
		o.Currency = "dkk"
	}
	if o.BookingPolicy == nil {
		o.BookingPolicy = policy.LeadTime{}
	}
	if o.PaymentPolicy == nil {
		o.PaymentPolicy = policy.Tiered{}
	}
	if o.AutoCaptureAfter <= 0 {
		o.AutoCaptureAfter = 24 * time.Hour
	}
	if o.AutoCaptureBatch <= 0 {
		o.AutoCaptureBatch = 10
	}
	if o.ExpiredLookback <= 0 {
		o.ExpiredLookback = 5 * time.Minute
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service holds the payment flows' dependencies.
type Service struct {
	q        db.Querier
	store    Store
	stripe   stripeinternal.Client
	notifier Notifier
	events   events.Publisher
	dedup    cache.Deduper
	logger   *slog.Logger
	opts     Options
}

// NewService constructs a Service. A nil publisher or deduper is replaced by
// the no-op implementation.
func NewService(
	q db.Querier,
	st Store,
	stripeClient stripeinternal.Client,
	notifier Notifier,
	publisher events.Publisher,
	dedup cache.Deduper,
	logger *slog.Logger,
	opts Options,
) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if dedup == nil {
		dedup = cache.Nop{}
	}
	return &Service{
		q:        q,
		store:    st,
		stripe:   stripeClient,
		notifier: notifier,
		events:   publisher,
		dedup:    dedup,
		logger:   logger.With("component", "payments"),
		opts:     opts.withDefaults(),
	}
}

// ─── HELPERS ──────────────────────────────────────────────────────────────────

// publish sends e and logs a failure. Events never fail a payment operation.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.opts.Now().UTC()
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("payments: publish event failed", "type", e.Type, "booking_id", e.BookingID, "error", err)
	}
}

// paymentLog is one booking_payment_logs row.
type paymentLog struct {
	LogType     string
	Action      string
	Status      string
	Amount      int64
	Description string
	Metadata    map[string]any
}

// writeLog inserts an audit row. The audit trail is best-effort: a failed
// insert is logged and the operation carries on.
func (s *Service) writeLog(ctx context.Context, bookingID uuid.UUID, l paymentLog) {
	status := l.Status
	if status == "" {
		status = "success"
	}
	if err := s.q.CreateBookingPaymentLog(ctx, db.CreateBookingPaymentLogParams{
		BookingID:   bookingID,
		LogType:     nullString(l.LogType),
		Action:      nullString(l.Action),
		Status:      status,
		Amount:      l.Amount,
		Description: nullString(l.Description),
		Metadata:    rawJSON(l.Metadata),
	}); err != nil {
		s.logger.Error("payments: write payment log", "booking_id", bookingID, "action", l.Action, "log_type", l.LogType, "error", err)
	}
}

// systemLog inserts a system_logs row, logging a failure.
func (s *Service) systemLog(ctx context.Context, level, source, message string, meta map[string]any) {
	if err := s.q.CreateSystemLog(ctx, db.CreateSystemLogParams{
		Level:    level,
		Source:   source,
		Message:  message,
		Metadata: rawJSON(meta),
	}); err != nil {
		s.logger.Error("payments: write system log", "source", source, "error", err)
	}
}

func (s *Service) rates(vatRegistered bool) policy.FeeRates {
	return s.opts.FeeRates.ForChef(vatRegistered)
}

func rawJSON(m map[string]any) pqtype.NullRawMessage {
	if len(m) == 0 {
		return pqtype.NullRawMessage{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// idempotencyKey joins op with the values that tell one Stripe request apart
// from another, e.g. refund-<booking>-<attempt>.
func idempotencyKey(op string, parts ...any) string {
	var b strings.Builder
	b.WriteString(op)
	for _, p := range parts {
		fmt.Fprintf(&b, "-%v", p)
	}
	return b.String()
}
