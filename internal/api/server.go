// Package api implements the HTTP layer for the DinnerHelp payments backend.
// Handlers are methods on *Server. Each handler file is responsible for one
// resource group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/auth"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/notify"
	"github.com/nyashahama/dinnerhelp-backend/internal/payments"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
	"github.com/nyashahama/dinnerhelp-backend/internal/telemetry"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// StripeWebhookSecret is the signing secret from the Stripe dashboard.
	StripeWebhookSecret string

	// Env is "production", "staging", or "development".
	Env string

	// RequestTimeout bounds every request except the webhook. Default: 30s.
	RequestTimeout time.Duration

	// Ready reports whether dependencies are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error
}

// PaymentService is the part of payments.Service the handlers call.
type PaymentService interface {
	CreateIntent(ctx context.Context, p payments.CreateIntentParams) (payments.Intent, error)
	AuthorizeBooking(ctx context.Context, p payments.AuthorizeBookingParams) (payments.AuthorizeResult, error)
	Authorize(ctx context.Context, paymentIntentID string) (payments.Intent, error)
	Capture(ctx context.Context, p payments.CaptureParams) (payments.CaptureResult, error)
	Refund(ctx context.Context, p payments.RefundParams) (payments.RefundResult, error)
	CancelBooking(ctx context.Context, p payments.RefundParams) (payments.RefundResult, error)
	ValidateAccount(ctx context.Context, accountID string) (payments.AccountStatus, error)

	CreateSetupIntent(ctx context.Context, userID uuid.UUID) (payments.SetupIntent, error)
	ListMethods(ctx context.Context, userID uuid.UUID) ([]payments.PaymentMethod, error)
	SaveMethod(ctx context.Context, userID uuid.UUID, setupIntentID string) (payments.SaveResult, error)
	DeleteMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*payments.PaymentMethod, error)
	SetDefaultMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (payments.PaymentMethod, error)

	HandleEvent(ctx context.Context, event stripeinternal.Event, payload []byte) (payments.WebhookResult, error)
	CleanupExpiredReservations(ctx context.Context) (payments.CleanupResult, error)
	ProcessActions(ctx context.Context) (payments.ActionsResult, error)
}

// NotificationService is the part of notify.Service the handlers call.
type NotificationService interface {
	Schedule(ctx context.Context, p notify.ScheduleParams) (notify.ScheduleResult, error)
	SendEmail(ctx context.Context, req notify.EmailRequest) (notify.EmailResult, error)
	SendPush(ctx context.Context, req notify.PushRequest) (notify.PushResult, error)
	SendBookingNotification(ctx context.Context, trigger string, bookingID uuid.UUID) (bool, error)
	SendReceipt(ctx context.Context, p notify.ReceiptParams) (notify.ReceiptResult, error)
	ProcessQueue(ctx context.Context) (notify.QueueResult, error)
}

var (
	_ PaymentService      = (*payments.Service)(nil)
	_ NotificationService = (*notify.Service)(nil)
)

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	payments PaymentService
	notify   NotificationService

	// stripe verifies webhook signatures.
	stripe stripeinternal.Client

	auth     *auth.Verifier
	validate *validator.Validate

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to an http.Server.
func NewServer(
	paymentSvc PaymentService,
	notifySvc NotificationService,
	stripeClient stripeinternal.Client,
	verifier *auth.Verifier,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{
		payments: paymentSvc,
		notify:   notifySvc,
		stripe:   stripeClient,
		auth:     verifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		logger:   logger.With("component", "api"),
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware)
	r.Use(s.loggerMiddleware)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	// ── Health & metrics ──────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// ── API ───────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		// Stripe webhook: no auth, the signature is verified inside the
		// handler. No request timeout either; a delivery that was recorded
		// must be allowed to finish applying.
		r.Post("/webhooks/stripe", s.handleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Use(s.authenticate)

			// Payments.
			r.Post("/payments/intents", s.handleCreateIntent)
			r.Post("/payments/authorize-booking", s.handleAuthorizeBooking)
			r.Post("/payments/authorize", s.handleAuthorize)
			r.Post("/payments/capture", s.handleCapture)
			r.Post("/payments/refund", s.handleRefund)
			r.Post("/payments/validate-account", s.handleValidateAccount)

			// Bookings.
			r.Post("/bookings/{bookingID}/cancel", s.handleCancelBooking)
			r.Post("/bookings/{bookingID}/receipt", s.handleSendReceipt)

			// Saved cards, always the caller's own.
			r.Route("/payment-methods", func(r chi.Router) {
				r.Get("/", s.handleListPaymentMethods)
				r.Post("/", s.handleSavePaymentMethod)
				r.Post("/setup-intent", s.handleCreateSetupIntent)
				r.Delete("/{paymentMethodID}", s.handleDeletePaymentMethod)
				r.Put("/{paymentMethodID}/default", s.handleSetDefaultPaymentMethod)
			})

			// Notification delivery sends to arbitrary users and addresses,
			// so only backend callers may use it.
			r.Route("/notifications", func(r chi.Router) {
				r.Use(s.requireService)
				r.Post("/schedule", s.handleScheduleNotification)
				r.Post("/email", s.handleSendEmail)
				r.Post("/push", s.handleSendPush)
				r.Post("/booking", s.handleBookingNotification)
			})

			// Sweeps, also run by the in-process worker.
			r.Route("/internal", func(r chi.Router) {
				r.Use(s.requireService)
				r.Post("/reservations/cleanup", s.handleCleanupReservations)
				r.Post("/payment-actions/process", s.handleProcessPaymentActions)
				r.Post("/notifications/process", s.handleProcessNotificationQueue)
			})
		})
	})

	return r
}

// ─── GET /readyz ──────────────────────────────────────────────────────────────

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err, logField(r))
		respondErr(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
}
