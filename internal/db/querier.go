package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Querier interface {
	// bookings
	GetBookingByID(ctx context.Context, id uuid.UUID) (Booking, error)
	GetBookingByPaymentIntent(ctx context.Context, stripePaymentIntentID string) (Booking, error)
	GetBookingDetails(ctx context.Context, id uuid.UUID) (GetBookingDetailsRow, error)
	SetBookingPaymentIntent(ctx context.Context, arg SetBookingPaymentIntentParams) (Booking, error)
	TransitionBookingPaymentStatus(ctx context.Context, arg TransitionBookingPaymentStatusParams) (Booking, error)
	MarkBookingPaymentSucceededByIntent(ctx context.Context, stripePaymentIntentID string) (int64, error)
	MarkBookingRefundedByIntent(ctx context.Context, stripePaymentIntentID string) (int64, error)
	CompleteBookingCapture(ctx context.Context, arg CompleteBookingCaptureParams) (Booking, error)
	ClaimBookingRefund(ctx context.Context, id uuid.UUID) (Booking, error)
	ClaimBookingConfirmation(ctx context.Context, id uuid.UUID) (int64, error)
	FinishBookingRefund(ctx context.Context, arg FinishBookingRefundParams) (Booking, error)
	ReleaseBookingRefund(ctx context.Context, arg ReleaseBookingRefundParams) (Booking, error)
	ClaimReceiptSend(ctx context.Context, arg ClaimReceiptSendParams) (int32, error)
	ReleaseReceiptSend(ctx context.Context, id uuid.UUID) error
	ListBookingsToAutoCapture(ctx context.Context, arg ListBookingsToAutoCaptureParams) ([]Booking, error)

	// payment intents
	CreatePaymentIntent(ctx context.Context, arg CreatePaymentIntentParams) (PaymentIntent, error)
	GetPaymentIntentByBooking(ctx context.Context, bookingID uuid.UUID) (PaymentIntent, error)
	GetPaymentIntentByStripeID(ctx context.Context, stripePaymentIntentID string) (PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, arg UpdatePaymentIntentStatusParams) (PaymentIntent, error)
	ClaimPaymentIntentCapture(ctx context.Context, stripePaymentIntentID string) (PaymentIntent, error)
	CompletePaymentIntentCapture(ctx context.Context, arg CompletePaymentIntentCaptureParams) (PaymentIntent, error)
	ReleasePaymentIntentCapture(ctx context.Context, stripePaymentIntentID string, lastPaymentError sql.NullString) error
	MarkPaymentIntentRefunded(ctx context.Context, arg MarkPaymentIntentRefundedParams) error
	CancelReservationByIntent(ctx context.Context, stripePaymentIntentID, status string) (int64, error)
	CountRecentlyExpiredReservations(ctx context.Context, since time.Time) (int64, error)
	CleanupExpiredReservations(ctx context.Context) error
	ConvertReservationToBooking(ctx context.Context, stripePaymentIntentID, status string) (string, error)
	ProcessPendingPaymentActions(ctx context.Context) ([]PendingPaymentAction, error)
	CreateChefPayout(ctx context.Context, arg CreateChefPayoutParams) error

	// payment methods
	ListPaymentMethodsByUser(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (PaymentMethod, error)
	UpsertPaymentMethod(ctx context.Context, arg UpsertPaymentMethodParams) (PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (int64, error)
	ClearDefaultPaymentMethods(ctx context.Context, userID uuid.UUID) error
	SetDefaultPaymentMethod(ctx context.Context, arg GetPaymentMethodParams) (PaymentMethod, error)
	CountPaymentMethods(ctx context.Context, userID uuid.UUID) (int64, error)

	// profiles / chefs
	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
	SetStripeCustomerID(ctx context.Context, arg SetStripeCustomerIDParams) (string, error)
	GetChef(ctx context.Context, id uuid.UUID) (Chef, error)

	// webhook events
	InsertStripeEvent(ctx context.Context, arg InsertStripeEventParams) (StripeWebhookEvent, error)
	MarkStripeEventProcessed(ctx context.Context, id uuid.UUID) error
	MarkStripeEventFailed(ctx context.Context, id uuid.UUID, errMsg sql.NullString) error

	// logs
	CreateBookingPaymentLog(ctx context.Context, arg CreateBookingPaymentLogParams) error
	CompletePendingPaymentLogs(ctx context.Context, bookingID uuid.UUID, actions []string) error
	CreateSystemLog(ctx context.Context, arg CreateSystemLogParams) error

	// notifications
	CreateNotification(ctx context.Context, arg CreateNotificationParams) (Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (Notification, error)
	ClaimNotification(ctx context.Context, id uuid.UUID) (Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID, externalID sql.NullString) error
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string) error
	CancelNotification(ctx context.Context, id uuid.UUID, reason string) error
	EnqueueNotification(ctx context.Context, notificationID uuid.UUID, scheduledFor time.Time) error
	ListDueQueueItems(ctx context.Context, now time.Time, limit int32) ([]ListDueQueueItemsRow, error)
	MarkQueueItemProcessed(ctx context.Context, id uuid.UUID) error
	ListRetryableNotifications(ctx context.Context, limit int32) ([]Notification, error)
	RequeueNotification(ctx context.Context, arg RequeueNotificationParams) (Notification, error)
	GetNotificationPreferences(ctx context.Context, userID uuid.UUID) (NotificationPreference, error)
	ListPushDisabledUsers(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error)
	GetEmailTemplate(ctx context.Context, templateKey string) (EmailTemplate, error)
}

var _ Querier = (*Queries)(nil)
