package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Profile struct {
	ID               uuid.UUID
	Email            string
	FirstName        string
	LastName         string
	Role             string
	StripeCustomerID sql.NullString
	CreatedAt        time.Time
}

type Chef struct {
	ID              uuid.UUID
	StripeAccountID sql.NullString
	IsVatRegistered bool
	VatNumber       sql.NullString
}

type Booking struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	ChefID                 uuid.UUID
	Date                   time.Time
	StartTime              string
	EndTime                sql.NullString
	NumberOfGuests         int32
	Address                string
	Notes                  sql.NullString
	TotalAmount            int64
	TipAmount              int64
	Status                 string
	PaymentStatus          string
	StripePaymentIntentID  sql.NullString
	RefundStatus           string
	RefundedAmount         int64
	CancelledBy            sql.NullString
	CancellationReason     sql.NullString
	CancelledAt            sql.NullTime
	PaymentReservedAt      sql.NullTime
	PaymentCapturedAt      sql.NullTime
	ReceiptSentCount       int32
	LastReceiptSentAt      sql.NullTime
	RefundAttempts         int32
	ConfirmationNotifiedAt sql.NullTime
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type PaymentIntent struct {
	ID                    string
	BookingID             uuid.UUID
	ChefStripeAccountID   string
	StripePaymentIntentID string
	Amount                int64
	ServiceFeeAmount      int64
	VatAmount             int64
	RefundedAmount        int64
	Currency              string
	Status                string
	CaptureMethod         string
	ClientSecret          sql.NullString
	ReservationStatus     string
	LastPaymentError      sql.NullString
	AuthorizedAt          sql.NullTime
	CapturedAt            sql.NullTime
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type ChefPayout struct {
	ID              uuid.UUID
	ChefID          uuid.UUID
	BookingID       uuid.UUID
	PaymentIntentID string
	Amount          int64
	Status          string
	CreatedAt       time.Time
}

type PaymentMethod struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	StripePaymentMethodID string
	Type                  string
	CardBrand             sql.NullString
	CardLast4             sql.NullString
	CardExpMonth          sql.NullInt32
	CardExpYear           sql.NullInt32
	IsDefault             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type StripeWebhookEvent struct {
	ID            uuid.UUID
	StripeEventID string
	Type          string
	Payload       json.RawMessage
	Status        string
	Error         sql.NullString
	ReceivedAt    time.Time
	ProcessedAt   sql.NullTime
}

type BookingPaymentLog struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	LogType     sql.NullString
	Action      sql.NullString
	Status      string
	Amount      int64
	Description sql.NullString
	Metadata    pqtype.NullRawMessage
	CreatedAt   time.Time
}

type Notification struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	BookingID     uuid.NullUUID
	ChefID        uuid.NullUUID
	Type          string
	Channel       string
	Status        string
	Title         string
	Content       string
	Data          pqtype.NullRawMessage
	TemplateID    sql.NullString
	ScheduledAt   sql.NullTime
	SentAt        sql.NullTime
	FailedAt      sql.NullTime
	FailureReason sql.NullString
	ExternalID    sql.NullString
	RetryCount    int32
	MaxRetries    int32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NotificationQueue struct {
	ID             uuid.UUID
	NotificationID uuid.UUID
	ScheduledFor   time.Time
	IsProcessed    bool
	ProcessedAt    sql.NullTime
	CreatedAt      time.Time
}

type NotificationPreference struct {
	UserID               uuid.UUID
	EmailEnabled         bool
	PushEnabled          bool
	LanguagePreference   string
	BookingConfirmations bool
	BookingReminders     bool
	BookingUpdates       bool
}

type EmailTemplate struct {
	ID            uuid.UUID
	TemplateKey   string
	SubjectDa     string
	SubjectEn     string
	HtmlContentDa string
	HtmlContentEn string
	TextContentDa sql.NullString
	TextContentEn sql.NullString
	IsActive      bool
}
