// Package events publishes payment lifecycle events for downstream consumers
// (analytics, the chef payout service). Publishing is fire-and-report: a
// failed publish is logged by the caller and never fails a payment operation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	PaymentIntentCreated = "payment.intent_created"
	PaymentAuthorized    = "payment.authorized"
	PaymentCaptured      = "payment.captured"
	PaymentRefunded      = "payment.refunded"
	BookingCancelled     = "booking.cancelled"
	ReservationCancelled = "reservation.cancelled"
)

// Event is one lifecycle fact about a booking's payment.
type Event struct {
	Type            string         `json:"type"`
	BookingID       uuid.UUID      `json:"booking_id"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty"`
	Amount          int64          `json:"amount,omitempty"`
	Status          string         `json:"status,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// Publisher is what the payments package depends on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// ─── KAFKA ────────────────────────────────────────────────────────────────────

// KafkaPublisher writes events to one topic, keyed by booking id so all
// events for a booking land on the same partition in order.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := message(e, time.Now())
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", e.Type, err)
	}
	return nil
}

// message encodes e, stamping OccurredAt with now when it is unset.
func message(e Event, now time.Time) (kafka.Message, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("events: marshal %s: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(e.BookingID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// ─── NO-OP ────────────────────────────────────────────────────────────────────

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
