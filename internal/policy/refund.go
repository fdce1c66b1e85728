// Package policy holds the pure money rules of the marketplace: how much of a
// booking is refunded when it is cancelled, and how a customer payment is
// split between the chef and the platform. Nothing in here touches the network
// or the database.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CancelledBy identifies the party that initiated a cancellation.
type CancelledBy string

const (
	ByUser  CancelledBy = "user"
	ByChef  CancelledBy = "chef"
	ByAdmin CancelledBy = "admin"
)

// ParseCancelledBy validates a raw request value.
func ParseCancelledBy(s string) (CancelledBy, error) {
	switch c := CancelledBy(strings.ToLower(strings.TrimSpace(s))); c {
	case ByUser, ByChef, ByAdmin:
		return c, nil
	}
	return "", fmt.Errorf("policy: cancelled_by must be one of user, chef, admin (got %q)", s)
}

// ReasonRequestedByCustomer is the only refund reason the tiered policy
// applies lead-time rules to.
const ReasonRequestedByCustomer = "requested_by_customer"

// Request is the input to a refund decision.
type Request struct {
	CancelledBy CancelledBy
	Reason      string
	// HoursUntilService is start − now in hours. Negative once the service
	// has started.
	HoursUntilService float64
	// OriginalAmount is in minor units (øre).
	OriginalAmount int64
}

// Decision is the outcome of a refund policy.
// RefundAmount + FeeRetained always equals the original amount.
type Decision struct {
	RefundAmount int64
	FeeRetained  int64
	Description  string
}

// Full reports whether everything is refunded.
func (d Decision) Full() bool { return d.FeeRetained == 0 && d.RefundAmount > 0 }

// Policy decides how much of a cancelled booking is refunded.
type Policy interface {
	Name() string
	Decide(r Request) Decision
}

const (
	NameLeadTime = "lead_time"
	NameTiered   = "tiered"
)

// ByName returns the policy registered under name.
func ByName(name string) (Policy, error) {
	switch name {
	case NameLeadTime:
		return LeadTime{}, nil
	case NameTiered:
		return Tiered{}, nil
	}
	return nil, fmt.Errorf("policy: unknown refund policy %q", name)
}

// ─── Lead-time policy ─────────────────────────────────────────────────────────

// LeadTime is the booking-level cancellation rule: chefs and admins always
// refund in full, users only when more than 48 hours remain.
type LeadTime struct{}

func (LeadTime) Name() string { return NameLeadTime }

func (LeadTime) Decide(r Request) Decision {
	amount := max(r.OriginalAmount, 0)
	if r.CancelledBy == ByChef || r.CancelledBy == ByAdmin {
		return full(amount, fmt.Sprintf("Booking cancelled by %s. Full refund.", r.CancelledBy))
	}
	if r.HoursUntilService > 48 {
		return full(amount, "Cancelled more than 48 hours before service. Full refund.")
	}
	return none(amount, "Cancelled within 48 hours of service. No refund.")
}

// ─── Tiered policy ────────────────────────────────────────────────────────────

// Tiered is the payment-level refund rule. Customer-requested refunds are
// scaled by lead time (>=48h full, [24h,48h) half, <24h nothing). Any other
// reason refunds in full.
type Tiered struct{}

func (Tiered) Name() string { return NameTiered }

func (Tiered) Decide(r Request) Decision {
	amount := max(r.OriginalAmount, 0)
	if r.CancelledBy == ByChef || r.CancelledBy == ByAdmin {
		return full(amount, fmt.Sprintf("Booking cancelled by %s. Full refund.", r.CancelledBy))
	}
	if r.Reason != ReasonRequestedByCustomer {
		return full(amount, "Full refund.")
	}
	switch h := r.HoursUntilService; {
	case h >= 48:
		return full(amount, "Cancelled at least 48 hours before service. Full refund.")
	case h >= 24:
		refund := decimal.NewFromInt(amount).Div(decimal.NewFromInt(2)).Round(0).IntPart()
		return Decision{
			RefundAmount: refund,
			FeeRetained:  amount - refund,
			Description:  "Cancelled 24 to 48 hours before service. 50% refund.",
		}
	default:
		return none(amount, "Cancelled less than 24 hours before service. No refund.")
	}
}

func full(amount int64, desc string) Decision {
	return Decision{RefundAmount: amount, Description: desc}
}

func none(amount int64, desc string) Decision {
	return Decision{FeeRetained: amount, Description: desc}
}

// ─── Validation ──────────────────────────────────────────────────────────────

var (
	// ErrRefundExceedsRecorded is returned when a refund would pay back more
	// than the payment holds.
	ErrRefundExceedsRecorded = errors.New("refund amount exceeds the recorded payment amount")
	ErrNegativeAmount        = errors.New("amount must not be negative")
)

// ValidateRefundAmount checks a requested refund against what is still
// refundable on the payment.
func ValidateRefundAmount(refund, recorded, alreadyRefunded int64) error {
	if refund < 0 {
		return ErrNegativeAmount
	}
	if refund > recorded-alreadyRefunded {
		return fmt.Errorf("%w: %d > %d", ErrRefundExceedsRecorded, refund, recorded-alreadyRefunded)
	}
	return nil
}

// ─── Lead time ───────────────────────────────────────────────────────────────

// ServiceStart combines a booking date with its "HH:MM[:SS]" start time in loc.
func ServiceStart(date time.Time, startTime string, loc *time.Location) (time.Time, error) {
	var clock time.Time
	var err error
	for _, layout := range []string{"15:04:05", "15:04"} {
		if clock, err = time.Parse(layout, startTime); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("policy: parse start time %q: %w", startTime, err)
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, loc), nil
}

// HoursUntil returns the fractional hours from now until start.
func HoursUntil(start, now time.Time) float64 {
	return start.Sub(now).Hours()
}
