package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/email"
	"github.com/nyashahama/dinnerhelp-backend/internal/metrics"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

const (
	supportEmail = "hello@dinnerhelp.dk"
	companyCVR   = "45721647"
)

// ReceiptParams requests a receipt email for a booking. RecipientEmail
// defaults to the booking owner's profile email.
type ReceiptParams struct {
	BookingID      uuid.UUID
	CallerID       uuid.UUID
	RecipientEmail string
}

// ReceiptResult reports a sent receipt and the booking's new send count.
type ReceiptResult struct {
	MessageID    string
	ReceiptCount int32
}

// SendReceipt emails a Danish receipt to the booking owner. The send counter
// is claimed before sending and released if the provider rejects the email.
func (s *Service) SendReceipt(ctx context.Context, p ReceiptParams) (ReceiptResult, error) {
	d, err := s.q.GetBookingDetails(ctx, p.BookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReceiptResult{}, fmt.Errorf("%w: booking %s", ErrNotFound, p.BookingID)
	}
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("notify: get booking: %w", err)
	}
	if d.Booking.UserID != p.CallerID {
		return ReceiptResult{}, ErrNotBookingOwner
	}

	to := firstNonEmpty(p.RecipientEmail, d.UserEmail)
	if to == "" {
		return ReceiptResult{}, ErrNoRecipient
	}

	split, err := policy.SplitFees(d.Booking.TotalAmount, s.opts.FeeRates.ForChef(d.ChefVatRegistered))
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("notify: receipt fees: %w", err)
	}

	count, err := s.q.ClaimReceiptSend(ctx, db.ClaimReceiptSendParams{
		ID:       p.BookingID,
		MaxSends: s.opts.MaxReceiptSends,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ReceiptResult{}, ErrReceiptLimit
	}
	if err != nil {
		return ReceiptResult{}, fmt.Errorf("notify: claim receipt send: %w", err)
	}

	r := newReceipt(d, split, to, s.opts.Now(), s.opts.Location)
	id, err := s.mailer.Send(ctx, email.Message{
		To:      to,
		ToName:  strings.TrimSpace(d.UserFirstName + " " + d.UserLastName),
		Subject: r.subject(),
		HTML:    r.html(),
		Text:    r.text(),
		Tag:     "receipt",
		Metadata: map[string]string{
			"booking_id": p.BookingID.String(),
		},
	})
	metrics.Notifications.WithLabelValues("receipt", metrics.Outcome(err)).Inc()
	if err != nil {
		if rErr := s.q.ReleaseReceiptSend(ctx, p.BookingID); rErr != nil {
			s.logger.Error("notify: release receipt send", "booking_id", p.BookingID, "error", rErr)
		}
		return ReceiptResult{}, fmt.Errorf("notify: send receipt: %w", err)
	}

	s.logger.Info("notify: receipt sent", "booking_id", p.BookingID, "count", count)
	return ReceiptResult{MessageID: id, ReceiptCount: count}, nil
}

// ─── RECEIPT RENDERING ────────────────────────────────────────────────────────

type receipt struct {
	ref         string
	bookedOn    string
	serviceDate string
	startTime   string
	guests      int32
	address     string
	chefName    string
	chefCVR     string
	service     string
	serviceFee  string
	vat         string
	total       string
	paidOn      string
	recipient   string
}

func newReceipt(d db.GetBookingDetailsRow, split policy.FeeSplit, to string, now time.Time, loc *time.Location) receipt {
	b := d.Booking
	paid := now
	if b.PaymentCapturedAt.Valid {
		paid = b.PaymentCapturedAt.Time
	}
	address := b.Address
	if address == "" {
		address = "Ikke angivet"
	}
	r := receipt{
		ref:         BookingRef(b.ID),
		bookedOn:    FormatDate(b.CreatedAt.In(loc), LangDa),
		serviceDate: FormatDate(b.Date, LangDa),
		startTime:   clock(b.StartTime),
		guests:      b.NumberOfGuests,
		address:     address,
		chefName:    strings.TrimSpace(d.ChefFirstName + " " + d.ChefLastName),
		service:     FormatKr(split.Base),
		serviceFee:  FormatKr(split.UserServiceFee),
		vat:         FormatKr(split.VAT),
		total:       FormatKr(b.TotalAmount),
		paidOn:      FormatDate(paid.In(loc), LangDa),
		recipient:   to,
	}
	if d.ChefVatRegistered && d.ChefVatNumber.Valid {
		r.chefCVR = d.ChefVatNumber.String
	}
	return r
}

// BookingRef is the short booking reference printed on receipts.
func BookingRef(id uuid.UUID) string {
	return strings.ToUpper(id.String()[:8])
}

// FormatKr renders an amount in øre as Danish kroner, e.g. 123450 → "1.234,50 kr".
func FormatKr(ore int64) string {
	s := decimal.New(ore, -2).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	out := b.String() + "," + frac + " kr"
	if neg {
		return "-" + out
	}
	return out
}

func clock(t string) string {
	parts := strings.SplitN(t, ":", 3)
	if len(parts) < 2 {
		return t
	}
	return parts[0] + ":" + parts[1]
}

func (r receipt) subject() string {
	return "Kvittering - Booking #" + r.ref
}

func (r receipt) text() string {
	var b strings.Builder
	b.WriteString("DinnerHelp - Kvittering\n\n")
	fmt.Fprintf(&b, "Booking ID: #%s\n", r.ref)
	fmt.Fprintf(&b, "Booket den: %s\n\n", r.bookedOn)
	fmt.Fprintf(&b, "Kok: %s\n", r.chefName)
	if r.chefCVR != "" {
		fmt.Fprintf(&b, "Kokkens CVR: %s\n", r.chefCVR)
	}
	fmt.Fprintf(&b, "Service dato: %s\n", r.serviceDate)
	fmt.Fprintf(&b, "Tid: %s\n", r.startTime)
	fmt.Fprintf(&b, "Personer: %d\n", r.guests)
	fmt.Fprintf(&b, "Adresse: %s\n\n", r.address)
	fmt.Fprintf(&b, "Service: %s\n", r.service)
	fmt.Fprintf(&b, "Servicegebyr: %s\n", r.serviceFee)
	fmt.Fprintf(&b, "Moms (25%%): %s\n", r.vat)
	fmt.Fprintf(&b, "Total betalt: %s\n", r.total)
	fmt.Fprintf(&b, "Betalt den: %s\n\n", r.paidOn)
	fmt.Fprintf(&b, "Support: %s\nCVR: %s\n", supportEmail, companyCVR)
	return b.String()
}

func (r receipt) html() string {
	e := html.EscapeString
	chefCVR := ""
	if r.chefCVR != "" {
		chefCVR = fmt.Sprintf(`<p style="color: #475569; margin: 0;">CVR: %s</p>`, e(r.chefCVR))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="text-align: center; margin-bottom: 30px;">
    <h1 style="color: #2563eb; margin-bottom: 10px;">DinnerHelp</h1>
    <h2 style="color: #475569; font-size: 24px; margin: 0;">Kvittering</h2>
  </div>
  <div style="background: #f8fafc; border-radius: 8px; padding: 20px; margin-bottom: 20px; color: #475569;">
    <p style="margin: 0 0 10px 0;"><strong>Booking ID:</strong> #%s</p>
    <p style="margin: 0 0 10px 0;"><strong>Booket den:</strong> %s</p>
    <p style="margin: 0;"><strong>Service dato:</strong> %s</p>
  </div>
  <div style="border: 1px solid #e2e8f0; border-radius: 8px; padding: 20px; margin-bottom: 20px;">
    <h3 style="color: #1e293b; margin-top: 0;">Kok information</h3>
    <p style="color: #475569;">%s</p>
    %s
  </div>
  <div style="border: 1px solid #e2e8f0; border-radius: 8px; padding: 20px; margin-bottom: 20px;">
    <h3 style="color: #1e293b; margin-top: 0;">Booking detaljer</h3>
    <table style="width: 100%%; color: #475569;">
      <tr><td style="padding: 5px 0;">Service dato:</td><td style="text-align: right;">%s</td></tr>
      <tr><td style="padding: 5px 0;">Tid:</td><td style="text-align: right;">%s</td></tr>
      <tr><td style="padding: 5px 0;">Personer:</td><td style="text-align: right;">%d</td></tr>
      <tr><td style="padding: 5px 0;">Adresse:</td><td style="text-align: right;">%s</td></tr>
    </table>
  </div>
  <div style="background: #f0fdf4; border: 1px solid #86efac; border-radius: 8px; padding: 20px; margin-bottom: 20px;">
    <h3 style="color: #166534; margin-top: 0;">Betaling</h3>
    <table style="width: 100%%; color: #166534;">
      <tr><td style="padding: 5px 0;">Service:</td><td style="text-align: right;">%s</td></tr>
      <tr><td style="padding: 5px 0;">Servicegebyr:</td><td style="text-align: right;">%s</td></tr>
      <tr><td style="padding: 5px 0;">Moms (25%%):</td><td style="text-align: right;">%s</td></tr>
      <tr style="border-top: 2px solid #86efac;">
        <td style="padding: 10px 0 5px 0; font-weight: bold;">TOTAL:</td>
        <td style="text-align: right; font-weight: bold; font-size: 18px;">%s</td>
      </tr>
    </table>
    <p style="margin: 10px 0 0 0; color: #166534; font-size: 14px;">Betalt den: %s</p>
  </div>
  <div style="text-align: center; color: #64748b; font-size: 14px; margin-top: 30px;">
    <p>Support: %s</p>
    <p>CVR: %s</p>
  </div>
  <hr style="border: none; border-top: 1px solid #e2e8f0; margin: 30px 0 20px 0;">
  <p style="text-align: center; color: #94a3b8; font-size: 12px;">Denne kvittering er sendt til %s</p>
</body>
</html>`,
		r.ref, r.bookedOn, r.serviceDate,
		e(r.chefName), chefCVR,
		r.serviceDate, e(r.startTime), r.guests, e(r.address),
		r.service, r.serviceFee, r.vat, r.total, r.paidOn,
		supportEmail, companyCVR,
		e(r.recipient),
	)
}
