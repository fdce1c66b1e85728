package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/payments"
	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

// ─── POST /api/payments/intents ───────────────────────────────────────────────

type createIntentRequest struct {
	BookingID           uuid.UUID `json:"booking_id" validate:"required"`
	ChefStripeAccountID string    `json:"chef_stripe_account_id"`
	Amount              int64     `json:"amount" validate:"gte=0"`
}

// handleCreateIntent returns the booking's payment intent, creating it when
// there is none. An existing intent comes back with 200, a new one with 201.
func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if !s.decode(w, r, &req) {
		return
	}

	intent, err := s.payments.CreateIntent(r.Context(), payments.CreateIntentParams{
		BookingID:           req.BookingID,
		ChefStripeAccountID: req.ChefStripeAccountID,
		Amount:              req.Amount,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}

	status := http.StatusCreated
	if intent.Existing {
		status = http.StatusOK
	}
	respond(w, status, intent)
}

// ─── POST /api/payments/authorize-booking ─────────────────────────────────────

type authorizeBookingRequest struct {
	BookingID       uuid.UUID `json:"booking_id" validate:"required"`
	PaymentMethodID string    `json:"payment_method_id"`
}

// handleAuthorizeBooking reserves the booking amount on the customer's card.
// A chef without a Connect account yields a 400 the app recognises by the
// requires_chef_onboarding flag.
func (s *Server) handleAuthorizeBooking(w http.ResponseWriter, r *http.Request) {
	var req authorizeBookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.payments.AuthorizeBooking(r.Context(), payments.AuthorizeBookingParams{
		BookingID:       req.BookingID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if errors.Is(err, payments.ErrChefNotOnboarded) {
		respond(w, http.StatusBadRequest, map[string]any{
			"error":                    errMessage(err),
			"requires_chef_onboarding": true,
		})
		return
	}
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// ─── POST /api/payments/authorize ─────────────────────────────────────────────

type authorizeRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"required"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	intent, err := s.payments.Authorize(r.Context(), req.PaymentIntentID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, intent)
}

// ─── POST /api/payments/capture ───────────────────────────────────────────────

type captureRequest struct {
	BookingID    uuid.UUID `json:"booking_id" validate:"required"`
	ActualAmount int64     `json:"actual_amount" validate:"gte=0"`
}

// handleCapture charges an authorized booking. A repeated capture is a 200
// with already_captured set.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}

	res, err := s.payments.Capture(r.Context(), payments.CaptureParams{
		BookingID:    req.BookingID,
		Actor:        actor,
		ActualAmount: req.ActualAmount,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// ─── POST /api/payments/refund ────────────────────────────────────────────────

type refundRequest struct {
	BookingID   uuid.UUID `json:"booking_id" validate:"required"`
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason"`
	Amount      int64     `json:"amount" validate:"gte=0"`
}

// handleRefund refunds a booking under the payment refund policy. Only a
// backend caller may override the refund amount.
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	if req.Amount > 0 && actor != uuid.Nil {
		respondErr(w, http.StatusForbidden, "refund amount overrides require the service role")
		return
	}
	by, ok := parseCancelledBy(w, r, req.CancelledBy)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = policy.ReasonRequestedByCustomer
	}

	res, err := s.payments.Refund(r.Context(), payments.RefundParams{
		BookingID:   req.BookingID,
		Actor:       actor,
		CancelledBy: by,
		Reason:      reason,
		Amount:      req.Amount,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// ─── POST /api/bookings/{bookingID}/cancel ────────────────────────────────────

type cancelBookingRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason"`
}

// handleCancelBooking cancels a booking under the booking cancellation policy.
func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := urlUUID(w, r, "bookingID")
	if !ok {
		return
	}
	var req cancelBookingRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	actor, ok := requestActor(w, r)
	if !ok {
		return
	}
	by, ok := parseCancelledBy(w, r, req.CancelledBy)
	if !ok {
		return
	}

	res, err := s.payments.CancelBooking(r.Context(), payments.RefundParams{
		BookingID:   bookingID,
		Actor:       actor,
		CancelledBy: by,
		Reason:      req.Reason,
	})
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// ─── POST /api/payments/validate-account ──────────────────────────────────────

type validateAccountRequest struct {
	AccountID string `json:"account_id" validate:"required,startswith=acct_"`
}

func (s *Server) handleValidateAccount(w http.ResponseWriter, r *http.Request) {
	var req validateAccountRequest
	if !s.decode(w, r, &req) {
		return
	}

	status, err := s.payments.ValidateAccount(r.Context(), req.AccountID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, status)
}
