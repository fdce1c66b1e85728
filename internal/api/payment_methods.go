package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ─── POST /api/payment-methods/setup-intent ───────────────────────────────────

func (s *Server) handleCreateSetupIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	si, err := s.payments.CreateSetupIntent(r.Context(), userID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, si)
}

// ─── GET /api/payment-methods ─────────────────────────────────────────────────

// handleListPaymentMethods returns the caller's cards, default first, after
// syncing the local table with Stripe.
func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	methods, err := s.payments.ListMethods(r.Context(), userID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"payment_methods": methods})
}

// ─── POST /api/payment-methods ────────────────────────────────────────────────

type savePaymentMethodRequest struct {
	SetupIntentID string `json:"setup_intent_id" validate:"required,startswith=seti_"`
}

func (s *Server) handleSavePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req savePaymentMethodRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.payments.SaveMethod(r.Context(), userID, req.SetupIntentID)
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respond(w, status, res)
}

// ─── DELETE /api/payment-methods/{paymentMethodID} ────────────────────────────

func (s *Server) handleDeletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	promoted, err := s.payments.DeleteMethod(r.Context(), userID, chi.URLParam(r, "paymentMethodID"))
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"deleted":     true,
		"new_default": promoted,
	})
}

// ─── PUT /api/payment-methods/{paymentMethodID}/default ───────────────────────

func (s *Server) handleSetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	pm, err := s.payments.SetDefaultMethod(r.Context(), userID, chi.URLParam(r, "paymentMethodID"))
	if err != nil {
		s.respondServiceErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, pm)
}
