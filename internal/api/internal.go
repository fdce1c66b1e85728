package api

import (
	"net/http"
)

// The /api/internal endpoints run one pass of a background sweep on demand.
// They return the same counts the worker logs.

// ─── POST /api/internal/reservations/cleanup ──────────────────────────────────

func (s *Server) handleCleanupReservations(w http.ResponseWriter, r *http.Request) {
	res, err := s.payments.CleanupExpiredReservations(r.Context())
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"success":       true,
		"expired_count": res.ExpiredCount,
	})
}

// ─── POST /api/internal/payment-actions/process ───────────────────────────────

func (s *Server) handleProcessPaymentActions(w http.ResponseWriter, r *http.Request) {
	res, err := s.payments.ProcessActions(r.Context())
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

// ─── POST /api/internal/notifications/process ─────────────────────────────────

func (s *Server) handleProcessNotificationQueue(w http.ResponseWriter, r *http.Request) {
	res, err := s.notify.ProcessQueue(r.Context())
	if err != nil {
		s.respondInternalErr(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}
