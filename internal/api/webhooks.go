package api

import (
	"fmt"
	"io"
	"net/http"
)

// maxWebhookBody bounds a Stripe delivery. Events with expanded charges can
// exceed 64 KB.
const maxWebhookBody = 256 << 10

// ─── POST /api/webhooks/stripe ────────────────────────────────────────────────

// handleStripeWebhook is the entry point for all Stripe webhook deliveries.
//
// Stripe delivers events at-least-once and retries on non-2xx responses. The
// payments service deduplicates by event id and applies each event once.
// Processing failures are recorded on the event row and still answered with
// 200; only a failure to record the delivery returns 500 so Stripe redelivers.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// ── 1. Read and size-limit the body ───────────────────────────────────────
	// The signature check must run against the exact bytes Stripe signed.
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondErr(w, http.StatusBadRequest, "could not read request body")
		return
	}

	// ── 2. Verify the Stripe-Signature header ─────────────────────────────────
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		respondErr(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	event, err := s.stripe.VerifyWebhook(payload, sig, s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Warn("webhook: invalid signature", "error", err, logField(r))
		respondErr(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}

	// ── 3. Record, dedup and apply ────────────────────────────────────────────
	res, err := s.payments.HandleEvent(r.Context(), event, payload)
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("webhook %s: %w", event.ID, err))
		return
	}

	s.logger.Debug("webhook: handled",
		"event_id", res.EventID,
		"type", res.Type,
		"outcome", res.Outcome,
		logField(r),
	)
	respond(w, http.StatusOK, map[string]any{
		"received": true,
		"outcome":  res.Outcome,
	})
}
