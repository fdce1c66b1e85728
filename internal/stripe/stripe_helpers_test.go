package stripe_test

import (
	"encoding/json"
	"testing"

	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

// ─── DecodePaymentIntent ──────────────────────────────────────────────────────

func TestDecodePaymentIntent_Success(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"id":                "pi_abc123",
		"object":            "payment_intent",
		"status":            "requires_capture",
		"amount":            45000,
		"amount_capturable": 45000,
		"metadata":          map[string]string{"booking_id": "b-1"},
	})

	event := stripeinternal.Event{
		ID:      "evt_test",
		Type:    "payment_intent.amount_capturable_updated",
		DataRaw: json.RawMessage(raw),
	}

	pi, err := stripeinternal.DecodePaymentIntent(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pi.ID != "pi_abc123" {
		t.Errorf("expected pi_abc123, got %q", pi.ID)
	}
	if pi.Status != "requires_capture" {
		t.Errorf("expected requires_capture, got %q", pi.Status)
	}
	if pi.Metadata["booking_id"] != "b-1" {
		t.Errorf("expected booking_id metadata, got %v", pi.Metadata)
	}
}

func TestDecodePaymentIntent_LastPaymentError(t *testing.T) {
	raw := `{"id":"pi_1","status":"requires_payment_method","last_payment_error":{"message":"Your card was declined."}}`
	event := stripeinternal.Event{DataRaw: json.RawMessage(raw)}

	pi, err := stripeinternal.DecodePaymentIntent(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pi.LastPaymentError == nil || pi.LastPaymentError.Message != "Your card was declined." {
		t.Errorf("last_payment_error not decoded: %+v", pi.LastPaymentError)
	}
}

func TestDecodePaymentIntent_EmptyIDReturnsError(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"id": "", "object": "payment_intent"})
	event := stripeinternal.Event{DataRaw: json.RawMessage(raw)}

	_, err := stripeinternal.DecodePaymentIntent(event)
	if err == nil {
		t.Error("expected error for empty id, got nil")
	}
}

func TestDecodePaymentIntent_MalformedJSONReturnsError(t *testing.T) {
	event := stripeinternal.Event{DataRaw: json.RawMessage(`{bad json`)}

	_, err := stripeinternal.DecodePaymentIntent(event)
	if err == nil {
		t.Error("expected error for malformed JSON")
	}
}

// ─── DecodeCharge ─────────────────────────────────────────────────────────────

func TestDecodeCharge_Success(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{
		"id":              "ch_test123",
		"object":          "charge",
		"payment_intent":  "pi_abc456",
		"amount":          30000,
		"amount_refunded": 30000,
		"refunded":        true,
	})

	event := stripeinternal.Event{
		ID:      "evt_refund",
		Type:    "charge.refunded",
		DataRaw: json.RawMessage(raw),
	}

	ch, err := stripeinternal.DecodeCharge(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.PaymentIntent != "pi_abc456" {
		t.Errorf("expected pi_abc456, got %q", ch.PaymentIntent)
	}
	if !ch.Refunded || ch.AmountRefunded != 30000 {
		t.Errorf("refund fields not decoded: %+v", ch)
	}
}

func TestDecodeCharge_MissingPIReturnsError(t *testing.T) {
	raw, _ := json.Marshal(map[string]any{"id": "ch_test", "object": "charge"})
	event := stripeinternal.Event{DataRaw: json.RawMessage(raw)}

	_, err := stripeinternal.DecodeCharge(event)
	if err == nil {
		t.Error("expected error when payment_intent is missing")
	}
}
