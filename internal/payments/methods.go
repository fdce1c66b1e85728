package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
	"github.com/nyashahama/dinnerhelp-backend/internal/store"
	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

// PaymentMethod is a saved card as the API returns it. ID is the Stripe
// payment method id.
type PaymentMethod struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Brand     string    `json:"brand,omitempty"`
	Last4     string    `json:"last4,omitempty"`
	ExpMonth  int32     `json:"exp_month,omitempty"`
	ExpYear   int32     `json:"exp_year,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

func toPaymentMethod(pm db.PaymentMethod) PaymentMethod {
	return PaymentMethod{
		ID:        pm.StripePaymentMethodID,
		Type:      pm.Type,
		Brand:     pm.CardBrand.String,
		Last4:     pm.CardLast4.String,
		ExpMonth:  pm.CardExpMonth.Int32,
		ExpYear:   pm.CardExpYear.Int32,
		IsDefault: pm.IsDefault,
		CreatedAt: pm.CreatedAt,
	}
}

func toCard(pm stripeinternal.PaymentMethod) store.Card {
	return store.Card{
		StripePaymentMethodID: pm.ID,
		Type:                  pm.Type,
		Brand:                 pm.Brand,
		Last4:                 pm.Last4,
		ExpMonth:              pm.ExpMonth,
		ExpYear:               pm.ExpYear,
	}
}

// ─── SETUP INTENT ─────────────────────────────────────────────────────────────

// SetupIntent is what the app needs to collect a card with Stripe.js.
type SetupIntent struct {
	SetupIntentID string `json:"setup_intent_id"`
	ClientSecret  string `json:"client_secret"`
	CustomerID    string `json:"customer_id"`
}

// CreateSetupIntent starts saving a card for off-session use. The user's
// Stripe customer is created on first use.
func (s *Service) CreateSetupIntent(ctx context.Context, userID uuid.UUID) (SetupIntent, error) {
	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return SetupIntent{}, err
	}
	si, err := s.stripe.CreateSetupIntent(ctx, customerID, userID.String())
	if err != nil {
		return SetupIntent{}, fmt.Errorf("payments: create setup intent: %w", err)
	}
	return SetupIntent{SetupIntentID: si.ID, ClientSecret: si.ClientSecret, CustomerID: customerID}, nil
}

// ensureCustomer returns the profile's Stripe customer, creating and linking
// one when the profile has none.
func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.StripeCustomerID.Valid && profile.StripeCustomerID.String != "" {
		return profile.StripeCustomerID.String, nil
	}

	customerID, err := s.stripe.CreateCustomer(ctx, stripeinternal.CreateCustomerParams{
		Email:          profile.Email,
		Name:           strings.TrimSpace(profile.FirstName + " " + profile.LastName),
		UserID:         userID.String(),
		IdempotencyKey: "customer-" + userID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("payments: create customer: %w", err)
	}

	linked, err := s.q.SetStripeCustomerID(ctx, db.SetStripeCustomerIDParams{ID: userID, StripeCustomerID: customerID})
	if errors.Is(err, sql.ErrNoRows) {
		// Another request linked a customer first; use that one.
		profile, err := s.profile(ctx, userID)
		if err != nil {
			return "", err
		}
		return profile.StripeCustomerID.String, nil
	}
	if err != nil {
		return "", fmt.Errorf("payments: link customer: %w", err)
	}
	return linked, nil
}

func (s *Service) profile(ctx context.Context, userID uuid.UUID) (db.Profile, error) {
	p, err := s.q.GetProfile(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return db.Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, userID)
	}
	if err != nil {
		return db.Profile{}, fmt.Errorf("payments: get profile: %w", err)
	}
	return p, nil
}

// ─── LIST ─────────────────────────────────────────────────────────────────────

// ListMethods returns the user's cards with the default first. The local
// table is brought in line with Stripe on every call.
func (s *Service) ListMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethod, error) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.StripeCustomerID.Valid || profile.StripeCustomerID.String == "" {
		return []PaymentMethod{}, nil
	}

	remote, err := s.stripe.ListCardPaymentMethods(ctx, profile.StripeCustomerID.String)
	if err != nil {
		return nil, fmt.Errorf("payments: list payment methods: %w", err)
	}
	cards := make([]store.Card, len(remote))
	for i, pm := range remote {
		cards[i] = toCard(pm)
	}

	rows, err := s.store.SyncPaymentMethods(ctx, userID, cards)
	if err != nil {
		return nil, fmt.Errorf("payments: sync payment methods: %w", err)
	}
	out := make([]PaymentMethod, len(rows))
	for i, r := range rows {
		out[i] = toPaymentMethod(r)
	}
	return out, nil
}

// ─── SAVE ─────────────────────────────────────────────────────────────────────

// SaveResult reports a saved card. Created is false when it was already
// stored.
type SaveResult struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	Created       bool          `json:"created"`
}

// SaveMethod stores the card collected by a succeeded setup intent. The setup
// intent must have been created for userID.
func (s *Service) SaveMethod(ctx context.Context, userID uuid.UUID, setupIntentID string) (SaveResult, error) {
	si, err := s.stripe.GetSetupIntent(ctx, setupIntentID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("payments: retrieve setup intent: %w", err)
	}
	if si.Status != stripeinternal.StatusSucceeded {
		return SaveResult{}, fmt.Errorf("%w: status %s", ErrSetupIntentNotSucceeded, si.Status)
	}
	if si.Metadata["user_id"] != userID.String() {
		return SaveResult{}, ErrNotOwner
	}
	if si.PaymentMethodID == "" {
		return SaveResult{}, fmt.Errorf("%w: no payment method attached", ErrSetupIntentNotSucceeded)
	}

	pm, err := s.stripe.GetPaymentMethod(ctx, si.PaymentMethodID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("payments: retrieve payment method: %w", err)
	}

	row, created, err := s.store.SavePaymentMethod(ctx, userID, toCard(pm))
	if err != nil {
		if dErr := s.stripe.DetachPaymentMethod(ctx, pm.ID); dErr != nil {
			s.logger.Error("payments: detach unsaved payment method", "payment_method_id", pm.ID, "error", dErr)
		}
		return SaveResult{}, fmt.Errorf("payments: save payment method: %w", err)
	}

	if created && row.IsDefault && si.CustomerID != "" {
		if err := s.stripe.SetDefaultPaymentMethod(ctx, si.CustomerID, pm.ID); err != nil {
			s.logger.Warn("payments: set stripe default for first card", "payment_method_id", pm.ID, "error", err)
		}
	}
	return SaveResult{PaymentMethod: toPaymentMethod(row), Created: created}, nil
}

// ─── DELETE ───────────────────────────────────────────────────────────────────

// DeleteMethod removes a card. Detaching it from Stripe is best-effort. When
// the default is removed the newest remaining card is promoted and returned.
func (s *Service) DeleteMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*PaymentMethod, error) {
	if _, err := s.q.GetPaymentMethod(ctx, db.GetPaymentMethodParams{
		UserID:                userID,
		StripePaymentMethodID: paymentMethodID,
	}); errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment method %s", ErrNotFound, paymentMethodID)
	} else if err != nil {
		return nil, fmt.Errorf("payments: get payment method: %w", err)
	}

	if err := s.stripe.DetachPaymentMethod(ctx, paymentMethodID); err != nil {
		s.logger.Warn("payments: detach payment method", "payment_method_id", paymentMethodID, "error", err)
	}

	promoted, err := s.store.RemovePaymentMethod(ctx, userID, paymentMethodID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: payment method %s", ErrNotFound, paymentMethodID)
	}
	if err != nil {
		return nil, fmt.Errorf("payments: remove payment method: %w", err)
	}
	if promoted == nil {
		return nil, nil
	}

	if profile, err := s.profile(ctx, userID); err == nil && profile.StripeCustomerID.String != "" {
		if err := s.stripe.SetDefaultPaymentMethod(ctx, profile.StripeCustomerID.String, promoted.StripePaymentMethodID); err != nil {
			s.logger.Warn("payments: set stripe default after delete", "payment_method_id", promoted.StripePaymentMethodID, "error", err)
		}
	}
	out := toPaymentMethod(*promoted)
	return &out, nil
}

// ─── SET DEFAULT ──────────────────────────────────────────────────────────────

// SetDefaultMethod makes a stored card the default on Stripe and locally.
func (s *Service) SetDefaultMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (PaymentMethod, error) {
	if _, err := s.q.GetPaymentMethod(ctx, db.GetPaymentMethodParams{
		UserID:                userID,
		StripePaymentMethodID: paymentMethodID,
	}); errors.Is(err, sql.ErrNoRows) {
		return PaymentMethod{}, fmt.Errorf("%w: payment method %s", ErrNotFound, paymentMethodID)
	} else if err != nil {
		return PaymentMethod{}, fmt.Errorf("payments: get payment method: %w", err)
	}

	profile, err := s.profile(ctx, userID)
	if err != nil {
		return PaymentMethod{}, err
	}
	if profile.StripeCustomerID.String == "" {
		return PaymentMethod{}, ErrNoCustomer
	}
	if err := s.stripe.SetDefaultPaymentMethod(ctx, profile.StripeCustomerID.String, paymentMethodID); err != nil {
		return PaymentMethod{}, fmt.Errorf("payments: set default payment method: %w", err)
	}

	row, err := s.store.SwitchDefaultPaymentMethod(ctx, userID, paymentMethodID)
	if errors.Is(err, store.ErrNotFound) {
		return PaymentMethod{}, fmt.Errorf("%w: payment method %s", ErrNotFound, paymentMethodID)
	}
	if err != nil {
		return PaymentMethod{}, fmt.Errorf("payments: switch default payment method: %w", err)
	}
	return toPaymentMethod(row), nil
}
