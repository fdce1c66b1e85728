package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nyashahama/dinnerhelp-backend/internal/db"
)

// ─── INPUT TYPES ─────────────────────────────────────────────────────────────

// Card is a processor-side card as the store needs it. The payments package
// maps processor types onto it so store stays free of the Stripe SDK.
type Card struct {
	StripePaymentMethodID string
	Type                  string
	Brand                 string
	Last4                 string
	ExpMonth              int32
	ExpYear               int32
}

func (c Card) upsertParams(userID uuid.UUID, isDefault bool) db.UpsertPaymentMethodParams {
	typ := c.Type
	if typ == "" {
		typ = "card"
	}
	return db.UpsertPaymentMethodParams{
		UserID:                userID,
		StripePaymentMethodID: c.StripePaymentMethodID,
		Type:                  typ,
		CardBrand:             sql.NullString{String: c.Brand, Valid: c.Brand != ""},
		CardLast4:             sql.NullString{String: c.Last4, Valid: c.Last4 != ""},
		CardExpMonth:          sql.NullInt32{Int32: c.ExpMonth, Valid: c.ExpMonth != 0},
		CardExpYear:           sql.NullInt32{Int32: c.ExpYear, Valid: c.ExpYear != 0},
		IsDefault:             isDefault,
	}
}

// ─── METHODS ─────────────────────────────────────────────────────────────────

// SavePaymentMethod stores a card for the user. The first card a user saves
// becomes their default. created is false when the card was already stored.
func (s *Store) SavePaymentMethod(ctx context.Context, userID uuid.UUID, card Card) (pm db.PaymentMethod, created bool, err error) {
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		existing, err := q.GetPaymentMethod(ctx, db.GetPaymentMethodParams{
			UserID:                userID,
			StripePaymentMethodID: card.StripePaymentMethodID,
		})
		if err == nil {
			pm = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("SavePaymentMethod: get: %w", err)
		}

		count, err := q.CountPaymentMethods(ctx, userID)
		if err != nil {
			return fmt.Errorf("SavePaymentMethod: count: %w", err)
		}

		pm, err = q.UpsertPaymentMethod(ctx, card.upsertParams(userID, count == 0))
		if err != nil {
			return fmt.Errorf("SavePaymentMethod: insert: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return db.PaymentMethod{}, false, err
	}
	return pm, created, nil
}

// SwitchDefaultPaymentMethod makes one of the user's cards the default and
// clears the flag on every other card, in one transaction.
func (s *Store) SwitchDefaultPaymentMethod(ctx context.Context, userID uuid.UUID, stripePaymentMethodID string) (db.PaymentMethod, error) {
	var pm db.PaymentMethod

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if err := q.ClearDefaultPaymentMethods(ctx, userID); err != nil {
			return fmt.Errorf("SwitchDefaultPaymentMethod: clear: %w", err)
		}
		updated, err := q.SetDefaultPaymentMethod(ctx, db.GetPaymentMethodParams{
			UserID:                userID,
			StripePaymentMethodID: stripePaymentMethodID,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("SwitchDefaultPaymentMethod: set: %w", err)
		}
		pm = updated
		return nil
	})
	if err != nil {
		return db.PaymentMethod{}, err
	}
	return pm, nil
}

// RemovePaymentMethod deletes a stored card. When the card was the default,
// the newest remaining card is promoted; promoted is nil otherwise.
func (s *Store) RemovePaymentMethod(ctx context.Context, userID uuid.UUID, stripePaymentMethodID string) (promoted *db.PaymentMethod, err error) {
	err = s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		key := db.GetPaymentMethodParams{UserID: userID, StripePaymentMethodID: stripePaymentMethodID}

		existing, err := q.GetPaymentMethod(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("RemovePaymentMethod: get: %w", err)
		}

		if _, err := q.DeletePaymentMethod(ctx, key); err != nil {
			return fmt.Errorf("RemovePaymentMethod: delete: %w", err)
		}
		if !existing.IsDefault {
			return nil
		}

		next, err := promoteNewest(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("RemovePaymentMethod: %w", err)
		}
		promoted = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// SyncPaymentMethods mirrors the processor's card list into the local table:
// missing cards are inserted, card details are refreshed, and local rows the
// processor no longer knows are deleted. If no default survives, the newest
// card is promoted. The returned list has the default first.
func (s *Store) SyncPaymentMethods(ctx context.Context, userID uuid.UUID, cards []Card) ([]db.PaymentMethod, error) {
	var out []db.PaymentMethod

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		local, err := q.ListPaymentMethodsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("SyncPaymentMethods: list: %w", err)
		}

		remote := make(map[string]struct{}, len(cards))
		for _, c := range cards {
			remote[c.StripePaymentMethodID] = struct{}{}
			// is_default is left alone on conflict, so existing rows keep it.
			if _, err := q.UpsertPaymentMethod(ctx, c.upsertParams(userID, false)); err != nil {
				return fmt.Errorf("SyncPaymentMethods: upsert %s: %w", c.StripePaymentMethodID, err)
			}
		}

		hasDefault := false
		for _, pm := range local {
			if _, ok := remote[pm.StripePaymentMethodID]; !ok {
				if _, err := q.DeletePaymentMethod(ctx, db.GetPaymentMethodParams{
					UserID:                userID,
					StripePaymentMethodID: pm.StripePaymentMethodID,
				}); err != nil {
					return fmt.Errorf("SyncPaymentMethods: delete stale %s: %w", pm.StripePaymentMethodID, err)
				}
				continue
			}
			if pm.IsDefault {
				hasDefault = true
			}
		}

		if !hasDefault {
			if _, err := promoteNewest(ctx, q, userID); err != nil {
				return fmt.Errorf("SyncPaymentMethods: %w", err)
			}
		}

		out, err = q.ListPaymentMethodsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("SyncPaymentMethods: reload: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// promoteNewest makes the user's most recently created card the default.
// It returns nil when the user has no cards left.
func promoteNewest(ctx context.Context, q db.Querier, userID uuid.UUID) (*db.PaymentMethod, error) {
	remaining, err := q.ListPaymentMethodsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list remaining: %w", err)
	}
	if len(remaining) == 0 {
		return nil, nil
	}

	newest := remaining[0]
	for _, pm := range remaining[1:] {
		if pm.CreatedAt.After(newest.CreatedAt) {
			newest = pm
		}
	}

	pm, err := q.SetDefaultPaymentMethod(ctx, db.GetPaymentMethodParams{
		UserID:                userID,
		StripePaymentMethodID: newest.StripePaymentMethodID,
	})
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", newest.StripePaymentMethodID, err)
	}
	return &pm, nil
}
