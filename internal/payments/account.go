package payments

import (
	"context"
	"fmt"
)

// AccountStatus describes whether a connected account can take bookings.
type AccountStatus struct {
	AccountID        string   `json:"account_id"`
	Valid            bool     `json:"valid"`
	ChargesEnabled   bool     `json:"charges_enabled"`
	PayoutsEnabled   bool     `json:"payouts_enabled"`
	DetailsSubmitted bool     `json:"details_submitted"`
	CurrentlyDue     []string `json:"currently_due"`
	EventuallyDue    []string `json:"eventually_due"`
	PastDue          []string `json:"past_due"`
	DisabledReason   string   `json:"disabled_reason,omitempty"`
	Country          string   `json:"country,omitempty"`
	DefaultCurrency  string   `json:"default_currency,omitempty"`
}

// ValidateAccount reads a chef's connected account from Stripe.
func (s *Service) ValidateAccount(ctx context.Context, accountID string) (AccountStatus, error) {
	acct, err := s.stripe.GetAccount(ctx, accountID)
	if err != nil {
		return AccountStatus{}, fmt.Errorf("payments: retrieve account: %w", err)
	}
	return AccountStatus{
		AccountID:        acct.ID,
		Valid:            acct.ChargesEnabled && acct.PayoutsEnabled && acct.DetailsSubmitted && len(acct.CurrentlyDue) == 0,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
		CurrentlyDue:     nonNil(acct.CurrentlyDue),
		EventuallyDue:    nonNil(acct.EventuallyDue),
		PastDue:          nonNil(acct.PastDue),
		DisabledReason:   acct.DisabledReason,
		Country:          acct.Country,
		DefaultCurrency:  acct.DefaultCurrency,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
