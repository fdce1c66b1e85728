package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeRates are the rates applied to a customer-facing total.
type FeeRates struct {
	VAT        decimal.Decimal
	Commission decimal.Decimal
	ServiceFee decimal.Decimal
}

// DefaultFeeRates are the marketplace defaults: 25% VAT, 15% commission and
// no customer service fee.
func DefaultFeeRates() FeeRates {
	return FeeRates{
		VAT:        decimal.RequireFromString("0.25"),
		Commission: decimal.RequireFromString("0.15"),
		ServiceFee: decimal.Zero,
	}
}

// ForChef drops VAT for chefs that are not VAT registered.
func (r FeeRates) ForChef(vatRegistered bool) FeeRates {
	if !vatRegistered {
		r.VAT = decimal.Zero
	}
	return r
}

// FeeSplit is the result of SplitFees. All amounts are minor units.
type FeeSplit struct {
	Total           int64
	Base            int64
	Commission      int64
	UserServiceFee  int64
	PlatformRevenue int64
	SellerPayout    int64
	VAT             int64
}

// SplitFees derives the platform and seller shares of a customer total.
//
// Every component is rounded half-up on its own, so the parts are not
// guaranteed to sum back to Total.
func SplitFees(total int64, rates FeeRates) (FeeSplit, error) {
	if total < 0 {
		return FeeSplit{}, fmt.Errorf("policy: split fees: %w", ErrNegativeAmount)
	}
	t := decimal.NewFromInt(total)
	divisor := decimal.NewFromInt(1).Add(rates.VAT).Add(rates.ServiceFee)
	if !divisor.IsPositive() {
		return FeeSplit{}, fmt.Errorf("policy: split fees: rates sum to a non-positive divisor")
	}

	base := t.Div(divisor).Round(0)
	commission := base.Mul(rates.Commission).Round(0)
	serviceFee := base.Mul(rates.ServiceFee).Round(0)
	vat := base.Mul(rates.VAT).Round(0)

	return FeeSplit{
		Total:           total,
		Base:            base.IntPart(),
		Commission:      commission.IntPart(),
		UserServiceFee:  serviceFee.IntPart(),
		PlatformRevenue: commission.Add(serviceFee).IntPart(),
		SellerPayout:    base.Sub(commission).IntPart(),
		VAT:             vat.IntPart(),
	}, nil
}
