package payments

import (
	"slices"

	stripeinternal "github.com/nyashahama/dinnerhelp-backend/internal/stripe"
)

var preAuthorization = []string{
	stripeinternal.StatusRequiresPaymentMethod,
	stripeinternal.StatusRequiresConfirmation,
	stripeinternal.StatusRequiresAction,
	stripeinternal.StatusProcessing,
}

// intentFromStatuses lists the stored statuses an intent row may leave when
// the processor reports status. capturing is never listed: a claimed capture
// is finished or released by its owner. Terminal statuses are never left, so
// a late event cannot move a captured or refunded intent backwards.
func intentFromStatuses(status string) []string {
	switch status {
	case stripeinternal.StatusRequiresCapture:
		return preAuthorization
	case stripeinternal.StatusSucceeded, stripeinternal.StatusCanceled:
		return append(slices.Clone(preAuthorization), stripeinternal.StatusRequiresCapture)
	case stripeinternal.StatusProcessing:
		return []string{
			stripeinternal.StatusRequiresPaymentMethod,
			stripeinternal.StatusRequiresConfirmation,
			stripeinternal.StatusRequiresAction,
		}
	case stripeinternal.StatusRequiresAction:
		return []string{
			stripeinternal.StatusRequiresPaymentMethod,
			stripeinternal.StatusRequiresConfirmation,
			stripeinternal.StatusProcessing,
		}
	case stripeinternal.StatusRequiresConfirmation:
		return []string{stripeinternal.StatusRequiresPaymentMethod}
	case stripeinternal.StatusRequiresPaymentMethod:
		return []string{
			stripeinternal.StatusRequiresConfirmation,
			stripeinternal.StatusRequiresAction,
			stripeinternal.StatusProcessing,
		}
	}
	return nil
}
