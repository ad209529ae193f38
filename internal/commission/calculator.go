package commission

import (
	"math"

	"payment-service/internal/model"
)

// CardPercent is the platform commission on card collections. It is fixed
// and ignores any per-processor override.
const CardPercent = 30.0

// Result carries the commission split for a payment request. Amounts are
// in minor units; CommissionAmount + NetAmount always equals the gross
// amount.
type Result struct {
	Percent          float64
	CommissionAmount int64
	NetAmount        int64
}

// Calculate computes the commission split for the given gross amount.
// Card collections use the fixed CardPercent; bank wires use the percent
// configured on the selected bank account (overridePercent), or 0 when
// none is configured. Negative amounts are the caller's validation
// problem and never reach this function.
func Calculate(amount int64, method model.Method, overridePercent float64) Result {
	percent := overridePercent
	if method == model.MethodCard {
		percent = CardPercent
	}

	commission := int64(math.Round(float64(amount) * percent / 100))
	return Result{
		Percent:          percent,
		CommissionAmount: commission,
		NetAmount:        amount - commission,
	}
}
