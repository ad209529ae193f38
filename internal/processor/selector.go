package processor

import (
	"math/rand/v2"
	"slices"

	"payment-service/internal/db"

	"github.com/pkg/errors"
)

var (
	// ErrNoBankForGeo means no active bank account serves the customer's
	// billing country at all.
	ErrNoBankForGeo = errors.New("no bank account available for customer geo")

	// ErrAmountOutsideLimits means banks exist for the geo, but the
	// amount falls outside every eligible account's transaction limits.
	ErrAmountOutsideLimits = errors.New("amount outside bank account transaction limits")
)

// Selector picks a bank account for a wire request. The randomness
// source is injectable so tests can pin the pick.
type Selector struct {
	intN func(n int) int
}

func NewSelector() *Selector {
	return &Selector{intN: rand.IntN}
}

func NewSelectorWithRand(intN func(n int) int) *Selector {
	return &Selector{intN: intN}
}

// Select filters active accounts by supported geo and transaction limits
// and picks uniformly at random among the eligible set. Random, not
// first-match: volume spreads across processors. The two empty-set cases
// return distinct errors so callers can tell the merchant why the wire
// is unavailable.
func (s *Selector) Select(accounts []db.BankAccountEntity, billingCountry string, amount int64) (*db.BankAccountEntity, error) {
	var geoMatches []db.BankAccountEntity
	for _, account := range accounts {
		if account.Active && slices.Contains(account.SupportedGeos, billingCountry) {
			geoMatches = append(geoMatches, account)
		}
	}
	if len(geoMatches) == 0 {
		return nil, errors.Wrapf(ErrNoBankForGeo, "country %q", billingCountry)
	}

	var eligible []db.BankAccountEntity
	for _, account := range geoMatches {
		if amount >= account.MinAmount && amount <= account.MaxAmount {
			eligible = append(eligible, account)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.Wrapf(ErrAmountOutsideLimits, "amount %d, country %q", amount, billingCountry)
	}

	picked := eligible[s.intN(len(eligible))]
	return &picked, nil
}
