package payment

import "github.com/pkg/errors"

var (
	// ErrNotFound means no payment request exists for the given id or
	// token.
	ErrNotFound = errors.New("payment request not found")

	// ErrInvalidAmount rejects non-positive amounts before any state is
	// touched.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrNoMethods rejects requests without at least one payment method.
	ErrNoMethods = errors.New("at least one payment method is required")

	// ErrMissingBillingCountry rejects bank-wire requests without a
	// customer billing country, which processor selection needs.
	ErrMissingBillingCountry = errors.New("billing country is required for bank wire")

	// ErrCardAmountExceedsCap rejects card requests above the hard
	// ceiling before any ledger effect.
	ErrCardAmountExceedsCap = errors.New("amount exceeds card payment cap")

	// ErrInvalidTransition rejects a status move the state machine does
	// not list.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyFinalized rejects any action on a request in a terminal
	// status.
	ErrAlreadyFinalized = errors.New("payment request already finalized")
)
