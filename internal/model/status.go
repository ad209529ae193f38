package model

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is the lifecycle state of a payment request.
type Status string

const (
	StatusSent                      Status = "SENT"
	StatusViewed                    Status = "VIEWED"
	StatusPendingSubmission         Status = "PENDING_SUBMISSION"
	StatusSubmitted                 Status = "SUBMITTED"
	StatusAwaiting3DSMS             Status = "AWAITING_3D_SMS"
	StatusAwaiting3DPush            Status = "AWAITING_3D_PUSH"
	StatusVerificationCompleted     Status = "VERIFICATION_COMPLETED"
	StatusProcessedAwaitingExchange Status = "PROCESSED_AWAITING_EXCHANGE"
	StatusProcessed                 Status = "PROCESSED"
	StatusPaid                      Status = "PAID"
	StatusRejected                  Status = "REJECTED"
	StatusInsufficientFunds         Status = "INSUFFICIENT_FUNDS"
	StatusExpired                   Status = "EXPIRED"
	StatusCancelled                 Status = "CANCELLED"
)

// Bucket is the balance bucket a status contributes to.
type Bucket int

const (
	// BucketNone marks terminal, non-monetary statuses. Funds leave the
	// ledger entirely when a request ends up here.
	BucketNone Bucket = iota
	BucketPending
	BucketCompleted
)

// Bucket maps a status to its balance bucket. The switch is exhaustive on
// purpose: a new status must pick a bucket explicitly, it never defaults
// to "no effect" silently.
func (s Status) Bucket() (Bucket, error) {
	switch s {
	case StatusSent, StatusViewed, StatusPendingSubmission, StatusSubmitted,
		StatusAwaiting3DSMS, StatusAwaiting3DPush, StatusVerificationCompleted,
		StatusProcessedAwaitingExchange:
		return BucketPending, nil
	case StatusPaid, StatusProcessed:
		return BucketCompleted, nil
	case StatusRejected, StatusCancelled, StatusExpired, StatusInsufficientFunds:
		return BucketNone, nil
	default:
		return BucketNone, errors.Errorf("unknown payment status %q", s)
	}
}

// Terminal reports whether the status is final. The state machine refuses
// any transition out of a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusPaid, StatusRejected, StatusInsufficientFunds,
		StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Event returns the webhook event name announced for a transition into
// this status.
func (s Status) Event() string {
	return "payment." + strings.ToLower(string(s))
}

// EventCreated is the webhook event fired once at request creation,
// regardless of the initial status.
const EventCreated = "payment.created"

var allowedTransitions = map[Status][]Status{
	StatusSent:   {StatusViewed, StatusPaid, StatusProcessed, StatusCancelled, StatusExpired},
	StatusViewed: {StatusPaid, StatusProcessed, StatusCancelled, StatusExpired},

	StatusPendingSubmission: {StatusSubmitted},
	StatusSubmitted: {
		StatusProcessed, StatusProcessedAwaitingExchange, StatusRejected,
		StatusInsufficientFunds, StatusAwaiting3DSMS, StatusAwaiting3DPush,
	},
	StatusAwaiting3DSMS:  {StatusVerificationCompleted},
	StatusAwaiting3DPush: {StatusVerificationCompleted},

	StatusVerificationCompleted:     {StatusProcessed, StatusRejected, StatusInsufficientFunds},
	StatusProcessedAwaitingExchange: {StatusProcessed, StatusRejected, StatusInsufficientFunds},
}

// CanTransition reports whether from -> to is a legal move in the payment
// request state machine.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
