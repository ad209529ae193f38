package db

import (
	"time"

	"payment-service/internal/model"

	"github.com/google/uuid"
)

type PaymentRequestEntity struct {
	ID                uuid.UUID
	MerchantID        uuid.UUID
	Amount            int64
	Currency          string
	Methods           []string
	BankAccountID     *uuid.UUID
	PSPToken          *string
	PaymentLink       *string
	InvoiceNumber     string
	Description       string
	CustomerReference *string
	BillingCountry    string
	CommissionPercent float64
	CommissionAmount  int64
	NetAmount         int64
	Status            model.Status
	CallbackURL       *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ViewedAt          *time.Time
	PaidAt            *time.Time
	ExpiresAt         *time.Time
}

// EffectiveAmount is the amount moved through the ledger: the net amount
// when one was computed, the gross amount for legacy records without one.
func (e *PaymentRequestEntity) EffectiveAmount() int64 {
	if e.NetAmount > 0 {
		return e.NetAmount
	}
	return e.Amount
}

type PendingBreakdownItem struct {
	PaymentRequestID uuid.UUID `json:"paymentRequestId"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	ExpectedSettleAt time.Time `json:"expectedSettleAt"`
}

type BalanceEntity struct {
	ID               uuid.UUID
	MerchantID       uuid.UUID
	Available        int64
	Pending          int64
	Reserve          int64
	Currency         string
	PendingBreakdown []PendingBreakdownItem
	LastUpdated      time.Time
}

// BalanceTransitionEntity is one idempotent ledger entry. The unique key
// (payment_request_id, from_status, to_status) makes a replayed transition
// a conflict instead of a second balance delta.
type BalanceTransitionEntity struct {
	ID               uuid.UUID
	PaymentRequestID uuid.UUID
	FromStatus       model.Status
	ToStatus         model.Status
	Amount           int64
	CreatedAt        time.Time
}

type CardSubmissionEntity struct {
	ID               uuid.UUID
	PaymentRequestID uuid.UUID
	CardholderName   string
	CardNumberEnc    string
	ExpiryDateEnc    string
	CVCEnc           string
	MaskedNumber     string
	Status           model.CardSubmissionStatus
	VerificationType *string
	VerificationCode *string
	PushApproved     *bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	VerifiedAt       *time.Time
}

type BankAccountEntity struct {
	ID                uuid.UUID
	Label             string
	Currency          string
	CommissionPercent float64
	SupportedGeos     []string
	MinAmount         int64
	MaxAmount         int64
	Active            bool
	CreatedAt         time.Time
}

type WebhookMessageEntity struct {
	ID               uuid.UUID
	PaymentID        uuid.UUID
	Url              string
	Event            string
	Payload          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ScheduledAt      *time.Time
	PublishedAt      *time.Time
	DeliveredAt      *time.Time
	PublishAttempts  int
	DeliveryAttempts int
	Error            *string
}

// WebhookDeliveryLogEntity is an append-only audit record, one row per
// delivery attempt.
type WebhookDeliveryLogEntity struct {
	ID         uuid.UUID
	MessageID  uuid.UUID
	PaymentID  uuid.UUID
	Url        string
	Event      string
	Payload    string
	StatusCode *int
	Response   *string
	Success    bool
	Attempt    int
	Error      *string
	CreatedAt  time.Time
}
