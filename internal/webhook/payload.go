package webhook

import (
	"time"

	"payment-service/internal/db"

	"github.com/google/uuid"
)

// PaymentRequestPayload is the merchant-facing view of a payment request
// carried in webhook bodies.
type PaymentRequestPayload struct {
	ID                uuid.UUID  `json:"id"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	InvoiceNumber     string     `json:"invoiceNumber"`
	Description       string     `json:"description"`
	CustomerReference *string    `json:"customerReference,omitempty"`
	CommissionAmount  *int64     `json:"commissionAmount,omitempty"`
	NetAmount         *int64     `json:"netAmount,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Payload is the webhook body. It is serialized once at enqueue time and
// the exact bytes are what gets signed and delivered.
type Payload struct {
	Event          string                `json:"event"`
	PaymentRequest PaymentRequestPayload `json:"paymentRequest"`
	Timestamp      time.Time             `json:"timestamp"`
}

func NewPayload(entity *db.PaymentRequestEntity, event string) Payload {
	payload := Payload{
		Event: event,
		PaymentRequest: PaymentRequestPayload{
			ID:                entity.ID,
			Status:            string(entity.Status),
			Amount:            entity.Amount,
			Currency:          entity.Currency,
			InvoiceNumber:     entity.InvoiceNumber,
			Description:       entity.Description,
			CustomerReference: entity.CustomerReference,
			PaidAt:            entity.PaidAt,
			CreatedAt:         entity.CreatedAt,
			UpdatedAt:         entity.UpdatedAt,
		},
		Timestamp: time.Now(),
	}
	if entity.NetAmount > 0 {
		commission := entity.CommissionAmount
		net := entity.NetAmount
		payload.PaymentRequest.CommissionAmount = &commission
		payload.PaymentRequest.NetAmount = &net
	}
	return payload
}
