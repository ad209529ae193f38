package message

import (
	"github.com/google/uuid"
)

// Webhook is the Kafka message handed from the outbox producer to the
// delivery processor.
type Webhook struct {
	ID        uuid.UUID `json:"id"`
	PaymentID uuid.UUID `json:"paymentId"`
	Url       string    `json:"url"`
	Event     string    `json:"event"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
}
