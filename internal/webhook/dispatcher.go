package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"payment-service/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Dispatcher enqueues outbound notifications into the webhook outbox.
// The insert joins the caller's transaction, so a notification exists if
// and only if the status change that produced it committed. Delivery is
// the producer/processor pipeline's job; callers never wait on it.
type Dispatcher struct {
	repo   *db.WebhookRepository
	logger *slog.Logger
}

func NewDispatcher(repo *db.WebhookRepository, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, logger: logger}
}

// Enqueue records a webhook for the request's callback URL. A request
// without a callback URL is a no-op, not an error.
func (d *Dispatcher) Enqueue(ctx context.Context, tx pgx.Tx, entity *db.PaymentRequestEntity, event string) error {
	if entity.CallbackURL == nil || *entity.CallbackURL == "" {
		d.logger.DebugContext(ctx, "No callback URL configured, skipping webhook", "paymentRequestId", entity.ID)
		return nil
	}

	payloadBytes, err := json.Marshal(NewPayload(entity, event))
	if err != nil {
		return errors.Wrap(err, "marshalling webhook payload")
	}

	now := time.Now()
	return d.repo.Create(ctx, tx, &db.WebhookMessageEntity{
		ID:          uuid.New(),
		PaymentID:   entity.ID,
		Url:         *entity.CallbackURL,
		Event:       event,
		Payload:     string(payloadBytes),
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: &now,
	})
}
