package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const webhookMessageColumns = `id, payment_id, url, event, payload, created_at, updated_at,
	scheduled_at, published_at, delivered_at, publish_attempts, delivery_attempts, error`

type WebhookRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookRepository(pool *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{pool: pool}
}

func (r *WebhookRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts an outbox row inside the caller's transaction, so the
// notification commits or rolls back together with the status change that
// produced it.
func (r *WebhookRepository) Create(ctx context.Context, tx pgx.Tx, entity *WebhookMessageEntity) error {
	query := `INSERT INTO webhook_message (` + webhookMessageColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.PaymentID, entity.Url, entity.Event, entity.Payload,
		entity.CreatedAt, entity.UpdatedAt, entity.ScheduledAt, entity.PublishedAt, entity.DeliveredAt,
		entity.PublishAttempts, entity.DeliveryAttempts, entity.Error)
	return errors.Wrap(err, "inserting webhook message")
}

// GetUnpublished locks due outbox rows for publishing. A non-null
// scheduled_at means the message still needs a publish round; locked rows
// are skipped so concurrent producers do not double-publish.
func (r *WebhookRepository) GetUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]*WebhookMessageEntity, error) {
	query := `SELECT ` + webhookMessageColumns + ` FROM webhook_message
	          WHERE scheduled_at IS NOT NULL AND scheduled_at <= now() AND delivered_at IS NULL
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "selecting unpublished webhook messages")
	}
	defer rows.Close()

	var entities []*WebhookMessageEntity
	for rows.Next() {
		entity, err := scanWebhookMessage(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func (r *WebhookRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*WebhookMessageEntity, error) {
	query := `SELECT ` + webhookMessageColumns + ` FROM webhook_message WHERE id = $1 FOR UPDATE`
	return scanWebhookMessage(tx.QueryRow(ctx, query, id))
}

func (r *WebhookRepository) Update(ctx context.Context, tx pgx.Tx, entity *WebhookMessageEntity) error {
	query := `UPDATE webhook_message
	          SET updated_at = now(), scheduled_at = $2, published_at = $3, delivered_at = $4,
	              publish_attempts = $5, delivery_attempts = $6, error = $7
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.DeliveredAt,
		entity.PublishAttempts, entity.DeliveryAttempts, entity.Error)
	return errors.Wrap(err, "updating webhook message")
}

// InsertDeliveryLog appends one attempt record. The log is append-only
// and written outside the delivery transaction on purpose: a rolled-back
// delivery attempt still happened.
func (r *WebhookRepository) InsertDeliveryLog(ctx context.Context, entity *WebhookDeliveryLogEntity) error {
	query := `INSERT INTO webhook_delivery_log (id, message_id, payment_id, url, event, payload,
	                                            status_code, response, success, attempt, error, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		entity.ID, entity.MessageID, entity.PaymentID, entity.Url, entity.Event, entity.Payload,
		entity.StatusCode, entity.Response, entity.Success, entity.Attempt, entity.Error, entity.CreatedAt)
	return errors.Wrap(err, "inserting webhook delivery log")
}

func (r *WebhookRepository) SelectDeliveryLogsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]*WebhookDeliveryLogEntity, error) {
	query := `SELECT id, message_id, payment_id, url, event, payload, status_code, response,
	                 success, attempt, error, created_at
	          FROM webhook_delivery_log WHERE payment_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting webhook delivery logs")
	}
	defer rows.Close()

	var entities []*WebhookDeliveryLogEntity
	for rows.Next() {
		var entity WebhookDeliveryLogEntity
		err := rows.Scan(&entity.ID, &entity.MessageID, &entity.PaymentID, &entity.Url, &entity.Event,
			&entity.Payload, &entity.StatusCode, &entity.Response, &entity.Success, &entity.Attempt,
			&entity.Error, &entity.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scanning webhook delivery log")
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}

func scanWebhookMessage(row pgx.Row) (*WebhookMessageEntity, error) {
	var entity WebhookMessageEntity
	err := row.Scan(
		&entity.ID, &entity.PaymentID, &entity.Url, &entity.Event, &entity.Payload,
		&entity.CreatedAt, &entity.UpdatedAt, &entity.ScheduledAt, &entity.PublishedAt, &entity.DeliveredAt,
		&entity.PublishAttempts, &entity.DeliveryAttempts, &entity.Error)
	if err != nil {
		return nil, errors.Wrap(err, "scanning webhook message")
	}
	return &entity, nil
}
