package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const paymentRequestColumns = `id, merchant_id, amount, currency, methods, bank_account_id,
	psp_token, payment_link, invoice_number, description, customer_reference, billing_country,
	commission_percent, commission_amount, net_amount, status, callback_url,
	created_at, updated_at, viewed_at, paid_at, expires_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentRepository) Create(ctx context.Context, tx pgx.Tx, entity *PaymentRequestEntity) error {
	query := `INSERT INTO payment_request (` + paymentRequestColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.MerchantID, entity.Amount, entity.Currency, entity.Methods, entity.BankAccountID,
		entity.PSPToken, entity.PaymentLink, entity.InvoiceNumber, entity.Description, entity.CustomerReference,
		entity.BillingCountry, entity.CommissionPercent, entity.CommissionAmount, entity.NetAmount,
		entity.Status, entity.CallbackURL, entity.CreatedAt, entity.UpdatedAt,
		entity.ViewedAt, entity.PaidAt, entity.ExpiresAt)
	return errors.Wrap(err, "inserting payment request")
}

func (r *PaymentRepository) SelectByID(ctx context.Context, id uuid.UUID) (*PaymentRequestEntity, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_request WHERE id = $1`
	return scanPaymentRequest(r.pool.QueryRow(ctx, query, id))
}

func (r *PaymentRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*PaymentRequestEntity, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_request WHERE id = $1 FOR UPDATE`
	return scanPaymentRequest(tx.QueryRow(ctx, query, id))
}

func (r *PaymentRepository) SelectForUpdateByToken(ctx context.Context, tx pgx.Tx, token string) (*PaymentRequestEntity, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_request WHERE psp_token = $1 FOR UPDATE`
	return scanPaymentRequest(tx.QueryRow(ctx, query, token))
}

func (r *PaymentRepository) Update(ctx context.Context, tx pgx.Tx, entity *PaymentRequestEntity) error {
	query := `UPDATE payment_request
	          SET status = $2, updated_at = $3, viewed_at = $4, paid_at = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, entity.ID, entity.Status, entity.UpdatedAt, entity.ViewedAt, entity.PaidAt)
	return errors.Wrap(err, "updating payment request")
}

// SelectExpirable locks requests still sitting in SENT or VIEWED past
// their expiry timestamp. Locked rows are skipped so concurrent sweepers
// never fight over the same request.
func (r *PaymentRepository) SelectExpirable(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]*PaymentRequestEntity, error) {
	query := `SELECT ` + paymentRequestColumns + ` FROM payment_request
	          WHERE status IN ('SENT', 'VIEWED') AND expires_at IS NOT NULL AND expires_at <= $1
	          ORDER BY expires_at
	          LIMIT $2
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "selecting expirable payment requests")
	}
	defer rows.Close()

	var entities []*PaymentRequestEntity
	for rows.Next() {
		entity, err := scanPaymentRequest(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

func scanPaymentRequest(row pgx.Row) (*PaymentRequestEntity, error) {
	var entity PaymentRequestEntity
	err := row.Scan(
		&entity.ID, &entity.MerchantID, &entity.Amount, &entity.Currency, &entity.Methods, &entity.BankAccountID,
		&entity.PSPToken, &entity.PaymentLink, &entity.InvoiceNumber, &entity.Description, &entity.CustomerReference,
		&entity.BillingCountry, &entity.CommissionPercent, &entity.CommissionAmount, &entity.NetAmount,
		&entity.Status, &entity.CallbackURL, &entity.CreatedAt, &entity.UpdatedAt,
		&entity.ViewedAt, &entity.PaidAt, &entity.ExpiresAt)
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment request")
	}
	return &entity, nil
}
