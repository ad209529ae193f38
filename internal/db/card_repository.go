package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// ErrDuplicateCardSubmission signals the unique constraint on
// payment_request_id: only one card submission may exist per request.
var ErrDuplicateCardSubmission = errors.New("card submission already exists for payment request")

const cardSubmissionColumns = `id, payment_request_id, cardholder_name, card_number_enc, expiry_date_enc,
	cvc_enc, masked_number, status, verification_type, verification_code, push_approved,
	created_at, updated_at, verified_at`

type CardSubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewCardSubmissionRepository(pool *pgxpool.Pool) *CardSubmissionRepository {
	return &CardSubmissionRepository{pool: pool}
}

func (r *CardSubmissionRepository) Create(ctx context.Context, tx pgx.Tx, entity *CardSubmissionEntity) error {
	query := `INSERT INTO card_submission (` + cardSubmissionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.PaymentRequestID, entity.CardholderName, entity.CardNumberEnc, entity.ExpiryDateEnc,
		entity.CVCEnc, entity.MaskedNumber, entity.Status, entity.VerificationType, entity.VerificationCode,
		entity.PushApproved, entity.CreatedAt, entity.UpdatedAt, entity.VerifiedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateCardSubmission
	}
	return errors.Wrap(err, "inserting card submission")
}

func (r *CardSubmissionRepository) SelectByPaymentID(ctx context.Context, paymentID uuid.UUID) (*CardSubmissionEntity, error) {
	query := `SELECT ` + cardSubmissionColumns + ` FROM card_submission WHERE payment_request_id = $1`
	return scanCardSubmission(r.pool.QueryRow(ctx, query, paymentID))
}

func (r *CardSubmissionRepository) SelectForUpdateByPaymentID(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*CardSubmissionEntity, error) {
	query := `SELECT ` + cardSubmissionColumns + ` FROM card_submission WHERE payment_request_id = $1 FOR UPDATE`
	return scanCardSubmission(tx.QueryRow(ctx, query, paymentID))
}

func (r *CardSubmissionRepository) Update(ctx context.Context, tx pgx.Tx, entity *CardSubmissionEntity) error {
	query := `UPDATE card_submission
	          SET status = $2, verification_type = $3, verification_code = $4, push_approved = $5,
	              updated_at = $6, verified_at = $7
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.Status, entity.VerificationType, entity.VerificationCode, entity.PushApproved,
		entity.UpdatedAt, entity.VerifiedAt)
	return errors.Wrap(err, "updating card submission")
}

func scanCardSubmission(row pgx.Row) (*CardSubmissionEntity, error) {
	var entity CardSubmissionEntity
	err := row.Scan(
		&entity.ID, &entity.PaymentRequestID, &entity.CardholderName, &entity.CardNumberEnc, &entity.ExpiryDateEnc,
		&entity.CVCEnc, &entity.MaskedNumber, &entity.Status, &entity.VerificationType, &entity.VerificationCode,
		&entity.PushApproved, &entity.CreatedAt, &entity.UpdatedAt, &entity.VerifiedAt)
	if err != nil {
		return nil, errors.Wrap(err, "scanning card submission")
	}
	return &entity, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
