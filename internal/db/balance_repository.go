package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const balanceColumns = `id, merchant_id, available, pending, reserve, currency, pending_breakdown, last_updated`

type BalanceRepository struct {
	pool *pgxpool.Pool
}

func NewBalanceRepository(pool *pgxpool.Pool) *BalanceRepository {
	return &BalanceRepository{pool: pool}
}

func (r *BalanceRepository) Create(ctx context.Context, tx pgx.Tx, entity *BalanceEntity) error {
	query := `INSERT INTO balance (` + balanceColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (merchant_id) DO NOTHING`
	_, err := tx.Exec(ctx, query,
		entity.ID, entity.MerchantID, entity.Available, entity.Pending, entity.Reserve,
		entity.Currency, entity.PendingBreakdown, entity.LastUpdated)
	return errors.Wrap(err, "inserting balance")
}

func (r *BalanceRepository) SelectByMerchantID(ctx context.Context, merchantID uuid.UUID) (*BalanceEntity, error) {
	query := `SELECT ` + balanceColumns + ` FROM balance WHERE merchant_id = $1`
	return scanBalance(r.pool.QueryRow(ctx, query, merchantID))
}

func (r *BalanceRepository) SelectForUpdateByMerchantID(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID) (*BalanceEntity, error) {
	query := `SELECT ` + balanceColumns + ` FROM balance WHERE merchant_id = $1 FOR UPDATE`
	return scanBalance(tx.QueryRow(ctx, query, merchantID))
}

func (r *BalanceRepository) Update(ctx context.Context, tx pgx.Tx, entity *BalanceEntity) error {
	query := `UPDATE balance
	          SET available = $2, pending = $3, reserve = $4, pending_breakdown = $5, last_updated = $6
	          WHERE merchant_id = $1`
	_, err := tx.Exec(ctx, query,
		entity.MerchantID, entity.Available, entity.Pending, entity.Reserve,
		entity.PendingBreakdown, entity.LastUpdated)
	return errors.Wrap(err, "updating balance")
}

// InsertTransition records one ledger entry for a status transition. It
// reports false when the entry already exists, which means the transition
// was applied before and its balance delta must not run again.
func (r *BalanceRepository) InsertTransition(ctx context.Context, tx pgx.Tx, entity *BalanceTransitionEntity) (bool, error) {
	query := `INSERT INTO balance_transition (id, payment_request_id, from_status, to_status, amount, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (payment_request_id, from_status, to_status) DO NOTHING`
	tag, err := tx.Exec(ctx, query,
		entity.ID, entity.PaymentRequestID, entity.FromStatus, entity.ToStatus, entity.Amount, entity.CreatedAt)
	if err != nil {
		return false, errors.Wrap(err, "inserting balance transition")
	}
	return tag.RowsAffected() == 1, nil
}

func scanBalance(row pgx.Row) (*BalanceEntity, error) {
	var entity BalanceEntity
	err := row.Scan(
		&entity.ID, &entity.MerchantID, &entity.Available, &entity.Pending, &entity.Reserve,
		&entity.Currency, &entity.PendingBreakdown, &entity.LastUpdated)
	if err != nil {
		return nil, errors.Wrap(err, "scanning balance")
	}
	return &entity, nil
}
