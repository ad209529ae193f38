package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type BankAccountRepository struct {
	pool *pgxpool.Pool
}

func NewBankAccountRepository(pool *pgxpool.Pool) *BankAccountRepository {
	return &BankAccountRepository{pool: pool}
}

func (r *BankAccountRepository) Create(ctx context.Context, entity *BankAccountEntity) error {
	query := `INSERT INTO bank_account (id, label, currency, commission_percent, supported_geos,
	                                    min_amount, max_amount, active, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		entity.ID, entity.Label, entity.Currency, entity.CommissionPercent, entity.SupportedGeos,
		entity.MinAmount, entity.MaxAmount, entity.Active, entity.CreatedAt)
	return errors.Wrap(err, "inserting bank account")
}

func (r *BankAccountRepository) SelectActive(ctx context.Context) ([]BankAccountEntity, error) {
	query := `SELECT id, label, currency, commission_percent, supported_geos,
	                 min_amount, max_amount, active, created_at
	          FROM bank_account WHERE active`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "selecting active bank accounts")
	}
	defer rows.Close()

	var entities []BankAccountEntity
	for rows.Next() {
		var entity BankAccountEntity
		err := rows.Scan(&entity.ID, &entity.Label, &entity.Currency, &entity.CommissionPercent,
			&entity.SupportedGeos, &entity.MinAmount, &entity.MaxAmount, &entity.Active, &entity.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "scanning bank account")
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}
