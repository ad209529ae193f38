package ledger

import (
	"context"
	"time"

	"payment-service/internal/db"
	"payment-service/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// settleEstimate is how far out a pending item is expected to settle,
// used for the balance breakdown shown to merchants.
const settleEstimate = 72 * time.Hour

var (
	// ErrTransitionAlreadyApplied means the ledger entry for this exact
	// (request, from, to) move already exists. The balance delta ran once
	// and must not run again.
	ErrTransitionAlreadyApplied = errors.New("balance transition already applied")

	// ErrInsufficientBalance guards the non-negative invariant on the
	// pending and available buckets.
	ErrInsufficientBalance = errors.New("transition would drive balance negative")
)

// Ledger maintains per-merchant available/pending/reserve balances. All
// mutations run inside the caller's transaction, on a row-locked balance,
// with an idempotent transition entry recorded alongside.
type Ledger struct {
	balances *db.BalanceRepository
}

func New(balances *db.BalanceRepository) *Ledger {
	return &Ledger{balances: balances}
}

// GetOrCreate returns the merchant's balance locked for update, creating
// a zeroed one on the first money-moving event.
func (l *Ledger) GetOrCreate(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, currency string) (*db.BalanceEntity, error) {
	entity := &db.BalanceEntity{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		Currency:         currency,
		PendingBreakdown: []db.PendingBreakdownItem{},
		LastUpdated:      time.Now(),
	}
	if err := l.balances.Create(ctx, tx, entity); err != nil {
		return nil, err
	}
	return l.balances.SelectForUpdateByMerchantID(ctx, tx, merchantID)
}

// AddToPending credits the net amount of a freshly created request into
// the pending bucket. Keyed on (request, "", initial status) so a retried
// creation cannot double-credit.
func (l *Ledger) AddToPending(ctx context.Context, tx pgx.Tx, req *db.PaymentRequestEntity) error {
	amount := req.EffectiveAmount()

	applied, err := l.balances.InsertTransition(ctx, tx, &db.BalanceTransitionEntity{
		ID:               uuid.New(),
		PaymentRequestID: req.ID,
		FromStatus:       "",
		ToStatus:         req.Status,
		Amount:           amount,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		return err
	}
	if !applied {
		return errors.Wrapf(ErrTransitionAlreadyApplied, "request %s creation", req.ID)
	}

	balance, err := l.GetOrCreate(ctx, tx, req.MerchantID, req.Currency)
	if err != nil {
		return err
	}

	balance.Pending += amount
	balance.PendingBreakdown = append(balance.PendingBreakdown, db.PendingBreakdownItem{
		PaymentRequestID: req.ID,
		Amount:           amount,
		Currency:         req.Currency,
		ExpectedSettleAt: time.Now().Add(settleEstimate),
	})
	balance.LastUpdated = time.Now()

	return l.balances.Update(ctx, tx, balance)
}

// ApplyTransition moves the request's effective amount between balance
// buckets according to the old and new status: subtract from the old
// status's bucket, add to the new one's, no-op for the no-effect bucket
// on either side. Terminal non-monetary statuses therefore remove funds
// from the ledger entirely.
func (l *Ledger) ApplyTransition(ctx context.Context, tx pgx.Tx, req *db.PaymentRequestEntity, from, to model.Status) error {
	fromBucket, err := from.Bucket()
	if err != nil {
		return err
	}
	toBucket, err := to.Bucket()
	if err != nil {
		return err
	}

	amount := req.EffectiveAmount()

	applied, err := l.balances.InsertTransition(ctx, tx, &db.BalanceTransitionEntity{
		ID:               uuid.New(),
		PaymentRequestID: req.ID,
		FromStatus:       from,
		ToStatus:         to,
		Amount:           amount,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		return err
	}
	if !applied {
		return errors.Wrapf(ErrTransitionAlreadyApplied, "request %s %s -> %s", req.ID, from, to)
	}

	balance, err := l.GetOrCreate(ctx, tx, req.MerchantID, req.Currency)
	if err != nil {
		return err
	}

	switch fromBucket {
	case model.BucketPending:
		balance.Pending -= amount
	case model.BucketCompleted:
		balance.Available -= amount
	}
	switch toBucket {
	case model.BucketPending:
		balance.Pending += amount
	case model.BucketCompleted:
		balance.Available += amount
	}

	if balance.Pending < 0 || balance.Available < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "merchant %s pending=%d available=%d",
			req.MerchantID, balance.Pending, balance.Available)
	}

	if fromBucket == model.BucketPending && toBucket != model.BucketPending {
		balance.PendingBreakdown = removeBreakdownItem(balance.PendingBreakdown, req.ID)
	}

	balance.LastUpdated = time.Now()
	return l.balances.Update(ctx, tx, balance)
}

func removeBreakdownItem(items []db.PendingBreakdownItem, requestID uuid.UUID) []db.PendingBreakdownItem {
	kept := items[:0]
	for _, item := range items {
		if item.PaymentRequestID != requestID {
			kept = append(kept, item)
		}
	}
	return kept
}
