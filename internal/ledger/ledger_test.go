package ledger_test

import (
	"context"
	"log"
	"testing"
	"time"

	"payment-service/internal/db"
	"payment-service/internal/ledger"
	"payment-service/internal/model"
	"payment-service/internal/testhelpers"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LedgerTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	balances    *db.BalanceRepository
	payments    *db.PaymentRepository
	sut         *ledger.Ledger
	ctx         context.Context
}

func (s *LedgerTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.balances = db.NewBalanceRepository(pool)
	s.payments = db.NewPaymentRepository(pool)
	s.sut = ledger.New(s.balances)
}

func (s *LedgerTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *LedgerTestSuite) SetupTest() {
	for _, table := range []string{"balance_transition", "balance", "payment_request"} {
		if _, err := s.pool.Exec(s.ctx, "DELETE FROM "+table); err != nil {
			log.Fatalf("error truncating %s table: %s", table, err)
		}
	}
}

func (s *LedgerTestSuite) newRequest(status model.Status, net int64) *db.PaymentRequestEntity {
	now := time.Now()
	return &db.PaymentRequestEntity{
		ID:            uuid.New(),
		MerchantID:    uuid.New(),
		Amount:        net + 5_000,
		NetAmount:     net,
		Currency:      "USD",
		Methods:       []string{"bank_wire"},
		InvoiceNumber: "INV-001",
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *LedgerTestSuite) inTx(fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(s.ctx)
	require.NoError(s.T(), err)
	defer tx.Rollback(s.ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(s.ctx)
}

func (s *LedgerTestSuite) balance(merchantID uuid.UUID) *db.BalanceEntity {
	balance, err := s.balances.SelectByMerchantID(s.ctx, merchantID)
	require.NoError(s.T(), err)
	return balance
}

func (s *LedgerTestSuite) TestAddToPendingCreditsNetAmount() {
	t := s.T()

	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	assert.NoError(t, err)

	balance := s.balance(req.MerchantID)
	assert.Equal(t, int64(95_000), balance.Pending)
	assert.Equal(t, int64(0), balance.Available)
	require.Len(t, balance.PendingBreakdown, 1)
	assert.Equal(t, req.ID, balance.PendingBreakdown[0].PaymentRequestID)
	assert.Equal(t, int64(95_000), balance.PendingBreakdown[0].Amount)
	assert.WithinDuration(t, time.Now().Add(72*time.Hour), balance.PendingBreakdown[0].ExpectedSettleAt, time.Minute)
}

func (s *LedgerTestSuite) TestAddToPendingIsIdempotent() {
	t := s.T()

	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	assert.NoError(t, err)

	err = s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	assert.True(t, errors.Is(err, ledger.ErrTransitionAlreadyApplied))

	// the replayed credit never reached the balance
	assert.Equal(t, int64(95_000), s.balance(req.MerchantID).Pending)
}

func (s *LedgerTestSuite) TestPaidMovesPendingToAvailable() {
	t := s.T()

	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	require.NoError(t, err)

	err = s.inTx(func(tx pgx.Tx) error {
		return s.sut.ApplyTransition(s.ctx, tx, req, model.StatusSent, model.StatusPaid)
	})
	assert.NoError(t, err)

	balance := s.balance(req.MerchantID)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(95_000), balance.Available)
	assert.Empty(t, balance.PendingBreakdown)
}

func (s *LedgerTestSuite) TestCancellationIsZeroSum() {
	t := s.T()

	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	require.NoError(t, err)

	err = s.inTx(func(tx pgx.Tx) error {
		return s.sut.ApplyTransition(s.ctx, tx, req, model.StatusSent, model.StatusCancelled)
	})
	assert.NoError(t, err)

	balance := s.balance(req.MerchantID)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(0), balance.Available)
	assert.Empty(t, balance.PendingBreakdown)
}

func (s *LedgerTestSuite) TestReplayedTransitionIsRejected() {
	t := s.T()

	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.AddToPending(s.ctx, tx, req)
	})
	require.NoError(t, err)

	apply := func() error {
		return s.inTx(func(tx pgx.Tx) error {
			return s.sut.ApplyTransition(s.ctx, tx, req, model.StatusSent, model.StatusPaid)
		})
	}
	require.NoError(t, apply())

	err = apply()
	assert.True(t, errors.Is(err, ledger.ErrTransitionAlreadyApplied))
	assert.Equal(t, int64(95_000), s.balance(req.MerchantID).Available)
}

func (s *LedgerTestSuite) TestInsufficientBalanceRejectsWholeTransaction() {
	t := s.T()

	// SENT -> CANCELLED without a prior pending credit would drive the
	// pending bucket negative.
	req := s.newRequest(model.StatusSent, 95_000)
	err := s.inTx(func(tx pgx.Tx) error {
		return s.sut.ApplyTransition(s.ctx, tx, req, model.StatusSent, model.StatusCancelled)
	})
	assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance))

	// rollback left no balance row and no transition entry behind
	var count int
	require.NoError(t, s.pool.QueryRow(s.ctx, "SELECT count(*) FROM balance_transition").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestLedgerTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}
